package events

import (
	"sync"
	"testing"

	"github.com/rtmsg/broker/internal/domain"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

type published struct {
	topic    string
	data     any
	metadata map[string]string
}

func (f *fakePublisher) Publish(topic string, data any, metadata map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, data: data, metadata: metadata})
	return "msg-id", nil
}

func TestBridgeMessageSentFanOut(t *testing.T) {
	bus := NewBus()
	pub := &fakePublisher{}
	bridge := NewBridge(bus, pub, nil)
	bridge.Start()
	bridge.Start() // idempotent

	event := NewAppEvent(MessageSent)
	event.Message = &domain.Message{ID: "m1", ChannelID: "c", RecipientID: "r"}
	bus.Emit(event)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.msgs) != 3 {
		t.Fatalf("expected 3 publications (messages, messages.channel.c, messages.user.r), got %d", len(pub.msgs))
	}
	topics := map[string]bool{}
	for _, m := range pub.msgs {
		topics[m.topic] = true
		if m.metadata["eventType"] != string(MessageSent) {
			t.Errorf("expected eventType metadata, got %v", m.metadata)
		}
		if m.metadata["eventId"] != event.EventID {
			t.Errorf("expected eventId metadata to match, got %v", m.metadata)
		}
	}
	for _, want := range []string{"messages", "messages.channel.c", "messages.user.r"} {
		if !topics[want] {
			t.Errorf("expected publication to topic %q", want)
		}
	}
}

func TestBridgeUserUpdatedWithoutUserID(t *testing.T) {
	bus := NewBus()
	pub := &fakePublisher{}
	bridge := NewBridge(bus, pub, nil)
	bridge.Start()
	defer bridge.Stop()

	event := NewAppEvent(UserUpdated)
	bus.Emit(event)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.msgs) != 1 {
		t.Fatalf("expected only the 'users' publication when userId is absent, got %d", len(pub.msgs))
	}
	if pub.msgs[0].topic != "users" {
		t.Errorf("expected topic 'users', got %s", pub.msgs[0].topic)
	}
}

func TestBridgeStopUnregisters(t *testing.T) {
	bus := NewBus()
	pub := &fakePublisher{}
	bridge := NewBridge(bus, pub, nil)
	bridge.Start()
	bridge.Stop()

	bus.Emit(NewAppEvent(UserCreated))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.msgs) != 0 {
		t.Error("expected no publications after Stop")
	}
}
