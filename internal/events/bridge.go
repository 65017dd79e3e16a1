package events

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rtmsg/broker/internal/pubsub"
)

// Publisher is the subset of *pubsub.Broker the bridge needs — kept as
// an interface so it can be exercised with a fake in tests.
type Publisher interface {
	Publish(topic string, data any, metadata map[string]string) (string, error)
}

// Bridge translates AppEvents into broker topic publications under the
// fixed namespace convention of spec.md §4.10. Registration is
// idempotent: calling Start twice is a no-op on the second call.
type Bridge struct {
	bus      *Bus
	broker   Publisher
	log      *zap.Logger

	mu      sync.Mutex
	started bool
	subIDs  []string
}

func NewBridge(bus *Bus, broker Publisher, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{bus: bus, broker: broker, log: log}
}

// Start registers the four Event Bus subscriptions that fan events into
// broker topics. Safe to call more than once — only the first call
// takes effect.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true

	b.subIDs = append(b.subIDs,
		b.bus.On(UserCreated, b.onUserCreated),
		b.bus.On(UserUpdated, b.onUserUpdated),
		b.bus.On(UserDeleted, b.onUserDeleted),
		b.bus.On(MessageSent, b.onMessageSent),
	)
}

// Stop unregisters the bridge's Event Bus subscriptions.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.subIDs {
		b.bus.Off(id)
	}
	b.subIDs = nil
	b.started = false
}

func (b *Bridge) metadata(event AppEvent) map[string]string {
	return map[string]string{
		"eventType": string(event.EventType),
		"eventId":   event.EventID,
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func (b *Bridge) publish(topic string, data any, event AppEvent) {
	if _, err := b.broker.Publish(topic, data, b.metadata(event)); err != nil {
		b.log.Warn("event bridge: publish failed",
			zap.String("topic", topic),
			zap.String("eventType", string(event.EventType)),
			zap.Error(err),
		)
	}
}

func (b *Bridge) onUserCreated(event AppEvent) {
	b.publish("users", event.User, event)
}

func (b *Bridge) onUserUpdated(event AppEvent) {
	data := map[string]any{"userId": event.UserID, "changes": event.Changes}
	b.publish("users", data, event)
	if event.UserID != "" {
		b.publish(fmt.Sprintf("users.%s", event.UserID), data, event)
	}
}

func (b *Bridge) onUserDeleted(event AppEvent) {
	data := map[string]any{"userId": event.UserID}
	b.publish("users", data, event)
	if event.UserID != "" {
		b.publish(fmt.Sprintf("users.%s", event.UserID), data, event)
	}
}

func (b *Bridge) onMessageSent(event AppEvent) {
	if event.Message == nil {
		return
	}
	b.publish("messages", event.Message, event)
	if event.Message.ChannelID != "" {
		b.publish(fmt.Sprintf("messages.channel.%s", event.Message.ChannelID), event.Message, event)
	}
	if event.Message.RecipientID != "" {
		b.publish(fmt.Sprintf("messages.user.%s", event.Message.RecipientID), event.Message, event)
	}
}

var _ Publisher = (*pubsub.Broker)(nil)
