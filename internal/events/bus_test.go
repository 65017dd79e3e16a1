package events

import (
	"sync"
	"testing"
	"time"
)

func TestBusEmitDelivers(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var got []AppEvent

	bus.On(UserCreated, func(e AppEvent) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	event := NewAppEvent(UserCreated)
	bus.Emit(event)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].EventID != event.EventID {
		t.Fatalf("expected the handler to receive the emitted event, got %+v", got)
	}
}

func TestBusHandlerIsolation(t *testing.T) {
	bus := NewBus()
	var second bool

	bus.On(UserCreated, func(AppEvent) {
		panic("boom")
	})
	bus.On(UserCreated, func(AppEvent) {
		second = true
	})

	bus.Emit(NewAppEvent(UserCreated))

	if !second {
		t.Error("sibling handler should run despite the other panicking")
	}
}

func TestBusOffIsIdempotentAndStopsDelivery(t *testing.T) {
	bus := NewBus()
	var count int
	id := bus.On(UserDeleted, func(AppEvent) { count++ })

	bus.Emit(NewAppEvent(UserDeleted))
	bus.Off(id)
	bus.Off(id) // idempotent
	bus.Emit(NewAppEvent(UserDeleted))

	if count != 1 {
		t.Errorf("expected exactly 1 delivery before Off, got %d", count)
	}
}

func TestBusDoesNotCrossDeliverTypes(t *testing.T) {
	bus := NewBus()
	var updatedCount int
	bus.On(UserUpdated, func(AppEvent) { updatedCount++ })

	bus.Emit(NewAppEvent(UserCreated))

	if updatedCount != 0 {
		t.Errorf("handler registered for UserUpdated should not fire for UserCreated")
	}
}

func TestNewAppEventStampsIdentity(t *testing.T) {
	e1 := NewAppEvent(MessageSent)
	e2 := NewAppEvent(MessageSent)
	if e1.EventID == e2.EventID {
		t.Error("expected distinct event ids")
	}
	if time.Since(e1.Timestamp) > time.Second {
		t.Error("expected timestamp to be set to roughly now")
	}
}
