// Package events implements the in-process typed Event Bus (spec.md
// §4.9) and the Event Bridge that fans AppEvents out into pub/sub
// topics (spec.md §4.10).
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rtmsg/broker/internal/domain"
	"github.com/rtmsg/broker/internal/observability"
)

// Type identifies one of the closed set of AppEvent variants (spec.md §3).
type Type string

const (
	UserCreated  Type = "user.created"
	UserUpdated  Type = "user.updated"
	UserDeleted  Type = "user.deleted"
	MessageSent  Type = "message.sent"
)

// AppEvent is a single emitted domain event. Data fields are variant-
// specific; only the fields relevant to EventType are populated.
type AppEvent struct {
	EventID       string
	EventType     Type
	Timestamp     time.Time
	CorrelationID string

	User    *domain.User
	UserID  string
	Changes map[string]any
	Message *domain.Message
}

// NewAppEvent stamps identity/timestamp fields, leaving the caller to
// fill in the variant-specific payload.
func NewAppEvent(t Type) AppEvent {
	return AppEvent{
		EventID:   uuid.NewString(),
		EventType: t,
		Timestamp: time.Now(),
	}
}

// Handler receives emitted events of the types it subscribed to.
type Handler func(AppEvent)

// Bus is an in-process typed pub/sub for AppEvents. Emit runs the
// matching handlers on the emitter's goroutine; a handler that panics is
// isolated — it never affects the emitter or sibling handlers (spec.md
// §4.9).
type Bus struct {
	mu   sync.RWMutex
	subs map[string]subscription
}

type subscription struct {
	eventType Type
	handler   Handler
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]subscription)}
}

// On registers handler for eventType and returns a subscription id for
// later removal via Off.
func (b *Bus) On(eventType Type, handler Handler) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs[id] = subscription{eventType: eventType, handler: handler}
	b.mu.Unlock()
	return id
}

// Off removes a subscription. Idempotent — unknown ids are a no-op.
func (b *Bus) Off(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Emit invokes every handler registered for event.EventType. Delivery is
// fire-and-forget and synchronous per handler, but each handler's panic
// is recovered so one failing subscriber cannot break another or the
// emitter.
func (b *Bus) Emit(event AppEvent) {
	observability.RecordEventEmitted(string(event.EventType))

	b.mu.RLock()
	var matched []Handler
	for _, sub := range b.subs {
		if sub.eventType == event.EventType {
			matched = append(matched, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		b.invoke(h, event)
	}
}

func (b *Bus) invoke(h Handler, event AppEvent) {
	defer func() {
		_ = recover()
	}()
	h(event)
}
