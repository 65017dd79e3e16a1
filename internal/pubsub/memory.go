package pubsub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rtmsg/broker/internal/observability"
	"github.com/rtmsg/broker/internal/protocolerr"
	"github.com/rtmsg/broker/internal/topic"
)

// MemoryAdapter is the in-process Adapter (spec.md §4.2). Delivery is
// synchronous-dispatch / async-execute: the publisher walks the
// subscription table and hands each match to the Go scheduler via a
// goroutine, so a slow or panicking handler can never stall the
// publisher or its siblings.
type MemoryAdapter struct {
	log         *zap.Logger
	maxMessages int // advisory only, per spec.md §4.2

	mu        sync.RWMutex
	subs      map[string]*Subscription
	connected atomic.Bool

	published atomic.Uint64
	delivered atomic.Uint64
}

// NewMemoryAdapter builds an in-process adapter. maxMessages is an
// advisory hint (pubsub.memory.maxMessages) — the in-process
// implementation never queues beyond synchronous dispatch, so it has no
// enforcement effect, only documentary value for operators.
func NewMemoryAdapter(maxMessages int, log *zap.Logger) *MemoryAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryAdapter{
		log:         log,
		maxMessages: maxMessages,
		subs:        make(map[string]*Subscription),
	}
}

func (a *MemoryAdapter) Connect() error {
	a.connected.Store(true)
	return nil
}

func (a *MemoryAdapter) Disconnect() error {
	a.connected.Store(false)
	return nil
}

func (a *MemoryAdapter) IsConnected() bool {
	return a.connected.Load()
}

func (a *MemoryAdapter) Subscribe(pattern string, handler Handler) (string, error) {
	if !a.IsConnected() {
		return "", protocolerr.New(protocolerr.DependencyError, "pubsub adapter is disconnected")
	}
	id := uuid.NewString()
	a.mu.Lock()
	a.subs[id] = &Subscription{
		ID:        id,
		Pattern:   pattern,
		Handler:   handler,
		CreatedAt: time.Now(),
	}
	a.mu.Unlock()
	return id, nil
}

func (a *MemoryAdapter) Unsubscribe(id string) error {
	a.mu.Lock()
	delete(a.subs, id)
	a.mu.Unlock()
	return nil
}

// Publish dispatches to every subscription whose pattern matches topic
// at call time. Each handler invocation runs on its own goroutine,
// isolated by a deferred recover so a panicking handler is logged and
// never removes the subscription or reaches the publisher.
func (a *MemoryAdapter) Publish(topicStr string, data any, metadata map[string]string) (string, error) {
	if !a.IsConnected() {
		return "", protocolerr.New(protocolerr.DependencyError, "pubsub adapter is disconnected")
	}

	msg := Message{
		MessageID:   uuid.NewString(),
		Topic:       topicStr,
		Data:        data,
		Metadata:    metadata,
		PublishedAt: time.Now(),
	}
	a.published.Add(1)

	a.mu.RLock()
	matched := make([]*Subscription, 0, len(a.subs))
	for _, sub := range a.subs {
		if topic.Matches(topicStr, sub.Pattern) {
			matched = append(matched, sub)
		}
	}
	a.mu.RUnlock()

	for _, sub := range matched {
		sub := sub
		go a.dispatch(sub, msg)
	}

	return msg.MessageID, nil
}

func (a *MemoryAdapter) dispatch(sub *Subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("pubsub handler panicked",
				zap.String("subscriptionId", sub.ID),
				zap.String("pattern", sub.Pattern),
				zap.Any("recovered", r),
			)
		}
	}()
	sub.Handler(msg)
	a.delivered.Add(1)
	observability.RecordPubSubDelivery()
}

func (a *MemoryAdapter) GetStats() Stats {
	a.mu.RLock()
	n := len(a.subs)
	a.mu.RUnlock()
	return Stats{
		Connected:           a.IsConnected(),
		ActiveSubscriptions: n,
		MessagesPublished:   a.published.Load(),
		MessagesDelivered:   a.delivered.Load(),
	}
}

func (a *MemoryAdapter) GetSubscriptions() []Subscription {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Subscription, 0, len(a.subs))
	for _, s := range a.subs {
		out = append(out, *s)
	}
	return out
}
