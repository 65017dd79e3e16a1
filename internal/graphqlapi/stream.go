// Package graphqlapi exposes broker topics as GraphQL subscription
// fields: lazy per-client streams that subscribe on first consumption
// and guarantee a broker-side unsubscribe on every exit path (spec.md
// §4.11).
package graphqlapi

import (
	"context"
	"sync"

	"github.com/rtmsg/broker/internal/observability"
	"github.com/rtmsg/broker/internal/pubsub"
)

// Extract transforms a delivered broker message into the payload a
// GraphQL subscription field yields. Returning an error drops that one
// message, without logging it and without terminating the stream.
type Extract func(msg pubsub.Message) (any, error)

// Stream is a lazy, cancellable view of a single broker subscription.
// It subscribes on the first call to Start and unsubscribes exactly
// once, however the consumer exits (cancellation, error, or normal
// completion) — the close is driven by ctx.Done() plus an explicit
// Close(), whichever comes first, and is idempotent via sync.Once.
type Stream struct {
	topic   string
	broker  *pubsub.Broker
	extract Extract

	mu      sync.Mutex
	started bool
	subID   string
	ch      chan any
	closeOnce sync.Once
}

func NewStream(topic string, broker *pubsub.Broker, extract Extract) *Stream {
	return &Stream{topic: topic, broker: broker, extract: extract}
}

// Start subscribes to the broker (exactly once, even if Start is called
// more than once) and returns a channel of extracted payloads in
// delivery order. The returned channel is closed when ctx is done or
// Close is called.
func (s *Stream) Start(ctx context.Context) (<-chan any, error) {
	ctx, span := observability.StartSpan(ctx, "graphql.subscription.start")
	defer span.End()
	observability.SetSpanAttribute(ctx, "topic", s.topic)

	s.mu.Lock()
	if s.started {
		ch := s.ch
		s.mu.Unlock()
		return ch, nil
	}

	ch := make(chan any, 32)
	subID, err := s.broker.Subscribe(s.topic, func(msg pubsub.Message) {
		payload, err := s.extract(msg)
		if err != nil {
			return
		}
		select {
		case ch <- payload:
		case <-ctx.Done():
		}
	})
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.started = true
	s.subID = subID
	s.ch = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return ch, nil
}

// Close unsubscribes from the broker exactly once and closes the
// channel. Safe to call multiple times and safe to call before Start
// (no-op).
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		subID := s.subID
		ch := s.ch
		s.mu.Unlock()

		if started {
			_ = s.broker.Unsubscribe(subID)
			close(ch)
		}
	})
}
