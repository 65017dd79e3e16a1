package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rtmsg/broker/internal/observability"
	"github.com/rtmsg/broker/internal/protocolerr"
	"github.com/rtmsg/broker/internal/topic"
)

// wireMessage is the JSON envelope published on the shared Redis
// channel. Redis's own PSUBSCRIBE glob syntax ("[...]", "?") doesn't map
// 1:1 onto our "*"/"**" segment wildcards, so every publication goes out
// on a single shared channel and pattern matching happens client-side
// with the same topic.Matches used by MemoryAdapter — outward wildcard
// behavior is identical across adapters, per spec.md §4.2.
type wireMessage struct {
	MessageID   string            `json:"messageId"`
	Topic       string            `json:"topic"`
	Data        json.RawMessage   `json:"data"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	PublishedAt time.Time         `json:"publishedAt"`
}

// RedisAdapter is the external-bus Adapter backed by Redis PUBLISH/
// SUBSCRIBE. Delivery is at-least-once per Redis's own guarantee: a
// subscriber connected at publish time receives the message, but Redis
// pub/sub itself does not persist or replay (spec.md §9 Open Questions).
type RedisAdapter struct {
	client  *redis.Client
	channel string
	log     *zap.Logger

	mu        sync.RWMutex
	subs      map[string]*Subscription
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	rps    *redis.PubSub
	wg     sync.WaitGroup

	published atomic.Uint64
	delivered atomic.Uint64
}

// NewRedisAdapter builds an adapter over an existing *redis.Client,
// using channel as the shared pub/sub channel for all topics.
func NewRedisAdapter(client *redis.Client, channel string, log *zap.Logger) *RedisAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	if channel == "" {
		channel = "rtmsg:broker"
	}
	return &RedisAdapter{
		client:  client,
		channel: channel,
		log:     log,
		subs:    make(map[string]*Subscription),
	}
}

func (a *RedisAdapter) Connect() error {
	if a.connected.Load() {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.client.Ping(ctx).Err(); err != nil {
		cancel()
		return protocolerr.Wrap(protocolerr.DependencyError, "redis ping failed", err)
	}
	a.ctx, a.cancel = ctx, cancel
	a.rps = a.client.Subscribe(ctx, a.channel)
	a.connected.Store(true)

	a.wg.Add(1)
	go a.readLoop()
	return nil
}

func (a *RedisAdapter) Disconnect() error {
	if !a.connected.Load() {
		return nil
	}
	a.connected.Store(false)
	if a.cancel != nil {
		a.cancel()
	}
	var err error
	if a.rps != nil {
		err = a.rps.Close()
	}
	a.wg.Wait()
	return err
}

func (a *RedisAdapter) IsConnected() bool {
	return a.connected.Load()
}

func (a *RedisAdapter) readLoop() {
	defer a.wg.Done()
	ch := a.rps.Channel()
	for msg := range ch {
		var wm wireMessage
		if err := json.Unmarshal([]byte(msg.Payload), &wm); err != nil {
			a.log.Warn("redis adapter: dropping malformed message", zap.Error(err))
			continue
		}
		a.fanOut(wm)
	}
}

func (a *RedisAdapter) fanOut(wm wireMessage) {
	var data any
	_ = json.Unmarshal(wm.Data, &data)

	message := Message{
		MessageID:   wm.MessageID,
		Topic:       wm.Topic,
		Data:        data,
		Metadata:    wm.Metadata,
		PublishedAt: wm.PublishedAt,
	}

	a.mu.RLock()
	matched := make([]*Subscription, 0, len(a.subs))
	for _, sub := range a.subs {
		if topic.Matches(wm.Topic, sub.Pattern) {
			matched = append(matched, sub)
		}
	}
	a.mu.RUnlock()

	for _, sub := range matched {
		sub := sub
		go a.dispatch(sub, message)
	}
}

func (a *RedisAdapter) dispatch(sub *Subscription, msg Message) {
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

func (a *RedisAdapter) Publish(topicStr string, data any, metadata map[string]string) (string, error) {
	if !a.IsConnected() {
		return "", protocolerr.New(protocolerr.DependencyError, "redis adapter is disconnected")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", protocolerr.Wrap(protocolerr.InvalidInput, "data is not JSON-serialisable", err)
	}
	wm := wireMessage{
		MessageID:   uuid.NewString(),
		Topic:       topicStr,
		Data:        payload,
		Metadata:    metadata,
		PublishedAt: time.Now(),
	}
	encoded, err := json.Marshal(wm)
	if err != nil {
		return "", protocolerr.Wrap(protocolerr.DependencyError, "failed to encode envelope", err)
	}
	if err := a.client.Publish(a.ctx, a.channel, encoded).Err(); err != nil {
		return "", protocolerr.Wrap(protocolerr.DependencyError, "redis publish failed", err)
	}
	a.published.Add(1)
	return wm.MessageID, nil
}

func (a *RedisAdapter) Subscribe(pattern string, handler Handler) (string, error) {
	if !a.IsConnected() {
		return "", protocolerr.New(protocolerr.DependencyError, "redis adapter is disconnected")
	}
	id := uuid.NewString()
	a.mu.Lock()
	a.subs[id] = &Subscription{ID: id, Pattern: pattern, Handler: handler, CreatedAt: time.Now()}
	a.mu.Unlock()
	return id, nil
}

func (a *RedisAdapter) Unsubscribe(id string) error {
	a.mu.Lock()
	delete(a.subs, id)
	a.mu.Unlock()
	return nil
}

func (a *RedisAdapter) GetStats() Stats {
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

func (a *RedisAdapter) GetSubscriptions() []Subscription {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Subscription, 0, len(a.subs))
	for _, s := range a.subs {
		out = append(out, *s)
	}
	return out
}
