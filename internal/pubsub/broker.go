package pubsub

import "github.com/rtmsg/broker/internal/observability"

// Broker is a thin facade over a single Adapter (spec.md §4.3): it
// mirrors the adapter's operations 1:1 so the rest of the system has a
// stable call site while the adapter is swappable at startup.
type Broker struct {
	adapter Adapter
}

func NewBroker(adapter Adapter) *Broker {
	return &Broker{adapter: adapter}
}

func (b *Broker) Connect() error    { return b.adapter.Connect() }
func (b *Broker) Disconnect() error { return b.adapter.Disconnect() }
func (b *Broker) IsConnected() bool { return b.adapter.IsConnected() }

func (b *Broker) Publish(topic string, data any, metadata map[string]string) (string, error) {
	id, err := b.adapter.Publish(topic, data, metadata)
	if err == nil {
		observability.RecordPubSubPublish()
	}
	return id, err
}

func (b *Broker) Subscribe(pattern string, handler Handler) (string, error) {
	id, err := b.adapter.Subscribe(pattern, handler)
	if err == nil {
		observability.RecordPubSubSubscriptions(len(b.adapter.GetSubscriptions()))
	}
	return id, err
}

func (b *Broker) Unsubscribe(id string) error {
	err := b.adapter.Unsubscribe(id)
	if err == nil {
		observability.RecordPubSubSubscriptions(len(b.adapter.GetSubscriptions()))
	}
	return err
}

func (b *Broker) GetStats() Stats {
	return b.adapter.GetStats()
}

func (b *Broker) GetSubscriptions() []Subscription {
	return b.adapter.GetSubscriptions()
}
