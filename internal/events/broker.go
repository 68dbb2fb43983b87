// Package events provides an in-process pub/sub broker used to push
// generation progress to connected UI clients.
package events

import "sync"

const subscriberBuffer = 16

// Broker fans events out to per-topic subscribers. Publishing never
// blocks: a subscriber that cannot keep up loses events, which is fine
// because update cards are snapshots, not deltas.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan any
	nextID int
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]chan any)}
}

// Subscribe registers a subscriber for a topic. The returned cancel
// function removes the subscription and closes the channel.
func (b *Broker) Subscribe(topic string) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan any)
	}
	b.subs[topic][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[topic]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
				if len(subs) == 0 {
					delete(b.subs, topic)
				}
			}
		}
	}
	return ch, cancel
}

// Publish delivers payload to every subscriber of the topic, dropping
// it for subscribers whose buffers are full.
func (b *Broker) Publish(topic string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Close shuts down the broker and closes all subscriber channels.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subs, topic)
	}
}
