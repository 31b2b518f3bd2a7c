package notify

import (
	"context"
	"sync"
)

// Local fans events out to subscribers inside this process. It is the
// channel used when a single server instance serves every staff screen.
type Local struct {
	mu     sync.RWMutex
	topics map[string]map[*localSub]struct{}
	closed bool
}

func NewLocal() *Local {
	return &Local{topics: make(map[string]map[*localSub]struct{})}
}

type localSub struct {
	broker *Local
	topic  string
	ch     chan Event
	once   sync.Once
}

func (s *localSub) Events() <-chan Event { return s.ch }

func (s *localSub) Close() error {
	s.once.Do(func() { s.broker.remove(s) })
	return nil
}

func (b *Local) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &localSub{broker: b, topic: topic, ch: make(chan Event, subscriptionBuffer)}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*localSub]struct{})
	}
	b.topics[topic][sub] = struct{}{}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

func (b *Local) remove(s *localSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[s.topic]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(b.topics, s.topic)
	}
	close(s.ch)
}

func (b *Local) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.topics[event.Topic] {
		select {
		case sub.ch <- event:
		default:
			// Subscriber is behind; its poll will catch up.
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions on topic.
func (b *Local) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Local) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.topics {
		for sub := range subs {
			close(sub.ch)
		}
		delete(b.topics, topic)
	}
	return nil
}
