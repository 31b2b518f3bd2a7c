// Package notify is the change notification channel between processes that
// share the queue store. Writers publish an Event on a topic after every
// committed change; projections subscribe to the topics they render.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Event tells subscribers that something under Topic changed. It carries no
// authoritative state: receivers re-read the store.
type Event struct {
	Type       string          `json:"type"`
	Topic      string          `json:"topic"`
	ResourceID string          `json:"resourceId,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscription delivers events for one topic until closed. Events are
// dropped, not queued, when the receiver falls behind; a dropped event is
// covered by the receiver's next poll.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

type Broker interface {
	Publisher
	Subscriber
	Close() error
}

var ErrClosed = errors.New("notify: broker closed")

// subscriptionBuffer bounds per-subscriber backlog.
const subscriptionBuffer = 16

// Nop publishes nowhere. Useful where a component needs a Publisher but no
// one listens.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
