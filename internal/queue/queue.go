// Package queue is the broker boundary. Handlers see raw bodies and a
// delivery count; the drivers translate a nil return into an ack and an error
// into a requeue with the broker's own backoff.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Handler processes one delivery. attempt starts at 1.
type Handler func(ctx context.Context, body []byte, attempt int) error

// Publisher confirms a message only after the broker has accepted it.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
}

// SubscribeConfig binds a consumer group to a topic.
type SubscribeConfig struct {
	Topic   string
	Channel string
	// MaxInFlight bounds unacknowledged deliveries per instance.
	MaxInFlight int
	// Concurrency is the number of handler goroutines.
	Concurrency int
}

func (c SubscribeConfig) withDefaults() SubscribeConfig {
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 1
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Concurrency > c.MaxInFlight {
		c.Concurrency = c.MaxInFlight
	}
	return c
}

type Subscription interface {
	// Stop stops receiving and waits for in-flight handlers.
	Stop()
}

type Subscriber interface {
	Subscribe(ctx context.Context, cfg SubscribeConfig, h Handler) (Subscription, error)
}

// safeCall runs h and turns a panic into an error so the message is
// redelivered instead of killing the consumer.
func safeCall(ctx context.Context, h Handler, topic string, body []byte, attempt int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "handler panic", "topic", topic, "attempt", attempt, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, body, attempt)
}
