// Package transport defines the publish/subscribe boundary. Adapters live in
// internal/infrastructure.
package transport

import (
	"context"
)

// Handler receives one message. It is called from the adapter's own
// goroutines and must not block for long.
type Handler func(topic string, payload []byte)

type Subscriber interface {
	// Subscribe starts delivering messages for topics to h. It returns once
	// the subscription is in place; delivery continues until Close.
	Subscribe(ctx context.Context, topics []string, h Handler) error
	Close() error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}
