// Package notify publishes change events for successful repository writes.
package notify

import (
	"context"
	"time"
)

// Kind names the change an event reports.
type Kind string

const (
	Created Kind = "created"
	Updated Kind = "updated"
	Deleted Kind = "deleted"
)

// Event carries the entity as written, or as it was before a delete.
type Event[T any] struct {
	Kind   Kind      `json:"kind"`
	Type   string    `json:"type"`
	ID     string    `json:"id"`
	Entity T         `json:"entity"`
	At     time.Time `json:"at"`
}

// Publisher delivers events to subscribers. Implementations must be safe for
// concurrent use.
type Publisher[T any] interface {
	Publish(ctx context.Context, event Event[T]) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc[T any] func(ctx context.Context, event Event[T]) error

// Publish implements Publisher.
func (f PublisherFunc[T]) Publish(ctx context.Context, event Event[T]) error { return f(ctx, event) }
