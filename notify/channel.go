package notify

import "context"

// Channel hands events to an in-process consumer. Publish blocks while the buffer
// is full and gives up when ctx is done.
type Channel[T any] struct {
	ch chan Event[T]
}

// NewChannel returns a Channel with the given buffer size.
func NewChannel[T any](buffer int) *Channel[T] {
	return &Channel[T]{ch: make(chan Event[T], buffer)}
}

// C returns the receive side.
func (c *Channel[T]) C() <-chan Event[T] { return c.ch }

// Publish implements Publisher.
func (c *Channel[T]) Publish(ctx context.Context, event Event[T]) error {
	select {
	case c.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
