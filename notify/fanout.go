package notify

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FanOut delivers every event to all subscribers, at most limit at a time. Every
// subscriber is attempted; their errors are joined.
type FanOut[T any] struct {
	mu    sync.RWMutex
	subs  []Publisher[T]
	limit int
}

// NewFanOut returns a FanOut over subs. A limit below one means no bound.
func NewFanOut[T any](limit int, subs ...Publisher[T]) *FanOut[T] {
	return &FanOut[T]{subs: subs, limit: limit}
}

// Subscribe adds p to the subscribers.
func (f *FanOut[T]) Subscribe(p Publisher[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, p)
}

// Len returns the number of subscribers.
func (f *FanOut[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Publish implements Publisher.
func (f *FanOut[T]) Publish(ctx context.Context, event Event[T]) error {
	f.mu.RLock()
	subs := append([]Publisher[T](nil), f.subs...)
	f.mu.RUnlock()

	errs := make([]error, len(subs))
	var g errgroup.Group
	if f.limit > 0 {
		g.SetLimit(f.limit)
	}
	for i, sub := range subs {
		g.Go(func() error {
			errs[i] = sub.Publish(ctx, event)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
