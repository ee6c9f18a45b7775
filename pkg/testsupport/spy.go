package testsupport

import (
	"context"
	"sync"

	"github.com/goliatone/go-repository-pipeline/query"
	"github.com/goliatone/go-repository-pipeline/store"
)

// Spy wraps a repository and records every call that reaches it. It is placed
// under a decorator to assert which calls the decorator short-circuits.
type Spy[T any] struct {
	store.LoggerSlot

	inner store.Repository[T]

	mu       sync.Mutex
	calls    []string
	failures map[string]error
}

// NewSpy wraps inner.
func NewSpy[T any](inner store.Repository[T]) *Spy[T] {
	return &Spy[T]{inner: inner, failures: map[string]error{}}
}

// Calls returns the recorded method names in call order.
func (s *Spy[T]) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Count returns how many times method was called.
func (s *Spy[T]) Count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == method {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls and injected failures.
func (s *Spy[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.failures = map[string]error{}
}

// FailWith makes every later call to method return err without reaching the
// inner repository. A nil err clears the failure.
func (s *Spy[T]) FailWith(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Spy[T]) record(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, method)
	return s.failures[method]
}

func (s *Spy[T]) GetByID(ctx context.Context, id string) (T, bool, error) {
	if err := s.record("GetByID"); err != nil {
		var zero T
		return zero, false, err
	}
	return s.inner.GetByID(ctx, id)
}

func (s *Spy[T]) GetAll(ctx context.Context) ([]T, error) {
	if err := s.record("GetAll"); err != nil {
		return nil, err
	}
	return s.inner.GetAll(ctx)
}

func (s *Spy[T]) Query(ctx context.Context, predicate query.Predicate) ([]T, error) {
	if err := s.record("Query"); err != nil {
		return nil, err
	}
	return s.inner.Query(ctx, predicate)
}

func (s *Spy[T]) FirstOrDefault(ctx context.Context, predicate query.Predicate) (T, bool, error) {
	if err := s.record("FirstOrDefault"); err != nil {
		var zero T
		return zero, false, err
	}
	return s.inner.FirstOrDefault(ctx, predicate)
}

func (s *Spy[T]) Save(ctx context.Context, record T, mode store.WriteMode) (store.OperationResult, error) {
	if err := s.record("Save"); err != nil {
		return store.OperationResult{}, err
	}
	return s.inner.Save(ctx, record, mode)
}

func (s *Spy[T]) SaveMany(ctx context.Context, records []T, mode store.WriteMode) ([]store.OperationResult, error) {
	if err := s.record("SaveMany"); err != nil {
		return nil, err
	}
	return s.inner.SaveMany(ctx, records, mode)
}

func (s *Spy[T]) Delete(ctx context.Context, id string) (store.OperationResult, error) {
	if err := s.record("Delete"); err != nil {
		return store.OperationResult{}, err
	}
	return s.inner.Delete(ctx, id)
}

func (s *Spy[T]) DeleteWhere(ctx context.Context, predicate query.Predicate) (store.OperationResult, error) {
	if err := s.record("DeleteWhere"); err != nil {
		return store.OperationResult{}, err
	}
	return s.inner.DeleteWhere(ctx, predicate)
}
