// Package memory is an in-process backing store over a concurrent map. It is the
// reference implementation of store.Repository used by tests and demos.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-repository-pipeline/backends"
	"github.com/goliatone/go-repository-pipeline/entity"
	"github.com/goliatone/go-repository-pipeline/query"
	"github.com/goliatone/go-repository-pipeline/store"
)

var _ store.Repository[struct{ ID string }] = (*Store[struct{ ID string }])(nil)

type item[T any] struct {
	seq   int64
	value T
}

// Store keeps entities in memory keyed by their canonical identifier. Query
// results come back in insertion order.
type Store[T any] struct {
	store.LoggerSlot

	desc  *entity.Descriptor[T]
	items *xsync.MapOf[string, item[T]]
	seq   atomic.Int64
	ids   atomic.Int64
}

// New returns an empty store for T.
func New[T any]() (*Store[T], error) {
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}
	return &Store[T]{
		desc:  desc,
		items: xsync.NewMapOf[string, item[T]](),
	}, nil
}

// Len returns the number of stored entities.
func (s *Store[T]) Len() int { return s.items.Size() }

func (s *Store[T]) GetByID(ctx context.Context, id string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	it, ok := s.items.Load(id)
	if !ok {
		return zero, false, nil
	}
	return it.value, true, nil
}

func (s *Store[T]) GetAll(ctx context.Context) ([]T, error) {
	return s.collect(ctx, query.All())
}

func (s *Store[T]) Query(ctx context.Context, predicate query.Predicate) ([]T, error) {
	if err := store.CheckPredicate(predicate); err != nil {
		return nil, err
	}
	return s.collect(ctx, predicate)
}

func (s *Store[T]) FirstOrDefault(ctx context.Context, predicate query.Predicate) (T, bool, error) {
	var zero T
	matches, err := s.Query(ctx, predicate)
	if err != nil || len(matches) == 0 {
		return zero, false, err
	}
	return matches[0], true, nil
}

func (s *Store[T]) collect(ctx context.Context, predicate query.Predicate) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		hits     []item[T]
		matchErr error
	)
	s.items.Range(func(_ string, it item[T]) bool {
		ok, err := s.desc.Matches(predicate, it.value)
		if err != nil {
			matchErr = err
			return false
		}
		if ok {
			hits = append(hits, it)
		}
		return true
	})
	if matchErr != nil {
		return nil, store.BadInput("INVALID_PREDICATE", matchErr.Error())
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })
	out := make([]T, len(hits))
	for i, it := range hits {
		out[i] = it.value
	}
	return out, nil
}

func (s *Store[T]) Save(ctx context.Context, record T, mode store.WriteMode) (store.OperationResult, error) {
	if err := ctx.Err(); err != nil {
		return store.OperationResult{}, err
	}

	id := s.desc.GetID(record)
	switch mode {
	case store.Insert:
		if id == "" {
			id, err := backends.InsertFresh(s.desc, record, s.nextID, s.putNew)
			if err != nil {
				return store.OperationResult{}, err
			}
			return store.Succeeded(id), nil
		}
		if ok, _ := s.putNew(id, record); !ok {
			return store.DuplicateID(id), nil
		}
		return store.Succeeded(id), nil

	case store.Update:
		if id == "" {
			return store.MissingID(), nil
		}
		updated := false
		s.items.Compute(id, func(old item[T], loaded bool) (item[T], bool) {
			if !loaded {
				return old, true
			}
			updated = true
			return item[T]{seq: old.seq, value: record}, false
		})
		if !updated {
			return store.NotFound(id), nil
		}
		return store.Succeeded(id), nil

	case store.Upsert:
		if id == "" {
			id, err := backends.InsertFresh(s.desc, record, s.nextID, s.putNew)
			if err != nil {
				return store.OperationResult{}, err
			}
			return store.Succeeded(id), nil
		}
		s.items.Compute(id, func(old item[T], loaded bool) (item[T], bool) {
			seq := old.seq
			if !loaded {
				seq = s.seq.Add(1)
			}
			return item[T]{seq: seq, value: record}, false
		})
		return store.Succeeded(id), nil
	}
	return store.InvalidMode(id, mode), nil
}

func (s *Store[T]) putNew(id string, record T) (bool, error) {
	_, loaded := s.items.LoadOrCompute(id, func() item[T] {
		return item[T]{seq: s.seq.Add(1), value: record}
	})
	return !loaded, nil
}

func (s *Store[T]) nextID() (string, error) {
	return strconv.FormatInt(s.ids.Add(1), 10), nil
}

func (s *Store[T]) SaveMany(ctx context.Context, records []T, mode store.WriteMode) ([]store.OperationResult, error) {
	results := make([]store.OperationResult, 0, len(records))
	for _, r := range records {
		res, err := s.Save(ctx, r, mode)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Store[T]) Delete(ctx context.Context, id string) (store.OperationResult, error) {
	if err := ctx.Err(); err != nil {
		return store.OperationResult{}, err
	}
	if id == "" {
		return store.MissingID(), nil
	}
	if _, ok := s.items.LoadAndDelete(id); !ok {
		return store.NotFound(id), nil
	}
	return store.Succeeded(id), nil
}

func (s *Store[T]) DeleteWhere(ctx context.Context, predicate query.Predicate) (store.OperationResult, error) {
	matches, err := s.Query(ctx, predicate)
	if err != nil {
		return store.OperationResult{}, err
	}
	removed := 0
	for _, m := range matches {
		if _, ok := s.items.LoadAndDelete(s.desc.GetID(m)); ok {
			removed++
		}
	}
	if removed == 0 {
		return store.NothingDeleted(), nil
	}
	s.Logger().Debug("memory store deleted by predicate", "entity", s.desc.TypeName(), "count", removed)
	return store.Succeeded(""), nil
}
