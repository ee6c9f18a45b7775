// Package badgerstore is a backing store that keeps msgpack encoded entities in
// an embedded badger database, one key per entity under a per-type prefix.
package badgerstore

import (
	"bytes"
	"context"
	"errors"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-repository-pipeline/backends"
	"github.com/goliatone/go-repository-pipeline/entity"
	"github.com/goliatone/go-repository-pipeline/query"
	"github.com/goliatone/go-repository-pipeline/store"
)

var _ store.Repository[struct{ ID string }] = (*Store[struct{ ID string }])(nil)

const (
	conflictRetries   = 3
	sequenceBandwidth = 100
)

var errExists = errors.New("key exists")

// Option customizes a Store.
type Option func(*settings)

type settings struct {
	prefix string
}

// WithPrefix replaces the key prefix, which defaults to the entity type name.
func WithPrefix(prefix string) Option {
	return func(s *settings) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// Store implements store.Repository over badger. Results come back in key order.
type Store[T any] struct {
	store.LoggerSlot

	db     *badger.DB
	desc   *entity.Descriptor[T]
	prefix []byte
	seq    *badger.Sequence
}

// New returns a store for T over db. Close releases the identifier sequence but
// leaves db open.
func New[T any](db *badger.DB, opts ...Option) (*Store[T], error) {
	if db == nil {
		return nil, &store.ConfigError{Field: "db", Message: "badger database is required"}
	}
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}
	s := settings{prefix: desc.TypeName()}
	for _, opt := range opts {
		opt(&s)
	}
	prefix := []byte(s.prefix + "/")
	seq, err := db.GetSequence(append([]byte("seq:"), prefix...), sequenceBandwidth)
	if err != nil {
		return nil, store.External(err, "open badger sequence")
	}
	return &Store[T]{db: db, desc: desc, prefix: prefix, seq: seq}, nil
}

// Close releases the identifier sequence.
func (s *Store[T]) Close() error {
	return s.seq.Release()
}

func (s *Store[T]) key(id string) []byte {
	k := make([]byte, 0, len(s.prefix)+len(id))
	return append(append(k, s.prefix...), id...)
}

func (s *Store[T]) decode(item *badger.Item) (T, error) {
	var out T
	err := item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &out)
	})
	return out, err
}

func (s *Store[T]) GetByID(ctx context.Context, id string) (T, bool, error) {
	var (
		out   T
		found bool
	)
	if err := ctx.Err(); err != nil {
		return out, false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out, err = s.decode(item)
		found = err == nil
		return err
	})
	if err != nil {
		return out, false, store.External(err, "badger get "+id)
	}
	return out, found, nil
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
	var (
		out      []T
		matchErr error
	)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			record, err := s.decode(it.Item())
			if err != nil {
				return err
			}
			ok, err := s.desc.Matches(predicate, record)
			if err != nil {
				matchErr = err
				return nil
			}
			if ok {
				out = append(out, record)
			}
		}
		return nil
	})
	if err != nil {
		return nil, store.External(err, "badger scan "+string(bytes.TrimSuffix(s.prefix, []byte("/"))))
	}
	if matchErr != nil {
		return nil, store.BadInput("INVALID_PREDICATE", matchErr.Error())
	}
	return out, nil
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store[T]) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *Store[T]) Save(ctx context.Context, record T, mode store.WriteMode) (store.OperationResult, error) {
	if err := ctx.Err(); err != nil {
		return store.OperationResult{}, err
	}
	if !mode.Valid() {
		return store.InvalidMode(s.desc.GetID(record), mode), nil
	}

	id := s.desc.GetID(record)
	if id == "" {
		if mode == store.Update {
			return store.MissingID(), nil
		}
		id, err := backends.InsertFresh(s.desc, record, s.nextID, s.putNew)
		if err != nil {
			return store.OperationResult{}, store.External(err, "badger insert")
		}
		return store.Succeeded(id), nil
	}

	val, err := msgpack.Marshal(record)
	if err != nil {
		return store.OperationResult{}, store.BadInput("ENCODE_FAILED", err.Error())
	}
	key := s.key(id)
	result := store.Succeeded(id)
	err = s.update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		exists := err == nil
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		switch {
		case mode == store.Insert && exists:
			result = store.DuplicateID(id)
			return nil
		case mode == store.Update && !exists:
			result = store.NotFound(id)
			return nil
		}
		result = store.Succeeded(id)
		return txn.Set(key, val)
	})
	if err != nil {
		return store.OperationResult{}, store.External(err, "badger save "+id)
	}
	return result, nil
}

func (s *Store[T]) putNew(id string, record T) (bool, error) {
	val, err := msgpack.Marshal(record)
	if err != nil {
		return false, err
	}
	key := s.key(id)
	err = s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return errExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, val)
	})
	if errors.Is(err, errExists) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store[T]) nextID() (string, error) {
	n, err := s.seq.Next()
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(n+1, 10), nil
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
	key := s.key(id)
	result := store.Succeeded(id)
	err := s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			result = store.NotFound(id)
			return nil
		} else if err != nil {
			return err
		}
		result = store.Succeeded(id)
		return txn.Delete(key)
	})
	if err != nil {
		return store.OperationResult{}, store.External(err, "badger delete "+id)
	}
	return result, nil
}

func (s *Store[T]) DeleteWhere(ctx context.Context, predicate query.Predicate) (store.OperationResult, error) {
	matches, err := s.Query(ctx, predicate)
	if err != nil {
		return store.OperationResult{}, err
	}
	if len(matches) == 0 {
		return store.NothingDeleted(), nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, m := range matches {
		if err := wb.Delete(s.key(s.desc.GetID(m))); err != nil {
			return store.OperationResult{}, store.External(err, "badger batch delete")
		}
	}
	if err := wb.Flush(); err != nil {
		return store.OperationResult{}, store.External(err, "badger batch delete")
	}
	s.Logger().Debug("badger store deleted by predicate", "entity", s.desc.TypeName(), "count", len(matches))
	return store.Succeeded(""), nil
}
