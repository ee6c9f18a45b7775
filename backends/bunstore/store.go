// Package bunstore adapts a go-repository-bun repository to store.Repository.
// Predicates are compiled to SQL WHERE clauses and pushed to the database.
package bunstore

import (
	"context"
	"errors"
	"reflect"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-pipeline/backends"
	"github.com/goliatone/go-repository-pipeline/entity"
	"github.com/goliatone/go-repository-pipeline/query"
	"github.com/goliatone/go-repository-pipeline/store"
)

var _ store.Repository[struct{ ID string }] = (*Store[struct{ ID string }])(nil)

// Store implements store.Repository over a bun backed repository. Integer
// identifiers left empty on insert are assigned by the database.
type Store[T any] struct {
	store.LoggerSlot

	repo     repository.Repository[T]
	desc     *entity.Descriptor[T]
	columns  map[string]string
	nullable map[string]bool
}

// New wraps repo.
func New[T any](repo repository.Repository[T]) (*Store[T], error) {
	if repo == nil {
		return nil, &store.ConfigError{Field: "repository", Message: "bun repository is required"}
	}
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return &Store[T]{repo: repo, desc: desc, columns: columnsOf(t), nullable: nullableFields(t)}, nil
}

// Column returns the column backing field.
func (s *Store[T]) Column(field string) (string, bool) {
	c, ok := s.columns[field]
	return c, ok
}

// Nullable reports whether field can hold NULL.
func (s *Store[T]) Nullable(field string) bool { return s.nullable[field] }

// IsNotFound reports whether err is the repository's "no such row" error.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if repository.IsRecordNotFound(err) {
		return true
	}
	var gerr *goerrors.Error
	return errors.As(err, &gerr) && gerr.Category == goerrors.CategoryNotFound
}

func (s *Store[T]) where(p query.Predicate) (string, []any, error) {
	if err := store.CheckPredicate(p); err != nil {
		return "", nil, err
	}
	clause, args, err := CompileNullable(p, s.Column, s.Nullable)
	if err != nil {
		return "", nil, store.BadInput("INVALID_PREDICATE", err.Error())
	}
	return clause, args, nil
}

// unlimited lifts the page size go-repository-bun applies to List by default.
func unlimited(q *bun.SelectQuery) *bun.SelectQuery { return q.Limit(0) }

// selectWhere filters by p. A zero limit returns every match.
func (s *Store[T]) selectWhere(p query.Predicate, limit int) ([]repository.SelectCriteria, error) {
	clause, args, err := s.where(p)
	if err != nil {
		return nil, err
	}
	return []repository.SelectCriteria{func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where(clause, args...).Limit(limit)
	}}, nil
}

func (s *Store[T]) GetByID(ctx context.Context, id string) (T, bool, error) {
	var zero T
	if id == "" {
		return zero, false, nil
	}
	record, err := s.repo.GetByID(ctx, id)
	if IsNotFound(err) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, store.External(err, "bun get "+id)
	}
	return record, true, nil
}

func (s *Store[T]) GetAll(ctx context.Context) ([]T, error) {
	records, _, err := s.repo.List(ctx, unlimited)
	if err != nil {
		return nil, store.External(err, "bun list")
	}
	return records, nil
}

func (s *Store[T]) Query(ctx context.Context, predicate query.Predicate) ([]T, error) {
	criteria, err := s.selectWhere(predicate, 0)
	if err != nil {
		return nil, err
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, store.External(err, "bun query")
	}
	return records, nil
}

func (s *Store[T]) FirstOrDefault(ctx context.Context, predicate query.Predicate) (T, bool, error) {
	var zero T
	criteria, err := s.selectWhere(predicate, 1)
	if err != nil {
		return zero, false, err
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return zero, false, store.External(err, "bun query")
	}
	if len(records) == 0 {
		return zero, false, nil
	}
	return records[0], true, nil
}

func (s *Store[T]) Save(ctx context.Context, record T, mode store.WriteMode) (store.OperationResult, error) {
	if err := ctx.Err(); err != nil {
		return store.OperationResult{}, err
	}
	id := s.desc.GetID(record)

	switch mode {
	case store.Insert, store.Upsert:
		if id == "" {
			return s.create(ctx, record)
		}
		if mode == store.Upsert {
			if _, err := s.repo.Upsert(ctx, record); err != nil {
				return store.OperationResult{}, store.External(err, "bun upsert "+id)
			}
			return store.Succeeded(id), nil
		}
		_, exists, err := s.GetByID(ctx, id)
		if err != nil {
			return store.OperationResult{}, err
		}
		if exists {
			return store.DuplicateID(id), nil
		}
		if _, err := s.repo.Create(ctx, record); err != nil {
			if _, raced, _ := s.GetByID(ctx, id); raced {
				return store.DuplicateID(id), nil
			}
			return store.OperationResult{}, store.External(err, "bun create "+id)
		}
		return store.Succeeded(id), nil

	case store.Update:
		if id == "" {
			return store.MissingID(), nil
		}
		_, exists, err := s.GetByID(ctx, id)
		if err != nil {
			return store.OperationResult{}, err
		}
		if !exists {
			return store.NotFound(id), nil
		}
		if _, err := s.repo.Update(ctx, record); err != nil {
			return store.OperationResult{}, store.External(err, "bun update "+id)
		}
		return store.Succeeded(id), nil
	}
	return store.InvalidMode(id, mode), nil
}

// create inserts a record without identifier, generating one unless the
// identifier kind is left to the database.
func (s *Store[T]) create(ctx context.Context, record T) (store.OperationResult, error) {
	withID, _, err := backends.AssignID(s.desc, record, nil)
	switch {
	case errors.Is(err, entity.ErrIDNotGenerated):
		withID = record
	case err != nil:
		return store.OperationResult{}, err
	}
	created, err := s.repo.Create(ctx, withID)
	if err != nil {
		return store.OperationResult{}, store.External(err, "bun create")
	}
	return store.Succeeded(s.desc.GetID(created)), nil
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
	if id == "" {
		return store.MissingID(), nil
	}
	record, exists, err := s.GetByID(ctx, id)
	if err != nil {
		return store.OperationResult{}, err
	}
	if !exists {
		return store.NotFound(id), nil
	}
	if err := s.repo.Delete(ctx, record); err != nil {
		return store.OperationResult{}, store.External(err, "bun delete "+id)
	}
	return store.Succeeded(id), nil
}

func (s *Store[T]) DeleteWhere(ctx context.Context, predicate query.Predicate) (store.OperationResult, error) {
	clause, args, err := s.where(predicate)
	if err != nil {
		return store.OperationResult{}, err
	}
	count, err := s.repo.Count(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where(clause, args...)
	})
	if err != nil {
		return store.OperationResult{}, store.External(err, "bun count")
	}
	if count == 0 {
		return store.NothingDeleted(), nil
	}
	err = s.repo.DeleteWhere(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where(clause, args...)
	})
	if err != nil {
		return store.OperationResult{}, store.External(err, "bun delete where")
	}
	s.Logger().Debug("bun store deleted by predicate", "entity", s.desc.TypeName(), "count", count)
	return store.Succeeded(""), nil
}
