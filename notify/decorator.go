package notify

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-repository-pipeline/entity"
	"github.com/goliatone/go-repository-pipeline/metrics"
	"github.com/goliatone/go-repository-pipeline/query"
	"github.com/goliatone/go-repository-pipeline/store"
)

var _ store.Decorator[struct{ ID string }] = (*Notifier[struct{ ID string }])(nil)

const defaultConcurrency = 8

// Option customizes a Notifier.
type Option func(*options)

type options struct {
	recorder    metrics.Recorder
	concurrency int
	now         func() time.Time
}

// WithRecorder counts published events and publish failures.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) { o.recorder = metrics.OrNoop(r) }
}

// WithConcurrency bounds the existence checks an upsert batch runs at once.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Notifier publishes an event for every successful write of the inner
// repository. Publish failures are logged and never fail the write.
type Notifier[T any] struct {
	store.LoggerSlot

	base        store.Repository[T]
	pub         Publisher[T]
	desc        *entity.Descriptor[T]
	recorder    metrics.Recorder
	concurrency int
	now         func() time.Time
}

// New wraps base so writes are announced through pub.
func New[T any](base store.Repository[T], pub Publisher[T], opts ...Option) (*Notifier[T], error) {
	if base == nil {
		return nil, &store.ConfigError{Field: "inner", Message: "inner repository is required"}
	}
	if pub == nil {
		return nil, &store.ConfigError{Field: "publisher", Message: "publisher is required"}
	}
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}
	o := options{recorder: metrics.Noop{}, concurrency: defaultConcurrency, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Notifier[T]{
		base:        base,
		pub:         pub,
		desc:        desc,
		recorder:    o.recorder,
		concurrency: o.concurrency,
		now:         o.now,
	}, nil
}

// Inner returns the wrapped repository.
func (n *Notifier[T]) Inner() store.Repository[T] { return n.base }

func (n *Notifier[T]) GetByID(ctx context.Context, id string) (T, bool, error) {
	return n.base.GetByID(ctx, id)
}

func (n *Notifier[T]) GetAll(ctx context.Context) ([]T, error) {
	return n.base.GetAll(ctx)
}

func (n *Notifier[T]) Query(ctx context.Context, predicate query.Predicate) ([]T, error) {
	return n.base.Query(ctx, predicate)
}

func (n *Notifier[T]) FirstOrDefault(ctx context.Context, predicate query.Predicate) (T, bool, error) {
	return n.base.FirstOrDefault(ctx, predicate)
}

func (n *Notifier[T]) Save(ctx context.Context, record T, mode store.WriteMode) (store.OperationResult, error) {
	kind, err := n.kindFor(ctx, record, mode)
	if err != nil {
		return store.OperationResult{}, err
	}
	result, err := n.base.Save(ctx, record, mode)
	if err != nil {
		return result, err
	}
	n.afterWrite(ctx, record, kind, result)
	return result, nil
}

func (n *Notifier[T]) SaveMany(ctx context.Context, records []T, mode store.WriteMode) ([]store.OperationResult, error) {
	kinds := make([]Kind, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)
	for i, record := range records {
		g.Go(func() error {
			k, err := n.kindFor(gctx, record, mode)
			kinds[i] = k
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results, err := n.base.SaveMany(ctx, records, mode)
	if err != nil {
		return results, err
	}
	if len(results) != len(records) {
		n.Logger().Warn("result count differs from batch size, skipping events",
			"entity", n.desc.TypeName(), "records", len(records), "results", len(results))
		return results, nil
	}
	for i, result := range results {
		n.afterWrite(ctx, records[i], kinds[i], result)
	}
	return results, nil
}

func (n *Notifier[T]) Delete(ctx context.Context, id string) (store.OperationResult, error) {
	var (
		previous T
		found    bool
		err      error
	)
	if id != "" {
		previous, found, err = n.base.GetByID(ctx, id)
		if err != nil {
			return store.OperationResult{}, err
		}
	}
	result, err := n.base.Delete(ctx, id)
	if err != nil {
		return result, err
	}
	if result.Success && found {
		n.publish(ctx, Deleted, id, previous)
	}
	return result, nil
}

func (n *Notifier[T]) DeleteWhere(ctx context.Context, predicate query.Predicate) (store.OperationResult, error) {
	if err := store.CheckPredicate(predicate); err != nil {
		return store.OperationResult{}, err
	}
	captured, err := n.base.Query(ctx, predicate)
	if err != nil {
		return store.OperationResult{}, err
	}
	result, err := n.base.DeleteWhere(ctx, predicate)
	if err != nil {
		return result, err
	}
	if result.Success {
		for _, record := range captured {
			n.publish(ctx, Deleted, n.desc.GetID(record), record)
		}
	}
	return result, nil
}

// kindFor decides the event of a write before it happens. An upsert of an
// identifier the store already holds is an update; anything else creates.
func (n *Notifier[T]) kindFor(ctx context.Context, record T, mode store.WriteMode) (Kind, error) {
	switch mode {
	case store.Update:
		return Updated, nil
	case store.Upsert:
		id := n.desc.GetID(record)
		if id == "" {
			return Created, nil
		}
		_, found, err := n.base.GetByID(ctx, id)
		if err != nil {
			return "", err
		}
		if found {
			return Updated, nil
		}
	}
	return Created, nil
}

func (n *Notifier[T]) afterWrite(ctx context.Context, record T, kind Kind, result store.OperationResult) {
	if !result.Success || kind == "" {
		return
	}
	id := result.ID
	if id == "" {
		id = n.desc.GetID(record)
	} else if n.desc.GetID(record) == "" {
		if withID, err := n.desc.WithID(record, id); err == nil {
			record = withID
		}
	}
	n.publish(ctx, kind, id, record)
}

func (n *Notifier[T]) publish(ctx context.Context, kind Kind, id string, record T) {
	event := Event[T]{
		Kind:   kind,
		Type:   n.desc.TypeName(),
		ID:     id,
		Entity: record,
		At:     n.now(),
	}
	err := n.pub.Publish(ctx, event)
	n.recorder.Published(event.Type, string(kind), err)
	if err != nil {
		n.Logger().Warn("change event not published",
			"entity", event.Type, "id", id, "kind", kind, "error", err)
	}
}
