package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-repository-pipeline/backends/badgerstore"
	"github.com/goliatone/go-repository-pipeline/backends/memory"
	"github.com/goliatone/go-repository-pipeline/mapping"
	"github.com/goliatone/go-repository-pipeline/notify"
	"github.com/goliatone/go-repository-pipeline/pipeline"
	"github.com/goliatone/go-repository-pipeline/pkg/di"
	"github.com/goliatone/go-repository-pipeline/query"
	"github.com/goliatone/go-repository-pipeline/store"
)

// Product is what the demo's callers see.
type Product struct {
	ID         string
	SKU        string
	Title      string
	Category   string
	PriceCents int
}

// productRecord is what the store keeps. Title is stored as Name.
type productRecord struct {
	ID         string
	SKU        string `repo:"index"`
	Name       string
	Category   string
	PriceCents int
}

type runOptions struct {
	backend    string
	badgerPath string
	count      int
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Write, read, query and delete products through the full pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(logLevel)
			return runDemo(cmd.Context(), cmd.OutOrStdout(), logger, cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.backend, "backend", "memory", "backing store: memory or badger")
	cmd.Flags().StringVar(&opts.badgerPath, "badger-path", "", "badger data directory; empty keeps badger in memory")
	cmd.Flags().IntVar(&opts.count, "count", 10, "products to create")
	return cmd
}

// summary is what a run did, as counted by the demo.
type summary struct {
	Created  int
	Events   map[notify.Kind]int
	Remained int
	Lookups  map[string]float64
}

func runDemo(ctx context.Context, out io.Writer, logger *slog.Logger, cfg di.Config, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sum, err := demo(ctx, logger, cfg, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created:   %d\n", sum.Created)
	fmt.Fprintf(out, "remaining: %d\n", sum.Remained)
	fmt.Fprintf(out, "events:    created=%d updated=%d deleted=%d\n",
		sum.Events[notify.Created], sum.Events[notify.Updated], sum.Events[notify.Deleted])
	keys := make([]string, 0, len(sum.Lookups))
	for k := range sum.Lookups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "lookups:   %s %.0f\n", k, sum.Lookups[k])
	}
	return nil
}

func demo(ctx context.Context, logger *slog.Logger, cfg di.Config, opts runOptions) (summary, error) {
	sum := summary{Events: map[notify.Kind]int{}}
	if opts.count < 2 {
		return sum, &store.ConfigError{Field: "count", Message: "at least two products are needed"}
	}

	container, err := di.NewContainer(cfg, di.WithLogger(logger))
	if err != nil {
		return sum, err
	}
	defer container.Close()

	base, closeBase, err := openBase(logger, opts)
	if err != nil {
		return sum, err
	}
	defer closeBase()

	b, err := di.NewPipeline(container, base)
	if err != nil {
		return sum, err
	}
	var created, updated, deleted atomic.Int64
	if !container.Notifies() {
		b.WithNotification(notify.PublisherFunc[productRecord](func(_ context.Context, ev notify.Event[productRecord]) error {
			switch ev.Kind {
			case notify.Created:
				created.Add(1)
			case notify.Updated:
				updated.Add(1)
			case notify.Deleted:
				deleted.Add(1)
			}
			logger.Debug("entity changed", "kind", ev.Kind, "id", ev.ID)
			return nil
		}), notify.WithRecorder(container.Recorder()))
	}
	repo, err := pipeline.Mapped[Product](b, mapping.WithFieldRename("Title", "Name"))
	if err != nil {
		return sum, err
	}

	products := make([]Product, opts.count)
	for i := range products {
		category := "tools"
		if i%2 == 1 {
			category = "garden"
		}
		products[i] = Product{
			SKU:        fmt.Sprintf("SKU-%04d", i),
			Title:      fmt.Sprintf("Product %d", i),
			Category:   category,
			PriceCents: 100 * (i + 1),
		}
	}
	results, err := repo.SaveMany(ctx, products, store.Insert)
	if err != nil {
		return sum, err
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.Success {
			ids = append(ids, r.ID)
		}
	}
	sum.Created = len(ids)

	for range 2 {
		for _, id := range ids {
			if _, _, err := repo.GetByID(ctx, id); err != nil {
				return sum, err
			}
		}
		for i := range products {
			if _, _, err := repo.FirstOrDefault(ctx, query.Eq("SKU", products[i].SKU)); err != nil {
				return sum, err
			}
		}
	}
	if _, _, err := repo.FirstOrDefault(ctx, query.Eq("SKU", "SKU-missing")); err != nil {
		return sum, err
	}

	first, found, err := repo.GetByID(ctx, ids[0])
	if err != nil {
		return sum, err
	}
	if found {
		first.Title = strings.ToUpper(first.Title)
		if _, err := repo.Save(ctx, first, store.Update); err != nil {
			return sum, err
		}
	}
	if _, err := repo.Delete(ctx, ids[1]); err != nil {
		return sum, err
	}
	if _, err := repo.DeleteWhere(ctx, query.Eq("Category", "garden")); err != nil {
		return sum, err
	}

	remaining, err := repo.GetAll(ctx)
	if err != nil {
		return sum, err
	}
	sum.Remained = len(remaining)
	sum.Events[notify.Created] = int(created.Load())
	sum.Events[notify.Updated] = int(updated.Load())
	sum.Events[notify.Deleted] = int(deleted.Load())
	sum.Lookups = lookups(container)
	return sum, nil
}

func openBase(logger *slog.Logger, opts runOptions) (store.Repository[productRecord], func(), error) {
	switch opts.backend {
	case "memory":
		s, err := memory.New[productRecord]()
		return s, func() {}, err
	case "badger":
		bcfg := badgerstore.InMemoryConfig()
		if opts.badgerPath != "" {
			bcfg = badgerstore.DefaultConfig(opts.badgerPath)
		}
		bcfg.Logger = logger
		db, err := badgerstore.Open(bcfg)
		if err != nil {
			return nil, nil, err
		}
		s, err := badgerstore.New[productRecord](db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, func() {
			_ = s.Close()
			_ = db.Close()
		}, nil
	}
	return nil, nil, &store.ConfigError{Field: "backend", Message: "must be memory or badger"}
}

// lookups flattens the lookup counter into "layer/outcome" totals.
func lookups(c *di.Container) map[string]float64 {
	out := map[string]float64{}
	reg := c.Registry()
	if reg == nil {
		return out
	}
	families, err := reg.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		if !strings.HasSuffix(mf.GetName(), "lookups_total") {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			out[labels["layer"]+"/"+labels["outcome"]] += m.GetCounter().GetValue()
		}
	}
	return out
}
