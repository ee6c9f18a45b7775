// Package metrics records cache and notification outcomes of the repository
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome classifies a cache lookup.
type Outcome string

const (
	Hit          Outcome = "hit"
	Miss         Outcome = "miss"
	KnownAbsent  Outcome = "known_absent"
	Unanswerable Outcome = "unanswerable"
	Stale        Outcome = "stale"
	Bypass       Outcome = "bypass"
)

// Cache layers.
const (
	LayerIdentity = "identity"
	LayerIndex    = "index"
)

// Recorder receives pipeline measurements. Implementations must be safe for
// concurrent use.
type Recorder interface {
	CacheLookup(layer, entity string, outcome Outcome)
	Published(entity, kind string, err error)
}

// Noop discards everything.
type Noop struct{}

func (Noop) CacheLookup(string, string, Outcome) {}
func (Noop) Published(string, string, error)     {}

// Prometheus exports counters through a prometheus registerer.
type Prometheus struct {
	lookups   *prometheus.CounterVec
	published *prometheus.CounterVec
}

// NewPrometheus registers the pipeline counters under namespace on reg. A nil
// reg uses prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Prometheus{
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repository_cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by layer, entity and outcome.",
		}, []string{"layer", "entity", "outcome"}),
		published: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repository_events",
			Name:      "published_total",
			Help:      "Change events by entity, kind and status.",
		}, []string{"entity", "kind", "status"}),
	}
}

func (p *Prometheus) CacheLookup(layer, entity string, outcome Outcome) {
	p.lookups.WithLabelValues(layer, entity, string(outcome)).Inc()
}

func (p *Prometheus) Published(entity, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.published.WithLabelValues(entity, kind, status).Inc()
}

// Lookups exposes the lookup counter for collection in tests and dashboards.
func (p *Prometheus) Lookups() *prometheus.CounterVec { return p.lookups }

// PublishedEvents exposes the publish counter.
func (p *Prometheus) PublishedEvents() *prometheus.CounterVec { return p.published }

// OrNoop returns r, or Noop when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}
	return r
}
