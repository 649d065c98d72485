package fts

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts how matches filters and their rank consumers behave. A nil *Metrics
// records nothing.
type Metrics struct {
	bindings   prometheus.Counter
	lookups    *prometheus.CounterVec
	unresolved prometheus.Counter
	empty      prometheus.Counter
}

// Consumer labels of the lookup counter.
const (
	consumerField = "field"
	consumerOrder = "order"
)

// NewMetrics creates the counters and registers them on reg. Counters already
// registered on reg are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		bindings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fulltext",
			Name:      "matches_bindings_total",
			Help:      "Total number of matches predicates built",
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fulltext",
			Name:      "rank_cache_lookups_total",
			Help:      "Rank cache lookups by consumer and result",
		}, []string{"consumer", "result"}), // "field" / "order", "hit" / "miss"
		unresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fulltext",
			Name:      "unresolved_scope_total",
			Help:      "Total number of matches predicates built outside any query scope",
		}),
		empty: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fulltext",
			Name:      "sanitized_empty_total",
			Help:      "Total number of search strings that reduced to no terms",
		}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	m.bindings, err = register(reg, m.bindings)
	if err != nil {
		return nil, err
	}
	m.lookups, err = register(reg, m.lookups)
	if err != nil {
		return nil, err
	}
	m.unresolved, err = register(reg, m.unresolved)
	if err != nil {
		return nil, err
	}
	m.empty, err = register(reg, m.empty)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) binding() {
	if m != nil {
		m.bindings.Inc()
	}
}

func (m *Metrics) lookup(consumer string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(consumer, result).Inc()
}

func (m *Metrics) unresolvedScope() {
	if m != nil {
		m.unresolved.Inc()
	}
}

func (m *Metrics) emptyQuery() {
	if m != nil {
		m.empty.Inc()
	}
}
