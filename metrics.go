package gem

import "github.com/prometheus/client_golang/prometheus"

// =====================================
// Metrics
// =====================================

// Metrics counts identity map and load activity per entity subtype.
// A nil *Metrics records nothing.
type Metrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	loads     *prometheus.CounterVec
	deadLoads *prometheus.CounterVec
	saves     *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gem",
			Name:      name,
			Help:      help,
		}, []string{"entity"})
	}
	m := &Metrics{
		hits:      counter("identity_map_hits_total", "Lookups answered by the identity map."),
		misses:    counter("identity_map_misses_total", "Lookups that created a ghost."),
		loads:     counter("loads_total", "Ghosts filled from the data source."),
		deadLoads: counter("dead_loads_total", "Loads that found no record."),
		saves:     counter("saves_total", "Entities written to the data source."),
	}
	for _, c := range []prometheus.Collector{m.hits, m.misses, m.loads, m.deadLoads, m.saves} {
		if err := reg.Register(c); err != nil {
			return nil, NewErrorWithCause(ErrorTypeInternal, "failed to register metrics", err)
		}
	}
	return m, nil
}

func (m *Metrics) hit(entity string) {
	if m != nil {
		m.hits.WithLabelValues(entity).Inc()
	}
}

func (m *Metrics) miss(entity string) {
	if m != nil {
		m.misses.WithLabelValues(entity).Inc()
	}
}

func (m *Metrics) loaded(entity string) {
	if m != nil {
		m.loads.WithLabelValues(entity).Inc()
	}
}

func (m *Metrics) dead(entity string) {
	if m != nil {
		m.deadLoads.WithLabelValues(entity).Inc()
	}
}

func (m *Metrics) saved(entity string) {
	if m != nil {
		m.saves.WithLabelValues(entity).Inc()
	}
}
