package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts engine activity. All sessions of a factory share one
// Metrics.
type Metrics struct {
	PlanCacheHits      prometheus.Counter
	PlanCacheMisses    prometheus.Counter
	StatementsExecuted *prometheus.CounterVec
	StatementsFailed   prometheus.Counter
	EntitiesLoaded     prometheus.Counter
	CollectionsLoaded  prometheus.Counter
	LazyLoads          *prometheus.CounterVec
	Warnings           prometheus.Counter
}

// NewMetrics creates the counters and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PlanCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oql", Subsystem: "plan_cache", Name: "hits_total",
			Help: "Compiled plan lookups served from the cache.",
		}),
		PlanCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oql", Subsystem: "plan_cache", Name: "misses_total",
			Help: "Compiled plan lookups that had to bind or compile.",
		}),
		StatementsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oql", Name: "statements_executed_total",
			Help: "Statements dispatched to the database, by kind.",
		}, []string{"kind"}),
		StatementsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oql", Name: "statements_failed_total",
			Help: "Statements that failed in any phase.",
		}),
		EntitiesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oql", Name: "entities_loaded_total",
			Help: "Entity instances materialized from rows.",
		}),
		CollectionsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oql", Name: "collections_loaded_total",
			Help: "Collections initialized by fetch joins or deferred loads.",
		}),
		LazyLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oql", Name: "lazy_loads_total",
			Help: "Deferred loads issued on first access, by target.",
		}, []string{"target"}),
		Warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oql", Name: "inconsistent_associations_total",
			Help: "Rows that kept a last known association value.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.PlanCacheHits, m.PlanCacheMisses, m.StatementsExecuted,
			m.StatementsFailed, m.EntitiesLoaded, m.CollectionsLoaded, m.LazyLoads, m.Warnings)
	}
	return m
}
