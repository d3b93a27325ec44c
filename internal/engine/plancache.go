package engine

import (
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/oql/internal/ir"
	"github.com/roach88/oql/internal/queryir"
	"github.com/roach88/oql/internal/querysql"
)

// planCache holds bound statements and compiled plans shared by every
// session of a factory. Entries are immutable once published. Concurrent
// misses for one key compile once; the others wait for that result.
type planCache struct {
	statements *lru.Cache[uint64, cached[queryir.Statement]]
	plans      *lru.Cache[uint64, cached[*querysql.Plan]]
	flight     singleflight.Group
	metrics    *Metrics
	logger     *slog.Logger
}

// cached keeps the full descriptor next to the value so that a fingerprint
// collision reads as a miss.
type cached[T any] struct {
	desc  string
	value T
}

// newPlanCache creates a cache holding up to size entries of each kind. A
// size of zero disables caching.
func newPlanCache(size int, metrics *Metrics, logger *slog.Logger) (*planCache, error) {
	c := &planCache{metrics: metrics, logger: logger}
	if size <= 0 {
		return c, nil
	}
	var err error
	if c.statements, err = lru.New[uint64, cached[queryir.Statement]](size); err != nil {
		return nil, err
	}
	if c.plans, err = lru.New[uint64, cached[*querysql.Plan]](size); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *planCache) statement(text string, bind func() (queryir.Statement, error)) (queryir.Statement, error) {
	return lookup(c, c.statements, ir.DomainStatement, []string{text}, bind)
}

func (c *planCache) plan(parts []string, compile func() (*querysql.Plan, error)) (*querysql.Plan, error) {
	return lookup(c, c.plans, ir.DomainPlan, parts, compile)
}

// Len returns the number of cached plans.
func (c *planCache) Len() int {
	if c.plans == nil {
		return 0
	}
	return c.plans.Len()
}

func lookup[T any](c *planCache, cache *lru.Cache[uint64, cached[T]], domain string, parts []string, build func() (T, error)) (T, error) {
	if cache == nil {
		return build()
	}
	h := ir.Fingerprint(domain, parts...)
	desc := norm.NFC.String(domain + "\x00" + strings.Join(parts, "\x00"))
	if e, ok := cache.Get(h); ok && e.desc == desc {
		c.metrics.PlanCacheHits.Inc()
		return e.value, nil
	}
	c.metrics.PlanCacheMisses.Inc()
	c.logger.Debug("plan cache miss", "domain", domain, "key", parts[0])

	v, err, _ := c.flight.Do(desc, func() (any, error) {
		if e, ok := cache.Get(h); ok && e.desc == desc {
			return e.value, nil
		}
		v, err := build()
		if err != nil {
			return nil, err
		}
		cache.Add(h, cached[T]{desc: desc, value: v})
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
