package rule

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rule_cache_hits_total",
		Help: "Compiled CEL programs served from cache.",
	})
	cacheMiss = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rule_cache_miss_total",
		Help: "CEL expressions compiled on demand.",
	})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMiss)
}

// ProgramCache holds compiled CEL programs keyed by expression text.
// thread-safe + singleflight
type ProgramCache struct {
	mu    sync.RWMutex
	items map[string]*CompiledExpression
	group singleflight.Group
}

func NewProgramCache() *ProgramCache {
	return &ProgramCache{
		items: make(map[string]*CompiledExpression),
	}
}

func (c *ProgramCache) Get(expr string) (*CompiledExpression, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[expr]
	return v, ok
}

func (c *ProgramCache) Set(expr string, v *CompiledExpression) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[expr] = v
}

func (c *ProgramCache) Invalidate(expr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, expr)
}

func (c *ProgramCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// GetOrCompile returns the cached program or compiles it once, even when
// several goroutines ask for the same expression at the same time. Compile
// failures are not cached.
func (c *ProgramCache) GetOrCompile(expr string) (*CompiledExpression, error) {
	if v, ok := c.Get(expr); ok {
		cacheHits.Inc()
		return v, nil
	}
	cacheMiss.Inc()

	v, err, _ := c.group.Do(expr, func() (any, error) {
		if v, ok := c.Get(expr); ok {
			return v, nil
		}
		compiled, err := compileExpression(expr)
		if err != nil {
			return nil, err
		}
		c.Set(expr, compiled)
		return compiled, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CompiledExpression), nil
}
