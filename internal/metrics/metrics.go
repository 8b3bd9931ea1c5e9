// internal/metrics/metrics.go
package metrics

import (
	"sync"
	"sync/atomic"
)

// Collector accumulates named counters. Counter increments take the fast
// path (read lock + atomic add) once a counter exists.
type Collector struct {
	counters map[string]*counter
	mu       sync.RWMutex
}

type counter struct {
	value int64
}

var (
	globalCollector *Collector
	collectorOnce   sync.Once
)

// Counter names used across the server.
const (
	SavesAuto        = "saves_auto"
	SavesManual      = "saves_manual"
	SavesAIAssisted  = "saves_ai_assisted"
	SavesFailed      = "saves_failed"
	SavesDropped     = "saves_dropped"
	AICalls          = "ai_calls"
	AIFallbacks      = "ai_fallbacks"
	SpeechRestarts   = "speech_restarts"
	SpeechErrors     = "speech_errors"
	EditorSessions   = "editor_sessions_opened"
	SearchQueries    = "search_queries"
	VersionsRestored = "versions_restored"
)

// Get returns the process-wide collector.
func Get() *Collector {
	collectorOnce.Do(func() {
		globalCollector = NewCollector()
	})
	return globalCollector
}

// NewCollector creates an empty collector. Tests use private instances.
func NewCollector() *Collector {
	return &Collector{
		counters: make(map[string]*counter),
	}
}

// Increment adds one to the named counter, creating it on first use.
func (c *Collector) Increment(name string) {
	c.mu.RLock()
	ctr, exists := c.counters[name]
	c.mu.RUnlock()

	if exists {
		atomic.AddInt64(&ctr.value, 1)
		return
	}

	c.mu.Lock()
	ctr, exists = c.counters[name]
	if !exists {
		ctr = &counter{}
		c.counters[name] = ctr
	}
	c.mu.Unlock()

	atomic.AddInt64(&ctr.value, 1)
}

// Value returns the current value of the named counter.
func (c *Collector) Value(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ctr, exists := c.counters[name]
	if !exists {
		return 0
	}
	return atomic.LoadInt64(&ctr.value)
}

// Snapshot returns a copy of all counter values.
func (c *Collector) Snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]int64, len(c.counters))
	for name, ctr := range c.counters {
		out[name] = atomic.LoadInt64(&ctr.value)
	}
	return out
}
