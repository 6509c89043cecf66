package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector provides simple built-in metrics collection with no external dependencies
type Collector struct {
	sessionMetrics    *SessionMetrics
	operationCounters map[string]*int64
	mu                sync.RWMutex
	startTime         time.Time
}

// SessionMetrics tracks what the client did with the payloads it received
type SessionMetrics struct {
	// Session lifecycle
	Joins             int64 `json:"joins"`
	Resets            int64 `json:"resets"`
	ActiveSessions    int64 `json:"active_sessions"`
	MaxActiveSessions int64 `json:"max_active_sessions"`

	// Diff application
	DiffsApplied int64 `json:"diffs_applied"`
	DecodeErrors int64 `json:"decode_errors"`
	RenderErrors int64 `json:"render_errors"`
	PatchErrors  int64 `json:"patch_errors"`

	// Component table
	ComponentsDropped int64 `json:"components_dropped"`

	// Payload volume
	BytesReceived int64 `json:"bytes_received"`
	MarkupBytes   int64 `json:"markup_bytes"`

	// Uptime
	StartTime time.Time     `json:"start_time"`
	Uptime    time.Duration `json:"uptime"`
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		sessionMetrics: &SessionMetrics{
			StartTime: time.Now(),
		},
		operationCounters: make(map[string]*int64),
		startTime:         time.Now(),
	}
}

// IncrementJoin records a session seeded from a full payload
func (c *Collector) IncrementJoin(payloadBytes int) {
	atomic.AddInt64(&c.sessionMetrics.Joins, 1)
	atomic.AddInt64(&c.sessionMetrics.BytesReceived, int64(payloadBytes))
	active := atomic.AddInt64(&c.sessionMetrics.ActiveSessions, 1)

	for {
		max := atomic.LoadInt64(&c.sessionMetrics.MaxActiveSessions)
		if active <= max {
			break
		}
		if atomic.CompareAndSwapInt64(&c.sessionMetrics.MaxActiveSessions, max, active) {
			break
		}
	}
}

// IncrementReset records a session whose state was discarded
func (c *Collector) IncrementReset() {
	atomic.AddInt64(&c.sessionMetrics.Resets, 1)
	if atomic.AddInt64(&c.sessionMetrics.ActiveSessions, -1) < 0 {
		atomic.StoreInt64(&c.sessionMetrics.ActiveSessions, 0)
	}
}

// IncrementDiffApplied records a diff merged, rendered and patched
func (c *Collector) IncrementDiffApplied(payloadBytes int) {
	atomic.AddInt64(&c.sessionMetrics.DiffsApplied, 1)
	atomic.AddInt64(&c.sessionMetrics.BytesReceived, int64(payloadBytes))
}

// IncrementDecodeError records a payload rejected while decoding or merging
func (c *Collector) IncrementDecodeError() {
	atomic.AddInt64(&c.sessionMetrics.DecodeErrors, 1)
}

// IncrementRenderError records a merged tree that could not be rendered
func (c *Collector) IncrementRenderError() {
	atomic.AddInt64(&c.sessionMetrics.RenderErrors, 1)
}

// IncrementPatchError records a document patch failure
func (c *Collector) IncrementPatchError() {
	atomic.AddInt64(&c.sessionMetrics.PatchErrors, 1)
}

// AddComponentsDropped records component ids pruned from the table
func (c *Collector) AddComponentsDropped(n int) {
	atomic.AddInt64(&c.sessionMetrics.ComponentsDropped, int64(n))
}

// UpdateMarkupSize records the size of the last rendered markup
func (c *Collector) UpdateMarkupSize(n int) {
	atomic.StoreInt64(&c.sessionMetrics.MarkupBytes, int64(n))
}

// IncrementCustomCounter increments a custom named counter
func (c *Collector) IncrementCustomCounter(name string) {
	c.AddCustomCounter(name, 1)
}

// AddCustomCounter adds n to a custom named counter
func (c *Collector) AddCustomCounter(name string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if counter, exists := c.operationCounters[name]; exists {
		atomic.AddInt64(counter, n)
	} else {
		newCounter := n
		c.operationCounters[name] = &newCounter
	}
}

// GetMetrics returns current session metrics
func (c *Collector) GetMetrics() SessionMetrics {
	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	return SessionMetrics{
		Joins:             atomic.LoadInt64(&c.sessionMetrics.Joins),
		Resets:            atomic.LoadInt64(&c.sessionMetrics.Resets),
		ActiveSessions:    atomic.LoadInt64(&c.sessionMetrics.ActiveSessions),
		MaxActiveSessions: atomic.LoadInt64(&c.sessionMetrics.MaxActiveSessions),
		DiffsApplied:      atomic.LoadInt64(&c.sessionMetrics.DiffsApplied),
		DecodeErrors:      atomic.LoadInt64(&c.sessionMetrics.DecodeErrors),
		RenderErrors:      atomic.LoadInt64(&c.sessionMetrics.RenderErrors),
		PatchErrors:       atomic.LoadInt64(&c.sessionMetrics.PatchErrors),
		ComponentsDropped: atomic.LoadInt64(&c.sessionMetrics.ComponentsDropped),
		BytesReceived:     atomic.LoadInt64(&c.sessionMetrics.BytesReceived),
		MarkupBytes:       atomic.LoadInt64(&c.sessionMetrics.MarkupBytes),
		StartTime:         startTime,
		Uptime:            time.Since(startTime),
	}
}

// GetCustomCounters returns all custom counters
func (c *Collector) GetCustomCounters() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]int64)
	for name, counter := range c.operationCounters {
		result[name] = atomic.LoadInt64(counter)
	}
	return result
}

// GetErrorRate returns the percentage of payloads that failed to apply
func (c *Collector) GetErrorRate() float64 {
	applied := atomic.LoadInt64(&c.sessionMetrics.DiffsApplied) + atomic.LoadInt64(&c.sessionMetrics.Joins)
	failed := atomic.LoadInt64(&c.sessionMetrics.DecodeErrors) +
		atomic.LoadInt64(&c.sessionMetrics.RenderErrors) +
		atomic.LoadInt64(&c.sessionMetrics.PatchErrors)

	if applied+failed == 0 {
		return 0.0
	}

	return float64(failed) / float64(applied+failed) * 100.0
}
