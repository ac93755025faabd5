package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector instance
var (
	globalCollector *Collector
	once            sync.Once
)

// Collector tracks scheduler-wide metrics in memory
type Collector struct {
	// Counters (atomic for thread-safety)
	ticksTotal      atomic.Int64
	totalDispatched atomic.Int64
	totalSucceeded  atomic.Int64
	totalFailed     atomic.Int64
	missedSkips     atomic.Int64
	expirations     atomic.Int64
	storeErrors     atomic.Int64

	// Derived state (protected by mutex)
	mu              sync.RWMutex
	totalDuration   time.Duration
	startTime       time.Time
	activeExecutors int64
	totalExecutors  int64
	runCount        int64
}

// Metrics represents a snapshot of current scheduler metrics
type Metrics struct {
	TicksTotal          int64         `json:"ticks_total"`
	TotalDispatched     int64         `json:"total_dispatched"`
	TotalRunsSucceeded  int64         `json:"total_runs_succeeded"`
	TotalRunsFailed     int64         `json:"total_runs_failed"`
	MissedSkips         int64         `json:"missed_skips"`
	Expirations         int64         `json:"expirations"`
	StoreErrors         int64         `json:"store_errors"`
	AvgRunDuration      time.Duration `json:"avg_run_duration"`
	ExecutorUtilization float64       `json:"executor_utilization"`
	RunErrorRate        float64       `json:"run_error_rate"`
	Uptime              time.Duration `json:"uptime"`
}

// Default returns the global metrics collector instance
func Default() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
	})
	return globalCollector
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
	}
}

// RecordTick counts one dispatch tick
func (c *Collector) RecordTick() {
	c.ticksTotal.Add(1)
}

// RecordDispatched counts a claimed schedule handed to the executor
func (c *Collector) RecordDispatched() {
	c.totalDispatched.Add(1)
}

// RecordMissedSkip counts a stale occurrence skipped by policy
func (c *Collector) RecordMissedSkip() {
	c.missedSkips.Add(1)
}

// RecordExpired counts a schedule transitioning to expired
func (c *Collector) RecordExpired() {
	c.expirations.Add(1)
}

// RecordStoreError counts a persistence failure during dispatch/execution
func (c *Collector) RecordStoreError() {
	c.storeErrors.Add(1)
}

// RecordRunSucceeded records a successful schedule run
func (c *Collector) RecordRunSucceeded(duration time.Duration) {
	c.totalSucceeded.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalDuration += duration
	c.runCount++
}

// RecordRunFailed records a failed schedule run
func (c *Collector) RecordRunFailed(duration time.Duration) {
	c.totalFailed.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalDuration += duration
	c.runCount++
}

// RecordExecutorActivity updates executor utilization
func (c *Collector) RecordExecutorActivity(active, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeExecutors = active
	c.totalExecutors = total
}

// GetMetrics returns a snapshot of current metrics
func (c *Collector) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var avgDuration time.Duration
	if c.runCount > 0 {
		avgDuration = c.totalDuration / time.Duration(c.runCount)
	}

	var utilization float64
	if c.totalExecutors > 0 {
		utilization = float64(c.activeExecutors) / float64(c.totalExecutors) * 100
	}

	var errorRate float64
	if c.runCount > 0 {
		errorRate = float64(c.totalFailed.Load()) / float64(c.runCount) * 100
	}

	return Metrics{
		TicksTotal:          c.ticksTotal.Load(),
		TotalDispatched:     c.totalDispatched.Load(),
		TotalRunsSucceeded:  c.totalSucceeded.Load(),
		TotalRunsFailed:     c.totalFailed.Load(),
		MissedSkips:         c.missedSkips.Load(),
		Expirations:         c.expirations.Load(),
		StoreErrors:         c.storeErrors.Load(),
		AvgRunDuration:      avgDuration,
		ExecutorUtilization: utilization,
		RunErrorRate:        errorRate,
		Uptime:              time.Since(c.startTime),
	}
}

// Reset clears all metrics (useful for testing)
func (c *Collector) Reset() {
	c.ticksTotal.Store(0)
	c.totalDispatched.Store(0)
	c.totalSucceeded.Store(0)
	c.totalFailed.Store(0)
	c.missedSkips.Store(0)
	c.expirations.Store(0)
	c.storeErrors.Store(0)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalDuration = 0
	c.startTime = time.Now()
	c.activeExecutors = 0
	c.totalExecutors = 0
	c.runCount = 0
}

// GetMetrics returns metrics from the global collector
func GetMetrics() Metrics {
	return Default().GetMetrics()
}

// ResetMetrics resets the global collector
func ResetMetrics() {
	Default().Reset()
}
