package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector()

	c.RecordTick()
	c.RecordTick()
	c.RecordDispatched()
	c.RecordMissedSkip()
	c.RecordExpired()
	c.RecordStoreError()

	m := c.GetMetrics()
	if m.TicksTotal != 2 {
		t.Errorf("expected 2 ticks, got %d", m.TicksTotal)
	}
	if m.TotalDispatched != 1 || m.MissedSkips != 1 || m.Expirations != 1 || m.StoreErrors != 1 {
		t.Errorf("unexpected counters: %+v", m)
	}
}

func TestCollector_RunStats(t *testing.T) {
	c := NewCollector()

	c.RecordRunSucceeded(2 * time.Second)
	c.RecordRunSucceeded(4 * time.Second)
	c.RecordRunFailed(3 * time.Second)

	m := c.GetMetrics()
	if m.TotalRunsSucceeded != 2 || m.TotalRunsFailed != 1 {
		t.Errorf("unexpected run counts: %d/%d", m.TotalRunsSucceeded, m.TotalRunsFailed)
	}
	if m.AvgRunDuration != 3*time.Second {
		t.Errorf("expected avg 3s, got %v", m.AvgRunDuration)
	}
	if m.RunErrorRate < 33.0 || m.RunErrorRate > 34.0 {
		t.Errorf("expected ~33%% error rate, got %f", m.RunErrorRate)
	}
}

func TestCollector_ExecutorUtilization(t *testing.T) {
	c := NewCollector()

	c.RecordExecutorActivity(2, 4)
	if m := c.GetMetrics(); m.ExecutorUtilization != 50.0 {
		t.Errorf("expected 50%% utilization, got %f", m.ExecutorUtilization)
	}

	c.RecordExecutorActivity(0, 4)
	if m := c.GetMetrics(); m.ExecutorUtilization != 0.0 {
		t.Errorf("expected 0%% utilization, got %f", m.ExecutorUtilization)
	}
}

func TestCollector_Reset(t *testing.T) {
	c := NewCollector()

	c.RecordTick()
	c.RecordDispatched()
	c.RecordRunSucceeded(time.Second)
	c.Reset()

	m := c.GetMetrics()
	if m.TicksTotal != 0 || m.TotalDispatched != 0 || m.TotalRunsSucceeded != 0 {
		t.Errorf("expected zeroed counters after reset: %+v", m)
	}
	if m.AvgRunDuration != 0 {
		t.Errorf("expected zero avg duration, got %v", m.AvgRunDuration)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordTick()
				c.RecordDispatched()
				c.RecordRunSucceeded(time.Millisecond)
				c.GetMetrics()
			}
		}()
	}
	wg.Wait()

	m := c.GetMetrics()
	if m.TicksTotal != 1000 || m.TotalDispatched != 1000 || m.TotalRunsSucceeded != 1000 {
		t.Errorf("lost updates under concurrency: %+v", m)
	}
}

func TestDefault_Singleton(t *testing.T) {
	if Default() != Default() {
		t.Error("expected the same collector instance")
	}
}
