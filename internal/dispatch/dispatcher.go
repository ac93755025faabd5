// Package dispatch detects due schedules and hands them to the executor.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/metronome/internal/cronexpr"
	"github.com/muaviaUsmani/metronome/internal/logger"
	"github.com/muaviaUsmani/metronome/internal/metrics"
	"github.com/muaviaUsmani/metronome/internal/schedule"
	"github.com/muaviaUsmani/metronome/internal/store"
)

// Store defines the persistence operations the dispatcher needs
type Store interface {
	QueryDue(ctx context.Context, now time.Time) ([]*schedule.Schedule, error)
	Update(ctx context.Context, sc *schedule.Schedule, expectedVersion int64) error
}

// Dispatcher runs the fixed-interval tick loop. Each tick queries the due
// set, applies the missed-run policy, claims schedules selected for
// execution and enqueues them onto the executions channel. It is the sole
// producer and closes the channel on shutdown.
//
// The design assumes one active dispatcher process-wide. The per-tick
// Redis lock below only reduces duplicate work from an accidental second
// instance; it is not leader election, and running multiple dispatchers
// against one store remains a known limitation.
type Dispatcher struct {
	store      Store
	eval       *cronexpr.Evaluator
	client     *redis.Client
	executions chan *schedule.Schedule
	interval   time.Duration
	lockTTL    time.Duration
	log        logger.Logger
	now        func() time.Time
}

// NewDispatcher creates a dispatcher ticking at the given interval
func NewDispatcher(st Store, eval *cronexpr.Evaluator, client *redis.Client, interval time.Duration, buffer int) *Dispatcher {
	return &Dispatcher{
		store:      st,
		eval:       eval,
		client:     client,
		executions: make(chan *schedule.Schedule, buffer),
		interval:   interval,
		lockTTL:    60 * time.Second, // Default: 60s lock TTL
		log:        logger.Default().WithComponent(logger.ComponentDispatcher),
		now:        time.Now,
	}
}

// SetLockTTL sets the tick lock TTL (for testing or tuning)
func (d *Dispatcher) SetLockTTL(ttl time.Duration) {
	d.lockTTL = ttl
}

// Executions returns the channel the executor consumes
func (d *Dispatcher) Executions() <-chan *schedule.Schedule {
	return d.executions
}

// Start runs the tick loop until the context is cancelled, then closes
// the executions channel so the executor can drain and exit
func (d *Dispatcher) Start(ctx context.Context) {
	d.log.Info("Dispatcher started", "interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("Dispatcher stopping")
			close(d.executions)
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick runs one due-detection pass. A store failure aborts the pass; the
// next tick retries.
func (d *Dispatcher) tick(ctx context.Context) {
	now := d.now()
	metrics.Default().RecordTick()

	lock, err := AcquireLock(ctx, d.client, d.keyPrefixedLockKey(), d.lockTTL)
	if err != nil {
		d.log.Error("Failed to acquire tick lock", "error", err)
		metrics.Default().RecordStoreError()
		return
	}
	if lock == nil {
		d.log.Debug("Tick already held by another dispatcher instance")
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			d.log.Error("Failed to release tick lock", "error", err)
		}
	}()

	due, err := d.store.QueryDue(ctx, now)
	if err != nil {
		d.log.Error("Due query failed, aborting tick", "error", err)
		metrics.Default().RecordStoreError()
		return
	}

	// A pass over many due schedules can outlive the lock TTL; extend it
	// at the halfway point so the lock never lapses mid-pass
	extendAt := now.Add(d.lockTTL / 2)
	for _, sc := range due {
		if d.now().After(extendAt) {
			if err := lock.Extend(ctx, d.lockTTL); err != nil {
				d.log.Warn("Tick lock lost mid-pass, aborting tick", "error", err)
				return
			}
			extendAt = d.now().Add(d.lockTTL / 2)
		}
		d.dispatch(ctx, sc, now)
	}
}

func (d *Dispatcher) keyPrefixedLockKey() string {
	return "metronome:dispatch:lock"
}

// dispatch decides the disposition of one due schedule
func (d *Dispatcher) dispatch(ctx context.Context, sc *schedule.Schedule, now time.Time) {
	if sc.Status != schedule.StatusActive || sc.NextRunAt == nil {
		return
	}

	// A persisted schedule with an unparsable cron would wedge every
	// tick; retire it instead of letting the loop fight it forever
	if !sc.OneShot() && !d.eval.Validate(sc.CronExpression) {
		d.markFailed(ctx, sc, "unparsable cron expression: "+sc.CronExpression)
		return
	}

	// Overdue by more than one tick interval means the occurrence was not
	// caught on the first possible tick: downtime or delay
	missed := now.Sub(*sc.NextRunAt) > d.interval

	if missed && sc.MissedRunPolicy == schedule.MissedSkipToNext {
		d.skipStaleOccurrence(ctx, sc, now)
		return
	}

	if !d.claim(ctx, sc, now) {
		return
	}

	metrics.Default().RecordDispatched()
	d.log.Info("Schedule dispatched",
		"schedule_id", sc.ID,
		"owner_id", sc.OwnerID,
		"missed", missed,
		"policy", sc.MissedRunPolicy)

	select {
	case d.executions <- sc:
	case <-ctx.Done():
	}
}

// skipStaleOccurrence applies skip_to_next to an occurrence discovered
// more than one tick late: the stale occurrence is not executed. A cron
// schedule is moved to its next occurrence after now; a one-shot has no
// next occurrence and expires.
func (d *Dispatcher) skipStaleOccurrence(ctx context.Context, sc *schedule.Schedule, now time.Time) {
	if sc.OneShot() {
		sc.Status = schedule.StatusExpired
		sc.NextRunAt = nil
	} else {
		next, err := d.eval.NextOccurrence(sc.CronExpression, now)
		if err != nil {
			d.markFailed(ctx, sc, err.Error())
			return
		}
		if sc.ExpiresAt != nil && next.After(*sc.ExpiresAt) {
			sc.Status = schedule.StatusExpired
			sc.NextRunAt = nil
		} else {
			sc.NextRunAt = &next
		}
	}

	sc.Touch()
	if err := d.store.Update(ctx, sc, sc.Version); err != nil {
		if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrNotFound) {
			// Someone mutated it between the due query and here; their
			// write wins
			return
		}
		d.log.Error("Failed to skip stale occurrence", "schedule_id", sc.ID, "error", err)
		metrics.Default().RecordStoreError()
		return
	}

	metrics.Default().RecordMissedSkip()
	d.log.Info("Skipped stale occurrence",
		"schedule_id", sc.ID,
		"status", sc.Status,
		"next_run_at", formatNextRun(sc))
	if sc.Status == schedule.StatusExpired {
		metrics.Default().RecordExpired()
	}
}

// claim atomically takes the due occurrence before handoff: NextRunAt is
// advanced strictly past now (or cleared when no further occurrence is
// schedulable), so an overlapping or retried tick cannot dispatch the
// same occurrence twice. The optimistic update doubles as the status
// re-check: a pause or cancel between the due query and here bumps the
// version and the claim loses.
func (d *Dispatcher) claim(ctx context.Context, sc *schedule.Schedule, now time.Time) bool {
	if sc.OneShot() {
		sc.NextRunAt = nil
	} else {
		next, err := d.eval.NextOccurrence(sc.CronExpression, now)
		if err != nil {
			d.markFailed(ctx, sc, err.Error())
			return false
		}
		if sc.ExpiresAt != nil && next.After(*sc.ExpiresAt) {
			// Execute the current occurrence; the executor's write-back
			// will expire the schedule
			sc.NextRunAt = nil
		} else {
			sc.NextRunAt = &next
		}
	}

	sc.Touch()
	err := d.store.Update(ctx, sc, sc.Version)
	if err == nil {
		return true
	}
	if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrNotFound) {
		d.log.Debug("Claim lost to a concurrent write", "schedule_id", sc.ID)
		return false
	}

	d.log.Error("Failed to claim schedule", "schedule_id", sc.ID, "error", err)
	metrics.Default().RecordStoreError()
	return false
}

// markFailed defensively retires a schedule that can no longer be
// evaluated, keeping the dispatcher loop alive
func (d *Dispatcher) markFailed(ctx context.Context, sc *schedule.Schedule, reason string) {
	sc.Status = schedule.StatusFailed
	sc.LastError = reason
	sc.NextRunAt = nil
	sc.Touch()

	if err := d.store.Update(ctx, sc, sc.Version); err != nil {
		if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrNotFound) {
			return
		}
		d.log.Error("Failed to mark schedule failed", "schedule_id", sc.ID, "error", err)
		metrics.Default().RecordStoreError()
		return
	}

	d.log.Warn("Schedule retired as failed", "schedule_id", sc.ID, "reason", reason)
}

func formatNextRun(sc *schedule.Schedule) string {
	if sc.NextRunAt == nil {
		return "none"
	}
	return sc.NextRunAt.Format(time.RFC3339)
}
