// Package engine implements the schedule CRUD and lifecycle API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/muaviaUsmani/metronome/internal/cronexpr"
	"github.com/muaviaUsmani/metronome/internal/logger"
	"github.com/muaviaUsmani/metronome/internal/schedule"
	"github.com/muaviaUsmani/metronome/internal/store"
)

// conflictRetries bounds re-read-and-reapply attempts after a lost
// optimistic update
const conflictRetries = 3

// Store defines the persistence operations the engine needs
type Store interface {
	Create(ctx context.Context, sc *schedule.Schedule) error
	Get(ctx context.Context, id, ownerID string) (*schedule.Schedule, error)
	List(ctx context.Context, ownerID string, f store.Filter) ([]*schedule.Schedule, error)
	Update(ctx context.Context, sc *schedule.Schedule, expectedVersion int64) error
	Delete(ctx context.Context, id, ownerID string) error
}

// Engine validates, persists and transitions schedules. It is constructed
// once by the composition root and shared by the tool-facing API, the
// dispatcher and the executor.
type Engine struct {
	store Store
	eval  *cronexpr.Evaluator
	log   logger.Logger
	now   func() time.Time
}

// New creates a scheduling engine
func New(st Store, eval *cronexpr.Evaluator) *Engine {
	return &Engine{
		store: st,
		eval:  eval,
		log:   logger.Default().WithComponent(logger.ComponentEngine),
		now:   time.Now,
	}
}

// CreateRequest carries the fields of a new schedule
type CreateRequest struct {
	OwnerID         string
	Target          schedule.Target
	AgentRef        string
	Name            string
	Description     string
	Instruction     string
	CronExpression  string
	RunAt           *time.Time
	Tags            []string
	MaxRuns         int
	ExpiresAt       *time.Time
	MissedRunPolicy schedule.MissedRunPolicy
}

// Create validates the request, computes the first due time and persists
// the schedule in the active state. Validation failures are returned as
// *schedule.ValidationError and nothing is persisted.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*schedule.Schedule, error) {
	sc := schedule.New(req.OwnerID, req.Target, req.AgentRef, req.Name, req.Instruction)
	sc.Description = req.Description
	sc.CronExpression = req.CronExpression
	sc.RunAt = req.RunAt
	sc.Tags = req.Tags
	sc.MaxRuns = req.MaxRuns
	sc.ExpiresAt = req.ExpiresAt
	if req.MissedRunPolicy != "" {
		sc.MissedRunPolicy = req.MissedRunPolicy
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}

	if sc.OneShot() {
		runAt := *sc.RunAt
		sc.NextRunAt = &runAt
	} else {
		if !e.eval.Validate(sc.CronExpression) {
			return nil, &schedule.ValidationError{
				Field:   "cron",
				Message: fmt.Sprintf("invalid cron expression %q", sc.CronExpression),
			}
		}
		next, err := e.eval.NextOccurrence(sc.CronExpression, e.now())
		if err != nil {
			return nil, &schedule.ValidationError{Field: "cron", Message: err.Error()}
		}
		sc.NextRunAt = &next
	}

	if sc.ExpiresAt != nil && sc.NextRunAt.After(*sc.ExpiresAt) {
		return nil, &schedule.ValidationError{
			Field:   "expires_at",
			Message: "cutoff precedes the first occurrence; the schedule would never fire",
		}
	}

	if err := e.store.Create(ctx, sc); err != nil {
		return nil, err
	}

	e.log.Info("Schedule created",
		"schedule_id", sc.ID,
		"owner_id", sc.OwnerID,
		"one_shot", sc.OneShot(),
		"next_run_at", sc.NextRunAt.Format(time.RFC3339))
	return sc, nil
}

// List returns summaries of the owner's schedules, optionally filtered by
// status and tag
func (e *Engine) List(ctx context.Context, ownerID string, status schedule.Status, tag string) ([]*schedule.Summary, error) {
	schedules, err := e.store.List(ctx, ownerID, store.Filter{Status: status, Tag: tag})
	if err != nil {
		return nil, err
	}

	summaries := make([]*schedule.Summary, 0, len(schedules))
	for _, sc := range schedules {
		summaries = append(summaries, sc.Summary())
	}
	return summaries, nil
}

// Get returns the full schedule record, scoped to its owner
func (e *Engine) Get(ctx context.Context, ownerID, id string) (*schedule.Schedule, error) {
	return e.store.Get(ctx, id, ownerID)
}

// SetPaused suspends or resumes a schedule. Terminal schedules cannot be
// modified. Resuming a cron schedule whose due time passed while paused
// recomputes the next occurrence from now instead of firing an immediate
// catch-up run.
func (e *Engine) SetPaused(ctx context.Context, ownerID, id string, paused bool) (*schedule.Schedule, error) {
	return e.mutate(ctx, ownerID, id, func(sc *schedule.Schedule) error {
		if sc.Status.Terminal() {
			return fmt.Errorf("schedule %s is %s and cannot be modified", sc.ID, sc.Status)
		}

		if paused {
			sc.Status = schedule.StatusPaused
			return nil
		}

		sc.Status = schedule.StatusActive
		now := e.now()
		if !sc.OneShot() && sc.NextRunAt != nil && sc.NextRunAt.Before(now) {
			next, err := e.eval.NextOccurrence(sc.CronExpression, now)
			if err != nil {
				return err
			}
			sc.NextRunAt = &next
		}
		return nil
	})
}

// Cancel removes a schedule. Returns false when the id is unknown; a
// missing schedule is not an error so the operation stays idempotent.
func (e *Engine) Cancel(ctx context.Context, ownerID, id string) (bool, error) {
	err := e.store.Delete(ctx, id, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	e.log.Info("Schedule cancelled", "schedule_id", id, "owner_id", ownerID)
	return true, nil
}

// RecordRunSuccess applies post-run state after a successful execution:
// the run counter increments, the error note clears, and the schedule
// either completes (one-shot, MaxRuns reached), expires (next occurrence
// past the cutoff) or stays active with a recomputed NextRunAt.
func (e *Engine) RecordRunSuccess(ctx context.Context, ownerID, id string, finishedAt time.Time) (*schedule.Schedule, error) {
	return e.mutate(ctx, ownerID, id, func(sc *schedule.Schedule) error {
		sc.RunCount++
		t := finishedAt
		sc.LastRunAt = &t
		sc.LastError = ""

		if sc.OneShot() || (sc.MaxRuns > 0 && sc.RunCount >= sc.MaxRuns) {
			sc.Status = schedule.StatusCompleted
			sc.NextRunAt = nil
			return nil
		}

		next, err := e.eval.NextOccurrence(sc.CronExpression, finishedAt)
		if err != nil {
			// Persisted cron no longer parses; retire defensively rather
			// than leaving the record in limbo
			sc.Status = schedule.StatusFailed
			sc.NextRunAt = nil
			sc.LastError = err.Error()
			return nil
		}
		if sc.ExpiresAt != nil && next.After(*sc.ExpiresAt) {
			sc.Status = schedule.StatusExpired
			sc.NextRunAt = nil
			return nil
		}
		sc.NextRunAt = &next
		return nil
	})
}

// RecordRunFailure notes a failed execution. The schedule keeps its next
// naturally claimed occurrence; a single failure is never fatal. A failed
// one-shot consumed its only occurrence and completes with the error kept.
func (e *Engine) RecordRunFailure(ctx context.Context, ownerID, id string, finishedAt time.Time, runErr error) (*schedule.Schedule, error) {
	return e.mutate(ctx, ownerID, id, func(sc *schedule.Schedule) error {
		t := finishedAt
		sc.LastRunAt = &t
		sc.LastError = runErr.Error()

		if sc.OneShot() {
			sc.Status = schedule.StatusCompleted
			sc.NextRunAt = nil
		}
		return nil
	})
}

// mutate re-reads the schedule, applies fn and writes it back, retrying a
// bounded number of times when a concurrent writer wins the version race
func (e *Engine) mutate(ctx context.Context, ownerID, id string, fn func(*schedule.Schedule) error) (*schedule.Schedule, error) {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		sc, err := e.store.Get(ctx, id, ownerID)
		if err != nil {
			return nil, err
		}

		if err := fn(sc); err != nil {
			return nil, err
		}

		sc.Touch()
		err = e.store.Update(ctx, sc, sc.Version)
		if errors.Is(err, store.ErrVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		return sc, nil
	}
	return nil, fmt.Errorf("schedule %s kept changing concurrently: %w", id, lastErr)
}
