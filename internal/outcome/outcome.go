// Package outcome stores and delivers per-run results so the external
// notification transport can pick them up.
package outcome

import (
	"context"
	"encoding/json"
	"time"

	"github.com/muaviaUsmani/metronome/internal/schedule"
)

// RunStatus is the terminal state of a single execution
type RunStatus string

const (
	// RunSucceeded indicates the agent runner reported success
	RunSucceeded RunStatus = "succeeded"
	// RunFailed indicates the agent runner reported an error
	RunFailed RunStatus = "failed"
)

// Outcome is the result of one schedule execution
type Outcome struct {
	// ScheduleID is the schedule the run belonged to
	ScheduleID string `json:"schedule_id"`
	// OwnerID scopes the outcome to the schedule's owner
	OwnerID string `json:"owner_id"`
	// Target is where the result should be delivered
	Target schedule.Target `json:"target"`
	// Status is the run's terminal state
	Status RunStatus `json:"status"`
	// Output is the agent runner's response (only for successful runs)
	Output json.RawMessage `json:"output,omitempty"`
	// Error is the failure message (only for failed runs)
	Error string `json:"error,omitempty"`
	// CompletedAt is when the run finished
	CompletedAt time.Time `json:"completed_at"`
	// Duration is how long the run took
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the run completed successfully
func (o *Outcome) Succeeded() bool {
	return o.Status == RunSucceeded
}

// Backend stores run outcomes and notifies waiters
type Backend interface {
	// StoreOutcome persists the latest outcome for a schedule and
	// publishes it to the schedule's ready channel and the target's
	// notify channel
	StoreOutcome(ctx context.Context, o *Outcome) error

	// GetOutcome retrieves the latest outcome for a schedule.
	// Returns nil when none exists (never run, or expired).
	GetOutcome(ctx context.Context, scheduleID string) (*Outcome, error)

	// WaitForOutcome blocks until an outcome is available or the timeout
	// is reached. Returns nil and no error on timeout.
	WaitForOutcome(ctx context.Context, scheduleID string, timeout time.Duration) (*Outcome, error)

	// DeleteOutcome removes a stored outcome. Missing outcomes are not
	// an error.
	DeleteOutcome(ctx context.Context, scheduleID string) error

	// Close releases backend resources
	Close() error
}
