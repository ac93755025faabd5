package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a schedule
type Status string

const (
	// StatusActive indicates the schedule is live and eligible for dispatch
	StatusActive Status = "active"
	// StatusPaused indicates the schedule is suspended by its owner
	StatusPaused Status = "paused"
	// StatusCompleted indicates the schedule finished all its runs
	StatusCompleted Status = "completed"
	// StatusFailed indicates the schedule was defensively retired (e.g. an
	// unparsable persisted cron expression); never set by a run error
	StatusFailed Status = "failed"
	// StatusExpired indicates the schedule passed its cutoff without a next occurrence
	StatusExpired Status = "expired"
	// StatusCancelled indicates the schedule was removed by its owner
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status can never transition back to active
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether the status is a known value
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// MissedRunPolicy governs what happens when a due occurrence is discovered late
type MissedRunPolicy string

const (
	// MissedSkipToNext skips a stale occurrence and reschedules from now
	MissedSkipToNext MissedRunPolicy = "skip_to_next"
	// MissedRunImmediately always executes the overdue occurrence once
	MissedRunImmediately MissedRunPolicy = "run_immediately"
	// MissedRunOnceIfMissed executes at most one catch-up run per detected gap
	MissedRunOnceIfMissed MissedRunPolicy = "run_once_if_missed"
)

// Valid reports whether the policy is a known value
func (p MissedRunPolicy) Valid() bool {
	switch p {
	case MissedSkipToNext, MissedRunImmediately, MissedRunOnceIfMissed:
		return true
	}
	return false
}

// Target is the notification destination for a schedule's run results
type Target struct {
	// ChatID identifies the chat/channel the result is delivered to
	ChatID string `json:"chat_id"`
	// ThreadID optionally pins delivery to a thread within the chat
	ThreadID string `json:"thread_id,omitempty"`
}

// Schedule represents a registered task that runs unattended on a cron
// expression or at a single future point in time.
type Schedule struct {
	// ID is the unique identifier, assigned at creation, immutable
	ID string `json:"id"`
	// OwnerID scopes the schedule to a user/principal; every read and
	// write elsewhere filters by it
	OwnerID string `json:"owner_id"`
	// Target is where run results are delivered
	Target Target `json:"target"`
	// AgentRef identifies which agent/instruction-set runs the task
	AgentRef string `json:"agent_ref,omitempty"`
	// Instruction is the prompt/command text to execute
	Instruction string `json:"instruction"`
	// Name is a short human-readable label
	Name string `json:"name,omitempty"`
	// Description is an optional longer label
	Description string `json:"description,omitempty"`
	// CronExpression is the recurring timing (standard 5-field cron).
	// Exactly one of CronExpression and RunAt is set.
	CronExpression string `json:"cron_expression,omitempty"`
	// RunAt is the one-shot timing
	RunAt *time.Time `json:"run_at,omitempty"`
	// NextRunAt is the computed due time; nil while a claimed run is in
	// flight with no further occurrence scheduled yet
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	// Status is the current lifecycle state
	Status Status `json:"status"`
	// Tags are free-form labels for filtering
	Tags []string `json:"tags,omitempty"`
	// MaxRuns optionally caps total successful executions (0 = unlimited)
	MaxRuns int `json:"max_runs,omitempty"`
	// RunCount counts successful executions
	RunCount int `json:"run_count"`
	// ExpiresAt is an optional absolute cutoff after which the schedule
	// may no longer fire
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// MissedRunPolicy governs overdue occurrences discovered late
	MissedRunPolicy MissedRunPolicy `json:"missed_run_policy"`
	// CreatedAt is when the schedule was created
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the schedule was last written
	UpdatedAt time.Time `json:"updated_at"`
	// LastRunAt is when the schedule last finished a run
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	// LastError holds the most recent execution error, cleared on success
	LastError string `json:"last_error,omitempty"`
	// Version is the optimistic-concurrency counter bumped on every update
	Version int64 `json:"version"`
}

// New creates a schedule in the active state with defaults applied.
// Timing (CronExpression or RunAt) is set by the caller before Validate.
func New(ownerID string, target Target, agentRef, name, instruction string) *Schedule {
	now := time.Now().UTC()

	return &Schedule{
		ID:              uuid.New().String(),
		OwnerID:         ownerID,
		Target:          target,
		AgentRef:        agentRef,
		Name:            name,
		Instruction:     instruction,
		Status:          StatusActive,
		MissedRunPolicy: MissedSkipToNext,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// OneShot reports whether the schedule fires at most once
func (s *Schedule) OneShot() bool {
	return s.RunAt != nil
}

// HasTag reports whether the schedule carries the given tag
func (s *Schedule) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Touch updates the UpdatedAt timestamp
func (s *Schedule) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// Validate checks the structural invariants of a schedule. Cron syntax is
// validated separately by the evaluator; this only enforces shape.
func (s *Schedule) Validate() error {
	if s.OwnerID == "" {
		return &ValidationError{Field: "owner_id", Message: "owner id is required"}
	}
	if s.Target.ChatID == "" {
		return &ValidationError{Field: "target", Message: "target chat id is required"}
	}
	if s.Instruction == "" {
		return &ValidationError{Field: "instruction", Message: "instruction is required"}
	}
	if s.CronExpression != "" && s.RunAt != nil {
		return &ValidationError{Field: "timing", Message: "cron and run_at are mutually exclusive"}
	}
	if s.CronExpression == "" && s.RunAt == nil {
		return &ValidationError{Field: "timing", Message: "one of cron or run_at is required"}
	}
	if s.MaxRuns < 0 {
		return &ValidationError{Field: "max_runs", Message: "max_runs cannot be negative"}
	}
	if !s.MissedRunPolicy.Valid() {
		return &ValidationError{Field: "missed_run_policy", Message: fmt.Sprintf("unknown policy %q", s.MissedRunPolicy)}
	}
	return nil
}

// ValidationError describes a rejected schedule field. It is returned
// synchronously at creation and never persisted.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
