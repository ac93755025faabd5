package tools

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/muaviaUsmani/metronome/internal/engine"
	"github.com/muaviaUsmani/metronome/internal/schedule"
	"github.com/muaviaUsmani/metronome/internal/store"
)

// isNotFound matches the store's not-found sentinel through any wrapping
func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// Tool names bound by RegisterAll
const (
	ToolScheduleTask   = "schedule_task"
	ToolListSchedules  = "list_schedules"
	ToolPauseSchedule  = "pause_schedule"
	ToolCancelSchedule = "cancel_schedule"
)

// Result status strings used in tool responses
const (
	statusCreated  = "created"
	statusDeleted  = "deleted"
	statusNotFound = "not_found"
)

// Engine is the scheduling surface the tool handlers adapt
type Engine interface {
	Create(ctx context.Context, req engine.CreateRequest) (*schedule.Schedule, error)
	List(ctx context.Context, ownerID string, status schedule.Status, tag string) ([]*schedule.Summary, error)
	Get(ctx context.Context, ownerID, id string) (*schedule.Schedule, error)
	SetPaused(ctx context.Context, ownerID, id string, paused bool) (*schedule.Schedule, error)
	Cancel(ctx context.Context, ownerID, id string) (bool, error)
}

// API exposes the scheduling engine as tool handlers
type API struct {
	engine Engine
}

// NewAPI creates the tool-facing adapter over an engine
func NewAPI(eng Engine) *API {
	return &API{engine: eng}
}

// RegisterAll binds every tool handler into the registry
func (a *API) RegisterAll(r *Registry) {
	r.Register(ToolScheduleTask, decode(a.ScheduleTask))
	r.Register(ToolListSchedules, decode(a.ListSchedules))
	r.Register(ToolPauseSchedule, decode(a.PauseSchedule))
	r.Register(ToolCancelSchedule, decode(a.CancelSchedule))
}

// decode wraps a typed handler with JSON argument decoding
func decode[Req any, Resp any](fn func(ctx context.Context, req *Req) (*Resp, error)) Handler {
	return func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var req Req
		if len(args) > 0 {
			if err := json.Unmarshal(args, &req); err != nil {
				return nil, &schedule.ValidationError{Field: "arguments", Message: err.Error()}
			}
		}
		return fn(ctx, &req)
	}
}

// TargetPayload is the wire shape of a notification target
type TargetPayload struct {
	ChatID   string `json:"chatId"`
	ThreadID string `json:"threadId,omitempty"`
}

// ScheduleTaskRequest is the schedule_task argument payload
type ScheduleTaskRequest struct {
	OwnerID      string        `json:"ownerId"`
	Target       TargetPayload `json:"target"`
	AgentRef     string        `json:"agentRef,omitempty"`
	Name         string        `json:"name,omitempty"`
	Description  string        `json:"description,omitempty"`
	Instruction  string        `json:"instruction"`
	Cron         string        `json:"cron,omitempty"`
	RunAt        *time.Time    `json:"runAt,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	MaxRuns      int           `json:"maxRuns,omitempty"`
	ExpiresAt    *time.Time    `json:"expiresAt,omitempty"`
	MissedPolicy string        `json:"missedPolicy,omitempty"`
}

// ScheduleTaskResponse confirms a created schedule
type ScheduleTaskResponse struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
}

// ScheduleTask creates a schedule. Validation failures (bad cron, both or
// neither timing field, missing target) come back as
// *schedule.ValidationError and nothing is persisted.
func (a *API) ScheduleTask(ctx context.Context, req *ScheduleTaskRequest) (*ScheduleTaskResponse, error) {
	sc, err := a.engine.Create(ctx, engine.CreateRequest{
		OwnerID:         req.OwnerID,
		Target:          schedule.Target{ChatID: req.Target.ChatID, ThreadID: req.Target.ThreadID},
		AgentRef:        req.AgentRef,
		Name:            req.Name,
		Description:     req.Description,
		Instruction:     req.Instruction,
		CronExpression:  req.Cron,
		RunAt:           req.RunAt,
		Tags:            req.Tags,
		MaxRuns:         req.MaxRuns,
		ExpiresAt:       req.ExpiresAt,
		MissedRunPolicy: schedule.MissedRunPolicy(req.MissedPolicy),
	})
	if err != nil {
		return nil, err
	}

	return &ScheduleTaskResponse{
		ID:        sc.ID,
		Status:    statusCreated,
		NextRunAt: sc.NextRunAt,
	}, nil
}

// ListSchedulesRequest is the list_schedules argument payload
type ListSchedulesRequest struct {
	OwnerID string `json:"ownerId"`
	Status  string `json:"status,omitempty"`
	Tag     string `json:"tag,omitempty"`
}

// SummaryPayload is the wire shape of one listed schedule
type SummaryPayload struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name,omitempty"`
	InstructionPreview string        `json:"instructionPreview"`
	CronExpression     string        `json:"cronExpression,omitempty"`
	RunAt              *time.Time    `json:"runAt,omitempty"`
	NextRunAt          *time.Time    `json:"nextRunAt,omitempty"`
	Target             TargetPayload `json:"target"`
}

// ListSchedulesResponse is the list_schedules result payload
type ListSchedulesResponse struct {
	Count     int              `json:"count"`
	Schedules []SummaryPayload `json:"schedules"`
}

// ListSchedules lists the owner's schedules with optional status and tag
// filters
func (a *API) ListSchedules(ctx context.Context, req *ListSchedulesRequest) (*ListSchedulesResponse, error) {
	status := schedule.Status(req.Status)
	if req.Status != "" && !status.Valid() {
		return nil, &schedule.ValidationError{Field: "status", Message: "unknown status " + req.Status}
	}

	summaries, err := a.engine.List(ctx, req.OwnerID, status, req.Tag)
	if err != nil {
		return nil, err
	}

	payload := make([]SummaryPayload, 0, len(summaries))
	for _, s := range summaries {
		payload = append(payload, SummaryPayload{
			ID:                 s.ID,
			Name:               s.Name,
			InstructionPreview: s.InstructionPreview,
			CronExpression:     s.CronExpression,
			RunAt:              s.RunAt,
			NextRunAt:          s.NextRunAt,
			Target:             TargetPayload{ChatID: s.Target.ChatID, ThreadID: s.Target.ThreadID},
		})
	}

	return &ListSchedulesResponse{
		Count:     len(payload),
		Schedules: payload,
	}, nil
}

// PauseScheduleRequest is the pause_schedule argument payload
type PauseScheduleRequest struct {
	OwnerID string `json:"ownerId"`
	TaskID  string `json:"taskId"`
	Paused  bool   `json:"paused"`
}

// PauseScheduleResponse is the pause_schedule result payload
type PauseScheduleResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// PauseSchedule suspends or resumes a schedule. An unknown id comes back
// as a structured not_found result, not an error.
func (a *API) PauseSchedule(ctx context.Context, req *PauseScheduleRequest) (*PauseScheduleResponse, error) {
	sc, err := a.engine.SetPaused(ctx, req.OwnerID, req.TaskID, req.Paused)
	if isNotFound(err) {
		return &PauseScheduleResponse{ID: req.TaskID, Status: statusNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	return &PauseScheduleResponse{ID: sc.ID, Status: string(sc.Status)}, nil
}

// CancelScheduleRequest is the cancel_schedule argument payload
type CancelScheduleRequest struct {
	OwnerID string `json:"ownerId"`
	TaskID  string `json:"taskId"`
}

// CancelScheduleResponse is the cancel_schedule result payload
type CancelScheduleResponse struct {
	Status string `json:"status"`
	TaskID string `json:"taskId"`
}

// CancelSchedule removes a schedule. Cancelling a missing id is not an
// error; the response reports not_found.
func (a *API) CancelSchedule(ctx context.Context, req *CancelScheduleRequest) (*CancelScheduleResponse, error) {
	deleted, err := a.engine.Cancel(ctx, req.OwnerID, req.TaskID)
	if err != nil {
		return nil, err
	}

	status := statusDeleted
	if !deleted {
		status = statusNotFound
	}
	return &CancelScheduleResponse{Status: status, TaskID: req.TaskID}, nil
}
