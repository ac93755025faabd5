// Package client provides a simple embedding API over the scheduling
// engine for the host agent process.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/muaviaUsmani/metronome/internal/cronexpr"
	"github.com/muaviaUsmani/metronome/internal/engine"
	"github.com/muaviaUsmani/metronome/internal/outcome"
	"github.com/muaviaUsmani/metronome/internal/schedule"
	"github.com/muaviaUsmani/metronome/internal/store"
)

// Client wraps the store and engine for callers that embed the scheduler
// rather than talk to it over a protocol layer
type Client struct {
	store    *store.RedisStore
	engine   *engine.Engine
	outcomes outcome.Backend
	ctx      context.Context
}

// NewClient creates a scheduling client connected to Redis
func NewClient(redisURL string) (*Client, error) {
	redisClient, err := store.Connect(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := store.NewRedisStore(redisClient)
	return &Client{
		store:    st,
		engine:   engine.New(st, cronexpr.NewEvaluator()),
		outcomes: outcome.NewRedisBackend(redisClient, time.Hour, 24*time.Hour),
		ctx:      context.Background(),
	}, nil
}

// CreateSchedule registers a new schedule and returns its full record
func (c *Client) CreateSchedule(req engine.CreateRequest) (*schedule.Schedule, error) {
	return c.engine.Create(c.ctx, req)
}

// ListSchedules returns summaries of the owner's schedules, optionally
// filtered by status and tag
func (c *Client) ListSchedules(ownerID string, status schedule.Status, tag string) ([]*schedule.Summary, error) {
	return c.engine.List(c.ctx, ownerID, status, tag)
}

// GetSchedule returns the full schedule record
func (c *Client) GetSchedule(ownerID, id string) (*schedule.Schedule, error) {
	return c.engine.Get(c.ctx, ownerID, id)
}

// SetPaused suspends or resumes a schedule
func (c *Client) SetPaused(ownerID, id string, paused bool) (*schedule.Schedule, error) {
	return c.engine.SetPaused(c.ctx, ownerID, id, paused)
}

// CancelSchedule removes a schedule. Returns false when the id is
// unknown; cancellation is idempotent.
func (c *Client) CancelSchedule(ownerID, id string) (bool, error) {
	return c.engine.Cancel(c.ctx, ownerID, id)
}

// LastOutcome returns the latest stored run outcome for a schedule, or
// nil when none exists
func (c *Client) LastOutcome(scheduleID string) (*outcome.Outcome, error) {
	return c.outcomes.GetOutcome(c.ctx, scheduleID)
}

// WaitForOutcome blocks until the schedule's next outcome is stored or
// the timeout elapses
func (c *Client) WaitForOutcome(scheduleID string, timeout time.Duration) (*outcome.Outcome, error) {
	return c.outcomes.WaitForOutcome(c.ctx, scheduleID, timeout)
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}
