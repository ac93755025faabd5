package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/metronome/internal/schedule"
)

// RedisBackend implements Backend on Redis. The latest outcome per
// schedule lives in a hash with a status-dependent TTL; storing publishes
// "ready" on the per-schedule channel (for synchronous waiters) and the
// outcome JSON on the per-target notify channel (for the chat transport).
type RedisBackend struct {
	client     *redis.Client
	successTTL time.Duration
	failureTTL time.Duration
}

// NewRedisBackend creates a Redis-backed outcome store
func NewRedisBackend(client *redis.Client, successTTL, failureTTL time.Duration) *RedisBackend {
	return &RedisBackend{
		client:     client,
		successTTL: successTTL,
		failureTTL: failureTTL,
	}
}

func outcomeKey(scheduleID string) string {
	return "metronome:outcome:" + scheduleID
}

func readyChannel(scheduleID string) string {
	return "metronome:outcome:ready:" + scheduleID
}

func notifyChannel(chatID string) string {
	return "metronome:notify:" + chatID
}

// StoreOutcome persists the outcome and publishes notifications
func (r *RedisBackend) StoreOutcome(ctx context.Context, o *Outcome) error {
	key := outcomeKey(o.ScheduleID)

	data := map[string]interface{}{
		"owner_id":     o.OwnerID,
		"chat_id":      o.Target.ChatID,
		"status":       string(o.Status),
		"completed_at": o.CompletedAt.Format(time.RFC3339),
		"duration_ms":  o.Duration.Milliseconds(),
	}
	if o.Target.ThreadID != "" {
		data["thread_id"] = o.Target.ThreadID
	}
	if o.Succeeded() && len(o.Output) > 0 {
		data["output"] = string(o.Output)
	}
	if !o.Succeeded() && o.Error != "" {
		data["error"] = o.Error
	}

	ttl := r.successTTL
	if !o.Succeeded() {
		ttl = r.failureTTL
	}

	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, ttl)
	pipe.Publish(ctx, readyChannel(o.ScheduleID), "ready")
	pipe.Publish(ctx, notifyChannel(o.Target.ChatID), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store outcome: %w", err)
	}
	return nil
}

// GetOutcome retrieves the latest outcome for a schedule
func (r *RedisBackend) GetOutcome(ctx context.Context, scheduleID string) (*Outcome, error) {
	data, err := r.client.HGetAll(ctx, outcomeKey(scheduleID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	o := &Outcome{ScheduleID: scheduleID}

	if ownerID, exists := data["owner_id"]; exists {
		o.OwnerID = ownerID
	}
	o.Target = schedule.Target{
		ChatID:   data["chat_id"],
		ThreadID: data["thread_id"],
	}
	if status, exists := data["status"]; exists {
		o.Status = RunStatus(status)
	}
	if completedAt, exists := data["completed_at"]; exists {
		t, err := time.Parse(time.RFC3339, completedAt)
		if err == nil {
			o.CompletedAt = t
		}
	}
	if durationMs, exists := data["duration_ms"]; exists {
		ms, err := strconv.ParseInt(durationMs, 10, 64)
		if err == nil {
			o.Duration = time.Duration(ms) * time.Millisecond
		}
	}
	if output, exists := data["output"]; exists {
		o.Output = json.RawMessage(output)
	}
	if errMsg, exists := data["error"]; exists {
		o.Error = errMsg
	}

	return o, nil
}

// WaitForOutcome blocks until an outcome is available or the timeout is
// reached, using pub/sub on the per-schedule ready channel
func (r *RedisBackend) WaitForOutcome(ctx context.Context, scheduleID string, timeout time.Duration) (*Outcome, error) {
	// The outcome may already be stored
	o, err := r.GetOutcome(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if o != nil {
		return o, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pubsub := r.client.Subscribe(waitCtx, readyChannel(scheduleID))
	defer pubsub.Close()

	select {
	case <-waitCtx.Done():
		// One final check in case the notification raced the subscribe
		return r.GetOutcome(ctx, scheduleID)

	case msg := <-pubsub.Channel():
		if msg != nil && msg.Payload == "ready" {
			return r.GetOutcome(ctx, scheduleID)
		}
	}

	return nil, nil
}

// DeleteOutcome removes a stored outcome
func (r *RedisBackend) DeleteOutcome(ctx context.Context, scheduleID string) error {
	if err := r.client.Del(ctx, outcomeKey(scheduleID)).Err(); err != nil {
		return fmt.Errorf("failed to delete outcome: %w", err)
	}
	return nil
}

// Close closes the Redis client connection
func (r *RedisBackend) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
