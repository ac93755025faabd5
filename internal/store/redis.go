// Package store persists schedules in Redis with a time-ordered due index.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muaviaUsmani/metronome/internal/logger"
	"github.com/muaviaUsmani/metronome/internal/schedule"
)

var (
	// ErrNotFound is returned when a schedule does not exist or belongs
	// to a different owner
	ErrNotFound = errors.New("schedule not found")

	// ErrVersionConflict is returned when an optimistic update lost the
	// race against a concurrent write
	ErrVersionConflict = errors.New("schedule version conflict")
)

// Filter narrows a List call. Zero values match everything.
type Filter struct {
	Status schedule.Status
	Tag    string
}

// RedisStore is the durable schedule store. Each schedule is a JSON blob
// keyed by id, with a SET per owner and a ZSET due index scored by
// NextRunAt for active schedules only.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	// Pre-computed static keys
	dueSetKey string
}

// Connect parses a Redis URL, creates a client and verifies the connection
func Connect(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// NewRedisStore creates a schedule store on an existing Redis client
func NewRedisStore(client *redis.Client) *RedisStore {
	prefix := "metronome:"
	return &RedisStore{
		client:    client,
		keyPrefix: prefix,
		dueSetKey: prefix + "schedule:due",
	}
}

// Key generation helpers
func (s *RedisStore) scheduleKey(id string) string {
	var b strings.Builder
	b.Grow(len(s.keyPrefix) + 9 + len(id)) // "schedule:" = 9 chars
	b.WriteString(s.keyPrefix)
	b.WriteString("schedule:")
	b.WriteString(id)
	return b.String()
}

func (s *RedisStore) ownerKey(ownerID string) string {
	var b strings.Builder
	b.Grow(len(s.keyPrefix) + 6 + len(ownerID)) // "owner:" = 6 chars
	b.WriteString(s.keyPrefix)
	b.WriteString("owner:")
	b.WriteString(ownerID)
	return b.String()
}

// indexed reports whether the schedule belongs in the due index: active
// with a computed next run time. Paused and terminal schedules are never
// indexed, nor are claimed in-flight runs with no further occurrence.
func indexed(sc *schedule.Schedule) bool {
	return sc.Status == schedule.StatusActive && sc.NextRunAt != nil
}

// Create persists a new schedule and its index entries
func (s *RedisStore) Create(ctx context.Context, sc *schedule.Schedule) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.scheduleKey(sc.ID), data, 0)
	pipe.SAdd(ctx, s.ownerKey(sc.OwnerID), sc.ID)
	if indexed(sc) {
		pipe.ZAdd(ctx, s.dueSetKey, redis.Z{
			Score:  float64(sc.NextRunAt.Unix()),
			Member: sc.ID,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// Get retrieves a schedule by id, scoped to its owner. An owner mismatch
// is indistinguishable from a missing schedule.
func (s *RedisStore) Get(ctx context.Context, id, ownerID string) (*schedule.Schedule, error) {
	sc, err := s.getAny(ctx, id)
	if err != nil {
		return nil, err
	}
	if sc.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return sc, nil
}

// getAny retrieves a schedule without an owner check (internal use only)
func (s *RedisStore) getAny(ctx context.Context, id string) (*schedule.Schedule, error) {
	data, err := s.client.Get(ctx, s.scheduleKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	var sc schedule.Schedule
	if err := json.Unmarshal([]byte(data), &sc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}
	return &sc, nil
}

// List returns the owner's schedules matching the filter, oldest first
func (s *RedisStore) List(ctx context.Context, ownerID string, f Filter) ([]*schedule.Schedule, error) {
	ids, err := s.client.SMembers(ctx, s.ownerKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.scheduleKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch schedules: %w", err)
	}

	schedules := make([]*schedule.Schedule, 0, len(values))
	for i, v := range values {
		if v == nil {
			// Stale owner-index entry, clean it up
			s.client.SRem(ctx, s.ownerKey(ownerID), ids[i])
			continue
		}

		var sc schedule.Schedule
		if err := json.Unmarshal([]byte(v.(string)), &sc); err != nil {
			logger.Default().WithComponent(logger.ComponentStore).Warn(
				"Skipping undecodable schedule record", "schedule_id", ids[i], "error", err)
			continue
		}
		if f.Status != "" && sc.Status != f.Status {
			continue
		}
		if f.Tag != "" && !sc.HasTag(f.Tag) {
			continue
		}
		schedules = append(schedules, &sc)
	}

	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
	})
	return schedules, nil
}

// Update persists sc if the stored record still carries expectedVersion.
// On success the stored version is expectedVersion+1 and the due index
// reflects the new state. Uses WATCH so a concurrent writer (pause,
// cancel, another dispatcher) forces ErrVersionConflict instead of a
// silent overwrite.
func (s *RedisStore) Update(ctx context.Context, sc *schedule.Schedule, expectedVersion int64) error {
	key := s.scheduleKey(sc.ID)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read schedule for update: %w", err)
		}

		var current schedule.Schedule
		if err := json.Unmarshal([]byte(data), &current); err != nil {
			return fmt.Errorf("failed to unmarshal schedule: %w", err)
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}

		sc.Version = expectedVersion + 1
		updated, err := json.Marshal(sc)
		if err != nil {
			return fmt.Errorf("failed to marshal schedule: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			if indexed(sc) {
				pipe.ZAdd(ctx, s.dueSetKey, redis.Z{
					Score:  float64(sc.NextRunAt.Unix()),
					Member: sc.ID,
				})
			} else {
				pipe.ZRem(ctx, s.dueSetKey, sc.ID)
			}
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if err == redis.TxFailedErr {
		err = ErrVersionConflict
	}
	if err != nil {
		// Leave the caller's copy consistent with what is stored
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrNotFound) {
			sc.Version = expectedVersion
			return err
		}
		sc.Version = expectedVersion
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return nil
}

// Delete removes a schedule and all its index entries, scoped to its owner
func (s *RedisStore) Delete(ctx context.Context, id, ownerID string) error {
	sc, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.scheduleKey(id))
	pipe.SRem(ctx, s.ownerKey(sc.OwnerID), id)
	pipe.ZRem(ctx, s.dueSetKey, id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}

// QueryDue returns all active schedules due at or before now, ordered by
// NextRunAt ascending. The ZSET index keeps this a range scan rather than
// a full scan.
func (s *RedisStore) QueryDue(ctx context.Context, now time.Time) ([]*schedule.Schedule, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.dueSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	due := make([]*schedule.Schedule, 0, len(ids))
	for _, id := range ids {
		sc, err := s.getAny(ctx, id)
		if err == ErrNotFound {
			// Record gone but index entry remained, clean it up
			s.client.ZRem(ctx, s.dueSetKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		// The index should only hold active schedules; re-check anyway so
		// a paused schedule with a stale entry never executes
		if !indexed(sc) {
			s.client.ZRem(ctx, s.dueSetKey, id)
			continue
		}
		due = append(due, sc)
	}
	return due, nil
}

// Close closes the underlying Redis connection
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	return nil
}
