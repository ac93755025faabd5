package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TickLock is a best-effort Redis lock held across one dispatch tick.
// It keeps an accidentally started second dispatcher from double-claiming
// the same tick; it is not leader election.
type TickLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// AcquireLock attempts to take the tick lock.
// Returns nil (and no error) when another instance already holds it.
func AcquireLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*TickLock, error) {
	token := uuid.New().String()

	acquired, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return nil, nil
	}

	return &TickLock{
		client: client,
		key:    key,
		token:  token,
		ttl:    ttl,
	}, nil
}

// Release releases the lock, but only if this instance still owns it.
// The Lua script makes the check-and-delete atomic.
func (l *TickLock) Release(ctx context.Context) error {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	_, err := l.client.Eval(ctx, script, []string{l.key}, l.token).Result()
	return err
}

// Extend pushes the lock TTL out for a long tick.
// Returns an error if ownership was lost in the meantime.
func (l *TickLock) Extend(ctx context.Context, ttl time.Duration) error {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`

	result, err := l.client.Eval(ctx, script, []string{l.key}, l.token, ttl.Milliseconds()).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("lock no longer owned by this instance")
	}

	l.ttl = ttl
	return nil
}

// Key returns the Redis key for this lock
func (l *TickLock) Key() string {
	return l.key
}

// Token returns the lock token
func (l *TickLock) Token() string {
	return l.token
}

// TTL returns the lock time-to-live
func (l *TickLock) TTL() time.Duration {
	return l.ttl
}
