package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Only the token that took the lock may extend or drop it.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// ErrLockLost is returned by Refresh when the lock expired or changed hands
var ErrLockLost = errors.New("run lock lost")

// Locker guards a project against two concurrent pipeline runs. The lock
// value is the token of the run that owns it (the asynq task id).
type Locker struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewLocker(redisClient *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Locker{redis: redisClient, ttl: ttl}
}

func lockKey(projectID string) string {
	return fmt.Sprintf("pipeline:lock:%s", projectID)
}

// Acquire takes the run lock for token. It returns false if another run
// holds it.
func (l *Locker) Acquire(ctx context.Context, projectID, token string) (bool, error) {
	ok, err := l.redis.SetNX(ctx, lockKey(projectID), token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return ok, nil
}

// Refresh extends the lock while a long run is still working
func (l *Locker) Refresh(ctx context.Context, projectID, token string) error {
	n, err := refreshScript.Run(ctx, l.redis, []string{lockKey(projectID)}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to refresh run lock: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// Release drops the lock if token still owns it
func (l *Locker) Release(ctx context.Context, projectID, token string) error {
	return releaseScript.Run(ctx, l.redis, []string{lockKey(projectID)}, token).Err()
}

// Owner returns the token holding the lock, or "" when it is free
func (l *Locker) Owner(ctx context.Context, projectID string) (string, error) {
	token, err := l.redis.Get(ctx, lockKey(projectID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// Held reports whether a run currently owns the project
func (l *Locker) Held(ctx context.Context, projectID string) (bool, error) {
	token, err := l.Owner(ctx, projectID)
	return token != "", err
}

// TTL is the lifetime given to a fresh or refreshed lock
func (l *Locker) TTL() time.Duration {
	return l.ttl
}
