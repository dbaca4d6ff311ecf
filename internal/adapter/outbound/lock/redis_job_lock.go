// Package lock guards a job against concurrent runs with a Redis lease.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"embeddingjob/internal/application/common/slogger"
	"embeddingjob/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the lease length when none is configured.
const DefaultTTL = 2 * time.Minute

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`) //nolint:gochecknoglobals // compiled script

// refreshScript extends the lease only while it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`) //nolint:gochecknoglobals // compiled script

// Options holds the Redis connection and lease settings.
type Options struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisJobLock leases one key per job. A held lease is refreshed every third
// of its TTL until released.
type RedisJobLock struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisJobLock creates a lock over a Redis client. The client connects on
// first use; Probe reports whether Redis is reachable.
func NewRedisJobLock(opts Options) (*RedisJobLock, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{opts.Addr},
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	return newRedisJobLock(client, opts.KeyPrefix, opts.TTL), nil
}

func newRedisJobLock(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisJobLock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisJobLock{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the Redis key of a job lease.
func (l *RedisJobLock) Key(jobID uuid.UUID) string {
	return l.prefix + "job:" + jobID.String()
}

// Acquire takes the job lease or returns outbound.ErrJobLocked.
func (l *RedisJobLock) Acquire(ctx context.Context, jobID uuid.UUID) (func(context.Context) error, error) {
	token := uuid.NewString()
	key := l.Key(jobID)

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire job lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", outbound.ErrJobLocked, jobID)
	}

	refreshCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(refreshCtx, key, token)
	}()

	var once sync.Once
	release := func(releaseCtx context.Context) error {
		var releaseErr error
		once.Do(func() {
			stop()
			wg.Wait()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				releaseErr = fmt.Errorf("failed to release job lock: %w", err)
			}
		})
		return releaseErr
	}
	return release, nil
}

// Probe pings Redis.
func (l *RedisJobLock) Probe(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close closes the client.
func (l *RedisJobLock) Close() error {
	return l.client.Close()
}

func (l *RedisJobLock) keepAlive(ctx context.Context, key, token string) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slogger.Warn(ctx, "Failed to refresh job lock", slogger.Fields{"key": key, "error": err.Error()})
				continue
			}
			if held == 0 {
				slogger.Error(ctx, "Job lock lost", slogger.Fields{"key": key})
				return
			}
		}
	}
}
