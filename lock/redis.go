package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hairizuan-noorazman/spahost/logger"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	defaultTTL      = 30 * time.Second
	keyPrefix       = "spahost:lock:"

	minPoll = 10 * time.Millisecond
	maxPoll = 200 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a Locker shared by every process pointed at the same Redis.
// Held keys carry a TTL that is renewed while the holder is alive, so a
// crashed holder cannot wedge a slug forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewRedisLocker connects to Redis at url.
func NewRedisLocker(url string, ttl time.Duration, log logger.Logger) (*RedisLocker, error) {
	if url == "" {
		url = defaultRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{client: client, ttl: ttl, logger: log}, nil
}

// Close shuts down the Redis client.
func (r *RedisLocker) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Acquire implements Locker.
func (r *RedisLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Release, error) {
	redisKey := keyPrefix + key
	owner := uuid.NewString()
	deadline := time.Now().Add(timeout)
	poll := minPoll

	for {
		ok, err := r.client.SetNX(ctx, redisKey, owner, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire lock %q: %w", key, err)
		}
		if ok {
			return r.hold(redisKey, owner), nil
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, ErrLockTimeout
		}
		if poll < wait {
			wait = poll
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if poll *= 2; poll > maxPoll {
			poll = maxPoll
		}
	}
}

func (r *RedisLocker) hold(redisKey, owner string) Release {
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
				n, err := renewScript.Run(ctx, r.client, []string{redisKey}, owner, r.ttl.Milliseconds()).Int64()
				cancel()
				if err != nil || n == 0 {
					r.logger.Warn(context.Background(), "failed to renew lock", map[string]interface{}{
						"key":   redisKey,
						"error": fmt.Sprint(err),
					})
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{redisKey}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
				r.logger.Error(ctx, "failed to release lock", map[string]interface{}{
					"key":   redisKey,
					"error": err.Error(),
				})
			}
		})
	}
}
