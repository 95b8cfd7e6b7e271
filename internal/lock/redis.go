package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisOptions tunes the Redis lock.
type RedisOptions struct {
	// Prefix is prepended to every lock key.
	Prefix string
	// TTL bounds how long a crashed holder keeps the lock. A live holder
	// extends it every TTL/3.
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
	// Wait bounds the total acquisition time.
	Wait time.Duration
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.Prefix == "" {
		o.Prefix = "samplecore:lock:"
	}
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 50 * time.Millisecond
	}
	if o.Wait <= 0 {
		o.Wait = 10 * time.Second
	}
	return o
}

// Redis is a cross-process Locker backed by SET NX PX with token-checked release.
type Redis struct {
	client redis.UniversalClient
	opts   RedisOptions
}

// NewRedis constructs a Redis locker on an existing client.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	return &Redis{client: client, opts: opts.withDefaults()}
}

// WithLock implements Locker.
func (r *Redis) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if Held(ctx, key) {
		return fn(ctx)
	}
	redisKey := r.opts.Prefix + key
	token := uuid.NewString()
	if err := r.acquire(ctx, redisKey, token); err != nil {
		return err
	}
	stop := r.keepAlive(redisKey, token)
	defer func() {
		stop()
		// Release even when ctx is cancelled so the key does not linger until TTL.
		_ = releaseScript.Run(context.WithoutCancel(ctx), r.client, []string{redisKey}, token).Err()
	}()
	return fn(MarkHeld(ctx, key))
}

func (r *Redis) acquire(ctx context.Context, redisKey, token string) error {
	deadline := time.Now().Add(r.opts.Wait)
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.opts.TTL).Result()
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrNotAcquired, redisKey, err)
		}
		if ok {
			return nil
		}
		if time.Now().Add(r.opts.RetryInterval).After(deadline) {
			return fmt.Errorf("%w: %s after %s", ErrNotAcquired, redisKey, r.opts.Wait)
		}
		select {
		case <-time.After(r.opts.RetryInterval):
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrNotAcquired, redisKey, ctx.Err())
		}
	}
}

func (r *Redis) keepAlive(redisKey, token string) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(r.opts.TTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = extendScript.Run(context.Background(), r.client, []string{redisKey}, token, r.opts.TTL.Milliseconds()).Err()
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
