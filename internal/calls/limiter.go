package calls

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"collections-platform/pkg/utils"
)

// SlotLimiter bounds how many sessions run at once. Dispatch acquires a
// slot before creating each session; excess requests queue until a slot
// frees or the batch deadline elapses.
type SlotLimiter interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// NewSemaphoreLimiter returns the in-process limiter used by a single
// dispatcher process.
func NewSemaphoreLimiter(n int) SlotLimiter {
	if n <= 0 {
		n = 1
	}
	return &semaphoreLimiter{ch: make(chan struct{}, n)}
}

type semaphoreLimiter struct {
	ch chan struct{}
}

func (l *semaphoreLimiter) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-l.ch })
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RedisLimiterConfig tunes the Redis-backed limiter.
type RedisLimiterConfig struct {
	// Key is the shared counter key, e.g. "cap:active_calls".
	Key   string
	Limit int

	// TTL guards against leaked slots if a process crashes mid-call.
	// It must exceed the longest plausible call.
	TTL time.Duration

	// PollEvery is the retry interval while the cap is full.
	PollEvery time.Duration
}

func (c RedisLimiterConfig) withDefaults() RedisLimiterConfig {
	out := c
	if out.Key == "" {
		out.Key = "cap:active_calls"
	}
	if out.Limit <= 0 {
		out.Limit = 1
	}
	if out.TTL <= 0 {
		out.TTL = 30 * time.Minute
	}
	if out.PollEvery <= 0 {
		out.PollEvery = 250 * time.Millisecond
	}
	return out
}

// NewRedisLimiter returns a limiter enforcing one global concurrency cap
// across dispatcher processes, built on an atomic Lua INCR/DECR counter.
func NewRedisLimiter(rdb *redis.Client, cfg RedisLimiterConfig) SlotLimiter {
	return &redisLimiter{rdb: rdb, cfg: cfg.withDefaults()}
}

type redisLimiter struct {
	rdb *redis.Client
	cfg RedisLimiterConfig
}

func (l *redisLimiter) Acquire(ctx context.Context) (func(), error) {
	t := time.NewTicker(l.cfg.PollEvery)
	defer t.Stop()
	for {
		ok, err := utils.AcquireConcurrencyCap(ctx, l.rdb, l.cfg.Key, l.cfg.Limit, l.cfg.TTL)
		if err != nil {
			return nil, err
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// Release must not depend on the (possibly expired)
					// caller context.
					releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = utils.ReleaseConcurrencyCap(releaseCtx, l.rdb, l.cfg.Key)
				})
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
