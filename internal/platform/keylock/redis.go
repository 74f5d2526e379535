// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package keylock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/warden/internal/platform/sec"
)

// Opinionated lease parameters. A held lease is renewed every lease/3, so it
// only lapses when the holder process stops renewing it.
const (
	defaultLease     = 10 * time.Second
	defaultRetryWait = 25 * time.Millisecond
	renewDivisor     = 3
	tokenLength      = 16
)

// releaseScript deletes the key only if we still own the lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// renewScript extends the lease only if we still own it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Redis is a lease-based distributed [Locker].
type Redis struct {
	client    redis.UniversalClient
	prefix    string
	lease     time.Duration
	retryWait time.Duration
	logger    *slog.Logger
}

// NewRedis creates a Redis-backed Locker. Keys are namespaced with prefix.
func NewRedis(client redis.UniversalClient, prefix string, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client:    client,
		prefix:    prefix,
		lease:     defaultLease,
		retryWait: defaultRetryWait,
		logger:    logger,
	}
}

// Lock polls SET NX until the lease is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token, err := sec.GenerateSecureToken(tokenLength)
	if err != nil {
		return nil, fmt.Errorf("keylock: lease token: %w", err)
	}

	redisKey := r.prefix + key
	ticker := time.NewTicker(r.retryWait)
	defer ticker.Stop()

	for {
		acquired, err := r.client.SetNX(ctx, redisKey, token, r.lease).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("keylock: redis_setnx_failed: %w", err)
		}
		if acquired {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		keepAlive(stop, r.lease/renewDivisor, func() (bool, error) {
			renewCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lease/renewDivisor)
			defer cancel()
			return r.renew(renewCtx, redisKey, token)
		}, func(err error) {
			r.logger.Error("keylock_renew_failed", slog.String("key", redisKey), slog.Any("error", err))
		})
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped

			// Release must run even if the caller's context was cancelled meanwhile.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()

			if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				r.logger.Error("keylock_release_failed", slog.String("key", redisKey), slog.Any("error", err))
			}
		})
	}, nil
}

// renew extends the lease. It reports false once the lease is no longer ours.
func (r *Redis) renew(ctx context.Context, redisKey, token string) (bool, error) {
	extended, err := renewScript.Run(ctx, r.client, []string{redisKey}, token, r.lease.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return true, err
	}
	return extended == 1, nil
}

// errLeaseLost is reported when a renewal finds the key owned by someone else.
var errLeaseLost = errors.New("keylock: lease lost")

// keepAlive calls renew every interval until stop is closed or the lease is
// lost. Transient renew errors are reported and retried on the next tick.
func keepAlive(stop <-chan struct{}, every time.Duration, renew func() (bool, error), report func(error)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		held, err := renew()
		if err != nil {
			report(err)
			continue
		}
		if !held {
			report(errLeaseLost)
			return
		}
	}
}
