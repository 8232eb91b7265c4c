package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/andresuchdata/replenish/internal/pipeline"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	passLockKey = "replenish:refresh_pass"
	// DefaultPassLockTTL is the lease length when none is configured.
	DefaultPassLockTTL = time.Minute
)

// RedisPassLock keeps refresh passes single-flight across server replicas.
type RedisPassLock struct {
	locker *redislock.Client
	ttl    time.Duration
}

// NewRedisPassLock creates the lock. The lease lasts ttl and is extended every
// ttl/3 while the pass holds it, so a crashed holder frees it within ttl.
func NewRedisPassLock(client *redis.Client, ttl time.Duration) *RedisPassLock {
	if ttl <= 0 {
		ttl = DefaultPassLockTTL
	}
	return &RedisPassLock{locker: redislock.New(client), ttl: ttl}
}

// lease is the part of *redislock.Lock a holder needs.
type lease interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
	Release(ctx context.Context) error
}

func (l *RedisPassLock) Obtain(ctx context.Context) (func(context.Context) error, error) {
	lock, err := l.locker.Obtain(ctx, passLockKey, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, pipeline.ErrLockHeld
	}
	if err != nil {
		return nil, fmt.Errorf("redis lock: %w", err)
	}
	return l.hold(lock), nil
}

// hold keeps the lease alive until the returned release func is called.
func (l *RedisPassLock) hold(lk lease) func(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(ctx, lk, l.ttl, l.ttl/3)
	}()

	return func(ctx context.Context) error {
		cancel()
		<-done
		if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("release redis lock: %w", err)
		}
		return nil
	}
}

// keepAlive extends the lease every interval until ctx is done or the lease is lost.
func keepAlive(ctx context.Context, lk lease, ttl, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := lk.Refresh(ctx, ttl, nil)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, redislock.ErrNotObtained):
			log.Error().Err(err).Msg("refresh lock lease lost; another process may start a pass")
			return
		default:
			log.Warn().Err(err).Msg("failed to extend refresh lock lease")
		}
	}
}

// InvalidationHook clears cached dashboard pages after every pass.
type InvalidationHook struct {
	Cache MetricsPageCache
}

func (h InvalidationHook) Name() string { return "invalidate_page_cache" }

func (h InvalidationHook) AfterPass(ctx context.Context, _ domain.PassSummary) error {
	return h.Cache.InvalidateAll(ctx)
}
