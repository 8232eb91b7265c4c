package cache

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/andresuchdata/replenish/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageTTL = time.Minute
	pingTimeout    = 5 * time.Second
)

// NewRedisClient connects to the Redis shared by the page cache and the pass lock and
// returns the page TTL alongside it.
func NewRedisClient(ctx context.Context, cfg config.CacheConfig) (*redis.Client, time.Duration, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, 0, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, 0, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}

	return client, pageTTL(cfg), nil
}

func pageTTL(cfg config.CacheConfig) time.Duration {
	if cfg.DashboardTTLSeconds <= 0 {
		return defaultPageTTL
	}
	return time.Duration(cfg.DashboardTTLSeconds) * time.Second
}

// redisOptions prefers REDIS_URL and falls back to host, port and db.
func redisOptions(cfg config.CacheConfig) (*redis.Options, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opts, nil
	}

	host, port := cfg.RedisHost, cfg.RedisPort
	if host == "" {
		host = "127.0.0.1"
	}
	if port == "" {
		port = "6379"
	}
	return &redis.Options{
		Addr:     net.JoinHostPort(host, port),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}

// unlinkByPrefix removes every key under prefix in batches and returns how many were removed.
func unlinkByPrefix(ctx context.Context, client *redis.Client, prefix string, batch int64) (int, error) {
	iter := client.Scan(ctx, 0, prefix+"*", batch).Iterator()
	keys := make([]string, 0, batch)
	removed := 0

	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		n, err := client.Unlink(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("unlink %d keys under %s: %w", len(keys), prefix, err)
		}
		removed += int(n)
		keys = keys[:0]
		return nil
	}

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if int64(len(keys)) >= batch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan %s*: %w", prefix, err)
	}
	if err := flush(); err != nil {
		return removed, err
	}

	log.Debug().Str("prefix", prefix).Int("removed", removed).Msg("cache keys unlinked")
	return removed, nil
}
