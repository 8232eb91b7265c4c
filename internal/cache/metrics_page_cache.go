package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	metricsPageKeyPrefix = "replenish:metrics_page"
	metricsScanBatchSize = 100
)

// MetricsPageCache caches dashboard pages between refresh passes. Stale flags are
// computed by the caller after a read, so cached pages never carry them.
type MetricsPageCache interface {
	GetPage(ctx context.Context, filter domain.FilterSpec) (domain.MetricsPage, bool, error)
	SetPage(ctx context.Context, filter domain.FilterSpec, page domain.MetricsPage) error
	InvalidateAll(ctx context.Context) error
}

type redisMetricsPageCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopMetricsPageCache struct{}

// NewMetricsPageCache returns a Redis-backed cache, or a no-op one when client is nil.
func NewMetricsPageCache(client *redis.Client, ttl time.Duration) MetricsPageCache {
	if client == nil {
		return &noopMetricsPageCache{}
	}
	if ttl <= 0 {
		ttl = defaultPageTTL
	}
	return &redisMetricsPageCache{client: client, ttl: ttl}
}

func NewNoopMetricsPageCache() MetricsPageCache {
	return &noopMetricsPageCache{}
}

func (c *redisMetricsPageCache) GetPage(ctx context.Context, filter domain.FilterSpec) (domain.MetricsPage, bool, error) {
	key := buildMetricsPageKey(filter)

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return domain.MetricsPage{}, false, nil
	}
	if err != nil {
		return domain.MetricsPage{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var page domain.MetricsPage
	if err := json.Unmarshal(payload, &page); err != nil {
		return domain.MetricsPage{}, false, fmt.Errorf("decode metrics page cache: %w", err)
	}

	return page, true, nil
}

func (c *redisMetricsPageCache) SetPage(ctx context.Context, filter domain.FilterSpec, page domain.MetricsPage) error {
	key := buildMetricsPageKey(filter)
	payload, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("encode metrics page cache: %w", err)
	}

	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisMetricsPageCache) InvalidateAll(ctx context.Context) error {
	_, err := unlinkByPrefix(ctx, c.client, metricsPageKeyPrefix, metricsScanBatchSize)
	return err
}

func (n *noopMetricsPageCache) GetPage(ctx context.Context, filter domain.FilterSpec) (domain.MetricsPage, bool, error) {
	return domain.MetricsPage{}, false, nil
}

func (n *noopMetricsPageCache) SetPage(ctx context.Context, filter domain.FilterSpec, page domain.MetricsPage) error {
	return nil
}

func (n *noopMetricsPageCache) InvalidateAll(ctx context.Context) error {
	return nil
}

func buildMetricsPageKey(filter domain.FilterSpec) string {
	return fmt.Sprintf("%s:%s", metricsPageKeyPrefix, metricsFilterHash(filter))
}

// metricsFilterHash is stable across field order and status order. The filter is
// expected to be normalized.
func metricsFilterHash(filter domain.FilterSpec) string {
	parts := []string{
		"sort=" + string(filter.SortField) + ":" + string(filter.SortDirection),
		"offset=" + strconv.Itoa(filter.Offset),
		"limit=" + strconv.Itoa(filter.Limit),
	}

	if filter.Warehouse != "" {
		parts = append(parts, "warehouse="+filter.Warehouse)
	}
	if filter.Cluster != "" {
		parts = append(parts, "cluster="+filter.Cluster)
	}
	if filter.Source != "" {
		parts = append(parts, "source="+filter.Source)
	}
	if len(filter.Statuses) > 0 {
		parts = append(parts, "status="+joinStrings(filter.StatusLabels()))
	}
	if filter.NeedsReplenishment {
		parts = append(parts, "needs_replenishment")
	}

	// Active pages depend on the resolved product set, not just the flag.
	if filter.ActiveOnly {
		ids := make([]string, 0, len(filter.ActiveProductIDs))
		for id := range filter.ActiveProductIDs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		sum := sha1.Sum([]byte(strings.Join(ids, ",")))
		parts = append(parts, "active="+hex.EncodeToString(sum[:]))
	}

	sort.Strings(parts)
	raw := strings.Join(parts, "|")
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func joinStrings(values []string) string {
	c := append([]string(nil), values...)
	for i := range c {
		c[i] = strings.TrimSpace(strings.ToLower(c[i]))
	}
	sort.Strings(c)
	return strings.Join(c, ",")
}
