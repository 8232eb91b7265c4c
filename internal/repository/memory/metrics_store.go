// Package memory holds the in-process metrics cache used by tests, the CLI and
// single-node deployments without Postgres.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/jonboulle/clockwork"
)

// MetricsStore keeps one immutable row value per key. Readers copy rows under the
// read lock, so a row is always observed either before or after a write, never mid-way.
type MetricsStore struct {
	mu    sync.RWMutex
	rows  map[domain.Key]domain.CachedWarehouseMetric
	clock clockwork.Clock
}

func NewMetricsStore(clock clockwork.Clock) *MetricsStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MetricsStore{
		rows:  make(map[domain.Key]domain.CachedWarehouseMetric),
		clock: clock,
	}
}

func (s *MetricsStore) Upsert(ctx context.Context, m domain.CachedWarehouseMetric) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if m.CalculatedAt.IsZero() {
		m.CalculatedAt = s.clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.rows[m.Key]; ok && existing.CalculatedAt.After(m.CalculatedAt) {
		return false, nil
	}
	s.rows[m.Key] = m
	return true, nil
}

func (s *MetricsStore) Query(ctx context.Context, filter domain.FilterSpec) (domain.MetricsPage, error) {
	rows, err := s.QueryAll(ctx, filter)
	if err != nil {
		return domain.MetricsPage{}, err
	}

	page := domain.MetricsPage{
		Items:  []domain.MetricRow{},
		Total:  len(rows),
		Offset: filter.Offset,
		Limit:  filter.Limit,
	}
	if filter.Offset >= len(rows) {
		return page, nil
	}
	end := len(rows)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	for _, m := range rows[filter.Offset:end] {
		page.Items = append(page.Items, domain.MetricRow{CachedWarehouseMetric: m, Urgent: m.Urgent()})
	}
	return page, nil
}

func (s *MetricsStore) QueryAll(ctx context.Context, filter domain.FilterSpec) ([]domain.CachedWarehouseMetric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	rows := make([]domain.CachedWarehouseMetric, 0, len(s.rows))
	for _, m := range s.rows {
		if filter.Matches(m) {
			rows = append(rows, m)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(rows, filter.Compare)
	return rows, nil
}

func (s *MetricsStore) Get(ctx context.Context, key domain.Key) (domain.CachedWarehouseMetric, error) {
	if err := ctx.Err(); err != nil {
		return domain.CachedWarehouseMetric{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.rows[key]
	if !ok {
		return domain.CachedWarehouseMetric{}, domain.ErrMetricNotFound
	}
	return m, nil
}

func (s *MetricsStore) Staleness(ctx context.Context, key domain.Key) (time.Duration, error) {
	m, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	return s.clock.Since(m.CalculatedAt), nil
}

func (s *MetricsStore) Freshness(ctx context.Context) (domain.Freshness, error) {
	if err := ctx.Err(); err != nil {
		return domain.Freshness{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f := domain.Freshness{Rows: len(s.rows)}
	for _, m := range s.rows {
		if f.OldestCalculated.IsZero() || m.CalculatedAt.Before(f.OldestCalculated) {
			f.OldestCalculated = m.CalculatedAt
		}
		if m.CalculatedAt.After(f.NewestCalculated) {
			f.NewestCalculated = m.CalculatedAt
		}
	}
	return f, nil
}
