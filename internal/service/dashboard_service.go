package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/andresuchdata/replenish/internal/cache"
	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/andresuchdata/replenish/internal/export"
	"github.com/andresuchdata/replenish/internal/repository"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// RefreshRunner is the part of the refresh scheduler the dashboard drives.
type RefreshRunner interface {
	TryRun(ctx context.Context) (domain.PassSummary, error)
	TryStart(ctx context.Context) error
	Status() domain.RefreshStatus
}

// DashboardDeps are the collaborators of a DashboardService. Activity, Cache, Runs
// and Clock are optional.
type DashboardDeps struct {
	Store     repository.MetricsStore
	Activity  repository.ActivityPolicy
	Cache     cache.MetricsPageCache
	Runs      repository.RunRecorder
	Scheduler RefreshRunner
	Clock     clockwork.Clock
}

// DashboardService serves filtered, sorted, paginated reads of the metrics cache and
// funnels manual refresh requests through the scheduler.
type DashboardService struct {
	store      repository.MetricsStore
	activity   repository.ActivityPolicy
	cache      cache.MetricsPageCache
	runs       repository.RunRecorder
	scheduler  RefreshRunner
	clock      clockwork.Clock
	staleAfter time.Duration
}

func NewDashboardService(deps DashboardDeps, staleAfter time.Duration) *DashboardService {
	if deps.Cache == nil {
		deps.Cache = cache.NewNoopMetricsPageCache()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &DashboardService{
		store:      deps.Store,
		activity:   deps.Activity,
		cache:      deps.Cache,
		runs:       deps.Runs,
		scheduler:  deps.Scheduler,
		clock:      deps.Clock,
		staleAfter: staleAfter,
	}
}

// prepare normalizes and validates the filter and resolves the active product set.
func (s *DashboardService) prepare(ctx context.Context, filter domain.FilterSpec) (domain.FilterSpec, error) {
	filter = filter.Normalize()
	if err := filter.Validate(); err != nil {
		return filter, err
	}
	if filter.ActiveOnly {
		if s.activity == nil {
			return filter, &domain.InvalidFilterError{Field: "active_only", Reason: "no activity policy configured"}
		}
		ids, err := s.activity.ActiveProductIDs(ctx)
		if err != nil {
			return filter, &domain.DataUnavailableError{Err: fmt.Errorf("resolve active products: %w", err)}
		}
		filter.ActiveProductIDs = ids
	}
	return filter, nil
}

// Query returns one page of metric rows. Rows older than the stale threshold are
// still returned, flagged Stale.
func (s *DashboardService) Query(ctx context.Context, filter domain.FilterSpec) (domain.MetricsPage, error) {
	filter, err := s.prepare(ctx, filter)
	if err != nil {
		return domain.MetricsPage{}, err
	}

	page, ok, err := s.cache.GetPage(ctx, filter)
	if err != nil {
		log.Warn().Err(err).Msg("dashboard: cache get page failed")
	}
	if !ok {
		page, err = s.store.Query(ctx, filter)
		if err != nil {
			return domain.MetricsPage{}, &domain.DataUnavailableError{Err: fmt.Errorf("query metrics: %w", err)}
		}
		if err := s.cache.SetPage(ctx, filter, page); err != nil {
			log.Warn().Err(err).Msg("dashboard: cache set page failed")
		}
	}

	s.annotateStale(&page)
	return page, nil
}

func (s *DashboardService) annotateStale(page *domain.MetricsPage) {
	if page.Items == nil {
		page.Items = make([]domain.MetricRow, 0)
	}
	page.StaleCount = 0
	if s.staleAfter <= 0 {
		return
	}

	now := s.clock.Now()
	var oldest time.Time
	for i := range page.Items {
		row := &page.Items[i]
		row.Stale = now.Sub(row.CalculatedAt) > s.staleAfter
		if row.Stale {
			page.StaleCount++
			if oldest.IsZero() || row.CalculatedAt.Before(oldest) {
				oldest = row.CalculatedAt
			}
		}
	}

	if page.StaleCount > 0 {
		log.Warn().
			Int("stale_rows", page.StaleCount).
			Dur("stale_after", s.staleAfter).
			Time("oldest_calculated_at", oldest).
			Msg("dashboard served stale metrics")
	}
}

func (s *DashboardService) exportRows(ctx context.Context, filter domain.FilterSpec) ([]domain.CachedWarehouseMetric, error) {
	filter, err := s.prepare(ctx, filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.QueryAll(ctx, filter)
	if err != nil {
		return nil, &domain.DataUnavailableError{Err: fmt.Errorf("query metrics for export: %w", err)}
	}
	return rows, nil
}

// ExportCSV writes every row matching filter, in the filter's sort order, as CSV.
// Paging fields of the filter are ignored.
func (s *DashboardService) ExportCSV(ctx context.Context, filter domain.FilterSpec, w io.Writer) (int, error) {
	rows, err := s.exportRows(ctx, filter)
	if err != nil {
		return 0, err
	}
	if err := export.WriteCSV(w, rows); err != nil {
		return 0, fmt.Errorf("write csv export: %w", err)
	}
	return len(rows), nil
}

// ExportXLSX is ExportCSV rendered as a single-sheet workbook.
func (s *DashboardService) ExportXLSX(ctx context.Context, filter domain.FilterSpec, w io.Writer) (int, error) {
	rows, err := s.exportRows(ctx, filter)
	if err != nil {
		return 0, err
	}
	if err := export.WriteXLSX(w, rows); err != nil {
		return 0, fmt.Errorf("write xlsx export: %w", err)
	}
	return len(rows), nil
}

// RefreshStatus combines the scheduler state with cache freshness.
func (s *DashboardService) RefreshStatus(ctx context.Context) (domain.RefreshStatus, error) {
	var status domain.RefreshStatus
	if s.scheduler != nil {
		status = s.scheduler.Status()
	} else {
		status.State = domain.RefreshIdle
	}
	status.StaleAfter = s.staleAfter

	freshness, err := s.store.Freshness(ctx)
	if err != nil {
		return status, fmt.Errorf("cache freshness: %w", err)
	}
	status.Cache = freshness
	if freshness.Rows > 0 {
		status.MaxStaleness = s.clock.Since(freshness.OldestCalculated)
	}
	return status, nil
}

// TriggerRefresh runs a pass and waits for it. It returns domain.ErrPassInProgress
// when a pass is already running.
func (s *DashboardService) TriggerRefresh(ctx context.Context) (domain.PassSummary, error) {
	if s.scheduler == nil {
		return domain.PassSummary{}, fmt.Errorf("refresh scheduler not configured")
	}
	return s.scheduler.TryRun(ctx)
}

// StartRefresh starts a pass in the background. The pass outlives the request that
// started it and is cancelled when the scheduler stops.
func (s *DashboardService) StartRefresh(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("refresh scheduler not configured")
	}
	return s.scheduler.TryStart(context.WithoutCancel(ctx))
}

// RecentRuns lists refresh history, newest first.
func (s *DashboardService) RecentRuns(ctx context.Context, limit int) ([]domain.RefreshRun, error) {
	if s.runs == nil {
		return []domain.RefreshRun{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	runs, err := s.runs.RecentRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent refresh runs: %w", err)
	}
	if runs == nil {
		runs = make([]domain.RefreshRun, 0)
	}
	return runs, nil
}
