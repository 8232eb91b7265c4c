package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andresuchdata/replenish/internal/cache"
	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/andresuchdata/replenish/internal/repository/memory"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type MockActivityPolicy struct {
	mock.Mock
}

func (m *MockActivityPolicy) ActiveProductIDs(ctx context.Context) (map[string]struct{}, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

type MockRefreshRunner struct {
	mock.Mock
}

func (m *MockRefreshRunner) TryRun(ctx context.Context) (domain.PassSummary, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.PassSummary), args.Error(1)
}

func (m *MockRefreshRunner) TryStart(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRefreshRunner) Status() domain.RefreshStatus {
	args := m.Called()
	return args.Get(0).(domain.RefreshStatus)
}

// mapPageCache is an in-process MetricsPageCache keyed by the filter.
type mapPageCache struct {
	mu    sync.Mutex
	pages map[string]domain.MetricsPage
	hits  int
}

func (c *mapPageCache) key(f domain.FilterSpec) string {
	var b strings.Builder
	b.WriteString(f.Warehouse + "|" + f.Cluster + "|" + f.Source + "|" + string(f.SortField) + "|" + string(f.SortDirection))
	for id := range f.ActiveProductIDs {
		b.WriteString("|" + id)
	}
	return b.String()
}

func (c *mapPageCache) GetPage(ctx context.Context, f domain.FilterSpec) (domain.MetricsPage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	page, ok := c.pages[c.key(f)]
	if ok {
		c.hits++
	}
	return page, ok, nil
}

func (c *mapPageCache) SetPage(ctx context.Context, f domain.FilterSpec, page domain.MetricsPage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[c.key(f)] = page
	return nil
}

func (c *mapPageCache) InvalidateAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages = map[string]domain.MetricsPage{}
	return nil
}

var _ cache.MetricsPageCache = (*mapPageCache)(nil)

type DashboardServiceTestSuite struct {
	suite.Suite
	ctx      context.Context
	clock    *clockwork.FakeClock
	store    *memory.MetricsStore
	activity *MockActivityPolicy
	runner   *MockRefreshRunner
	cache    *mapPageCache
	svc      *DashboardService
}

func (s *DashboardServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	s.store = memory.NewMetricsStore(s.clock)
	s.activity = new(MockActivityPolicy)
	s.runner = new(MockRefreshRunner)
	s.cache = &mapPageCache{pages: map[string]domain.MetricsPage{}}
	s.svc = NewDashboardService(DashboardDeps{
		Store:     s.store,
		Activity:  s.activity,
		Cache:     s.cache,
		Scheduler: s.runner,
		Clock:     s.clock,
	}, 2*time.Hour)
}

func TestDashboardServiceTestSuite(t *testing.T) {
	suite.Run(t, new(DashboardServiceTestSuite))
}

func (s *DashboardServiceTestSuite) seed(product, warehouse string, need int64, days domain.DaysOfStock, status domain.LiquidityStatus) {
	_, err := s.store.Upsert(s.ctx, domain.CachedWarehouseMetric{
		Key:               domain.Key{ProductID: product, Warehouse: warehouse, Source: "ozon"},
		SKU:               "SKU-" + product,
		ProductName:       "Product " + product,
		Cluster:           "central",
		AvailableStock:    10,
		DailySalesAverage: decimal.RequireFromString("1.50"),
		TargetStock:       45,
		ReplenishmentNeed: need,
		DaysOfStock:       days,
		LiquidityStatus:   status,
	})
	s.Require().NoError(err)
}

func (s *DashboardServiceTestSuite) TestQueryDefaultsToNeedDescending() {
	s.seed("P1", "W1", 5, domain.FiniteDays(decimal.NewFromInt(20)), domain.LiquidityNormal)
	s.seed("P2", "W1", 40, domain.FiniteDays(decimal.NewFromInt(3)), domain.LiquidityCritical)

	page, err := s.svc.Query(s.ctx, domain.FilterSpec{})
	s.Require().NoError(err)
	s.Equal(2, page.Total)
	s.Require().Len(page.Items, 2)
	s.Equal("P2", page.Items[0].ProductID)
	s.True(page.Items[0].Urgent)
	s.Zero(page.StaleCount)
}

func (s *DashboardServiceTestSuite) TestQueryRejectsInvalidFilter() {
	_, err := s.svc.Query(s.ctx, domain.FilterSpec{SortField: "price"})
	s.True(domain.IsInvalidFilter(err))
}

func (s *DashboardServiceTestSuite) TestQueryFlagsStaleRows() {
	s.seed("P1", "W1", 5, domain.InfiniteDays(), domain.LiquidityExcess)
	s.clock.Advance(3 * time.Hour)
	s.seed("P2", "W1", 1, domain.FiniteDays(decimal.NewFromInt(50)), domain.LiquidityExcess)

	page, err := s.svc.Query(s.ctx, domain.FilterSpec{})
	s.Require().NoError(err)
	s.Require().Len(page.Items, 2)
	s.Equal(1, page.StaleCount)
	for _, row := range page.Items {
		s.Equal(row.ProductID == "P1", row.Stale, row.ProductID)
	}
}

func (s *DashboardServiceTestSuite) TestQueryReadsThroughPageCache() {
	s.seed("P1", "W1", 5, domain.FiniteDays(decimal.NewFromInt(20)), domain.LiquidityNormal)

	first, err := s.svc.Query(s.ctx, domain.FilterSpec{})
	s.Require().NoError(err)
	s.Equal(0, s.cache.hits)

	// a write behind the cache is not visible until invalidation
	s.seed("P2", "W1", 1, domain.FiniteDays(decimal.NewFromInt(20)), domain.LiquidityNormal)
	second, err := s.svc.Query(s.ctx, domain.FilterSpec{})
	s.Require().NoError(err)
	s.Equal(1, s.cache.hits)
	s.Equal(first.Total, second.Total)

	s.Require().NoError(s.cache.InvalidateAll(s.ctx))
	third, err := s.svc.Query(s.ctx, domain.FilterSpec{})
	s.Require().NoError(err)
	s.Equal(2, third.Total)
}

func (s *DashboardServiceTestSuite) TestQueryStaleFlagAppliedToCachedPages() {
	s.seed("P1", "W1", 5, domain.FiniteDays(decimal.NewFromInt(20)), domain.LiquidityNormal)
	_, err := s.svc.Query(s.ctx, domain.FilterSpec{})
	s.Require().NoError(err)

	s.clock.Advance(5 * time.Hour)
	page, err := s.svc.Query(s.ctx, domain.FilterSpec{})
	s.Require().NoError(err)
	s.Equal(1, s.cache.hits)
	s.Equal(1, page.StaleCount)
	s.True(page.Items[0].Stale)
}

func (s *DashboardServiceTestSuite) TestQueryActiveOnly() {
	s.seed("P1", "W1", 5, domain.FiniteDays(decimal.NewFromInt(20)), domain.LiquidityNormal)
	s.seed("P2", "W1", 5, domain.FiniteDays(decimal.NewFromInt(20)), domain.LiquidityNormal)
	s.activity.On("ActiveProductIDs", mock.Anything).Return(map[string]struct{}{"P2": {}}, nil).Once()

	page, err := s.svc.Query(s.ctx, domain.FilterSpec{ActiveOnly: true})
	s.Require().NoError(err)
	s.Require().Len(page.Items, 1)
	s.Equal("P2", page.Items[0].ProductID)
	s.activity.AssertExpectations(s.T())
}

func (s *DashboardServiceTestSuite) TestQueryActivityFailureIsDataUnavailable() {
	s.activity.On("ActiveProductIDs", mock.Anything).Return(nil, errors.New("db down")).Once()

	_, err := s.svc.Query(s.ctx, domain.FilterSpec{ActiveOnly: true})
	s.True(domain.IsDataUnavailable(err))
}

func (s *DashboardServiceTestSuite) TestExportCSVIgnoresPaging() {
	s.seed("P1", "W1", 5, domain.InfiniteDays(), domain.LiquidityExcess)
	s.seed("P2", "W2", 9, domain.FiniteDays(decimal.RequireFromString("4.5")), domain.LiquidityCritical)

	var buf bytes.Buffer
	n, err := s.svc.ExportCSV(s.ctx, domain.FilterSpec{Limit: 1, Offset: 1}, &buf)
	s.Require().NoError(err)
	s.Equal(2, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	s.Require().Len(lines, 3)
	s.Equal("product_id,sku,product_name,warehouse,cluster,available_stock,daily_sales_average,days_of_stock,replenishment_need,liquidity_status,calculated_at", lines[0])
	s.True(strings.HasPrefix(lines[1], "P2,SKU-P2,Product P2,W2,central,10,1.50,4.50,9,critical,"), lines[1])
	s.Contains(lines[2], ",∞,")
}

func (s *DashboardServiceTestSuite) TestExportXLSX() {
	s.seed("P1", "W1", 5, domain.InfiniteDays(), domain.LiquidityExcess)

	var buf bytes.Buffer
	n, err := s.svc.ExportXLSX(s.ctx, domain.FilterSpec{}, &buf)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.NotZero(buf.Len())
}

func (s *DashboardServiceTestSuite) TestRefreshStatusReportsStaleness() {
	s.seed("P1", "W1", 5, domain.FiniteDays(decimal.NewFromInt(20)), domain.LiquidityNormal)
	s.clock.Advance(90 * time.Minute)
	s.runner.On("Status").Return(domain.RefreshStatus{State: domain.RefreshIdle})

	status, err := s.svc.RefreshStatus(s.ctx)
	s.Require().NoError(err)
	s.Equal(domain.RefreshIdle, status.State)
	s.Equal(1, status.Cache.Rows)
	s.Equal(90*time.Minute, status.MaxStaleness)
	s.Equal(2*time.Hour, status.StaleAfter)
}

func (s *DashboardServiceTestSuite) TestTriggerRefreshPassesThroughInProgress() {
	s.runner.On("TryRun", mock.Anything).Return(domain.PassSummary{}, domain.ErrPassInProgress).Once()

	_, err := s.svc.TriggerRefresh(s.ctx)
	s.ErrorIs(err, domain.ErrPassInProgress)
	s.runner.AssertExpectations(s.T())
}

func (s *DashboardServiceTestSuite) TestStartRefreshDetachesContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	s.runner.On("TryStart", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil })).Return(nil).Once()

	s.NoError(s.svc.StartRefresh(ctx))
	s.runner.AssertExpectations(s.T())
}

func (s *DashboardServiceTestSuite) TestRecentRunsWithoutRecorder() {
	runs, err := s.svc.RecentRuns(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(runs)
}
