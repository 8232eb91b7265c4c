package replenishment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockVelocityFeed mocks the VelocityFeed interface for testing
type MockVelocityFeed struct {
	mock.Mock
}

func (m *MockVelocityFeed) SalesInWindow(ctx context.Context, key domain.Key, from, to time.Time) (int64, error) {
	args := m.Called(ctx, key, from, to)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockVelocityFeed) DaysWithStock(ctx context.Context, key domain.Key, from, to time.Time) (int, error) {
	args := m.Called(ctx, key, from, to)
	return args.Int(0), args.Error(1)
}

func (m *MockVelocityFeed) LastSaleBefore(ctx context.Context, key domain.Key, notBefore, before time.Time) (*time.Time, error) {
	args := m.Called(ctx, key, notBefore, before)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*time.Time), args.Error(1)
}

var (
	testKey = domain.Key{ProductID: "P", Warehouse: "W", Source: "ozon"}
	testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestCalculator(feed *MockVelocityFeed) *VelocityCalculator {
	return NewVelocityCalculator(feed, clockwork.NewFakeClockAt(testNow), DefaultVelocityConfig())
}

func windowStart() time.Time {
	return testNow.Add(-28 * 24 * time.Hour)
}

func TestCalculate_FullStockWindow(t *testing.T) {
	feed := new(MockVelocityFeed)
	lastSale := testNow.Add(-3 * time.Hour)
	feed.On("SalesInWindow", mock.Anything, testKey, windowStart(), testNow).Return(int64(84), nil)
	feed.On("DaysWithStock", mock.Anything, testKey, windowStart(), testNow).Return(28, nil)
	feed.On("LastSaleBefore", mock.Anything, testKey, mock.Anything, testNow).Return(&lastSale, nil)

	v, err := newTestCalculator(feed).Calculate(context.Background(), testKey)
	require.NoError(t, err)

	assert.Equal(t, "3.00", v.DailySalesAverage.StringFixed(2))
	assert.Equal(t, int64(84), v.SalesCountWindow)
	assert.Equal(t, 28, v.DaysWithStock)
	assert.Equal(t, 28, v.WindowDays)
	assert.Equal(t, 0, v.DaysWithoutSales)
	feed.AssertExpectations(t)
}

func TestCalculate_PartialStockAndRounding(t *testing.T) {
	feed := new(MockVelocityFeed)
	lastSale := testNow.Add(-(5*24 + 1) * time.Hour)
	feed.On("SalesInWindow", mock.Anything, testKey, mock.Anything, mock.Anything).Return(int64(10), nil)
	feed.On("DaysWithStock", mock.Anything, testKey, mock.Anything, mock.Anything).Return(3, nil)
	feed.On("LastSaleBefore", mock.Anything, testKey, mock.Anything, mock.Anything).Return(&lastSale, nil)

	v, err := newTestCalculator(feed).Calculate(context.Background(), testKey)
	require.NoError(t, err)

	assert.Equal(t, "3.33", v.DailySalesAverage.StringFixed(2))
	assert.Equal(t, 3, v.DaysWithStock)
	assert.Equal(t, 5, v.DaysWithoutSales)
}

func TestCalculate_RoundsHalfAwayFromZero(t *testing.T) {
	feed := new(MockVelocityFeed)
	// 1/8 = 0.125
	feed.On("SalesInWindow", mock.Anything, testKey, mock.Anything, mock.Anything).Return(int64(1), nil)
	feed.On("DaysWithStock", mock.Anything, testKey, mock.Anything, mock.Anything).Return(8, nil)
	feed.On("LastSaleBefore", mock.Anything, testKey, mock.Anything, mock.Anything).Return(nil, nil)

	v, err := newTestCalculator(feed).Calculate(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, "0.13", v.DailySalesAverage.StringFixed(2))
}

func TestCalculate_NoStockDaysFallsBackToWindow(t *testing.T) {
	feed := new(MockVelocityFeed)
	feed.On("SalesInWindow", mock.Anything, testKey, mock.Anything, mock.Anything).Return(int64(14), nil)
	feed.On("DaysWithStock", mock.Anything, testKey, mock.Anything, mock.Anything).Return(0, nil)
	feed.On("LastSaleBefore", mock.Anything, testKey, mock.Anything, mock.Anything).Return(nil, nil)

	v, err := newTestCalculator(feed).Calculate(context.Background(), testKey)
	require.NoError(t, err)

	assert.Equal(t, "0.50", v.DailySalesAverage.StringFixed(2))
	assert.Equal(t, 28, v.DaysWithStock)
	assert.Equal(t, 365, v.DaysWithoutSales)
}

func TestCalculate_NoSalesNoStock(t *testing.T) {
	feed := new(MockVelocityFeed)
	feed.On("SalesInWindow", mock.Anything, testKey, mock.Anything, mock.Anything).Return(int64(0), nil)
	feed.On("DaysWithStock", mock.Anything, testKey, mock.Anything, mock.Anything).Return(0, nil)
	feed.On("LastSaleBefore", mock.Anything, testKey, mock.Anything, mock.Anything).Return(nil, nil)

	v, err := newTestCalculator(feed).Calculate(context.Background(), testKey)
	require.NoError(t, err)
	assert.True(t, v.DailySalesAverage.IsZero())
}

func TestCalculate_ClampsDaysWithStockToWindow(t *testing.T) {
	feed := new(MockVelocityFeed)
	feed.On("SalesInWindow", mock.Anything, testKey, mock.Anything, mock.Anything).Return(int64(56), nil)
	feed.On("DaysWithStock", mock.Anything, testKey, mock.Anything, mock.Anything).Return(40, nil)
	feed.On("LastSaleBefore", mock.Anything, testKey, mock.Anything, mock.Anything).Return(nil, nil)

	v, err := newTestCalculator(feed).Calculate(context.Background(), testKey)
	require.NoError(t, err)

	assert.Equal(t, 28, v.DaysWithStock)
	assert.Equal(t, "2.00", v.DailySalesAverage.StringFixed(2))
}

func TestCalculate_DaysWithoutSalesCapped(t *testing.T) {
	feed := new(MockVelocityFeed)
	feed.On("SalesInWindow", mock.Anything, testKey, mock.Anything, mock.Anything).Return(int64(0), nil)
	feed.On("DaysWithStock", mock.Anything, testKey, mock.Anything, mock.Anything).Return(28, nil)
	feed.On("LastSaleBefore", mock.Anything, testKey, testNow.Add(-365*24*time.Hour), testNow).Return(nil, nil)

	v, err := newTestCalculator(feed).Calculate(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, 365, v.DaysWithoutSales)
	feed.AssertExpectations(t)
}

func TestCalculate_FeedErrorIsDataUnavailable(t *testing.T) {
	feed := new(MockVelocityFeed)
	feed.On("SalesInWindow", mock.Anything, testKey, mock.Anything, mock.Anything).Return(int64(0), errors.New("connection refused"))

	_, err := newTestCalculator(feed).Calculate(context.Background(), testKey)
	require.Error(t, err)
	assert.True(t, domain.IsDataUnavailable(err))

	var unavailable *domain.DataUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, testKey, unavailable.Key)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCalculate_NegativeAggregatesAreIntegrityErrors(t *testing.T) {
	feed := new(MockVelocityFeed)
	feed.On("SalesInWindow", mock.Anything, testKey, mock.Anything, mock.Anything).Return(int64(-4), nil)

	_, err := newTestCalculator(feed).Calculate(context.Background(), testKey)
	assert.True(t, domain.IsDataIntegrity(err))

	feed = new(MockVelocityFeed)
	feed.On("SalesInWindow", mock.Anything, testKey, mock.Anything, mock.Anything).Return(int64(4), nil)
	feed.On("DaysWithStock", mock.Anything, testKey, mock.Anything, mock.Anything).Return(-1, nil)

	_, err = newTestCalculator(feed).Calculate(context.Background(), testKey)
	assert.True(t, domain.IsDataIntegrity(err))
}

func TestCalculate_SaleInFutureIsIntegrityError(t *testing.T) {
	feed := new(MockVelocityFeed)
	future := testNow.Add(time.Hour)
	feed.On("SalesInWindow", mock.Anything, testKey, mock.Anything, mock.Anything).Return(int64(1), nil)
	feed.On("DaysWithStock", mock.Anything, testKey, mock.Anything, mock.Anything).Return(1, nil)
	feed.On("LastSaleBefore", mock.Anything, testKey, mock.Anything, mock.Anything).Return(&future, nil)

	_, err := newTestCalculator(feed).Calculate(context.Background(), testKey)
	assert.True(t, domain.IsDataIntegrity(err))
}

func TestNewVelocityCalculator_Defaults(t *testing.T) {
	c := NewVelocityCalculator(new(MockVelocityFeed), nil, VelocityConfig{})
	assert.Equal(t, DefaultVelocityConfig(), c.Config())
}
