package cache

import (
	"context"
	"strings"
	"testing"

	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsFilterHash_StableAcrossStatusOrder(t *testing.T) {
	a := domain.FilterSpec{
		Warehouse: "W1",
		Statuses:  []domain.LiquidityStatus{domain.LiquidityCritical, domain.LiquidityLow},
	}.Normalize()
	b := domain.FilterSpec{
		Warehouse: "W1",
		Statuses:  []domain.LiquidityStatus{domain.LiquidityLow, domain.LiquidityCritical},
	}.Normalize()

	assert.Equal(t, metricsFilterHash(a), metricsFilterHash(b))
}

func TestMetricsFilterHash_DistinguishesPagesAndFilters(t *testing.T) {
	base := domain.FilterSpec{}.Normalize()

	second := base
	second.Offset = 50

	warehouse := base
	warehouse.Warehouse = "W1"

	desc := base
	desc.SortDirection = domain.SortAsc

	hashes := map[string]bool{}
	for _, f := range []domain.FilterSpec{base, second, warehouse, desc} {
		hashes[metricsFilterHash(f)] = true
	}
	assert.Len(t, hashes, 4)
}

func TestMetricsFilterHash_ActiveSetIsPartOfKey(t *testing.T) {
	a := domain.FilterSpec{ActiveOnly: true, ActiveProductIDs: map[string]struct{}{"P1": {}}}.Normalize()
	b := domain.FilterSpec{ActiveOnly: true, ActiveProductIDs: map[string]struct{}{"P1": {}, "P2": {}}}.Normalize()

	assert.NotEqual(t, metricsFilterHash(a), metricsFilterHash(b))
}

func TestBuildMetricsPageKey(t *testing.T) {
	key := buildMetricsPageKey(domain.FilterSpec{}.Normalize())
	assert.True(t, strings.HasPrefix(key, metricsPageKeyPrefix+":"))
}

func TestNoopMetricsPageCache(t *testing.T) {
	c := NewMetricsPageCache(nil, 0)
	ctx := context.Background()

	require.NoError(t, c.SetPage(ctx, domain.FilterSpec{}, domain.MetricsPage{Total: 3}))
	_, hit, err := c.GetPage(ctx, domain.FilterSpec{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, c.InvalidateAll(ctx))
}
