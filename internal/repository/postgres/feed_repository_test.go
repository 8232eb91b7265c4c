package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/andresuchdata/replenish/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestDecodeSubStates(t *testing.T) {
	got, err := decodeSubStates([]byte(`{"returning": 3, "in_defect": 1}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"returning": 3, "in_defect": 1}, got)

	got, err = decodeSubStates(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = decodeSubStates([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = decodeSubStates([]byte(`{"returning": "many"}`))
	assert.Error(t, err)
}

func TestSnapshotRowToDomain(t *testing.T) {
	row := snapshotRow{
		StockSnapshot: domain.StockSnapshot{
			Key:       domain.Key{ProductID: "P1", Warehouse: "W1", Source: "ozon"},
			Available: 4,
		},
		SubStatesJSON: []byte(`{"reserved_for_return": 2}`),
	}

	snap, err := row.toDomain()
	require.NoError(t, err)
	assert.Equal(t, int64(4), snap.Available)
	assert.Equal(t, int64(2), snap.SubStates["reserved_for_return"])
}

// newSQLXMock returns a sqlx handle backed by go-sqlmock.
func newSQLXMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return sqlx.NewDb(db, "postgres"), mock
}

var snapshotColumns = []string{
	"product_id", "warehouse_name", "source", "sku", "product_name", "cluster",
	"available", "reserved", "in_transit", "in_supply_request", "sub_states", "snapshot_at",
}

type FeedRepositoryTestSuite struct {
	suite.Suite
	db   *sqlx.DB
	mock sqlmock.Sqlmock
	repo repository.InventoryFeed
	ctx  context.Context
	key  domain.Key
	from time.Time
	to   time.Time
}

func (suite *FeedRepositoryTestSuite) SetupTest() {
	suite.db, suite.mock = newSQLXMock(suite.T())
	suite.repo = NewFeedRepository(suite.db)
	suite.ctx = context.Background()
	suite.key = domain.Key{ProductID: "P1", Warehouse: "W1", Source: "ozon"}
	suite.to = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	suite.from = suite.to.AddDate(0, 0, -28)
}

func (suite *FeedRepositoryTestSuite) TearDownTest() {
	suite.NoError(suite.mock.ExpectationsWereMet())
	suite.db.Close()
}

func TestFeedRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(FeedRepositoryTestSuite))
}

func (suite *FeedRepositoryTestSuite) TestListStockedKeys_LatestSnapshotPerKey() {
	at := suite.to.Add(-time.Hour)
	suite.mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (product_id, warehouse_name, source)")).
		WillReturnRows(sqlmock.NewRows(snapshotColumns).
			AddRow("P1", "W1", "ozon", "SKU-1", "Widget", "central", 7, 1, 2, 3, []byte(`{"returning": 2}`), at))

	listing, err := suite.repo.ListStockedKeys(suite.ctx)
	suite.Require().NoError(err)
	suite.Empty(listing.Rejected)
	suite.Require().Len(listing.Snapshots, 1)

	snap := listing.Snapshots[0]
	suite.Equal(suite.key, snap.Key)
	suite.Equal(domain.StockLevels{Available: 7, InTransit: 2, InSupplyRequest: 3}, snap.Levels())
	suite.Equal(int64(2), snap.SubStates["returning"])
	suite.Equal(at, snap.SnapshotAt)
}

func (suite *FeedRepositoryTestSuite) TestListStockedKeys_MalformedSubStatesRejectsOnlyThatKey() {
	at := suite.to.Add(-time.Hour)
	suite.mock.ExpectQuery(regexp.QuoteMeta("ORDER BY product_id, warehouse_name, source, snapshot_at DESC")).
		WillReturnRows(sqlmock.NewRows(snapshotColumns).
			AddRow("BAD", "W1", "ozon", "", "", "", 1, 0, 0, 0, []byte(`{"x": "oops"}`), at).
			AddRow("FRACTION", "W1", "ozon", "", "", "", 1, 0, 0, 0, []byte(`{"returning": 1.5}`), at).
			AddRow("GOOD", "W1", "ozon", "", "", "", 5, 0, 0, 0, []byte(`{}`), at))

	listing, err := suite.repo.ListStockedKeys(suite.ctx)
	suite.Require().NoError(err)
	suite.Require().Len(listing.Snapshots, 1)
	suite.Equal("GOOD", listing.Snapshots[0].ProductID)

	suite.Require().Len(listing.Rejected, 2)
	suite.Equal("BAD", listing.Rejected[0].Key.ProductID)
	suite.Equal("FRACTION", listing.Rejected[1].Key.ProductID)
	suite.True(domain.IsDataIntegrity(listing.Rejected[0]))
}

func (suite *FeedRepositoryTestSuite) TestListStockedKeys_QueryErrorIsDataUnavailable() {
	suite.mock.ExpectQuery(regexp.QuoteMeta("FROM stock_snapshots")).
		WillReturnError(errors.New("connection refused"))

	_, err := suite.repo.ListStockedKeys(suite.ctx)
	suite.True(domain.IsDataUnavailable(err))
}

func (suite *FeedRepositoryTestSuite) TestSalesInWindow_HalfOpenWindow() {
	suite.mock.ExpectQuery(regexp.QuoteMeta("AND ordered_at >= $4 AND ordered_at < $5")).
		WithArgs("P1", "W1", "ozon", suite.from, suite.to).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(84))

	sales, err := suite.repo.SalesInWindow(suite.ctx, suite.key, suite.from, suite.to)
	suite.Require().NoError(err)
	suite.Equal(int64(84), sales)
}

func (suite *FeedRepositoryTestSuite) TestSalesInWindow_WrapsError() {
	suite.mock.ExpectQuery(regexp.QuoteMeta("FROM order_lines")).
		WillReturnError(errors.New("timeout"))

	_, err := suite.repo.SalesInWindow(suite.ctx, suite.key, suite.from, suite.to)
	suite.ErrorContains(err, "sum sales")
}

func (suite *FeedRepositoryTestSuite) TestDaysWithStock_CountsDistinctUTCDaysWithStock() {
	suite.mock.ExpectQuery(regexp.QuoteMeta("COUNT(DISTINCT (snapshot_at AT TIME ZONE 'UTC')::date)") +
		`(?s).*` + regexp.QuoteMeta("snapshot_at >= $4 AND snapshot_at < $5") +
		`(?s).*` + regexp.QuoteMeta("available > 0")).
		WithArgs("P1", "W1", "ozon", suite.from, suite.to).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))

	days, err := suite.repo.DaysWithStock(suite.ctx, suite.key, suite.from, suite.to)
	suite.Require().NoError(err)
	suite.Equal(21, days)
}

func (suite *FeedRepositoryTestSuite) TestLastSaleBefore_OnlyPositiveQuantities() {
	notBefore := suite.to.AddDate(-1, 0, 0)
	last := suite.to.Add(-36 * time.Hour)
	suite.mock.ExpectQuery(regexp.QuoteMeta("ordered_at >= $4 AND ordered_at < $5") +
		`(?s).*` + regexp.QuoteMeta("quantity > 0")).
		WithArgs("P1", "W1", "ozon", notBefore, suite.to).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(last))

	got, err := suite.repo.LastSaleBefore(suite.ctx, suite.key, notBefore, suite.to)
	suite.Require().NoError(err)
	suite.Require().NotNil(got)
	suite.Equal(last, *got)
}

func (suite *FeedRepositoryTestSuite) TestLastSaleBefore_NoSaleIsNil() {
	suite.mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(ordered_at)")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	got, err := suite.repo.LastSaleBefore(suite.ctx, suite.key, suite.from, suite.to)
	suite.Require().NoError(err)
	suite.Nil(got)
}
