package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/andresuchdata/replenish/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveProductIDs_SalesInWindowOrStockOnHand(t *testing.T) {
	db, mock := newSQLXMock(t)
	defer db.Close()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := NewActivityRepository(db, clockwork.NewFakeClockAt(now), 28)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE ordered_at >= $1 AND ordered_at < $2 AND quantity > 0") +
		`(?s).*UNION.*` + regexp.QuoteMeta("WHERE available > 0")).
		WithArgs(now.AddDate(0, 0, -28), now).
		WillReturnRows(sqlmock.NewRows([]string{"product_id"}).AddRow("P1").AddRow("P2"))

	active, err := repo.ActiveProductIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"P1": {}, "P2": {}}, active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveProductIDs_ErrorIsDataUnavailable(t *testing.T) {
	db, mock := newSQLXMock(t)
	defer db.Close()

	repo := NewActivityRepository(db, clockwork.NewFakeClock(), 0)
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_lines")).
		WillReturnError(errors.New("connection refused"))

	_, err := repo.ActiveProductIDs(context.Background())
	assert.True(t, domain.IsDataUnavailable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
