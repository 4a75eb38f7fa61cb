package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"storefront/pkg/apperr"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"order_id", "order_no", "order_status", "user_id", "payment_id",
	"payment_status", "method", "amount", "currency", "payment_updated_at"}

func newMock(t *testing.T) (StatusQuery, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStatusQuery(sqlx.NewDb(db, "pgx")), mock
}

func TestPaymentStatus(t *testing.T) {
	ctx := context.Background()
	query := regexp.QuoteMeta("FROM orders o") + ".*" + regexp.QuoteMeta("WHERE o.id = $1")

	t.Run("Order with payment", func(t *testing.T) {
		q, mock := newMock(t)
		now := time.Now().UTC().Truncate(time.Second)
		mock.ExpectQuery(query).WithArgs("o1").WillReturnRows(
			sqlmock.NewRows(columns).AddRow("o1", "N1", "paid", nil, "p1", "completed", "hosted", "150.00", "CNY", now))

		st, err := q.PaymentStatus(ctx, "o1")
		require.NoError(t, err)

		view := st.View()
		assert.Equal(t, "paid", view.OrderStatus)
		assert.Equal(t, "completed", view.PaymentStatus)
		require.NotNil(t, view.Amount)
		assert.Equal(t, "150", view.Amount.String())
		assert.Equal(t, now, *view.UpdatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Order without payment", func(t *testing.T) {
		q, mock := newMock(t)
		mock.ExpectQuery(query).WithArgs("o2").WillReturnRows(
			sqlmock.NewRows(columns).AddRow("o2", "N2", "pending", "u1", nil, nil, nil, nil, nil, nil))

		st, err := q.PaymentStatus(ctx, "o2")
		require.NoError(t, err)
		assert.Equal(t, "u1", st.UserID.String)

		view := st.View()
		assert.Empty(t, view.PaymentStatus)
		assert.Nil(t, view.Amount)
	})

	t.Run("Missing order", func(t *testing.T) {
		q, mock := newMock(t)
		mock.ExpectQuery(query).WithArgs("missing").WillReturnRows(sqlmock.NewRows(columns))

		_, err := q.PaymentStatus(ctx, "missing")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}
