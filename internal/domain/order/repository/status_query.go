package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"storefront/pkg/apperr"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// PaymentStatus 订单及其最近一次支付尝试的只读视图
type PaymentStatus struct {
	OrderID       string              `db:"order_id" json:"orderId"`
	OrderNo       string              `db:"order_no" json:"orderNo"`
	OrderStatus   string              `db:"order_status" json:"orderStatus"`
	UserID        sql.NullString      `db:"user_id" json:"-"`
	PaymentID     sql.NullString      `db:"payment_id" json:"-"`
	PaymentStatus sql.NullString      `db:"payment_status" json:"-"`
	Method        sql.NullString      `db:"method" json:"-"`
	Amount        decimal.NullDecimal `db:"amount" json:"-"`
	Currency      sql.NullString      `db:"currency" json:"-"`
	UpdatedAt     sql.NullTime        `db:"payment_updated_at" json:"-"`
}

// 每次都读库，不缓存
const paymentStatusQuery = `
SELECT o.id AS order_id, o.order_no, o.status AS order_status, o.user_id,
       p.id AS payment_id, p.status AS payment_status, p.method, p.amount, p.currency,
       p.updated_at AS payment_updated_at
FROM orders o
LEFT JOIN payments p ON p.id = (
    SELECT id FROM payments WHERE order_id = o.id ORDER BY created_at DESC LIMIT 1
)
WHERE o.id = $1`

type StatusQuery interface {
	PaymentStatus(ctx context.Context, orderID string) (*PaymentStatus, error)
}

type statusQuery struct {
	db *sqlx.DB
}

func NewStatusQuery(db *sqlx.DB) StatusQuery {
	return &statusQuery{db: db}
}

func (q *statusQuery) PaymentStatus(ctx context.Context, orderID string) (*PaymentStatus, error) {
	var st PaymentStatus
	err := q.db.GetContext(ctx, &st, paymentStatusQuery, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// PaymentStatusView 对外返回的结构
type PaymentStatusView struct {
	OrderID       string           `json:"orderId"`
	OrderNo       string           `json:"orderNo"`
	OrderStatus   string           `json:"orderStatus"`
	PaymentID     string           `json:"paymentId,omitempty"`
	PaymentStatus string           `json:"paymentStatus,omitempty"`
	Method        string           `json:"method,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	UpdatedAt     *time.Time       `json:"updatedAt,omitempty"`
}

func (st *PaymentStatus) View() PaymentStatusView {
	v := PaymentStatusView{
		OrderID:       st.OrderID,
		OrderNo:       st.OrderNo,
		OrderStatus:   st.OrderStatus,
		PaymentID:     st.PaymentID.String,
		PaymentStatus: st.PaymentStatus.String,
		Method:        st.Method.String,
		Currency:      st.Currency.String,
	}
	if st.Amount.Valid {
		amount := st.Amount.Decimal
		v.Amount = &amount
	}
	if st.UpdatedAt.Valid {
		at := st.UpdatedAt.Time
		v.UpdatedAt = &at
	}
	return v
}
