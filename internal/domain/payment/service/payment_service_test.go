package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	orderModel "storefront/internal/domain/order/model"
	orderRepo "storefront/internal/domain/order/repository"
	"storefront/internal/domain/payment/model"
	"storefront/internal/domain/payment/repository"
	"storefront/internal/domain/payment/strategy"
	"storefront/internal/pkg/config"
	"storefront/internal/pkg/testutil"
	"storefront/pkg/apperr"
	"storefront/pkg/metrics"
	"storefront/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type svcFixture struct {
	db  *gorm.DB
	svc PaymentService
}

func setupPaymentService(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *svcFixture {
	db := testutil.NewDB(t, &orderModel.Order{}, &orderModel.OrderItem{},
		&model.Payment{}, &model.Discrepancy{}, &model.CallbackLog{})

	gateway := httptest.NewServer(handler)
	t.Cleanup(gateway.Close)

	hosted, err := strategy.NewHostedStrategy(config.HostedConfig{
		Endpoint:   gateway.URL,
		MerchantID: "M1",
		Secret:     testSecret,
	}, "https://shop.example.com/done", time.Minute)
	require.NoError(t, err)

	svc := NewPaymentService(db, repository.NewPaymentRepository(db), orderRepo.NewOrderRepository(db),
		NewGateways(hosted), timeout, metrics.NewMetricsCollector(prometheus.NewRegistry()))
	return &svcFixture{db: db, svc: svc}
}

func (f *svcFixture) order(t *testing.T, status string, userID *string) *orderModel.Order {
	o := &orderModel.Order{
		OrderNo:       "SO" + time.Now().Format("150405.000000"),
		UserID:        userID,
		Status:        status,
		Total:         decimal.RequireFromString("150.00"),
		Currency:      "CNY",
		CustomerName:  "Buyer",
		CustomerEmail: "buyer@example.com",
	}
	require.NoError(t, f.db.Create(o).Error)
	return o
}

func (f *svcFixture) payment(t *testing.T, id string) *model.Payment {
	var p model.Payment
	require.NoError(t, f.db.First(&p, "id = ?", id).Error)
	return &p
}

func okGateway() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fields := map[string]string{}
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}
		if strategy.VerifySignature(testSecret, fields) != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payment_url":"https://pay.example.com/c/` + fields["reference"] + `","txn_code":"T1"}`))
	}
}

func TestInitiate(t *testing.T) {
	ctx := context.Background()
	admin := Viewer{Admin: true}

	t.Run("Hosted gateway returns payment url", func(t *testing.T) {
		f := setupPaymentService(t, okGateway(), time.Second)
		o := f.order(t, orderModel.StatusPending, nil)

		out, err := f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "hosted", Reference: "R1-abc"}, Viewer{})

		require.NoError(t, err)
		require.NotNil(t, out.Gateway)
		assert.Equal(t, "https://pay.example.com/c/R1-abc", out.Gateway.PaymentURL)
		assert.Equal(t, model.StatusPending, out.Payment.Status)
		assert.True(t, out.Payment.Amount.Equal(o.Total))
		assert.Equal(t, "R1-abc", f.payment(t, out.Payment.ID).CorrelationRef)
	})

	t.Run("Generated reference when none supplied", func(t *testing.T) {
		f := setupPaymentService(t, okGateway(), time.Second)
		o := f.order(t, orderModel.StatusPending, nil)

		out, err := f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "hosted"}, admin)

		require.NoError(t, err)
		assert.Regexp(t, `^P\d{14}[0-9A-F]{12}$`, out.Payment.CorrelationRef)
	})

	t.Run("Gateway timeout leaves payment pending", func(t *testing.T) {
		f := setupPaymentService(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
		}, 50*time.Millisecond)
		o := f.order(t, orderModel.StatusPending, nil)

		out, err := f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "hosted"}, admin)

		assert.ErrorIs(t, err, apperr.ErrUpstreamTimeout)
		require.NotNil(t, out)
		assert.Equal(t, model.StatusPending, f.payment(t, out.Payment.ID).Status)
	})

	t.Run("Gateway rejection fails the payment", func(t *testing.T) {
		f := setupPaymentService(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"merchant disabled"}`))
		}, time.Second)
		o := f.order(t, orderModel.StatusPending, nil)

		out, err := f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "hosted"}, admin)

		assert.ErrorIs(t, err, apperr.ErrValidation)
		stored := f.payment(t, out.Payment.ID)
		assert.Equal(t, model.StatusFailed, stored.Status)
		assert.Contains(t, stored.FailureReason, "merchant disabled")

		// 失败后可以重新发起
		_, err = f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "cod"}, admin)
		assert.NoError(t, err)
	})

	t.Run("Unreadable gateway reply leaves payment pending", func(t *testing.T) {
		f := setupPaymentService(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>redirecting</html>"))
		}, time.Second)
		o := f.order(t, orderModel.StatusPending, nil)

		out, err := f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "hosted", Reference: "REFAMB1"}, admin)

		assert.ErrorIs(t, err, apperr.ErrUpstreamTimeout)
		require.NotNil(t, out)
		stored := f.payment(t, out.Payment.ID)
		assert.Equal(t, model.StatusPending, stored.Status)
		assert.Empty(t, stored.FailureReason)
	})

	t.Run("Completed payment blocks another attempt", func(t *testing.T) {
		f := setupPaymentService(t, okGateway(), time.Second)
		o := f.order(t, orderModel.StatusPending, nil)
		paid := decimal.RequireFromString("1.00")
		require.NoError(t, f.db.Create(&model.Payment{
			OrderID: o.ID, Method: "hosted", Gateway: "hosted", Amount: o.Total, Currency: "CNY",
			Status: model.StatusCompleted, CorrelationRef: "PAIDSHORT1", PaidAmount: &paid,
		}).Error)

		_, err := f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "hosted"}, admin)
		assert.ErrorIs(t, err, apperr.ErrConflict)
		_, err = f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "cod"}, admin)
		assert.ErrorIs(t, err, apperr.ErrConflict)

		var count int64
		require.NoError(t, f.db.Model(&model.Payment{}).Where("order_id = ?", o.ID).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("Open discrepancy blocks another attempt until resolved", func(t *testing.T) {
		f := setupPaymentService(t, okGateway(), time.Second)
		o := f.order(t, orderModel.StatusPending, nil)
		d := &model.Discrepancy{PaymentID: "p-failed", OrderID: o.ID, Kind: model.DiscrepancyPaidAfterFailure,
			Expected: model.StatusFailed, Actual: model.StatusCompleted}
		require.NoError(t, f.db.Create(d).Error)

		_, err := f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "cod"}, admin)
		assert.ErrorIs(t, err, apperr.ErrConflict)

		_, err = f.svc.ResolveDiscrepancy(ctx, d.ID, "admin-1", "refunded the late charge")
		require.NoError(t, err)
		_, err = f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "cod"}, admin)
		assert.NoError(t, err)
	})

	t.Run("Second pending payment conflicts", func(t *testing.T) {
		f := setupPaymentService(t, okGateway(), time.Second)
		o := f.order(t, orderModel.StatusPending, nil)

		_, err := f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "cod"}, admin)
		require.NoError(t, err)
		_, err = f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "hosted"}, admin)
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("Order not awaiting payment", func(t *testing.T) {
		f := setupPaymentService(t, okGateway(), time.Second)
		o := f.order(t, orderModel.StatusCancelled, nil)

		_, err := f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "hosted"}, admin)
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	})

	t.Run("Other user's order is hidden", func(t *testing.T) {
		f := setupPaymentService(t, okGateway(), time.Second)
		owner := "8b0e8f4e-8b7a-4a0c-9a57-1f3f6f0a0001"
		o := f.order(t, orderModel.StatusPending, &owner)

		_, err := f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "hosted"}, Viewer{UserID: "someone-else"})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("Unsupported method and malformed reference", func(t *testing.T) {
		f := setupPaymentService(t, okGateway(), time.Second)
		o := f.order(t, orderModel.StatusPending, nil)

		_, err := f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "paypal"}, admin)
		assert.ErrorIs(t, err, apperr.ErrValidation)
		_, err = f.svc.Initiate(ctx, o.ID, InitiateInput{Method: "hosted", Reference: "a b"}, admin)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
}

func TestDiscrepancies(t *testing.T) {
	ctx := context.Background()
	f := setupPaymentService(t, okGateway(), time.Second)
	d := &model.Discrepancy{PaymentID: "p1", OrderID: "o1", Kind: model.DiscrepancyAmountMismatch, Expected: "150.00", Actual: "1.00"}
	require.NoError(t, f.db.Create(d).Error)

	page, err := f.svc.ListDiscrepancies(ctx, true, utils.Pagination{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)

	_, err = f.svc.ResolveDiscrepancy(ctx, d.ID, "admin-1", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	resolved, err := f.svc.ResolveDiscrepancy(ctx, d.ID, "admin-1", "refunded via gateway console")
	require.NoError(t, err)
	assert.Equal(t, "admin-1", resolved.ResolvedBy)
	assert.NotNil(t, resolved.ResolvedAt)

	_, err = f.svc.ResolveDiscrepancy(ctx, d.ID, "admin-1", "again")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	page, err = f.svc.ListDiscrepancies(ctx, true, utils.Pagination{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(0), page.Total)
}
