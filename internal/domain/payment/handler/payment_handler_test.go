package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront/internal/domain/payment/model"
	"storefront/internal/domain/payment/service"
	"storefront/internal/domain/payment/strategy"
	"storefront/internal/pkg/config"
	"storefront/internal/pkg/middleware"
	"storefront/pkg/apperr"
	"storefront/pkg/response"
	"storefront/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) Initiate(ctx context.Context, orderID string, input service.InitiateInput, viewer service.Viewer) (*service.InitiationOutcome, error) {
	args := m.Called(ctx, orderID, input, viewer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.InitiationOutcome), args.Error(1)
}

func (m *MockPaymentService) GetPayment(ctx context.Context, paymentID string) (*model.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockPaymentService) ListDiscrepancies(ctx context.Context, unresolvedOnly bool, p utils.Pagination) (*utils.PageResult, error) {
	args := m.Called(ctx, unresolvedOnly, p)
	return args.Get(0).(*utils.PageResult), args.Error(1)
}

func (m *MockPaymentService) ResolveDiscrepancy(ctx context.Context, id, actor, note string) (*model.Discrepancy, error) {
	args := m.Called(ctx, id, actor, note)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Discrepancy), args.Error(1)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) HandleCallback(ctx context.Context, gatewayName string, raw strategy.RawCallback) (*service.Outcome, error) {
	args := m.Called(ctx, gatewayName, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Outcome), args.Error(1)
}

func (m *MockReconciler) Settle(ctx context.Context, paymentID, status, actor, reason string) (*service.Outcome, error) {
	args := m.Called(ctx, paymentID, status, actor, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Outcome), args.Error(1)
}

func (m *MockReconciler) QueryAndApply(ctx context.Context, paymentID string) (*service.Outcome, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Outcome), args.Error(1)
}

func newRouter(t *testing.T, svc *MockPaymentService, rec *MockReconciler, userID string) *gin.Engine {
	return newRouterWith(t, config.ServerConfig{}, svc, rec, userID)
}

func newRouterWith(t *testing.T, server config.ServerConfig, svc *MockPaymentService, rec *MockReconciler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	hosted, err := strategy.NewHostedStrategy(config.HostedConfig{
		Endpoint: "http://gateway.invalid", MerchantID: "M1", Secret: "s3cret",
	}, "", time.Second)
	require.NoError(t, err)

	h := NewPaymentHandler(svc, rec, service.NewGateways(hosted))
	r, err := middleware.NewEngine(server)
	require.NoError(t, err)
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set("userID", userID)
			c.Set("role", 1)
		}
		c.Next()
	})
	r.POST("/", h.HostedCallback)
	r.POST("/payments/callback/:gateway", h.Callback)
	r.POST("/orders/:id/payments", h.Initiate)
	r.POST("/admin/payments/:id/settle", h.Settle)
	r.POST("/admin/discrepancies/:id/resolve", h.ResolveDiscrepancy)
	return r
}

func post(r http.Handler, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCallback(t *testing.T) {
	body := []byte(`{"reference":"R1"}`)
	withBody := mock.MatchedBy(func(raw strategy.RawCallback) bool {
		return bytes.Equal(raw.Body, body) && raw.RemoteIP != ""
	})

	t.Run("Processed callback gets gateway ack", func(t *testing.T) {
		rec := new(MockReconciler)
		rec.On("HandleCallback", mock.Anything, "hosted", withBody).
			Return(&service.Outcome{Result: service.ResultApplied}, nil)

		w := post(newRouter(t, new(MockPaymentService), rec, ""), "/", body)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"OK"}`, w.Body.String())
		rec.AssertExpectations(t)
	})

	t.Run("Unknown reference is still acknowledged", func(t *testing.T) {
		rec := new(MockReconciler)
		rec.On("HandleCallback", mock.Anything, "hosted", withBody).
			Return(&service.Outcome{Result: service.ResultUnknownReference}, nil)

		w := post(newRouter(t, new(MockPaymentService), rec, ""), "/payments/callback/hosted", body)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Signature failure is a generic 401", func(t *testing.T) {
		rec := new(MockReconciler)
		rec.On("HandleCallback", mock.Anything, "hosted", withBody).
			Return(nil, apperr.Signature(assert.AnError))

		w := post(newRouter(t, new(MockPaymentService), rec, ""), "/", body)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		resp := decode(t, w)
		assert.Equal(t, response.ErrSignatureInvalid, resp.Code)
		assert.Equal(t, "invalid callback", resp.Message)
	})

	t.Run("Blocked source gets 429 with Retry-After", func(t *testing.T) {
		rec := new(MockReconciler)
		rec.On("HandleCallback", mock.Anything, "hosted", withBody).
			Return(nil, apperr.Locked(90*time.Second))

		w := post(newRouter(t, new(MockPaymentService), rec, ""), "/", body)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "90", w.Header().Get("Retry-After"))
	})

	t.Run("Internal failure asks gateway to retry", func(t *testing.T) {
		rec := new(MockReconciler)
		rec.On("HandleCallback", mock.Anything, "hosted", withBody).
			Return(nil, apperr.Internal(assert.AnError))

		w := post(newRouter(t, new(MockPaymentService), rec, ""), "/", body)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"status":"RETRY"}`, w.Body.String())
	})

	t.Run("Forwarded header cannot pick the locked address", func(t *testing.T) {
		rec := new(MockReconciler)
		rec.On("HandleCallback", mock.Anything, "hosted", mock.MatchedBy(func(raw strategy.RawCallback) bool {
			return raw.RemoteIP == "203.0.113.66"
		})).Return(nil, apperr.Signature(assert.AnError)).Times(3)

		r := newRouter(t, new(MockPaymentService), rec, "")
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodPost, "/payments/callback/hosted", bytes.NewReader(body))
			req.RemoteAddr = "203.0.113.66:40000"
			req.Header.Set("X-Forwarded-For", "198.51.100.7")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		}
		rec.AssertExpectations(t)
	})

	t.Run("Forwarded header honoured behind a trusted proxy", func(t *testing.T) {
		rec := new(MockReconciler)
		rec.On("HandleCallback", mock.Anything, "hosted", mock.MatchedBy(func(raw strategy.RawCallback) bool {
			return raw.RemoteIP == "198.51.100.7"
		})).Return(&service.Outcome{Result: service.ResultApplied}, nil)

		r := newRouterWith(t, config.ServerConfig{TrustedProxies: []string{"10.0.0.0/8"}}, new(MockPaymentService), rec, "")
		req := httptest.NewRequest(http.MethodPost, "/payments/callback/hosted", bytes.NewReader(body))
		req.RemoteAddr = "10.0.0.5:40000"
		req.Header.Set("X-Forwarded-For", "198.51.100.7")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		rec.AssertExpectations(t)
	})

	t.Run("Disabled gateway", func(t *testing.T) {
		rec := new(MockReconciler)
		w := post(newRouter(t, new(MockPaymentService), rec, ""), "/payments/callback/alipay", body)

		assert.Equal(t, http.StatusNotFound, w.Code)
		rec.AssertNotCalled(t, "HandleCallback", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestInitiate(t *testing.T) {
	t.Run("Timeout returns payment id with 504", func(t *testing.T) {
		svc := new(MockPaymentService)
		payment := &model.Payment{Status: model.StatusPending, CorrelationRef: "R1"}
		payment.ID = "payment-1"
		svc.On("Initiate", mock.Anything, "order-1", service.InitiateInput{Method: "hosted"}, service.Viewer{UserID: "u1", Admin: true}).
			Return(&service.InitiationOutcome{Payment: payment}, apperr.UpstreamTimeout(context.DeadlineExceeded))

		w := post(newRouter(t, svc, new(MockReconciler), "u1"), "/orders/order-1/payments", []byte(`{"method":"hosted"}`))

		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
		resp := decode(t, w)
		assert.Equal(t, response.ErrUpstreamTimeout, resp.Code)
		data, _ := json.Marshal(resp.Data)
		assert.Contains(t, string(data), "payment-1")
	})

	t.Run("Missing method", func(t *testing.T) {
		w := post(newRouter(t, new(MockPaymentService), new(MockReconciler), ""), "/orders/order-1/payments", []byte(`{}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSettle(t *testing.T) {
	t.Run("Discrepancy surfaces as 409 with outcome", func(t *testing.T) {
		rec := new(MockReconciler)
		out := &service.Outcome{
			Result:      service.ResultDiscrepancy,
			PaymentID:   "payment-1",
			Discrepancy: &model.Discrepancy{Kind: model.DiscrepancyOrderNotPayable},
		}
		rec.On("Settle", mock.Anything, "payment-1", "completed", "admin-1", "").Return(out, nil)

		w := post(newRouter(t, new(MockPaymentService), rec, "admin-1"), "/admin/payments/payment-1/settle", []byte(`{"status":"completed"}`))

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, response.ErrPaymentMismatch, decode(t, w).Code)
	})

	t.Run("Invalid status rejected by binding", func(t *testing.T) {
		w := post(newRouter(t, new(MockPaymentService), new(MockReconciler), "admin-1"), "/admin/payments/payment-1/settle", []byte(`{"status":"paid"}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestResolveDiscrepancy(t *testing.T) {
	svc := new(MockPaymentService)
	svc.On("ResolveDiscrepancy", mock.Anything, "d1", "admin-1", "refunded").
		Return(nil, apperr.Conflict("discrepancy d1 already resolved"))

	w := post(newRouter(t, svc, new(MockReconciler), "admin-1"), "/admin/discrepancies/d1/resolve", []byte(`{"note":"refunded"}`))

	assert.Equal(t, http.StatusConflict, w.Code)
	svc.AssertExpectations(t)
}
