package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"

	orderModel "storefront/internal/domain/order/model"
	"storefront/internal/domain/payment/model"
	"storefront/pkg/apperr"

	"github.com/shopspring/decimal"
)

// CallbackStatus 网关回调声明的支付状态
type CallbackStatus string

const (
	CallbackPaid    CallbackStatus = "PAID"
	CallbackPending CallbackStatus = "PENDING"
	CallbackFailed  CallbackStatus = "FAILED"
)

// InitiationRequest 发给网关的支付请求
type InitiationRequest struct {
	PaymentID   string
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	Subject     string
	BuyerName   string
	BuyerEmail  string
	BuyerMobile string
	RedirectURL string
	// Fields 网关线上格式 (已签名)
	Fields map[string]string
}

// InitiationResult 网关返回的支付参数
type InitiationResult struct {
	PaymentURL     string `json:"paymentUrl,omitempty"` // 跳转收银台
	PayParams      string `json:"payParams,omitempty"`  // App 支付参数
	ExternalTxnRef string `json:"externalTxnRef,omitempty"`
}

// RawCallback 原始回调请求
type RawCallback struct {
	Body     []byte
	Header   http.Header
	RemoteIP string
}

// VerifiedCallback 验签通过的回调内容
type VerifiedCallback struct {
	Gateway        string
	Reference      string
	Status         CallbackStatus
	Amount         decimal.Decimal
	Currency       string // 网关未提供时为空
	ExternalTxnRef string
	PaymentMethod  string
	Fields         map[string]string
}

// Canonical 按 key 排序后的 JSON，用于去重摘要和归档
func (v *VerifiedCallback) Canonical() []byte {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([][2]string, len(keys))
	for i, k := range keys {
		ordered[i] = [2]string{k, v.Fields[k]}
	}
	b, _ := json.Marshal(ordered)
	return b
}

// Digest 回调内容摘要
func (v *VerifiedCallback) Digest() string {
	sum := sha256.Sum256(append([]byte(v.Gateway+"\n"), v.Canonical()...))
	return hex.EncodeToString(sum[:])
}

// AckResponse 回给网关的应答
type AckResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// Gateway 支付网关
type Gateway interface {
	Name() string
	// BuildInitiationRequest 金额和币种必须与支付记录、订单完全一致
	BuildInitiationRequest(order *orderModel.Order, payment *model.Payment) (*InitiationRequest, error)
	Initiate(ctx context.Context, req *InitiationRequest) (*InitiationResult, error)
	// VerifyCallback 验签失败返回 apperr.KindSignature，不得有任何副作用
	VerifyCallback(ctx context.Context, raw RawCallback) (*VerifiedCallback, error)
	Ack(processed bool) AckResponse
}

// StatusQuerier 支持主动查询交易状态的网关
type StatusQuerier interface {
	QueryStatus(ctx context.Context, payment *model.Payment) (*VerifiedCallback, error)
}

// checkAmounts 支付记录必须与订单金额币种一致
func checkAmounts(order *orderModel.Order, payment *model.Payment) error {
	if payment.OrderID != order.ID {
		return apperr.Validation("payment does not belong to order %s", order.ID)
	}
	if !payment.Amount.Equal(order.Total) {
		return apperr.Validation("payment amount %s does not match order total %s",
			payment.Amount.StringFixed(2), order.Total.StringFixed(2))
	}
	if payment.Currency != order.Currency {
		return apperr.Validation("payment currency %s does not match order currency %s", payment.Currency, order.Currency)
	}
	return nil
}

func baseRequest(order *orderModel.Order, payment *model.Payment, redirectURL string) *InitiationRequest {
	return &InitiationRequest{
		PaymentID:   payment.ID,
		Reference:   payment.CorrelationRef,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Subject:     "Order " + order.OrderNo,
		BuyerName:   order.CustomerName,
		BuyerEmail:  order.CustomerEmail,
		BuyerMobile: order.CustomerMobile,
		RedirectURL: redirectURL,
	}
}
