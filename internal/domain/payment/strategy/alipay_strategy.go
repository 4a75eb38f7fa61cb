package strategy

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	orderModel "storefront/internal/domain/order/model"
	"storefront/internal/domain/payment/model"
	"storefront/internal/pkg/config"
	"storefront/pkg/apperr"

	"github.com/shopspring/decimal"
	"github.com/smartwalle/alipay/v3"
)

type AlipayStrategy struct {
	client *alipay.Client
	config config.AlipayConfig
}

func NewAlipayStrategy(cfg config.AlipayConfig) (*AlipayStrategy, error) {
	if cfg.AppID == "" {
		return nil, errors.New("alipay config missing")
	}

	client, err := alipay.New(cfg.AppID, cfg.PrivateKey, cfg.IsProduction)
	if err != nil {
		return nil, err
	}

	// 加载支付宝公钥 (用于验证签名)
	if err = client.LoadAliPayPublicKey(cfg.PublicKey); err != nil {
		return nil, err
	}

	return &AlipayStrategy{
		client: client,
		config: cfg,
	}, nil
}

func (s *AlipayStrategy) Name() string {
	return model.MethodAlipay
}

func (s *AlipayStrategy) BuildInitiationRequest(order *orderModel.Order, payment *model.Payment) (*InitiationRequest, error) {
	if err := checkAmounts(order, payment); err != nil {
		return nil, err
	}
	if payment.Currency != "CNY" {
		return nil, apperr.Validation("alipay only supports CNY")
	}

	req := baseRequest(order, payment, s.config.ReturnURL)
	req.Fields = map[string]string{
		"out_trade_no": payment.CorrelationRef,
		"total_amount": payment.Amount.StringFixed(2),
		"subject":      req.Subject,
		"notify_url":   s.config.NotifyURL,
		"product_code": "QUICK_MSECURITY_PAY", // App支付产品码
	}
	return req, nil
}

// Initiate 生成 App 支付参数，本地签名，不访问网络
func (s *AlipayStrategy) Initiate(ctx context.Context, req *InitiationRequest) (*InitiationResult, error) {
	p := alipay.TradeAppPay{}
	p.NotifyURL = req.Fields["notify_url"]
	p.Subject = req.Fields["subject"]
	p.OutTradeNo = req.Fields["out_trade_no"]
	p.TotalAmount = req.Fields["total_amount"]
	p.ProductCode = req.Fields["product_code"]

	result, err := s.client.TradeAppPay(p)
	if err != nil {
		return nil, err
	}
	return &InitiationResult{PayParams: result}, nil
}

// VerifyCallback 支付宝异步通知为表单格式
func (s *AlipayStrategy) VerifyCallback(ctx context.Context, raw RawCallback) (*VerifiedCallback, error) {
	values, err := url.ParseQuery(string(raw.Body))
	if err != nil {
		return nil, apperr.Validation("malformed alipay notification: %v", err)
	}

	noti, err := s.client.DecodeNotification(values)
	if err != nil {
		return nil, apperr.Signature(err)
	}

	var status CallbackStatus
	switch noti.TradeStatus {
	case alipay.TradeStatusSuccess, alipay.TradeStatusFinished:
		status = CallbackPaid
	case alipay.TradeStatusClosed:
		status = CallbackFailed
	default:
		status = CallbackPending
	}

	amount, err := decimal.NewFromString(noti.TotalAmount)
	if err != nil {
		return nil, apperr.Validation("invalid alipay amount %q", noti.TotalAmount)
	}

	fields := make(map[string]string, len(values))
	for k := range values {
		if k != "sign" && k != "sign_type" {
			fields[k] = values.Get(k)
		}
	}

	return &VerifiedCallback{
		Gateway:        s.Name(),
		Reference:      noti.OutTradeNo,
		Status:         status,
		Amount:         amount,
		Currency:       "CNY",
		ExternalTxnRef: noti.TradeNo,
		PaymentMethod:  "alipay",
		Fields:         fields,
	}, nil
}

// Ack 支付宝只认 "success"，其他内容会触发重试
func (s *AlipayStrategy) Ack(processed bool) AckResponse {
	if processed {
		return AckResponse{Status: http.StatusOK, ContentType: "text/plain", Body: []byte("success")}
	}
	return AckResponse{Status: http.StatusOK, ContentType: "text/plain", Body: []byte("fail")}
}

var _ Gateway = (*AlipayStrategy)(nil)
