package strategy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	orderModel "storefront/internal/domain/order/model"
	"storefront/internal/domain/payment/model"
	"storefront/internal/pkg/config"
	"storefront/pkg/apperr"

	"github.com/shopspring/decimal"
	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/core/auth/verifiers"
	"github.com/wechatpay-apiv3/wechatpay-go/core/downloader"
	"github.com/wechatpay-apiv3/wechatpay-go/core/notify"
	"github.com/wechatpay-apiv3/wechatpay-go/core/option"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments/app"
	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

type WechatStrategy struct {
	client  *core.Client
	config  config.WechatPayConfig
	handler *notify.Handler
}

func NewWechatStrategy(ctx context.Context, cfg config.WechatPayConfig) (*WechatStrategy, error) {
	if cfg.MchID == "" {
		return nil, errors.New("wechat pay config missing")
	}

	// 1. 加载商户私钥
	mchPrivateKey, err := utils.LoadPrivateKey(cfg.MchPrivateKey)
	if err != nil {
		return nil, err
	}

	// 2. 初始化 Client，同时注册平台证书自动下载
	client, err := core.NewClient(ctx,
		option.WithWechatPayAutoAuthCipher(cfg.MchID, cfg.MchCertificateSerial, mchPrivateKey, cfg.APIv3Key),
	)
	if err != nil {
		return nil, err
	}

	// 3. 回调验签使用平台证书
	certVisitor := downloader.MgrInstance().GetCertificateVisitor(cfg.MchID)
	handler := notify.NewNotifyHandler(cfg.APIv3Key, verifiers.NewSHA256WithRSAVerifier(certVisitor))

	return &WechatStrategy{
		client:  client,
		config:  cfg,
		handler: handler,
	}, nil
}

func (s *WechatStrategy) Name() string {
	return model.MethodWechat
}

func (s *WechatStrategy) BuildInitiationRequest(order *orderModel.Order, payment *model.Payment) (*InitiationRequest, error) {
	if err := checkAmounts(order, payment); err != nil {
		return nil, err
	}
	if payment.Currency != "CNY" {
		return nil, apperr.Validation("wechat pay only supports CNY")
	}
	// 金额以分为单位，必须是整数分
	fen := payment.Amount.Shift(2)
	if !fen.Equal(fen.Truncate(0)) {
		return nil, apperr.Validation("amount %s has sub-cent precision", payment.Amount.String())
	}

	req := baseRequest(order, payment, "")
	req.Fields = map[string]string{
		"out_trade_no": payment.CorrelationRef,
		"total":        fen.String(),
		"description":  req.Subject,
	}
	return req, nil
}

func (s *WechatStrategy) Initiate(ctx context.Context, req *InitiationRequest) (*InitiationResult, error) {
	prepay := app.PrepayRequest{
		Appid:       core.String(s.config.AppID),
		Mchid:       core.String(s.config.MchID),
		Description: core.String(req.Fields["description"]),
		OutTradeNo:  core.String(req.Fields["out_trade_no"]),
		NotifyUrl:   core.String(s.config.NotifyURL),
		Amount: &app.Amount{
			Total:    core.Int64(req.Amount.Shift(2).IntPart()),
			Currency: core.String(req.Currency),
		},
	}

	svc := app.AppApiService{Client: s.client}
	resp, _, err := svc.Prepay(ctx, prepay)
	if err != nil {
		return nil, classifyWechatError(err)
	}
	return prepayResult(resp)
}

// prepayResult 2xx 但缺少 prepay_id 时无法确认是否受理，按结果未知处理
func prepayResult(resp *app.PrepayResponse) (*InitiationResult, error) {
	if resp == nil || resp.PrepayId == nil || *resp.PrepayId == "" {
		return nil, apperr.UpstreamTimeout(errors.New("wechat prepay response has no prepay_id"))
	}
	return &InitiationResult{PayParams: *resp.PrepayId}, nil
}

// classifyWechatError 微信返回 4xx 业务错误才算明确拒绝，网络错误和 5xx 结果未知
func classifyWechatError(err error) error {
	var apiErr *core.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return fmt.Errorf("%w: %s %s", ErrGatewayRejected, apiErr.Code, apiErr.Message)
	}
	return apperr.UpstreamTimeout(err)
}

// VerifyCallback 验签并解密回调报文
func (s *WechatStrategy) VerifyCallback(ctx context.Context, raw RawCallback) (*VerifiedCallback, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(raw.Body))
	if err != nil {
		return nil, apperr.Validation("malformed wechat notification: %v", err)
	}
	req.Header = raw.Header.Clone()

	transaction := new(payments.Transaction)
	if _, err := s.handler.ParseNotifyRequest(ctx, req, transaction); err != nil {
		return nil, apperr.Signature(err)
	}
	if transaction.OutTradeNo == nil || transaction.TradeState == nil || transaction.Amount == nil || transaction.Amount.Total == nil {
		return nil, apperr.Validation("wechat notification is missing required fields")
	}

	var status CallbackStatus
	switch *transaction.TradeState {
	case "SUCCESS":
		status = CallbackPaid
	case "CLOSED", "PAYERROR", "REVOKED":
		status = CallbackFailed
	default:
		status = CallbackPending
	}

	v := &VerifiedCallback{
		Gateway:       s.Name(),
		Reference:     *transaction.OutTradeNo,
		Status:        status,
		Amount:        decimal.New(*transaction.Amount.Total, -2),
		PaymentMethod: "wechat",
		Fields: map[string]string{
			"out_trade_no": *transaction.OutTradeNo,
			"trade_state":  *transaction.TradeState,
			"total":        decimal.NewFromInt(*transaction.Amount.Total).String(),
		},
	}
	if transaction.Amount.Currency != nil {
		v.Currency = *transaction.Amount.Currency
		v.Fields["currency"] = v.Currency
	}
	if transaction.TransactionId != nil {
		v.ExternalTxnRef = *transaction.TransactionId
		v.Fields["transaction_id"] = v.ExternalTxnRef
	}
	return v, nil
}

// Ack 2xx 表示成功，其余状态码微信会重试
func (s *WechatStrategy) Ack(processed bool) AckResponse {
	if processed {
		return AckResponse{Status: http.StatusOK, ContentType: "application/json", Body: []byte(`{"code":"SUCCESS"}`)}
	}
	return AckResponse{Status: http.StatusInternalServerError, ContentType: "application/json", Body: []byte(`{"code":"FAIL","message":"retry"}`)}
}

var _ Gateway = (*WechatStrategy)(nil)
