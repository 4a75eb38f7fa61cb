package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	orderModel "storefront/internal/domain/order/model"
	"storefront/internal/domain/payment/model"
	"storefront/internal/pkg/config"
	"storefront/pkg/apperr"

	"github.com/shopspring/decimal"
)

// ErrGatewayRejected 网关明确拒绝了支付请求 (4xx)，支付一定没有被受理
var ErrGatewayRejected = errors.New("payment gateway rejected the request")

// HostedStrategy 托管收银台网关，表单提交，HMAC 共享密钥签名
type HostedStrategy struct {
	cfg         config.HostedConfig
	redirectURL string
	client      *http.Client
	now         func() time.Time
}

func NewHostedStrategy(cfg config.HostedConfig, redirectURL string, timeout time.Duration) (*HostedStrategy, error) {
	if cfg.Endpoint == "" || cfg.MerchantID == "" || cfg.Secret == "" {
		return nil, errors.New("hosted gateway config missing")
	}
	return &HostedStrategy{
		cfg:         cfg,
		redirectURL: redirectURL,
		client:      &http.Client{Timeout: timeout},
		now:         time.Now,
	}, nil
}

func (s *HostedStrategy) Name() string {
	return model.MethodHosted
}

func (s *HostedStrategy) BuildInitiationRequest(order *orderModel.Order, payment *model.Payment) (*InitiationRequest, error) {
	if err := checkAmounts(order, payment); err != nil {
		return nil, err
	}

	req := baseRequest(order, payment, s.redirectURL)
	req.Fields = map[string]string{
		"merchant_id":     s.cfg.MerchantID,
		"amount":          payment.Amount.StringFixed(2),
		"currency":        payment.Currency,
		"payment_options": strings.Join(s.cfg.PaymentOptions, ","),
		"buyer_name":      safeValue(order.CustomerName),
		"buyer_email":     safeValue(order.CustomerEmail),
		"buyer_mobile":    safeValue(order.CustomerMobile),
		"redirect_url":    s.redirectURL,
		"reference":       payment.CorrelationRef,
	}
	req.Fields[signatureField] = Sign(s.cfg.Secret, req.Fields)
	return req, nil
}

type hostedInitiationResponse struct {
	PaymentURL string `json:"payment_url"`
	TxnCode    string `json:"txn_code"`
}

// Initiate 超时或网络错误返回 UpstreamTimeout，此时无法确定网关是否已受理
func (s *HostedStrategy) Initiate(ctx context.Context, req *InitiationRequest) (*InitiationResult, error) {
	form := url.Values{}
	for k, v := range req.Fields {
		form.Set(k, v)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, apperr.UpstreamTimeout(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.UpstreamTimeout(err)
	}
	// 只有 4xx 是明确拒绝，其余非预期响应都视为受理结果未知
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrGatewayRejected, resp.StatusCode, truncate(body, 200))
	}
	if resp.StatusCode >= 300 {
		return nil, apperr.UpstreamTimeout(fmt.Errorf("gateway status %d", resp.StatusCode))
	}

	var out hostedInitiationResponse
	if err := json.Unmarshal(body, &out); err != nil || out.PaymentURL == "" {
		return nil, apperr.UpstreamTimeout(fmt.Errorf("unreadable gateway response: %s", truncate(body, 200)))
	}
	return &InitiationResult{PaymentURL: out.PaymentURL, ExternalTxnRef: out.TxnCode}, nil
}

// VerifyCallback 支持 JSON 和表单两种格式
func (s *HostedStrategy) VerifyCallback(ctx context.Context, raw RawCallback) (*VerifiedCallback, error) {
	fields, err := parseFields(raw)
	if err != nil {
		return nil, apperr.Validation("malformed callback payload: %v", err)
	}
	return s.verifyFields(fields)
}

func (s *HostedStrategy) verifyFields(fields map[string]string) (*VerifiedCallback, error) {
	if err := VerifySignature(s.cfg.Secret, fields); err != nil {
		return nil, apperr.Signature(err)
	}

	ref := fields["reference"]
	if ref == "" {
		return nil, apperr.Validation("callback reference is missing")
	}

	status := CallbackStatus(strings.ToUpper(fields["status"]))
	switch status {
	case CallbackPaid, CallbackPending, CallbackFailed:
	default:
		return nil, apperr.Validation("unknown callback status %q", fields["status"])
	}

	amount, err := decimal.NewFromString(fields["amount"])
	if err != nil {
		return nil, apperr.Validation("invalid callback amount %q", fields["amount"])
	}

	verified := make(map[string]string, len(fields))
	for k, v := range fields {
		if k != signatureField {
			verified[k] = v
		}
	}

	return &VerifiedCallback{
		Gateway:        s.Name(),
		Reference:      ref,
		Status:         status,
		Amount:         amount,
		Currency:       fields["currency"],
		ExternalTxnRef: fields["txn_code"],
		PaymentMethod:  fields["payment_method"],
		Fields:         verified,
	}, nil
}

func (s *HostedStrategy) Ack(processed bool) AckResponse {
	if processed {
		return AckResponse{Status: http.StatusOK, ContentType: "application/json", Body: []byte(`{"status":"OK"}`)}
	}
	return AckResponse{Status: http.StatusInternalServerError, ContentType: "application/json", Body: []byte(`{"status":"RETRY"}`)}
}

// QueryStatus 主动查询交易状态，响应与回调使用同样的签名规则
func (s *HostedStrategy) QueryStatus(ctx context.Context, payment *model.Payment) (*VerifiedCallback, error) {
	if s.cfg.StatusEndpoint == "" {
		return nil, apperr.Validation("hosted gateway status endpoint is not configured")
	}

	params := map[string]string{
		"merchant_id": s.cfg.MerchantID,
		"reference":   payment.CorrelationRef,
		"timestamp":   strconv.FormatInt(s.now().Unix(), 10),
	}
	params[signatureField] = Sign(s.cfg.Secret, params)

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.StatusEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, apperr.UpstreamTimeout(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.UpstreamTimeout(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.UpstreamTimeout(fmt.Errorf("gateway status %d", resp.StatusCode))
	}

	fields, err := parseFields(RawCallback{Body: body, Header: resp.Header})
	if err != nil {
		return nil, apperr.Validation("malformed status response: %v", err)
	}
	v, err := s.verifyFields(fields)
	if err != nil {
		return nil, err
	}
	if v.Reference != payment.CorrelationRef {
		return nil, apperr.Validation("status response is for reference %s", v.Reference)
	}
	return v, nil
}

// parseFields 把回调内容解析为扁平的字符串字段
func parseFields(raw RawCallback) (map[string]string, error) {
	body := bytes.TrimSpace(raw.Body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}

	mediaType, _, _ := mime.ParseMediaType(raw.Header.Get("Content-Type"))
	if mediaType == "application/json" || (mediaType == "" && body[0] == '{') {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var m map[string]interface{}
		if err := dec.Decode(&m); err != nil {
			return nil, err
		}
		fields := make(map[string]string, len(m))
		for k, v := range m {
			switch val := v.(type) {
			case nil:
				fields[k] = ""
			case string:
				fields[k] = val
			case json.Number:
				fields[k] = val.String()
			case bool:
				fields[k] = strconv.FormatBool(val)
			default:
				return nil, fmt.Errorf("field %s is not a scalar", k)
			}
		}
		return fields, nil
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}
	return fields, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

var (
	_ Gateway       = (*HostedStrategy)(nil)
	_ StatusQuerier = (*HostedStrategy)(nil)
)
