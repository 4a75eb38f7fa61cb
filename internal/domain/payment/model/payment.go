package model

import (
	"time"

	"storefront/pkg/model"

	"github.com/shopspring/decimal"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const (
	MethodHosted = "hosted"
	MethodAlipay = "alipay"
	MethodWechat = "wechat"
	MethodCOD    = "cod" // 货到付款，由管理员结算
)

// Payment 一次支付尝试，同一订单同时最多一条 pending
type Payment struct {
	model.BaseModel
	OrderID        string           `gorm:"type:uuid;not null;index;uniqueIndex:idx_payments_order_pending,where:status = 'pending'" json:"orderId"`
	Method         string           `gorm:"size:16;not null" json:"method"`
	Gateway        string           `gorm:"size:16" json:"gateway"`
	Amount         decimal.Decimal  `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency       string           `gorm:"size:3;not null" json:"currency"`
	Status         string           `gorm:"size:16;not null;index" json:"status"`
	CorrelationRef string           `gorm:"size:64;not null;uniqueIndex" json:"correlationRef"`
	ExternalTxnRef *string          `gorm:"size:128" json:"externalTxnRef,omitempty"`
	PaidAmount     *decimal.Decimal `gorm:"type:numeric(12,2)" json:"paidAmount,omitempty"`
	FailureReason  string           `gorm:"size:255" json:"failureReason,omitempty"`
	FinalizedAt    *time.Time       `json:"finalizedAt,omitempty"`
}

func (p *Payment) IsTerminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

// Outcome 写入支付记录的终态结果
type Outcome struct {
	Status         string
	ExternalTxnRef string
	PaidAmount     *decimal.Decimal
	FailureReason  string
}

// OutcomeOf 已终态记录对应的结果
func OutcomeOf(p *Payment) Outcome {
	o := Outcome{Status: p.Status, PaidAmount: p.PaidAmount, FailureReason: p.FailureReason}
	if p.ExternalTxnRef != nil {
		o.ExternalTxnRef = *p.ExternalTxnRef
	}
	return o
}
