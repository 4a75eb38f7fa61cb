package model

import (
	"time"

	"storefront/pkg/model"
)

const (
	DiscrepancyAmountMismatch   = "amount_mismatch"
	DiscrepancyCurrencyMismatch = "currency_mismatch"
	DiscrepancyOrderNotPayable  = "order_not_payable"
	DiscrepancyPaidAfterFailure = "paid_after_failure" // 已判定失败的支付事后被网关确认成功
)

// Discrepancy 支付结果与订单或网关确认不一致，等待人工对账
// 同一支付的同类差异只记录一次
type Discrepancy struct {
	model.BaseModel
	PaymentID  string     `gorm:"type:uuid;not null;index;uniqueIndex:idx_discrepancies_payment_kind" json:"paymentId"`
	OrderID    string     `gorm:"type:uuid;not null;index" json:"orderId"`
	Kind       string     `gorm:"size:32;not null;uniqueIndex:idx_discrepancies_payment_kind" json:"kind"`
	Expected   string     `gorm:"size:64" json:"expected"`
	Actual     string     `gorm:"size:64" json:"actual"`
	Detail     string     `gorm:"size:512" json:"detail"`
	ResolvedAt *time.Time `gorm:"index" json:"resolvedAt,omitempty"`
	ResolvedBy string     `gorm:"size:64" json:"resolvedBy,omitempty"`
	Note       string     `gorm:"size:512" json:"note,omitempty"`
}
