package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CallbackLog 已验签且能匹配到支付记录的回调，同一网关同一内容只记一次
type CallbackLog struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	Gateway        string          `gorm:"size:16;not null;uniqueIndex:idx_callback_logs_digest" json:"gateway"`
	Digest         string          `gorm:"size:64;not null;uniqueIndex:idx_callback_logs_digest" json:"digest"`
	PaymentID      string          `gorm:"type:uuid;not null;index" json:"paymentId"`
	CorrelationRef string          `gorm:"size:64;not null" json:"correlationRef"`
	ClaimedStatus  string          `gorm:"size:16" json:"claimedStatus"`
	ClaimedAmount  decimal.Decimal `gorm:"type:numeric(12,2)" json:"claimedAmount"`
	ExternalTxnRef string          `gorm:"size:128" json:"externalTxnRef"`
	Result         string          `gorm:"size:32" json:"result"`
	RemoteIP       string          `gorm:"size:64" json:"remoteIp"`
	Payload        string          `gorm:"type:text" json:"-"`
	CreatedAt      time.Time       `json:"createdAt"`
}
