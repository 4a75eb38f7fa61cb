package model

import (
	"time"

	"storefront/pkg/model"

	"github.com/shopspring/decimal"
)

const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusConfirmed = "confirmed"
	StatusShipped   = "shipped"
	StatusDelivered = "delivered"
	StatusCancelled = "cancelled"
)

// Order 订单，UserID 为空表示游客订单
type Order struct {
	model.BaseModel
	OrderNo         string          `gorm:"uniqueIndex;size:32;not null" json:"orderNo"`
	UserID          *string         `gorm:"type:uuid;index" json:"userId,omitempty"`
	Status          string          `gorm:"size:16;not null;index" json:"status"`
	Total           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total"`
	Currency        string          `gorm:"size:3;not null" json:"currency"`
	CustomerName    string          `gorm:"size:128" json:"customerName"`
	CustomerEmail   string          `gorm:"size:255" json:"customerEmail"`
	CustomerMobile  string          `gorm:"size:20" json:"customerMobile"`
	ShippingAddress string          `gorm:"size:512" json:"shippingAddress"`
	Items           []OrderItem     `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	CancelledAt     *time.Time      `json:"cancelledAt,omitempty"`
}

// OrderItem 订单行，价格为下单时的快照
type OrderItem struct {
	model.BaseModel
	OrderID     string          `gorm:"type:uuid;index;not null" json:"orderId"`
	ProductID   string          `gorm:"type:uuid;not null" json:"productId"`
	ProductName string          `gorm:"size:255" json:"productName"`
	Quantity    int             `gorm:"not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unitPrice"`
	Subtotal    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"subtotal"`
}

// IsGuest 是否游客订单
func (o *Order) IsGuest() bool {
	return o.UserID == nil
}

// OwnedBy 订单是否属于该用户
func (o *Order) OwnedBy(userID string) bool {
	return o.UserID != nil && *o.UserID == userID
}
