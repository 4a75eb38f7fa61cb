package model

import (
	"storefront/pkg/model"

	"github.com/shopspring/decimal"
)

// Product 商品，下单时以此处价格和库存为准
type Product struct {
	model.BaseModel
	SKU    string          `gorm:"uniqueIndex;size:64;not null" json:"sku"`
	Name   string          `gorm:"size:255;not null" json:"name"`
	Price  decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Stock  int             `gorm:"not null" json:"stock"`
	Active bool            `gorm:"not null" json:"active"`
}
