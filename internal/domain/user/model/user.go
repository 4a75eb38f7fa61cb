package model

import (
	"time"

	"storefront/pkg/model"
)

const (
	RoleUser  = 0
	RoleAdmin = 1
)

const (
	StatusNormal  = 0
	StatusBanned  = 1
	StatusDeleted = 2
)

// User 用户模型，手机号验证码登录
type User struct {
	model.BaseModel
	Mobile      string     `gorm:"uniqueIndex;size:20" json:"mobile"`
	Nickname    string     `gorm:"size:64" json:"nickname"`
	Role        int        `gorm:"default:0" json:"role"`
	Status      int        `gorm:"default:0" json:"status"`
	BannedUntil *time.Time `json:"bannedUntil,omitempty"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}
