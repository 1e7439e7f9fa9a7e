package infrastructure

import (
	"database/sql"
	"time"
)

// OrderModel 对应数据库中的 topup_orders 表
type OrderModel struct {
	ID                string         `gorm:"primaryKey;size:36"`
	RecipientRef      string         `gorm:"size:64"`
	TargetAccount     string         `gorm:"size:20;not null"`
	Provider          string         `gorm:"size:32;not null"`
	Denomination      string         `gorm:"size:16;not null"`
	Amount            int64          `gorm:"not null"`
	PaymentMethod     string         `gorm:"size:32;not null"`
	PaymentStatus     string         `gorm:"size:16;not null;index:idx_status,priority:1"`
	FulfillmentStatus string         `gorm:"size:16;not null;index:idx_status,priority:2"`
	CheckoutReference string         `gorm:"size:255;not null"`
	FulfillmentProof  sql.NullString `gorm:"size:128"`
	CreatedAt         time.Time      `gorm:"index"`
	UpdatedAt         time.Time
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "topup_orders"
}
