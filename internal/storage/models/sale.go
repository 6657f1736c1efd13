// internal/storage/models/sale.go
package models

import "time"

// Sale is one confirmed sell transaction of a position.
type Sale struct {
	Signature  string    `gorm:"primaryKey;type:varchar(88)"`
	PositionID string    `gorm:"index;not null;type:varchar(64)"`
	OwnerID    string    `gorm:"index;not null;type:varchar(64)"`
	WalletRef  string    `gorm:"not null;type:varchar(64)"`
	TokenID    string    `gorm:"not null;type:varchar(44)"`
	Kind       string    `gorm:"not null;type:varchar(20)"`
	Reason     string    `gorm:"not null;type:varchar(64)"`
	Quantity   float64   `gorm:"type:numeric(38,12);not null"`
	Price      float64   `gorm:"type:numeric(38,18);not null"`
	Received   float64   `gorm:"type:numeric(38,12)"`
	ExecutedAt time.Time `gorm:"index;not null"`
	CreatedAt  time.Time
}

func (Sale) TableName() string { return "position_sales" }
