// internal/storage/models/position.go
package models

import (
	"time"

	"github.com/rovshanmuradov/solana-autosell/internal/position"
)

// Position is the persisted row of a monitored position.
type Position struct {
	ID        string `gorm:"primaryKey;type:varchar(64)"`
	OwnerID   string `gorm:"index;not null;type:varchar(64)"`
	WalletRef string `gorm:"not null;type:varchar(64)"`
	TokenID   string `gorm:"index;not null;type:varchar(44)"`

	AmountTokens         float64 `gorm:"type:numeric(38,12);not null"`
	OriginalAmountTokens float64 `gorm:"type:numeric(38,12);not null"`
	TotalSoldTokens      float64 `gorm:"type:numeric(38,12);not null;default:0"`
	AverageSellPrice     float64 `gorm:"type:numeric(38,18);not null;default:0"`
	TotalReceived        float64 `gorm:"type:numeric(38,12);not null;default:0"`

	EntryPrice         float64 `gorm:"type:numeric(38,18);not null"`
	OriginalEntryPrice float64 `gorm:"type:numeric(38,18);not null"`
	CurrentPrice       float64 `gorm:"type:numeric(38,18)"`
	HighPriceSeen      float64 `gorm:"type:numeric(38,18)"`
	LowPriceSeen       float64 `gorm:"type:numeric(38,18)"`
	PnLPercent         float64 `gorm:"column:pnl_percent;type:numeric(20,6)"`

	Status            string     `gorm:"index;not null;type:varchar(20)"`
	PartialSellsCount int        `gorm:"not null;default:0"`
	OpenedAt          time.Time  `gorm:"index;not null"`
	ClosedAt          *time.Time `gorm:"index"`
	ExitReason        string     `gorm:"type:varchar(64)"`

	LastSellSignature string  `gorm:"type:varchar(88)"`
	LastSellReceived  float64 `gorm:"type:numeric(38,12)"`

	Timestamps
}

func (Position) TableName() string { return "positions" }

// ToDomain converts the row into the engine model.
func (m *Position) ToDomain() *position.Position {
	return &position.Position{
		ID:                   m.ID,
		OwnerID:              m.OwnerID,
		WalletRef:            m.WalletRef,
		TokenID:              m.TokenID,
		AmountTokens:         m.AmountTokens,
		OriginalAmountTokens: m.OriginalAmountTokens,
		TotalSoldTokens:      m.TotalSoldTokens,
		AverageSellPrice:     m.AverageSellPrice,
		TotalReceived:        m.TotalReceived,
		EntryPrice:           m.EntryPrice,
		OriginalEntryPrice:   m.OriginalEntryPrice,
		CurrentPrice:         m.CurrentPrice,
		HighPriceSeen:        m.HighPriceSeen,
		LowPriceSeen:         m.LowPriceSeen,
		PnLPercent:           m.PnLPercent,
		Status:               position.Status(m.Status),
		PartialSellsCount:    m.PartialSellsCount,
		OpenedAt:             m.OpenedAt,
		ClosedAt:             m.ClosedAt,
		ExitReason:           m.ExitReason,
		LastSellSignature:    m.LastSellSignature,
		LastSellReceived:     m.LastSellReceived,
	}
}

// PositionFromDomain builds a row from the engine model.
func PositionFromDomain(p *position.Position) *Position {
	return &Position{
		ID:                   p.ID,
		OwnerID:              p.OwnerID,
		WalletRef:            p.WalletRef,
		TokenID:              p.TokenID,
		AmountTokens:         p.AmountTokens,
		OriginalAmountTokens: p.OriginalAmountTokens,
		TotalSoldTokens:      p.TotalSoldTokens,
		AverageSellPrice:     p.AverageSellPrice,
		TotalReceived:        p.TotalReceived,
		EntryPrice:           p.EntryPrice,
		OriginalEntryPrice:   p.OriginalEntryPrice,
		CurrentPrice:         p.CurrentPrice,
		HighPriceSeen:        p.HighPriceSeen,
		LowPriceSeen:         p.LowPriceSeen,
		PnLPercent:           p.PnLPercent,
		Status:               string(p.Status),
		PartialSellsCount:    p.PartialSellsCount,
		OpenedAt:             p.OpenedAt,
		ClosedAt:             p.ClosedAt,
		ExitReason:           p.ExitReason,
		LastSellSignature:    p.LastSellSignature,
		LastSellReceived:     p.LastSellReceived,
	}
}
