// internal/storage/models/owner.go
package models

import "github.com/rovshanmuradov/solana-autosell/internal/position"

// OwnerSettings holds the exit rules of one owner. NULL columns fall back to
// the engine defaults.
type OwnerSettings struct {
	OwnerID                        string   `gorm:"primaryKey;type:varchar(64)"`
	AutoSellEnabled                *bool    `gorm:"column:auto_sell_enabled"`
	TakeProfitPct                  *float64 `gorm:"type:numeric(10,4)"`
	StopLossPct                    *float64 `gorm:"type:numeric(10,4)"`
	TrailingStopEnabled            *bool
	TrailingStopPct                *float64 `gorm:"type:numeric(10,4)"`
	CheckIntervalSeconds           *int
	MaxPositionAgeHours            *float64 `gorm:"type:numeric(10,4)"`
	SellPercentInitial             *float64 `gorm:"type:numeric(10,4)"`
	SellPercentRemaining           *float64 `gorm:"type:numeric(10,4)"`
	RemainingPositionTakeProfitPct *float64 `gorm:"type:numeric(10,4)"`
	RemainingPositionStopLossPct   *float64 `gorm:"type:numeric(10,4)"`
	RemainingPositionDrawdownPct   *float64 `gorm:"type:numeric(10,4)"`
	SlippageBps                    *int
	ForceExitOnMaxAge              *bool

	Timestamps
}

func (OwnerSettings) TableName() string { return "owner_settings" }

func (m *OwnerSettings) ToDomain() position.OwnerSettings {
	return position.OwnerSettings{
		OwnerID:                        m.OwnerID,
		AutoSellEnabled:                m.AutoSellEnabled,
		TakeProfitPct:                  m.TakeProfitPct,
		StopLossPct:                    m.StopLossPct,
		TrailingStopEnabled:            m.TrailingStopEnabled,
		TrailingStopPct:                m.TrailingStopPct,
		CheckIntervalSeconds:           m.CheckIntervalSeconds,
		MaxPositionAgeHours:            m.MaxPositionAgeHours,
		SellPercentInitial:             m.SellPercentInitial,
		SellPercentRemaining:           m.SellPercentRemaining,
		RemainingPositionTakeProfitPct: m.RemainingPositionTakeProfitPct,
		RemainingPositionStopLossPct:   m.RemainingPositionStopLossPct,
		RemainingPositionDrawdownPct:   m.RemainingPositionDrawdownPct,
		SlippageBps:                    m.SlippageBps,
		ForceExitOnMaxAge:              m.ForceExitOnMaxAge,
	}
}
