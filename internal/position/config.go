// internal/position/config.go
package position

import "time"

// Defaults applied when an owner leaves a setting empty.
const (
	DefaultTakeProfitPct          = 50.0
	DefaultStopLossPct            = 30.0
	DefaultTrailingStopPct        = 20.0
	DefaultCheckIntervalSeconds   = 10
	DefaultMaxPositionAgeHours    = 24.0
	DefaultSellPercentInitial     = 90.0
	DefaultSellPercentRemaining   = 100.0
	DefaultRemainingTakeProfitPct = 100.0
	DefaultRemainingStopLossPct   = 0.0
	DefaultRemainingDrawdownPct   = 70.0
	DefaultSlippageBps            = 300
	minCheckIntervalSeconds       = 1
	maxSellPercent                = 100.0
)

// OwnerSettings is the per-owner configuration as stored. Nil fields mean
// "not set" and are filled by ApplyDefaults.
type OwnerSettings struct {
	OwnerID                        string   `json:"owner_id"`
	AutoSellEnabled                *bool    `json:"auto_sell_enabled,omitempty"`
	TakeProfitPct                  *float64 `json:"take_profit_pct,omitempty"`
	StopLossPct                    *float64 `json:"stop_loss_pct,omitempty"`
	TrailingStopEnabled            *bool    `json:"trailing_stop_enabled,omitempty"`
	TrailingStopPct                *float64 `json:"trailing_stop_pct,omitempty"`
	CheckIntervalSeconds           *int     `json:"check_interval_seconds,omitempty"`
	MaxPositionAgeHours            *float64 `json:"max_position_age_hours,omitempty"`
	SellPercentInitial             *float64 `json:"sell_percent_initial,omitempty"`
	SellPercentRemaining           *float64 `json:"sell_percent_remaining,omitempty"`
	RemainingPositionTakeProfitPct *float64 `json:"remaining_position_take_profit_pct,omitempty"`
	RemainingPositionStopLossPct   *float64 `json:"remaining_position_stop_loss_pct,omitempty"`
	RemainingPositionDrawdownPct   *float64 `json:"remaining_position_drawdown_pct,omitempty"`
	SlippageBps                    *int     `json:"slippage_bps,omitempty"`
	ForceExitOnMaxAge              *bool    `json:"force_exit_on_max_age,omitempty"`
}

// OwnerConfig is the resolved configuration the engine works with.
// A percentage threshold <= 0 disables its rule.
type OwnerConfig struct {
	OwnerID                        string
	AutoSellEnabled                bool
	TakeProfitPct                  float64
	StopLossPct                    float64
	TrailingStopEnabled            bool
	TrailingStopPct                float64
	CheckIntervalSeconds           int
	MaxPositionAgeHours            float64
	SellPercentInitial             float64
	SellPercentRemaining           float64
	RemainingPositionTakeProfitPct float64
	RemainingPositionStopLossPct   float64
	RemainingPositionDrawdownPct   float64
	SlippageBps                    int
	ForceExitOnMaxAge              bool
}

// CheckInterval returns the pause between two supervisor iterations.
func (c OwnerConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// MaxPositionAge returns the age after which monitoring stops. Zero means no limit.
func (c OwnerConfig) MaxPositionAge() time.Duration {
	if c.MaxPositionAgeHours <= 0 {
		return 0
	}
	return time.Duration(c.MaxPositionAgeHours * float64(time.Hour))
}

// ApplyDefaults resolves stored settings into a complete config. It is the
// only place missing or partial owner configuration is handled.
func ApplyDefaults(s OwnerSettings) OwnerConfig {
	cfg := OwnerConfig{
		OwnerID:                        s.OwnerID,
		AutoSellEnabled:                boolOr(s.AutoSellEnabled, true),
		TakeProfitPct:                  floatOr(s.TakeProfitPct, DefaultTakeProfitPct),
		StopLossPct:                    floatOr(s.StopLossPct, DefaultStopLossPct),
		TrailingStopEnabled:            boolOr(s.TrailingStopEnabled, false),
		TrailingStopPct:                floatOr(s.TrailingStopPct, DefaultTrailingStopPct),
		CheckIntervalSeconds:           intOr(s.CheckIntervalSeconds, DefaultCheckIntervalSeconds),
		MaxPositionAgeHours:            floatOr(s.MaxPositionAgeHours, DefaultMaxPositionAgeHours),
		SellPercentInitial:             floatOr(s.SellPercentInitial, DefaultSellPercentInitial),
		SellPercentRemaining:           floatOr(s.SellPercentRemaining, DefaultSellPercentRemaining),
		RemainingPositionTakeProfitPct: floatOr(s.RemainingPositionTakeProfitPct, DefaultRemainingTakeProfitPct),
		RemainingPositionStopLossPct:   floatOr(s.RemainingPositionStopLossPct, DefaultRemainingStopLossPct),
		RemainingPositionDrawdownPct:   floatOr(s.RemainingPositionDrawdownPct, DefaultRemainingDrawdownPct),
		SlippageBps:                    intOr(s.SlippageBps, DefaultSlippageBps),
		ForceExitOnMaxAge:              boolOr(s.ForceExitOnMaxAge, false),
	}

	if cfg.CheckIntervalSeconds < minCheckIntervalSeconds {
		cfg.CheckIntervalSeconds = DefaultCheckIntervalSeconds
	}
	cfg.SellPercentInitial = clampSellPercent(cfg.SellPercentInitial, DefaultSellPercentInitial)
	cfg.SellPercentRemaining = clampSellPercent(cfg.SellPercentRemaining, DefaultSellPercentRemaining)
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = DefaultSlippageBps
	}
	return cfg
}

func clampSellPercent(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	if v > maxSellPercent {
		return maxSellPercent
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
