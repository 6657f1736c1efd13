// internal/position/position.go
package position

import (
	"time"
)

// Status is the lifecycle state of a monitored position.
type Status string

const (
	StatusOpen       Status = "open"
	StatusPartial    Status = "partial"
	StatusTakeProfit Status = "take_profit"
	StatusStoppedOut Status = "stopped_out"
	StatusSold       Status = "sold"
	StatusExpired    Status = "expired"
)

// IsOpen reports whether the position is still being monitored.
// A partial position is still open.
func (s Status) IsOpen() bool {
	return s == StatusOpen || s == StatusPartial
}

// IsTerminal reports whether no further mutation is allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusTakeProfit, StatusStoppedOut, StatusSold, StatusExpired:
		return true
	}
	return false
}

// OpenStatuses returns the statuses a conditional write expects to find.
func OpenStatuses() []Status {
	return []Status{StatusOpen, StatusPartial}
}

// Position is a token holding watched by a supervisor.
type Position struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	WalletRef string `json:"wallet_ref"`
	TokenID   string `json:"token_id"`

	AmountTokens         float64 `json:"amount_tokens"`
	OriginalAmountTokens float64 `json:"original_amount_tokens"`
	TotalSoldTokens      float64 `json:"total_sold_tokens"`
	AverageSellPrice     float64 `json:"average_sell_price"`
	TotalReceived        float64 `json:"total_received"`

	EntryPrice         float64 `json:"entry_price"`
	OriginalEntryPrice float64 `json:"original_entry_price"`
	CurrentPrice       float64 `json:"current_price"`
	HighPriceSeen      float64 `json:"high_price_seen"`
	LowPriceSeen       float64 `json:"low_price_seen"`
	PnLPercent         float64 `json:"pnl_percent"`

	Status            Status     `json:"status"`
	PartialSellsCount int        `json:"partial_sells_count"`
	OpenedAt          time.Time  `json:"opened_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	ExitReason        string     `json:"exit_reason,omitempty"`

	LastSellSignature string  `json:"last_sell_signature,omitempty"`
	LastSellReceived  float64 `json:"last_sell_received,omitempty"`
}

// Clone returns a deep copy so callers can stage changes before a write.
func (p *Position) Clone() *Position {
	cp := *p
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}

// InMoonbagPhase reports whether at least one partial sell has happened.
func (p *Position) InMoonbagPhase() bool {
	return p.PartialSellsCount > 0
}

// Age returns how long the position has been open at now.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// Reprice refreshes current price, PnL and the high/low watermarks.
func (p *Position) Reprice(price float64) {
	p.CurrentPrice = price
	p.PnLPercent = PnLPercent(p.EntryPrice, price)
	if price > p.HighPriceSeen {
		p.HighPriceSeen = price
	}
	if p.LowPriceSeen == 0 || price < p.LowPriceSeen {
		p.LowPriceSeen = price
	}
}

// StatusForReason maps an exit reason code to the terminal status it closes with.
func StatusForReason(reason string) Status {
	switch {
	case hasPrefix(reason, ReasonTakeProfit):
		return StatusTakeProfit
	case hasPrefix(reason, ReasonStopLoss):
		return StatusStoppedOut
	case reason == ReasonMaxAge:
		return StatusExpired
	default:
		return StatusSold
	}
}

// Reason code prefixes shared by the policy engine and the store.
const (
	ReasonTakeProfit   = "take_profit"
	ReasonStopLoss     = "stop_loss"
	ReasonTrailingStop = "trailing_stop"
	ReasonDrawdown     = "drawdown"
	ReasonLPRemoved    = "lp_removed"
	ReasonMaxAge       = "max_age"
)

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
