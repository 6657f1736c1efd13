// internal/events/types.go
package events

import (
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Supervisor lifecycle
	MonitoringStarted EventType = "monitoring.started"
	MonitoringStopped EventType = "monitoring.stopped"

	// Price events
	PriceUpdated EventType = "price.updated"

	// Exit events
	PartialSellExecuted EventType = "sell.partial"
	PositionClosed      EventType = "position.closed"
	SellFailed          EventType = "sell.failed"

	// Liquidity events
	LiquidityDrained EventType = "liquidity.drained"

	// Scheduler events
	SchedulerRunCompleted EventType = "scheduler.run_completed"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType `json:"type"`
	EventTime time.Time `json:"time"`
}

// NewBase stamps an event of type t at now.
func NewBase(t EventType, now time.Time) BaseEvent {
	return BaseEvent{EventType: t, EventTime: now}
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// PositionRef identifies the position an event belongs to.
type PositionRef struct {
	PositionID string `json:"position_id"`
	OwnerID    string `json:"owner_id"`
	TokenID    string `json:"token_id"`
}

// MonitoringStartedEvent is emitted when a supervisor starts.
type MonitoringStartedEvent struct {
	BaseEvent
	PositionRef
	EntryPrice   float64 `json:"entry_price"`
	AmountTokens float64 `json:"amount_tokens"`
}

// MonitoringStoppedEvent is emitted when a supervisor exits.
type MonitoringStoppedEvent struct {
	BaseEvent
	PositionRef
	Reason     string `json:"reason"` // closed, closed_externally, max_age, cancelled, error
	Iterations int    `json:"iterations"`
}

// PriceUpdatedEvent is emitted after every successful reprice.
type PriceUpdatedEvent struct {
	BaseEvent
	PositionRef
	Price      float64 `json:"price"`
	PnLPercent float64 `json:"pnl_percent"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
}

// PartialSellEvent is emitted when part of a position was sold.
type PartialSellEvent struct {
	BaseEvent
	PositionRef
	Reason       string  `json:"reason"`
	Percent      float64 `json:"percent"`
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price"`
	Received     float64 `json:"received"`
	Signature    string  `json:"signature"`
	AmountLeft   float64 `json:"amount_left"`
	RebasedEntry float64 `json:"rebased_entry"`
}

// PositionClosedEvent is emitted when a position reaches a terminal status.
type PositionClosedEvent struct {
	BaseEvent
	PositionRef
	Status           string  `json:"status"`
	Reason           string  `json:"reason"`
	Price            float64 `json:"price"`
	Received         float64 `json:"received"`
	Signature        string  `json:"signature,omitempty"`
	AverageSellPrice float64 `json:"average_sell_price"`
}

// SellFailedEvent is emitted when the swap executor reported an error.
type SellFailedEvent struct {
	BaseEvent
	PositionRef
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// LiquidityDrainedEvent is emitted when a moonbag's pool is gone.
type LiquidityDrainedEvent struct {
	BaseEvent
	PositionRef
	ValueUSD float64 `json:"value_usd"`
}

// SchedulerRunEvent summarises one scheduler invocation.
type SchedulerRunEvent struct {
	BaseEvent
	Processed         int `json:"processed"`
	MonitorsStarted   int `json:"monitors_started"`
	AlreadyMonitoring int `json:"already_monitoring"`
	Skipped           int `json:"skipped"`
}
