// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rovshanmuradov/solana-autosell/internal/position"
)

var (
	// ErrNotFound is returned when a position is missing or no longer open.
	ErrNotFound = errors.New("position not found")
	// ErrConflict is returned when a conditional write matched no row because
	// the position left the open set in the meantime.
	ErrConflict = errors.New("position is no longer open")
)

// Sale is the ledger entry written together with every executed sell.
type Sale struct {
	Signature  string
	PositionID string
	OwnerID    string
	WalletRef  string
	TokenID    string
	Kind       string // partial_sell or full_sell
	Reason     string
	Quantity   float64
	Price      float64
	Received   float64
	ExecutedAt time.Time
}

// Cursor points at the last position of a previous page.
type Cursor struct {
	OpenedAt time.Time
	ID       string
}

// Page selects open positions ordered by (opened_at, id). A nil After starts
// from the oldest position; Limit <= 0 means no limit.
type Page struct {
	Limit int
	After *Cursor
}

// CursorOf returns the cursor just past p.
func CursorOf(p *position.Position) *Cursor {
	return &Cursor{OpenedAt: p.OpenedAt, ID: p.ID}
}

// Store persists positions and owner settings. Every write is conditional on
// the position still being open, so two writers can never close the same
// position twice.
type Store interface {
	// Позиции
	GetOpen(ctx context.Context, id string) (*position.Position, error)
	ListOpen(ctx context.Context, page Page) ([]*position.Position, error)
	UpdatePrice(ctx context.Context, p *position.Position) error
	ApplyPartialSell(ctx context.Context, p *position.Position, sale Sale) error
	ClosePosition(ctx context.Context, p *position.Position, sale *Sale) error

	// Владельцы
	GetOwnerConfigs(ctx context.Context, ownerIDs []string) (map[string]position.OwnerConfig, error)

	// История продаж
	ListSales(ctx context.Context, positionID string) ([]Sale, error)

	Close() error
}
