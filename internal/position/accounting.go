// internal/position/accounting.go
package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultEpsilon is the tolerance used for the quantity invariant.
const DefaultEpsilon = 1e-9

var (
	ErrNothingToSell = errors.New("position has no tokens left")
	ErrClosed        = errors.New("position is closed")
)

// SellFill describes a confirmed sale reported by the swap executor.
type SellFill struct {
	Quantity  float64   // tokens sold
	Price     float64   // price per token at the moment of sale
	Received  float64   // base asset received, as reported
	Signature string    // transaction signature
	At        time.Time // confirmation time
}

// PnLPercent returns (price-entry)/entry*100. Decimal arithmetic keeps
// round thresholds exact: entry 0.0001 and price 0.00015 yield 50, not 49.999…
func PnLPercent(entry, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	e := decimal.NewFromFloat(entry)
	v := decimal.NewFromFloat(price).Sub(e).Div(e).Mul(decimal.NewFromInt(100))
	return v.InexactFloat64()
}

// DropFromHigh returns (high-price)/high*100, or 0 when high is unset.
func DropFromHigh(high, price float64) float64 {
	if high <= 0 {
		return 0
	}
	h := decimal.NewFromFloat(high)
	v := h.Sub(decimal.NewFromFloat(price)).Div(h).Mul(decimal.NewFromInt(100))
	return v.InexactFloat64()
}

// SellQuantity returns how many tokens percent of the remaining amount is.
func (p *Position) SellQuantity(percent float64) float64 {
	if percent >= 100 {
		return p.AmountTokens
	}
	q := decimal.NewFromFloat(p.AmountTokens).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100))
	return q.InexactFloat64()
}

// ApplyPartialSell books a partial fill and rebases entry and high to the
// fill price so the remainder is judged from the moment of sale.
func (p *Position) ApplyPartialSell(fill SellFill) error {
	if err := p.recordFill(fill); err != nil {
		return err
	}
	p.PartialSellsCount++
	p.Status = StatusPartial
	p.EntryPrice = fill.Price
	p.HighPriceSeen = fill.Price
	p.LowPriceSeen = fill.Price
	p.CurrentPrice = fill.Price
	p.PnLPercent = 0
	return nil
}

// ApplyFullSell books the sale of the whole remainder and closes the position.
func (p *Position) ApplyFullSell(fill SellFill, terminal Status, reason string) error {
	if !terminal.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", terminal)
	}
	fill.Quantity = p.AmountTokens
	if err := p.recordFill(fill); err != nil {
		return err
	}
	closedAt := fill.At
	p.Status = terminal
	p.ExitReason = reason
	p.ClosedAt = &closedAt
	if fill.Price > 0 {
		p.CurrentPrice = fill.Price
	}
	return nil
}

// Close marks the position terminal without a sale.
func (p *Position) Close(terminal Status, reason string, at time.Time) error {
	if p.Status.IsTerminal() {
		return ErrClosed
	}
	if !terminal.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", terminal)
	}
	p.Status = terminal
	p.ExitReason = reason
	p.ClosedAt = &at
	return nil
}

func (p *Position) recordFill(fill SellFill) error {
	if p.Status.IsTerminal() {
		return ErrClosed
	}
	if p.AmountTokens <= 0 {
		return ErrNothingToSell
	}
	qty := fill.Quantity
	if qty <= 0 {
		return fmt.Errorf("invalid fill quantity %v", qty)
	}
	if qty > p.AmountTokens {
		qty = p.AmountTokens
	}

	sold := decimal.NewFromFloat(p.TotalSoldTokens)
	prevValue := decimal.NewFromFloat(p.AverageSellPrice).Mul(sold)
	thisValue := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(fill.Price))
	newSold := sold.Add(decimal.NewFromFloat(qty))

	// amount is derived from original - sold so the invariant holds by construction
	remaining := decimal.NewFromFloat(p.OriginalAmountTokens).Sub(newSold)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	p.TotalSoldTokens = newSold.InexactFloat64()
	p.AverageSellPrice = prevValue.Add(thisValue).Div(newSold).InexactFloat64()
	p.AmountTokens = remaining.InexactFloat64()
	p.TotalReceived = decimal.NewFromFloat(p.TotalReceived).Add(decimal.NewFromFloat(fill.Received)).InexactFloat64()
	p.LastSellSignature = fill.Signature
	p.LastSellReceived = fill.Received
	return nil
}

// CheckInvariant verifies total_sold + amount == original within eps,
// scaled by the original amount for large token counts.
func (p *Position) CheckInvariant(eps float64) error {
	diff := p.TotalSoldTokens + p.AmountTokens - p.OriginalAmountTokens
	if diff < 0 {
		diff = -diff
	}
	tolerance := eps
	if p.OriginalAmountTokens > 1 {
		tolerance = eps * p.OriginalAmountTokens
	}
	if diff > tolerance {
		return fmt.Errorf("quantity invariant broken: sold %v + remaining %v != original %v",
			p.TotalSoldTokens, p.AmountTokens, p.OriginalAmountTokens)
	}
	return nil
}
