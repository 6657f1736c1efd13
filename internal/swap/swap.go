// internal/swap/swap.go
package swap

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrInvalidOrder is returned before any request is sent when an order is
// malformed.
var ErrInvalidOrder = errors.New("invalid sell order")

// SellOrder asks the execution service to sell a token from a wallet.
// Either Quantity > 0 or SellAll must be set. SellAll is the only way to
// close a position; Percent is informational.
type SellOrder struct {
	ClientOrderID string
	WalletRef     string
	TokenID       string
	Quantity      float64
	Percent       float64
	SellAll       bool
	SlippageBps   int
}

// Result is what the service reports for a confirmed sale.
type Result struct {
	Signature      string
	ReceivedAmount float64
	// Quantity is the amount actually sold when reported, otherwise zero.
	Quantity float64
}

// Executor sells tokens. Implementations must return an error unless the
// sale is confirmed.
type Executor interface {
	Sell(ctx context.Context, order SellOrder) (Result, error)
}

// Validate checks an order without contacting anything.
func (o SellOrder) Validate() error {
	if o.WalletRef == "" {
		return fmt.Errorf("%w: empty wallet reference", ErrInvalidOrder)
	}
	if _, err := solana.PublicKeyFromBase58(o.TokenID); err != nil {
		return fmt.Errorf("%w: token %q: %v", ErrInvalidOrder, o.TokenID, err)
	}
	if o.SellAll {
		return nil
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if o.Percent >= 100 {
		return fmt.Errorf("%w: percent %v requires SellAll", ErrInvalidOrder, o.Percent)
	}
	return nil
}

// ValidateSignature checks that s is a base58 transaction signature.
func ValidateSignature(s string) error {
	if _, err := solana.SignatureFromBase58(s); err != nil {
		return fmt.Errorf("invalid signature %q: %w", s, err)
	}
	return nil
}
