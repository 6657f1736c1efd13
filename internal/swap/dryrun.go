// internal/swap/dryrun.go
package swap

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Quoter returns the current price of a token.
type Quoter interface {
	Price(ctx context.Context, tokenID string) (float64, error)
}

// BalanceFunc returns the remaining token amount a SellAll order closes. When
// it is nil the order's own Quantity is used.
type BalanceFunc func(ctx context.Context, walletRef, tokenID string) (float64, error)

// DryRunExecutor fills every order at the current quote minus the full
// slippage allowance without touching the chain.
type DryRunExecutor struct {
	quoter  Quoter
	balance BalanceFunc
	logger  *zap.Logger
}

func NewDryRunExecutor(quoter Quoter, balance BalanceFunc, logger *zap.Logger) *DryRunExecutor {
	return &DryRunExecutor{
		quoter:  quoter,
		balance: balance,
		logger:  logger.Named("swap-dry-run"),
	}
}

func (e *DryRunExecutor) Sell(ctx context.Context, order SellOrder) (Result, error) {
	if err := order.Validate(); err != nil {
		return Result{}, err
	}
	price, err := e.quoter.Price(ctx, order.TokenID)
	if err != nil {
		return Result{}, fmt.Errorf("dry run quote: %w", err)
	}

	qty := order.Quantity
	if order.SellAll && e.balance != nil {
		if qty, err = e.balance(ctx, order.WalletRef, order.TokenID); err != nil {
			return Result{}, fmt.Errorf("dry run balance: %w", err)
		}
	}
	if qty <= 0 {
		return Result{}, fmt.Errorf("dry run: unknown quantity for sell-all")
	}

	keep := decimal.NewFromInt(1).Sub(decimal.NewFromInt(int64(order.SlippageBps)).Div(decimal.NewFromInt(10_000)))
	received := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price)).Mul(keep)

	var sig solana.Signature
	if _, err := rand.Read(sig[:]); err != nil {
		return Result{}, fmt.Errorf("dry run signature: %w", err)
	}

	res := Result{
		Signature:      sig.String(),
		ReceivedAmount: received.InexactFloat64(),
		Quantity:       qty,
	}
	e.logger.Info("simulated sell",
		zap.String("token_id", order.TokenID),
		zap.String("wallet_ref", order.WalletRef),
		zap.Float64("quantity", qty),
		zap.Bool("sell_all", order.SellAll),
		zap.Float64("price", price),
		zap.Float64("received", res.ReceivedAmount))
	return res, nil
}
