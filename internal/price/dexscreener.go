// internal/price/dexscreener.go
package price

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-autosell/internal/dexscreener"
)

// DexScreenerProvider quotes a token from its deepest SOL pair.
type DexScreenerProvider struct {
	client *dexscreener.Client
}

func NewDexScreenerProvider(client *dexscreener.Client) *DexScreenerProvider {
	return &DexScreenerProvider{client: client}
}

func (p *DexScreenerProvider) Name() string { return "dexscreener" }

func (p *DexScreenerProvider) Price(ctx context.Context, tokenID string) (float64, error) {
	pairs, err := p.client.TokenPairs(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	pair, ok := dexscreener.BestSOLPair(pairs, tokenID)
	if !ok {
		return 0, fmt.Errorf("no SOL pair for token %s", tokenID)
	}
	v, err := decimal.NewFromString(pair.PriceNative)
	if err != nil {
		return 0, fmt.Errorf("parse priceNative %q: %w", pair.PriceNative, err)
	}
	return v.InexactFloat64(), nil
}
