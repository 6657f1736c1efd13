// internal/price/oracle.go
package price

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autosell/internal/metrics"
)

// ErrPriceUnavailable is returned when no provider could quote the token.
var ErrPriceUnavailable = errors.New("price unavailable")

// Provider quotes a token in base asset (SOL) units.
type Provider interface {
	Name() string
	Price(ctx context.Context, tokenID string) (float64, error)
}

// Oracle asks its providers in order and returns the first valid quote.
type Oracle struct {
	providers []Provider
	metrics   *metrics.Collector
	logger    *zap.Logger
}

func NewOracle(logger *zap.Logger, m *metrics.Collector, providers ...Provider) *Oracle {
	return &Oracle{
		providers: providers,
		metrics:   m,
		logger:    logger.Named("price-oracle"),
	}
}

// Price returns the current price of tokenID. Provider failures fall through
// to the next provider; ErrPriceUnavailable is returned when all of them fail.
func (o *Oracle) Price(ctx context.Context, tokenID string) (float64, error) {
	for _, p := range o.providers {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		v, err := p.Price(ctx, tokenID)
		if err == nil && v <= 0 {
			err = fmt.Errorf("non-positive price %v", v)
		}
		o.metrics.RecordPriceFetch(p.Name(), err == nil)
		if err != nil {
			o.logger.Debug("provider failed",
				zap.String("provider", p.Name()),
				zap.String("token_id", tokenID),
				zap.Error(err))
			continue
		}
		return v, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, tokenID)
}
