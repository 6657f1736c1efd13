// internal/liquidity/guard.go
package liquidity

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/solana-autosell/internal/dexscreener"
	"github.com/rovshanmuradov/solana-autosell/internal/metrics"
)

// DefaultFloorUSD is the pool value under which a pool counts as drained.
const DefaultFloorUSD = 500.0

// Classification is the outcome of a liquidity check.
type Classification string

const (
	Healthy Classification = "healthy"
	Drained Classification = "drained"
	// Unknown means the data source failed. It never forces an exit.
	Unknown Classification = "unknown"
)

// Report is the result of Check.
type Report struct {
	ValueUSD       float64
	PairAddress    string
	Classification Classification
	Err            error
}

// Source returns every pool that trades a token.
type Source interface {
	TokenPairs(ctx context.Context, mint string) ([]dexscreener.Pair, error)
}

// Guard detects pulled liquidity behind a position.
type Guard struct {
	source   Source
	floorUSD float64
	limiter  *rate.Limiter
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewGuard creates a guard. A floor <= 0 falls back to DefaultFloorUSD and a
// delay <= 0 disables spacing between checks.
func NewGuard(source Source, floorUSD float64, delay time.Duration, m *metrics.Collector, logger *zap.Logger) *Guard {
	if floorUSD <= 0 {
		floorUSD = DefaultFloorUSD
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if delay > 0 {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
	return &Guard{
		source:   source,
		floorUSD: floorUSD,
		limiter:  limiter,
		metrics:  m,
		logger:   logger.Named("liquidity-guard"),
	}
}

// Check classifies the liquidity of tokenID by its deepest Solana pool,
// whatever the quote token. No pool at all or a pool below the floor is
// drained; any source failure is unknown.
func (g *Guard) Check(ctx context.Context, tokenID string) Report {
	report := g.check(ctx, tokenID)
	g.metrics.RecordLiquidityCheck(string(report.Classification))

	fields := []zap.Field{
		zap.String("token_id", tokenID),
		zap.String("classification", string(report.Classification)),
		zap.Float64("liquidity_usd", report.ValueUSD),
	}
	switch report.Classification {
	case Unknown:
		g.logger.Warn("liquidity unknown", append(fields, zap.Error(report.Err))...)
	case Drained:
		g.logger.Warn("liquidity drained", fields...)
	default:
		g.logger.Debug("liquidity checked", fields...)
	}
	return report
}

func (g *Guard) check(ctx context.Context, tokenID string) Report {
	if err := g.limiter.Wait(ctx); err != nil {
		return Report{Classification: Unknown, Err: err}
	}
	pairs, err := g.source.TokenPairs(ctx, tokenID)
	if err != nil {
		return Report{Classification: Unknown, Err: err}
	}
	pair, ok := dexscreener.DeepestPair(pairs, tokenID)
	if !ok {
		return Report{Classification: Drained}
	}
	r := Report{ValueUSD: pair.Liquidity.USD, PairAddress: pair.PairAddress, Classification: Healthy}
	if pair.Liquidity.USD < g.floorUSD {
		r.Classification = Drained
	}
	return r
}
