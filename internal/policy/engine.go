// internal/policy/engine.go
package policy

import (
	"github.com/rovshanmuradov/solana-autosell/internal/position"
)

// thresholds groups the settings of one phase.
type thresholds struct {
	takeProfit  float64
	stopLoss    float64
	sellPercent float64
}

func phaseThresholds(p position.Position, cfg position.OwnerConfig) thresholds {
	if p.InMoonbagPhase() {
		return thresholds{
			takeProfit:  cfg.RemainingPositionTakeProfitPct,
			stopLoss:    cfg.RemainingPositionStopLossPct,
			sellPercent: cfg.SellPercentRemaining,
		}
	}
	return thresholds{
		takeProfit:  cfg.TakeProfitPct,
		stopLoss:    cfg.StopLossPct,
		sellPercent: cfg.SellPercentInitial,
	}
}

// Evaluate decides what to do with p at currentPrice. It does not mutate p;
// the refreshed fields are returned in Decision.Snapshot.
//
// Rules are checked in order: take-profit, stop-loss, trailing stop (only
// while in profit), then the moonbag drawdown rule. A threshold <= 0 is
// treated as disabled.
func Evaluate(p position.Position, currentPrice float64, cfg position.OwnerConfig) Decision {
	p.Reprice(currentPrice)

	snap := Snapshot{
		Price:        currentPrice,
		PnLPercent:   p.PnLPercent,
		High:         p.HighPriceSeen,
		Low:          p.LowPriceSeen,
		DropFromHigh: position.DropFromHigh(p.HighPriceSeen, currentPrice),
	}
	th := phaseThresholds(p, cfg)

	if th.takeProfit > 0 && snap.PnLPercent >= th.takeProfit {
		return sell(th.sellPercent, position.ReasonTakeProfit+"_"+formatPct(th.takeProfit)+"%", snap)
	}
	if th.stopLoss > 0 && snap.PnLPercent <= -th.stopLoss {
		return sell(th.sellPercent, position.ReasonStopLoss+"_"+formatPct(th.stopLoss)+"%", snap)
	}
	if cfg.TrailingStopEnabled && cfg.TrailingStopPct > 0 && snap.High > 0 &&
		snap.PnLPercent > 0 && snap.DropFromHigh >= cfg.TrailingStopPct {
		return sell(th.sellPercent, position.ReasonTrailingStop+"_"+formatPct(cfg.TrailingStopPct)+"%_from_high", snap)
	}
	if p.InMoonbagPhase() && cfg.RemainingPositionDrawdownPct > 0 && snap.High > 0 &&
		snap.DropFromHigh >= cfg.RemainingPositionDrawdownPct {
		return Decision{
			Kind:     FullSell,
			Reason:   position.ReasonDrawdown + "_" + formatPct(cfg.RemainingPositionDrawdownPct) + "%_from_peak",
			Snapshot: snap,
		}
	}
	return Decision{Kind: NoAction, Snapshot: snap}
}

func sell(percent float64, reason string, snap Snapshot) Decision {
	if percent >= 100 {
		return Decision{Kind: FullSell, Reason: reason, Snapshot: snap}
	}
	return Decision{Kind: PartialSell, Percent: percent, Reason: reason, Snapshot: snap}
}

// ForcedLiquidityExit is the decision taken when the pool backing a moonbag
// has been drained.
func ForcedLiquidityExit() Decision {
	return Decision{Kind: FullSell, Reason: position.ReasonLPRemoved}
}

// MaxAgeExit is the decision taken when a position outlives its maximum age
// and the owner asked for a forced exit.
func MaxAgeExit() Decision {
	return Decision{Kind: FullSell, Reason: position.ReasonMaxAge}
}
