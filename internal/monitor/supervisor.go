// internal/monitor/supervisor.go
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autosell/internal/events"
	"github.com/rovshanmuradov/solana-autosell/internal/liquidity"
	"github.com/rovshanmuradov/solana-autosell/internal/metrics"
	"github.com/rovshanmuradov/solana-autosell/internal/policy"
	"github.com/rovshanmuradov/solana-autosell/internal/position"
	"github.com/rovshanmuradov/solana-autosell/internal/storage"
	"github.com/rovshanmuradov/solana-autosell/internal/swap"
)

// StopReason says why a supervisor returned.
type StopReason string

const (
	StopClosed           StopReason = "closed"
	StopClosedExternally StopReason = "closed_externally"
	StopMaxAge           StopReason = "max_age"
	StopCancelled        StopReason = "cancelled"
	StopIterationLimit   StopReason = "iteration_limit"
	StopError            StopReason = "error"
)

const (
	defaultPersistTimeout = 30 * time.Second
	persistMaxTries       = 8
)

// PriceSource returns the current price of a token in SOL.
type PriceSource interface {
	Price(ctx context.Context, tokenID string) (float64, error)
}

// LiquidityChecker classifies the pool behind a token.
type LiquidityChecker interface {
	Check(ctx context.Context, tokenID string) liquidity.Report
}

// Deps are the collaborators shared by all supervisors.
type Deps struct {
	Store     storage.Store
	Prices    PriceSource
	Liquidity LiquidityChecker
	Executor  swap.Executor
	Events    events.Publisher
	Metrics   *metrics.Collector
	Clock     Clock
	Logger    *zap.Logger

	// MaxIterations bounds the loop; zero runs until the position leaves
	// the open set.
	MaxIterations int
	// PersistTimeout bounds the retries of a store write after a confirmed sale.
	PersistTimeout time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = RealClock()
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.PersistTimeout <= 0 {
		d.PersistTimeout = defaultPersistTimeout
	}
	return d
}

// Supervisor owns every action taken on one position: repricing, deciding
// and selling. A position is never sold from two goroutines at once because
// only its supervisor sells it.
type Supervisor struct {
	deps       Deps
	positionID string
	ref        events.PositionRef
	initial    position.Position
	cfg        position.OwnerConfig
	logger     *zap.Logger
	iterations int

	// unbooked is a sale that went through on chain but never reached the
	// store. Set only when Run returns StopError.
	unbooked *storage.Sale
}

// NewSupervisor binds a supervisor to p with the owner's resolved config.
func NewSupervisor(deps Deps, p *position.Position, cfg position.OwnerConfig) *Supervisor {
	deps = deps.withDefaults()
	return &Supervisor{
		deps:       deps,
		positionID: p.ID,
		ref:        refOf(p),
		initial:    *p.Clone(),
		cfg:        cfg,
		logger: deps.Logger.Named("supervisor").With(
			zap.String("position_id", p.ID),
			zap.String("token_id", p.TokenID),
			zap.String("owner_id", p.OwnerID)),
	}
}

// Run loops until the position closes, max age is reached, ctx is cancelled
// or the iteration bound is hit.
func (s *Supervisor) Run(ctx context.Context) StopReason {
	s.deps.Metrics.MonitorStarted()
	s.publish(events.MonitoringStartedEvent{
		BaseEvent:    events.NewBase(events.MonitoringStarted, s.deps.Clock.Now()),
		PositionRef:  s.ref,
		EntryPrice:   s.initial.EntryPrice,
		AmountTokens: s.initial.AmountTokens,
	})
	s.logger.Info("Monitoring started",
		zap.Float64("entry_price", s.initial.EntryPrice),
		zap.Float64("amount", s.initial.AmountTokens),
		zap.Duration("interval", s.cfg.CheckInterval()),
		zap.Bool("auto_sell", s.cfg.AutoSellEnabled))

	reason := s.loop(ctx)

	s.deps.Metrics.MonitorStopped(string(reason))
	s.publish(events.MonitoringStoppedEvent{
		BaseEvent:   events.NewBase(events.MonitoringStopped, s.deps.Clock.Now()),
		PositionRef: s.ref,
		Reason:      string(reason),
		Iterations:  s.iterations,
	})
	s.logger.Info("Monitoring stopped",
		zap.String("reason", string(reason)),
		zap.Int("iterations", s.iterations))
	return reason
}

func (s *Supervisor) loop(ctx context.Context) StopReason {
	for {
		if ctx.Err() != nil {
			return StopCancelled
		}
		if s.deps.MaxIterations > 0 && s.iterations >= s.deps.MaxIterations {
			return StopIterationLimit
		}
		s.iterations++

		if reason, done := s.step(ctx); done {
			return reason
		}

		if err := s.deps.Clock.Sleep(ctx, s.cfg.CheckInterval()); err != nil {
			return StopCancelled
		}
	}
}

// step runs one check. It returns done=true when the supervisor must exit.
func (s *Supervisor) step(ctx context.Context) (StopReason, bool) {
	p, err := s.deps.Store.GetOpen(ctx, s.positionID)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Info("Position is no longer open")
		return StopClosedExternally, true
	}
	if err != nil {
		if ctx.Err() != nil {
			return StopCancelled, true
		}
		s.logger.Warn("Failed to load position", zap.Error(err))
		return "", false
	}

	s.refreshConfig(ctx, p.OwnerID)

	now := s.deps.Clock.Now()
	if maxAge := s.cfg.MaxPositionAge(); maxAge > 0 && p.Age(now) > maxAge {
		if !s.cfg.ForceExitOnMaxAge {
			s.logger.Warn("Max position age reached, monitoring abandoned without selling",
				zap.Duration("age", p.Age(now)),
				zap.Duration("max_age", maxAge))
			return StopMaxAge, true
		}
		exitPrice, err := s.deps.Prices.Price(ctx, p.TokenID)
		if err != nil || exitPrice <= 0 {
			if p.CurrentPrice <= 0 {
				s.logger.Warn("Max position age reached but no quote is known, retrying next cycle", zap.Error(err))
				return "", false
			}
			exitPrice = p.CurrentPrice
		}
		s.logger.Warn("Max position age reached, forcing exit",
			zap.Duration("age", p.Age(now)),
			zap.Float64("price", exitPrice))
		p.Reprice(exitPrice)
		d := policy.MaxAgeExit()
		d.Snapshot.Price = exitPrice
		return s.act(ctx, p, d)
	}

	currentPrice, err := s.deps.Prices.Price(ctx, p.TokenID)
	if err != nil {
		s.logger.Debug("Price unavailable, skipping cycle", zap.Error(err))
		return "", false
	}

	decision := policy.Evaluate(*p, currentPrice, s.cfg)
	p.Reprice(currentPrice)
	if err := s.deps.Store.UpdatePrice(ctx, p); err != nil {
		if isGone(err) {
			s.logger.Info("Position closed while repricing")
			return StopClosedExternally, true
		}
		s.logger.Warn("Failed to persist price", zap.Error(err))
	}
	s.publish(events.PriceUpdatedEvent{
		BaseEvent:   events.NewBase(events.PriceUpdated, now),
		PositionRef: s.ref,
		Price:       currentPrice,
		PnLPercent:  p.PnLPercent,
		High:        p.HighPriceSeen,
		Low:         p.LowPriceSeen,
	})
	s.logger.Debug("Position repriced",
		zap.Float64("price", currentPrice),
		zap.Float64("pnl_percent", p.PnLPercent),
		zap.Float64("high", p.HighPriceSeen),
		zap.String("decision", decision.String()))

	if !s.cfg.AutoSellEnabled {
		return "", false
	}

	if p.InMoonbagPhase() {
		report := s.deps.Liquidity.Check(ctx, p.TokenID)
		if report.Classification == liquidity.Drained {
			s.logger.Warn("Liquidity drained, forcing exit",
				zap.Float64("liquidity_usd", report.ValueUSD),
				zap.String("pair", report.PairAddress))
			s.publish(events.LiquidityDrainedEvent{
				BaseEvent:   events.NewBase(events.LiquidityDrained, now),
				PositionRef: s.ref,
				ValueUSD:    report.ValueUSD,
			})
			forced := policy.ForcedLiquidityExit()
			forced.Snapshot = decision.Snapshot
			decision = forced
		}
	}

	if !decision.IsSell() {
		return "", false
	}
	return s.act(ctx, p, decision)
}

// act executes d and books it. The position is only mutated after the
// executor confirmed the sale.
func (s *Supervisor) act(ctx context.Context, p *position.Position, d policy.Decision) (StopReason, bool) {
	order := swap.SellOrder{
		WalletRef:   p.WalletRef,
		TokenID:     p.TokenID,
		Percent:     d.Percent,
		SlippageBps: s.cfg.SlippageBps,
	}
	kind := d.Kind.String()
	if d.Kind == policy.FullSell {
		order.SellAll = true
		order.Percent = 100
		order.Quantity = p.AmountTokens
	} else {
		order.Quantity = p.SellQuantity(d.Percent)
		if order.Quantity <= 0 {
			s.logger.Warn("Nothing to sell", zap.String("reason", d.Reason))
			return "", false
		}
	}

	s.logger.Info("Executing sell",
		zap.String("kind", kind),
		zap.String("reason", d.Reason),
		zap.Float64("percent", order.Percent),
		zap.Float64("quantity", order.Quantity),
		zap.Float64("price", d.Snapshot.Price))

	started := time.Now()
	res, err := s.deps.Executor.Sell(ctx, order)
	s.deps.Metrics.RecordSwap(kind, time.Since(started), err == nil)
	if err != nil {
		s.logger.Error("Sell failed, position left unchanged",
			zap.String("reason", d.Reason),
			zap.Error(err))
		s.publish(events.SellFailedEvent{
			BaseEvent:   events.NewBase(events.SellFailed, s.deps.Clock.Now()),
			PositionRef: s.ref,
			Reason:      d.Reason,
			Error:       err.Error(),
		})
		if ctx.Err() != nil {
			return StopCancelled, true
		}
		return "", false
	}

	fill := position.SellFill{
		Quantity:  order.Quantity,
		Price:     d.Snapshot.Price,
		Received:  res.ReceivedAmount,
		Signature: res.Signature,
		At:        s.deps.Clock.Now(),
	}
	if res.Quantity > 0 {
		fill.Quantity = res.Quantity
	}

	if d.Kind == policy.FullSell {
		return s.bookFullSell(ctx, p, d, fill)
	}
	return s.bookPartialSell(ctx, p, d, fill)
}

func (s *Supervisor) bookPartialSell(ctx context.Context, p *position.Position, d policy.Decision, fill position.SellFill) (StopReason, bool) {
	sale := s.sale(p, "partial_sell", d.Reason, fill)
	if err := p.ApplyPartialSell(fill); err != nil {
		return s.persistFailed(err, sale)
	}
	if err := s.persist(ctx, func(ctx context.Context) error {
		return s.deps.Store.ApplyPartialSell(ctx, p, sale)
	}); err != nil {
		return s.persistFailed(err, sale)
	}

	s.deps.Metrics.RecordSell(policy.PartialSell.String(), d.Reason)
	s.publish(events.PartialSellEvent{
		BaseEvent:    events.NewBase(events.PartialSellExecuted, fill.At),
		PositionRef:  s.ref,
		Reason:       d.Reason,
		Percent:      d.Percent,
		Quantity:     fill.Quantity,
		Price:        fill.Price,
		Received:     fill.Received,
		Signature:    fill.Signature,
		AmountLeft:   p.AmountTokens,
		RebasedEntry: p.EntryPrice,
	})
	s.logger.Info("Partial sell booked, moonbag phase",
		zap.String("signature", fill.Signature),
		zap.Float64("sold", fill.Quantity),
		zap.Float64("amount_left", p.AmountTokens),
		zap.Float64("new_entry", p.EntryPrice))
	return "", false
}

func (s *Supervisor) bookFullSell(ctx context.Context, p *position.Position, d policy.Decision, fill position.SellFill) (StopReason, bool) {
	status := position.StatusForReason(d.Reason)
	sale := s.sale(p, "full_sell", d.Reason, fill)
	if err := p.ApplyFullSell(fill, status, d.Reason); err != nil {
		return s.persistFailed(err, sale)
	}
	if err := s.persist(ctx, func(ctx context.Context) error {
		return s.deps.Store.ClosePosition(ctx, p, &sale)
	}); err != nil {
		return s.persistFailed(err, sale)
	}

	s.deps.Metrics.RecordSell(policy.FullSell.String(), d.Reason)
	s.publish(events.PositionClosedEvent{
		BaseEvent:        events.NewBase(events.PositionClosed, fill.At),
		PositionRef:      s.ref,
		Status:           string(p.Status),
		Reason:           d.Reason,
		Price:            fill.Price,
		Received:         fill.Received,
		Signature:        fill.Signature,
		AverageSellPrice: p.AverageSellPrice,
	})
	s.logger.Info("Position closed",
		zap.String("status", string(p.Status)),
		zap.String("reason", d.Reason),
		zap.String("signature", fill.Signature),
		zap.Float64("total_received", p.TotalReceived),
		zap.Float64("average_sell_price", p.AverageSellPrice))
	return StopClosed, true
}

// persist retries a store write after a confirmed sale. The sale already
// happened on chain, so the write is detached from ctx cancellation and only
// bounded by PersistTimeout.
func (s *Supervisor) persist(ctx context.Context, write func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.PersistTimeout)
	defer cancel()

	operation := func() (struct{}, error) {
		err := write(ctx)
		if isGone(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, d time.Duration) {
		s.logger.Warn("Failed to persist sale, retrying", zap.Duration("backoff", d), zap.Error(err))
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(persistMaxTries),
		backoff.WithMaxElapsedTime(s.deps.PersistTimeout),
		backoff.WithNotify(notify))
	return err
}

// persistFailed stops the supervisor and keeps the sale that could not be
// booked. The stored row no longer matches the chain, so nothing may sell
// this position again until it is reconciled.
func (s *Supervisor) persistFailed(err error, sale storage.Sale) (StopReason, bool) {
	if isGone(err) {
		s.logger.Error("Sale executed but position was closed concurrently",
			zap.String("signature", sale.Signature),
			zap.Float64("quantity", sale.Quantity),
			zap.Error(err))
		return StopClosedExternally, true
	}
	s.unbooked = &sale
	s.logger.Error("Sale executed but could not be persisted, manual reconciliation required",
		zap.String("signature", sale.Signature),
		zap.String("kind", sale.Kind),
		zap.Float64("quantity", sale.Quantity),
		zap.Float64("received", sale.Received),
		zap.Error(err))
	return StopError, true
}

// UnbookedSale returns the executed sale that could not be stored, if any.
func (s *Supervisor) UnbookedSale() *storage.Sale {
	return s.unbooked
}

// refreshConfig picks up owner settings changed while the position is
// monitored. The last known config stays in force when the lookup fails.
func (s *Supervisor) refreshConfig(ctx context.Context, ownerID string) {
	configs, err := s.deps.Store.GetOwnerConfigs(ctx, []string{ownerID})
	if err != nil {
		s.logger.Debug("Failed to reload owner config, keeping previous", zap.Error(err))
		return
	}
	cfg, ok := configs[ownerID]
	if !ok {
		return
	}
	if cfg != s.cfg {
		s.logger.Info("Owner config changed",
			zap.Bool("auto_sell", cfg.AutoSellEnabled),
			zap.Float64("take_profit_pct", cfg.TakeProfitPct),
			zap.Float64("stop_loss_pct", cfg.StopLossPct))
	}
	s.cfg = cfg
}

func (s *Supervisor) sale(p *position.Position, kind, reason string, fill position.SellFill) storage.Sale {
	return storage.Sale{
		Signature:  fill.Signature,
		PositionID: p.ID,
		OwnerID:    p.OwnerID,
		WalletRef:  p.WalletRef,
		TokenID:    p.TokenID,
		Kind:       kind,
		Reason:     reason,
		Quantity:   fill.Quantity,
		Price:      fill.Price,
		Received:   fill.Received,
		ExecutedAt: fill.At,
	}
}

func (s *Supervisor) publish(e events.Event) {
	if err := s.deps.Events.Publish(e); err != nil {
		s.logger.Debug("Event dropped", zap.String("event_type", string(e.Type())), zap.Error(err))
	}
}

func refOf(p *position.Position) events.PositionRef {
	return events.PositionRef{PositionID: p.ID, OwnerID: p.OwnerID, TokenID: p.TokenID}
}

func isGone(err error) bool {
	return errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound)
}
