package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-autosell/internal/events"
	"github.com/rovshanmuradov/solana-autosell/internal/liquidity"
	"github.com/rovshanmuradov/solana-autosell/internal/position"
	"github.com/rovshanmuradov/solana-autosell/internal/storage"
	"github.com/rovshanmuradov/solana-autosell/internal/storage/memory"
)

func TestSupervisorTakeProfitThenMoonbagDrawdown(t *testing.T) {
	h := newHarness(t, 0.00015, 0.00014, 0.0001, 0.00006, 0.000045)
	p := newPosition("pos-1", 0.0001, h.clock.Now())
	h.store.Put(p)

	reason := NewSupervisor(h.deps, p, defaultConfig()).Run(context.Background())
	assert.Equal(t, StopClosed, reason)

	orders := h.executor.Orders()
	require.Len(t, orders, 2)
	assert.False(t, orders[0].SellAll)
	assert.Equal(t, 90.0, orders[0].Percent)
	assert.InDelta(t, 900_000, orders[0].Quantity, 1e-6)
	assert.Equal(t, "wallet-1", orders[0].WalletRef)
	assert.Equal(t, position.DefaultSlippageBps, orders[0].SlippageBps)
	assert.True(t, orders[1].SellAll)

	stored, ok := h.store.Get("pos-1")
	require.True(t, ok)
	assert.Equal(t, position.StatusSold, stored.Status)
	assert.Equal(t, "drawdown_70%_from_peak", stored.ExitReason)
	assert.Equal(t, 0.0, stored.AmountTokens)
	assert.Equal(t, 1, stored.PartialSellsCount)
	assert.Equal(t, "sig-2", stored.LastSellSignature)
	assert.InDelta(t, 1.0, stored.TotalReceived, 1e-12)
	require.NotNil(t, stored.ClosedAt)
	require.NoError(t, stored.CheckInvariant(position.DefaultEpsilon))

	sales, err := h.store.ListSales(context.Background(), "pos-1")
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "partial_sell", sales[0].Kind)
	assert.Equal(t, "take_profit_50%", sales[0].Reason)
	assert.Equal(t, "full_sell", sales[1].Kind)
	assert.InDelta(t, 100_000, sales[1].Quantity, 1e-6)

	// liquidity is only consulted once the position is a moonbag
	assert.Equal(t, 4, h.liquidity.Calls())

	types := h.events.Types()
	assert.Equal(t, events.MonitoringStarted, types[0])
	assert.Equal(t, events.MonitoringStopped, types[len(types)-1])
	assert.Contains(t, types, events.PartialSellExecuted)
	assert.Contains(t, types, events.PositionClosed)
}

func TestSupervisorSwapFailureLeavesPositionUnchanged(t *testing.T) {
	h := newHarness(t, 0.00015)
	h.executor.failures = 1
	h.executor.err = errors.New("execution service unavailable")
	h.deps.MaxIterations = 1

	p := newPosition("pos-1", 0.0001, h.clock.Now())
	h.store.Put(p)

	reason := NewSupervisor(h.deps, p, defaultConfig()).Run(context.Background())
	assert.Equal(t, StopIterationLimit, reason)

	stored, _ := h.store.Get("pos-1")
	assert.Equal(t, position.StatusOpen, stored.Status)
	assert.Equal(t, 1_000_000.0, stored.AmountTokens)
	assert.Equal(t, 0.0, stored.TotalSoldTokens)
	assert.Equal(t, 0.00015, stored.CurrentPrice)

	sales, _ := h.store.ListSales(context.Background(), "pos-1")
	assert.Empty(t, sales)
	assert.Contains(t, h.events.Types(), events.SellFailed)
}

func TestSupervisorRetriesSellOnNextCycle(t *testing.T) {
	h := newHarness(t, 0.00015)
	h.executor.failures = 1
	h.executor.err = errors.New("timeout")
	h.deps.MaxIterations = 2

	p := newPosition("pos-1", 0.0001, h.clock.Now())
	h.store.Put(p)

	NewSupervisor(h.deps, p, defaultConfig()).Run(context.Background())

	assert.Len(t, h.executor.Orders(), 2)
	stored, _ := h.store.Get("pos-1")
	assert.Equal(t, position.StatusPartial, stored.Status)
	assert.InDelta(t, 100_000, stored.AmountTokens, 1e-6)
}

func TestSupervisorStopsWhenClosedExternally(t *testing.T) {
	h := newHarness(t, 0.0001)
	p := newPosition("pos-1", 0.0001, h.clock.Now())
	h.store.Put(p)

	h.prices.onCall = func(n int) {
		if n == 1 {
			h.store.ForceClose("pos-1", position.StatusSold, "manual")
		}
	}

	reason := NewSupervisor(h.deps, p, defaultConfig()).Run(context.Background())
	assert.Equal(t, StopClosedExternally, reason)
	assert.Empty(t, h.executor.Orders())

	stored, _ := h.store.Get("pos-1")
	assert.Equal(t, "manual", stored.ExitReason)
}

func TestSupervisorForcesExitWhenLiquidityDrained(t *testing.T) {
	h := newHarness(t, 0.00016)
	h.liquidity.report = liquidity.Report{Classification: liquidity.Drained, ValueUSD: 12}

	p := newPosition("pos-1", 0.00015, h.clock.Now())
	p.AmountTokens = 100_000
	p.TotalSoldTokens = 900_000
	p.PartialSellsCount = 1
	p.Status = position.StatusPartial
	h.store.Put(p)

	reason := NewSupervisor(h.deps, p, defaultConfig()).Run(context.Background())
	assert.Equal(t, StopClosed, reason)

	orders := h.executor.Orders()
	require.Len(t, orders, 1)
	assert.True(t, orders[0].SellAll)

	stored, _ := h.store.Get("pos-1")
	assert.Equal(t, position.StatusSold, stored.Status)
	assert.Equal(t, position.ReasonLPRemoved, stored.ExitReason)
	assert.Contains(t, h.events.Types(), events.LiquidityDrained)
}

func TestSupervisorIgnoresUnknownLiquidity(t *testing.T) {
	h := newHarness(t, 0.00016)
	h.liquidity.report = liquidity.Report{Classification: liquidity.Unknown, Err: errors.New("dexscreener down")}
	h.deps.MaxIterations = 3

	p := newPosition("pos-1", 0.00015, h.clock.Now())
	p.AmountTokens = 100_000
	p.TotalSoldTokens = 900_000
	p.PartialSellsCount = 1
	p.Status = position.StatusPartial
	h.store.Put(p)

	reason := NewSupervisor(h.deps, p, defaultConfig()).Run(context.Background())
	assert.Equal(t, StopIterationLimit, reason)
	assert.Empty(t, h.executor.Orders())
	assert.Equal(t, 3, h.liquidity.Calls())
}

func TestSupervisorMaxAgeSoftStop(t *testing.T) {
	h := newHarness(t, 0.00015)
	p := newPosition("pos-1", 0.0001, h.clock.Now().Add(-25*time.Hour))
	h.store.Put(p)

	reason := NewSupervisor(h.deps, p, defaultConfig()).Run(context.Background())
	assert.Equal(t, StopMaxAge, reason)
	assert.Empty(t, h.executor.Orders())

	stored, _ := h.store.Get("pos-1")
	assert.True(t, stored.Status.IsOpen())
}

func TestSupervisorMaxAgeForcedExit(t *testing.T) {
	h := newHarness(t, 0.00015)
	p := newPosition("pos-1", 0.0001, h.clock.Now().Add(-25*time.Hour))
	h.store.Put(p)

	force := true
	cfg := position.ApplyDefaults(position.OwnerSettings{OwnerID: "owner", ForceExitOnMaxAge: &force})

	reason := NewSupervisor(h.deps, p, cfg).Run(context.Background())
	assert.Equal(t, StopClosed, reason)

	orders := h.executor.Orders()
	require.Len(t, orders, 1)
	assert.True(t, orders[0].SellAll)

	stored, _ := h.store.Get("pos-1")
	assert.Equal(t, position.StatusExpired, stored.Status)
	assert.Equal(t, position.ReasonMaxAge, stored.ExitReason)
}

func TestSupervisorAutoSellDisabledOnlyReprices(t *testing.T) {
	h := newHarness(t, 0.0002)
	h.deps.MaxIterations = 2
	p := newPosition("pos-1", 0.0001, h.clock.Now())
	h.store.Put(p)

	off := false
	cfg := position.ApplyDefaults(position.OwnerSettings{OwnerID: "owner", AutoSellEnabled: &off})

	reason := NewSupervisor(h.deps, p, cfg).Run(context.Background())
	assert.Equal(t, StopIterationLimit, reason)
	assert.Empty(t, h.executor.Orders())

	stored, _ := h.store.Get("pos-1")
	assert.Equal(t, 0.0002, stored.CurrentPrice)
	assert.Equal(t, 0.0002, stored.HighPriceSeen)
	assert.InDelta(t, 100.0, stored.PnLPercent, 1e-9)
}

func TestSupervisorSkipsCycleWithoutPrice(t *testing.T) {
	h := newHarness(t, 0, 0.00015)
	h.deps.MaxIterations = 2
	p := newPosition("pos-1", 0.0001, h.clock.Now())
	h.store.Put(p)

	NewSupervisor(h.deps, p, defaultConfig()).Run(context.Background())

	require.Len(t, h.executor.Orders(), 1)
	types := h.events.Types()
	priceEvents := 0
	for _, typ := range types {
		if typ == events.PriceUpdated {
			priceEvents++
		}
	}
	assert.Equal(t, 1, priceEvents)
}

func TestSupervisorStopsOnCancel(t *testing.T) {
	h := newHarness(t, 0.0001)
	h.deps.Clock = RealClock()
	h.deps.MaxIterations = 0
	p := newPosition("pos-1", 0.0001, time.Now())
	h.store.Put(p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan StopReason, 1)
	go func() {
		done <- NewSupervisor(h.deps, p, defaultConfig()).Run(ctx)
	}()

	require.Eventually(t, func() bool {
		h.prices.mu.Lock()
		defer h.prices.mu.Unlock()
		return h.prices.calls > 0
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case reason := <-done:
		assert.Equal(t, StopCancelled, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

// conflictingStore simulates a close that lands between the swap and the write.
type conflictingStore struct {
	*memory.Store
}

func (s conflictingStore) ApplyPartialSell(context.Context, *position.Position, storage.Sale) error {
	return storage.ErrConflict
}

func TestSupervisorConcurrentCloseAfterSale(t *testing.T) {
	h := newHarness(t, 0.00015)
	h.deps.Store = conflictingStore{h.store}
	p := newPosition("pos-1", 0.0001, h.clock.Now())
	h.store.Put(p)

	reason := NewSupervisor(h.deps, p, defaultConfig()).Run(context.Background())
	assert.Equal(t, StopClosedExternally, reason)
	assert.Len(t, h.executor.Orders(), 1)
}

func TestSupervisorRecordsUnbookedSale(t *testing.T) {
	h := newHarness(t, 0.00015)
	h.deps.Store = unsavableStore{h.store}
	h.deps.PersistTimeout = 50 * time.Millisecond
	p := newPosition("pos-1", 0.0001, h.clock.Now())
	h.store.Put(p)

	sup := NewSupervisor(h.deps, p, defaultConfig())
	assert.Equal(t, StopError, sup.Run(context.Background()))

	sale := sup.UnbookedSale()
	require.NotNil(t, sale)
	assert.Equal(t, "sig-1", sale.Signature)
	assert.Equal(t, 900_000.0, sale.Quantity)
}

func TestSupervisorMaxAgeForcedExitUsesFreshQuote(t *testing.T) {
	h := newHarness(t, 0.00008)
	p := newPosition("pos-1", 0.0001, h.clock.Now().Add(-25*time.Hour))
	h.store.Put(p)

	force := true
	cfg := position.ApplyDefaults(position.OwnerSettings{OwnerID: "owner", ForceExitOnMaxAge: &force})

	assert.Equal(t, StopClosed, NewSupervisor(h.deps, p, cfg).Run(context.Background()))

	stored, _ := h.store.Get("pos-1")
	assert.Equal(t, position.StatusExpired, stored.Status)
	assert.InDelta(t, 0.00008, stored.AverageSellPrice, 1e-12)
}

func TestSupervisorMaxAgeForcedExitWaitsForQuote(t *testing.T) {
	h := newHarness(t, 0, 0, 0.00008)
	h.deps.MaxIterations = 5
	p := newPosition("pos-1", 0.0001, h.clock.Now().Add(-25*time.Hour))
	p.CurrentPrice = 0
	h.store.Put(p)

	force := true
	cfg := position.ApplyDefaults(position.OwnerSettings{OwnerID: "owner", ForceExitOnMaxAge: &force})

	assert.Equal(t, StopClosed, NewSupervisor(h.deps, p, cfg).Run(context.Background()))
	require.Len(t, h.executor.Orders(), 1)

	stored, _ := h.store.Get("pos-1")
	assert.InDelta(t, 0.00008, stored.AverageSellPrice, 1e-12)
}

func TestSupervisorPicksUpOwnerConfigChanges(t *testing.T) {
	h := newHarness(t, 0.0001, 0.00015)
	h.deps.MaxIterations = 3
	p := newPosition("pos-1", 0.0001, h.clock.Now())
	h.store.Put(p)
	h.store.PutOwner(position.OwnerSettings{OwnerID: "owner"})

	off := false
	h.prices.onCall = func(n int) {
		if n == 0 {
			h.store.PutOwner(position.OwnerSettings{OwnerID: "owner", AutoSellEnabled: &off})
		}
	}

	reason := NewSupervisor(h.deps, p, defaultConfig()).Run(context.Background())
	assert.Equal(t, StopIterationLimit, reason)
	assert.Empty(t, h.executor.Orders(), "take-profit ignored once auto-sell is off")

	stored, _ := h.store.Get("pos-1")
	assert.Equal(t, 0.00015, stored.CurrentPrice)
}
