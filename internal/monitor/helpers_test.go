package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-autosell/internal/events"
	"github.com/rovshanmuradov/solana-autosell/internal/liquidity"
	"github.com/rovshanmuradov/solana-autosell/internal/position"
	"github.com/rovshanmuradov/solana-autosell/internal/storage/memory"
	"github.com/rovshanmuradov/solana-autosell/internal/swap"
)

var errNoQuote = errors.New("no quote")

// fakeClock advances only when a supervisor sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// scriptedPrices returns prices in order and repeats the last one.
// A zero entry means the quote is unavailable.
type scriptedPrices struct {
	mu     sync.Mutex
	prices []float64
	calls  int
	onCall func(n int)
}

func (s *scriptedPrices) Price(_ context.Context, _ string) (float64, error) {
	s.mu.Lock()
	n := s.calls
	s.calls++
	price := s.prices[len(s.prices)-1]
	if n < len(s.prices) {
		price = s.prices[n]
	}
	hook := s.onCall
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if price <= 0 {
		return 0, errNoQuote
	}
	return price, nil
}

type staticLiquidity struct {
	mu     sync.Mutex
	report liquidity.Report
	calls  int
}

func (l *staticLiquidity) Check(context.Context, string) liquidity.Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.report
}

func (l *staticLiquidity) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// recordingExecutor confirms every sale unless failures are queued.
type recordingExecutor struct {
	mu       sync.Mutex
	orders   []swap.SellOrder
	failures int
	err      error
}

func (e *recordingExecutor) Sell(_ context.Context, order swap.SellOrder) (swap.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders = append(e.orders, order)
	if e.failures > 0 {
		e.failures--
		return swap.Result{}, e.err
	}
	return swap.Result{
		Signature:      fmt.Sprintf("sig-%d", len(e.orders)),
		ReceivedAmount: 0.5,
	}, nil
}

func (e *recordingExecutor) Orders() []swap.SellOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]swap.SellOrder(nil), e.orders...)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEvents) Publish(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEvents) Types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type())
	}
	return out
}

func newPosition(id string, entry float64, openedAt time.Time) *position.Position {
	return &position.Position{
		ID:                   id,
		OwnerID:              "owner",
		WalletRef:            "wallet-1",
		TokenID:              "So11111111111111111111111111111111111111112",
		AmountTokens:         1_000_000,
		OriginalAmountTokens: 1_000_000,
		EntryPrice:           entry,
		OriginalEntryPrice:   entry,
		CurrentPrice:         entry,
		HighPriceSeen:        entry,
		LowPriceSeen:         entry,
		Status:               position.StatusOpen,
		OpenedAt:             openedAt,
	}
}

type harness struct {
	store     *memory.Store
	prices    *scriptedPrices
	liquidity *staticLiquidity
	executor  *recordingExecutor
	events    *recordingEvents
	clock     *fakeClock
	deps      Deps
}

func newHarness(t *testing.T, prices ...float64) *harness {
	t.Helper()
	h := &harness{
		store:     memory.New(),
		prices:    &scriptedPrices{prices: prices},
		liquidity: &staticLiquidity{report: liquidity.Report{Classification: liquidity.Healthy, ValueUSD: 50_000}},
		executor:  &recordingExecutor{},
		events:    &recordingEvents{},
		clock:     newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	h.deps = Deps{
		Store:          h.store,
		Prices:         h.prices,
		Liquidity:      h.liquidity,
		Executor:       h.executor,
		Events:         h.events,
		Clock:          h.clock,
		Logger:         zaptest.NewLogger(t),
		MaxIterations:  20,
		PersistTimeout: time.Second,
	}
	return h
}

func defaultConfig() position.OwnerConfig {
	return position.ApplyDefaults(position.OwnerSettings{OwnerID: "owner"})
}
