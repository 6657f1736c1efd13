package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-autosell/internal/config"
)

func TestShutdownHandlerRunsInReverseOrder(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t))

	var order []string
	for _, name := range []string{"store", "bus", "monitors"} {
		name := name
		sh.Add(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Equal(t, []string{"monitors", "bus", "store"}, order)

	require.NoError(t, sh.Shutdown(context.Background()))
	assert.Len(t, order, 3, "hooks run once")
}

func TestShutdownHandlerContinuesAfterFailure(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t))

	closed := false
	sh.Add("store", CloserFunc(func() error {
		closed = true
		return nil
	}))
	sh.Add("bus", func(context.Context) error { return errors.New("stuck") })

	err := sh.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus: stuck")
	assert.True(t, closed)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Redis: config.RedisConfig{
			PriceCacheTTLMs: 1000,
			EventsChannel:   "autosell:events",
		},
		Price: config.PriceConfig{
			Providers:         []string{config.ProviderDexScreener, config.ProviderJupiter},
			DexScreenerURL:    "http://127.0.0.1:1",
			JupiterURL:        "http://127.0.0.1:1",
			TimeoutMs:         100,
			RequestsPerMinute: 60,
		},
		Liquidity: config.LiquidityConfig{FloorUSD: 500},
		Swap:      config.SwapConfig{DryRun: true},
		Scheduler: config.SchedulerConfig{Enabled: true, BatchSize: 10, IntervalSec: 60},
		API:       config.APIConfig{ListenAddr: "127.0.0.1:0", ShutdownTimeoutSec: 5},
		Log:       config.LogConfig{JournalFile: filepath.Join(t.TempDir(), "sales.csv")},
	}
}

func TestAppDryRunLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Addr = mr.Addr()

	a, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	res, err := a.Scheduler().Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}

	_, err = os.Stat(cfg.Log.JournalFile)
	assert.NoError(t, err, "journal created")
}

func TestAppFailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Addr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestAppRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Price.Providers = []string{"coingecko"}

	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "unknown price provider")
}
