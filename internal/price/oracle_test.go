package price

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-autosell/internal/dexscreener"
)

const mint = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"

type stubProvider struct {
	name  string
	price float64
	err   error
	calls int32
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Price(context.Context, string) (float64, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.price, s.err
}

func TestOracleFallsThroughProviders(t *testing.T) {
	failing := &stubProvider{name: "a", err: errors.New("boom")}
	zero := &stubProvider{name: "b", price: 0}
	good := &stubProvider{name: "c", price: 0.00015}

	o := NewOracle(zaptest.NewLogger(t), nil, failing, zero, good)

	v, err := o.Price(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, 0.00015, v)
	assert.EqualValues(t, 1, failing.calls)
	assert.EqualValues(t, 1, zero.calls)
}

func TestOracleUnavailable(t *testing.T) {
	o := NewOracle(zaptest.NewLogger(t), nil,
		&stubProvider{name: "a", err: errors.New("boom")},
		&stubProvider{name: "b", price: -1},
	)

	_, err := o.Price(context.Background(), mint)
	assert.ErrorIs(t, err, ErrPriceUnavailable)

	_, err = NewOracle(zaptest.NewLogger(t), nil).Price(context.Background(), mint)
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestDexScreenerProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pairs":[
			{"chainId":"solana","baseToken":{"address":"` + mint + `"},"quoteToken":{"address":"` + dexscreener.WrappedSOL + `"},
			 "priceNative":"0.00011","liquidity":{"usd":10}},
			{"chainId":"solana","baseToken":{"address":"` + mint + `"},"quoteToken":{"address":"` + dexscreener.WrappedSOL + `"},
			 "priceNative":"0.00015","liquidity":{"usd":9000}}]}`))
	}))
	defer srv.Close()

	client := dexscreener.NewClient(dexscreener.Options{BaseURL: srv.URL, RequestsPerMinute: 60_000}, zaptest.NewLogger(t))
	p := NewDexScreenerProvider(client)

	v, err := p.Price(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, 0.00015, v)
	assert.Equal(t, "dexscreener", p.Name())
}

func TestDexScreenerProviderNoPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pairs":null}`))
	}))
	defer srv.Close()

	client := dexscreener.NewClient(dexscreener.Options{BaseURL: srv.URL}, zaptest.NewLogger(t))
	_, err := NewDexScreenerProvider(client).Price(context.Background(), mint)
	assert.Error(t, err)
}

func TestJupiterProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, mint, r.URL.Query().Get("ids"))
		assert.Equal(t, dexscreener.WrappedSOL, r.URL.Query().Get("vsToken"))
		_, _ = w.Write([]byte(`{"data":{"` + mint + `":{"id":"` + mint + `","type":"derivedPrice","price":"0.000123"}},"timeTaken":0.001}`))
	}))
	defer srv.Close()

	p := NewJupiterProvider(srv.URL, 0, time.Second)
	v, err := p.Price(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, 0.000123, v)
}

func TestJupiterProviderMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"` + mint + `":null}}`))
	}))
	defer srv.Close()

	_, err := NewJupiterProvider(srv.URL, 0, time.Second).Price(context.Background(), mint)
	assert.Error(t, err)
}

func TestJupiterProviderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewJupiterProvider(srv.URL, 0, time.Second).Price(context.Background(), mint)
	assert.Error(t, err)
}

func TestCachedProviderSharesQuotes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	inner := &stubProvider{name: "stub", price: 0.0002}
	c := NewCachedProvider(inner, rdb, 2*time.Second, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		v, err := c.Price(context.Background(), mint)
		require.NoError(t, err)
		assert.Equal(t, 0.0002, v)
	}
	assert.EqualValues(t, 1, inner.calls)

	mr.FastForward(3 * time.Second)
	_, err := c.Price(context.Background(), mint)
	require.NoError(t, err)
	assert.EqualValues(t, 2, inner.calls)
}

func TestCachedProviderSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	inner := &stubProvider{name: "stub", price: 0.0003}
	c := NewCachedProvider(inner, rdb, time.Second, zaptest.NewLogger(t))

	v, err := c.Price(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, 0.0003, v)
}

func TestCachedProviderDoesNotCacheFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	inner := &stubProvider{name: "stub", err: errors.New("down")}
	c := NewCachedProvider(inner, rdb, time.Second, zaptest.NewLogger(t))

	_, err := c.Price(context.Background(), mint)
	assert.Error(t, err)
	assert.False(t, mr.Exists(cacheKeyPrefix+"stub:"+mint))
}
