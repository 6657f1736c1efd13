package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-autosell/internal/monitor"
	"github.com/rovshanmuradov/solana-autosell/internal/storage"
)

type stubScheduler struct {
	mu     sync.Mutex
	sizes  []int
	result monitor.RunResult
	err    error
}

func (s *stubScheduler) Run(_ context.Context, batchSize int) (monitor.RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes = append(s.sizes, batchSize)
	return s.result, s.err
}

type stubRegistry struct {
	active      []monitor.ActiveMonitor
	stopped     []string
	quarantined []monitor.QuarantinedPosition
}

func (r *stubRegistry) Active() []monitor.ActiveMonitor { return r.active }

func (r *stubRegistry) Stop(id string) bool {
	for _, m := range r.active {
		if m.PositionID == id {
			r.stopped = append(r.stopped, id)
			return true
		}
	}
	return false
}

func (r *stubRegistry) Quarantined() []monitor.QuarantinedPosition { return r.quarantined }

func (r *stubRegistry) Release(id string) bool {
	for i, q := range r.quarantined {
		if q.PositionID == id {
			r.quarantined = append(r.quarantined[:i], r.quarantined[i+1:]...)
			return true
		}
	}
	return false
}

type stubSales struct {
	sales map[string][]storage.Sale
	err   error
}

func (s *stubSales) ListSales(_ context.Context, id string) ([]storage.Sale, error) {
	return s.sales[id], s.err
}

func newTestRouter(t *testing.T, sched *stubScheduler, reg *stubRegistry, sales *stubSales) http.Handler {
	t.Helper()
	return SetupRoutes(Dependencies{
		Scheduler:        sched,
		Monitors:         reg,
		Sales:            sales,
		Gatherer:         prometheus.NewRegistry(),
		DefaultBatchSize: 100,
		Logger:           zaptest.NewLogger(t),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRunSchedulerReturnsCounts(t *testing.T) {
	sched := &stubScheduler{result: monitor.RunResult{Processed: 3, MonitorsStarted: 2, AlreadyMonitoring: 1}}
	h := newTestRouter(t, sched, &stubRegistry{}, &stubSales{})

	rec := do(t, h, http.MethodPost, "/api/v1/scheduler/run", `{"batchSize":25}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"processed":3,"monitorsStarted":2,"alreadyMonitoring":1,"skipped":0}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/scheduler/run", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []int{25, 100}, sched.sizes)
}

func TestRunSchedulerRejectsBadInput(t *testing.T) {
	h := newTestRouter(t, &stubScheduler{}, &stubRegistry{}, &stubSales{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"batchSize":`},
		{"negative", `{"batchSize":-1}`},
		{"too large", `{"batchSize":1000000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/scheduler/run", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestRunSchedulerErrors(t *testing.T) {
	rec := do(t, newTestRouter(t, &stubScheduler{err: errors.New("db down")}, &stubRegistry{}, &stubSales{}),
		http.MethodPost, "/api/v1/scheduler/run", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, newTestRouter(t, &stubScheduler{err: monitor.ErrRegistryClosed}, &stubRegistry{}, &stubSales{}),
		http.MethodPost, "/api/v1/scheduler/run", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunSchedulerMethodNotAllowed(t *testing.T) {
	rec := do(t, newTestRouter(t, &stubScheduler{}, &stubRegistry{}, &stubSales{}),
		http.MethodGet, "/api/v1/scheduler/run", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMonitorsListAndStop(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := &stubRegistry{active: []monitor.ActiveMonitor{{PositionID: "pos-1", StartedAt: started}}}
	h := newTestRouter(t, &stubScheduler{}, reg, &stubSales{})

	rec := do(t, h, http.MethodGet, "/api/v1/monitors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":1,"monitors":[{"positionId":"pos-1","startedAt":"2026-03-01T12:00:00Z"}]}`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/api/v1/monitors/pos-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"pos-1"}, reg.stopped)

	rec = do(t, h, http.MethodDelete, "/api/v1/monitors/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuarantineListAndRelease(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := &stubRegistry{quarantined: []monitor.QuarantinedPosition{
		{PositionID: "pos-1", Signature: "sig-1", Kind: "partial_sell", Quantity: 900000, Since: since},
	}}
	h := newTestRouter(t, &stubScheduler{}, reg, &stubSales{})

	rec := do(t, h, http.MethodGet, "/api/v1/quarantine", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":1,"positions":[{"positionId":"pos-1","signature":"sig-1",
		"kind":"partial_sell","quantity":900000,"since":"2026-03-01T12:00:00Z"}]}`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/api/v1/quarantine/pos-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, reg.quarantined)

	rec = do(t, h, http.MethodDelete, "/api/v1/quarantine/pos-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSales(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sales := &stubSales{sales: map[string][]storage.Sale{
		"pos-1": {{Signature: "sig-1", PositionID: "pos-1", Kind: "partial_sell", Reason: "take_profit_50%",
			Quantity: 900000, Price: 0.00015, Received: 135, ExecutedAt: at}},
	}}
	h := newTestRouter(t, &stubScheduler{}, &stubRegistry{}, sales)

	rec := do(t, h, http.MethodGet, "/api/v1/positions/pos-1/sales", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"signature":"sig-1","kind":"partial_sell","reason":"take_profit_50%",
		"quantity":900000,"price":0.00015,"received":135,"executedAt":"2026-03-01T12:00:00Z"}]`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/positions/other/sales", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	sales.err = errors.New("boom")
	rec = do(t, h, http.MethodGet, "/api/v1/positions/pos-1/sales", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "autosell_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := SetupRoutes(Dependencies{Gatherer: reg, Logger: zaptest.NewLogger(t)})

	rec := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autosell_test_total 1")

	rec = do(t, h, http.MethodPost, "/api/v1/scheduler/run", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	router := SetupRoutes(Dependencies{Logger: zaptest.NewLogger(t), Gatherer: prometheus.NewRegistry()})
	router.HandleFunc("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := do(t, router, http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServerShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := SetupRoutes(Dependencies{Logger: zaptest.NewLogger(t), Gatherer: prometheus.NewRegistry()})
	srv := NewServer(ln.Addr().String(), h, time.Second, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
