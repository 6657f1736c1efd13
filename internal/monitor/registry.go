// internal/monitor/registry.go
package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRegistryClosed is returned by TryStart after Shutdown.
var ErrRegistryClosed = errors.New("monitor registry is shut down")

// entry is one running supervisor.
type entry struct {
	cancel    context.CancelFunc
	startedAt time.Time
}

// ActiveMonitor describes a running supervisor.
type ActiveMonitor struct {
	PositionID string    `json:"positionId"`
	StartedAt  time.Time `json:"startedAt"`
}

// QuarantinedPosition is a position whose executed sale could not be
// stored. It is not monitored again until released.
type QuarantinedPosition struct {
	PositionID string    `json:"positionId"`
	Signature  string    `json:"signature"`
	Kind       string    `json:"kind"`
	Quantity   float64   `json:"quantity"`
	Since      time.Time `json:"since"`
}

// Registry is the set of running supervisors keyed by position id. It is the
// only state shared between the scheduler and the supervisors.
type Registry struct {
	mu          sync.Mutex
	entries     map[string]*entry
	quarantined map[string]QuarantinedPosition
	wg      sync.WaitGroup
	base    context.Context
	stopAll context.CancelFunc
	closed  bool
	logger  *zap.Logger
}

// NewRegistry creates an empty registry. Supervisors run under a context
// owned by the registry, not by whoever asked for them to start.
func NewRegistry(logger *zap.Logger) *Registry {
	base, cancel := context.WithCancel(context.Background())
	return &Registry{
		entries:     make(map[string]*entry),
		quarantined: make(map[string]QuarantinedPosition),
		base:        base,
		stopAll:     cancel,
		logger:      logger.Named("registry"),
	}
}

// TryStart runs fn in a new goroutine unless a supervisor for id is already
// registered or id is quarantined. The check and the insert happen under one
// lock. The entry is released when fn returns.
func (r *Registry) TryStart(id string, fn func(ctx context.Context)) (bool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, ErrRegistryClosed
	}
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		return false, nil
	}
	if _, held := r.quarantined[id]; held {
		r.mu.Unlock()
		return false, nil
	}
	ctx, cancel := context.WithCancel(r.base)
	r.entries[id] = &entry{cancel: cancel, startedAt: time.Now()}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.release(id)
		defer cancel()
		fn(ctx)
	}()
	return true, nil
}

// Stop cancels the supervisor for id. It returns false if none is running.
func (r *Registry) Stop(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.cancel()
	return true
}

// IsActive reports whether a supervisor for id is registered.
func (r *Registry) IsActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of running supervisors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Active returns a snapshot of running supervisors ordered by position id.
func (r *Registry) Active() []ActiveMonitor {
	r.mu.Lock()
	out := make([]ActiveMonitor, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, ActiveMonitor{PositionID: id, StartedAt: e.startedAt})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out
}

// Quarantine blocks id from being monitored until Release is called.
func (r *Registry) Quarantine(q QuarantinedPosition) {
	r.mu.Lock()
	r.quarantined[q.PositionID] = q
	r.mu.Unlock()

	r.logger.Error("Position quarantined",
		zap.String("position_id", q.PositionID),
		zap.String("signature", q.Signature),
		zap.String("kind", q.Kind),
		zap.Float64("quantity", q.Quantity))
}

// IsQuarantined reports whether id is blocked.
func (r *Registry) IsQuarantined(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.quarantined[id]
	return ok
}

// Quarantined returns the blocked positions ordered by position id.
func (r *Registry) Quarantined() []QuarantinedPosition {
	r.mu.Lock()
	out := make([]QuarantinedPosition, 0, len(r.quarantined))
	for _, q := range r.quarantined {
		out = append(out, q)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out
}

// Release lifts the quarantine of id after the operator reconciled the
// stored row. It returns false if id was not quarantined.
func (r *Registry) Release(id string) bool {
	r.mu.Lock()
	_, ok := r.quarantined[id]
	delete(r.quarantined, id)
	r.mu.Unlock()

	if ok {
		r.logger.Info("Position released from quarantine", zap.String("position_id", id))
	}
	return ok
}

// Shutdown cancels every supervisor, refuses new ones and waits for the
// running ones to return or for ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	active := len(r.entries)
	r.mu.Unlock()

	r.logger.Info("Shutting down monitors", zap.Int("active", active))
	r.stopAll()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("All monitors stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("Monitor shutdown timed out", zap.Int("still_running", r.Len()))
		return ctx.Err()
	}
}

func (r *Registry) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}
