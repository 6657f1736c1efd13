// internal/monitor/scheduler.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autosell/internal/events"
	"github.com/rovshanmuradov/solana-autosell/internal/position"
	"github.com/rovshanmuradov/solana-autosell/internal/storage"
)

// DefaultBatchSize is used when Run is called with a non-positive batch size.
const DefaultBatchSize = 100

// RunResult summarises one scheduler pass.
type RunResult struct {
	Processed         int `json:"processed"`
	MonitorsStarted   int `json:"monitorsStarted"`
	AlreadyMonitoring int `json:"alreadyMonitoring"`
	Skipped           int `json:"skipped"`
}

// Scheduler starts a supervisor for every open position that does not have
// one yet. Calling Run repeatedly, or from several goroutines, is safe.
type Scheduler struct {
	deps     Deps
	registry *Registry
	logger   *zap.Logger

	// mu guards cursor. Successive runs page through the open set so a
	// bounded batch never starves newer positions.
	mu     sync.Mutex
	cursor *storage.Cursor
}

// NewScheduler creates a scheduler that registers supervisors in registry.
func NewScheduler(deps Deps, registry *Registry) *Scheduler {
	deps = deps.withDefaults()
	return &Scheduler{
		deps:     deps,
		registry: registry,
		logger:   deps.Logger.Named("scheduler"),
	}
}

// Run processes one batch of open positions.
func (s *Scheduler) Run(ctx context.Context, batchSize int) (RunResult, error) {
	res, err := s.run(ctx, batchSize)
	s.deps.Metrics.RecordSchedulerRun(err)
	if err != nil {
		s.logger.Error("Scheduler run failed", zap.Error(err))
		return res, err
	}

	s.publish(events.SchedulerRunEvent{
		BaseEvent:         events.NewBase(events.SchedulerRunCompleted, s.deps.Clock.Now()),
		Processed:         res.Processed,
		MonitorsStarted:   res.MonitorsStarted,
		AlreadyMonitoring: res.AlreadyMonitoring,
		Skipped:           res.Skipped,
	})
	s.logger.Info("Scheduler run completed",
		zap.Int("processed", res.Processed),
		zap.Int("monitors_started", res.MonitorsStarted),
		zap.Int("already_monitoring", res.AlreadyMonitoring),
		zap.Int("skipped", res.Skipped),
		zap.Int("active", s.registry.Len()))
	return res, nil
}

func (s *Scheduler) run(ctx context.Context, batchSize int) (RunResult, error) {
	var res RunResult
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	positions, err := s.nextPage(ctx, batchSize)
	if err != nil {
		return res, err
	}
	if len(positions) == 0 {
		return res, nil
	}

	configs, err := s.deps.Store.GetOwnerConfigs(ctx, ownerIDs(positions))
	if err != nil {
		return res, fmt.Errorf("load owner configs: %w", err)
	}

	for _, p := range positions {
		res.Processed++

		if s.registry.IsActive(p.ID) {
			res.AlreadyMonitoring++
			continue
		}
		if s.registry.IsQuarantined(p.ID) {
			s.logger.Debug("Position quarantined, not monitored", zap.String("position_id", p.ID))
			res.Skipped++
			continue
		}

		cfg, ok := configs[p.OwnerID]
		if !ok {
			s.logger.Warn("No settings for owner, position not monitored",
				zap.String("position_id", p.ID),
				zap.String("owner_id", p.OwnerID))
			res.Skipped++
			continue
		}
		if p.WalletRef == "" {
			s.logger.Warn("Position has no wallet, not monitored",
				zap.String("position_id", p.ID),
				zap.String("owner_id", p.OwnerID))
			res.Skipped++
			continue
		}

		sup := NewSupervisor(s.deps, p, cfg)
		started, err := s.registry.TryStart(p.ID, func(ctx context.Context) {
			if sup.Run(ctx) != StopError {
				return
			}
			q := QuarantinedPosition{PositionID: sup.positionID, Since: s.deps.Clock.Now()}
			if sale := sup.UnbookedSale(); sale != nil {
				q.Signature = sale.Signature
				q.Kind = sale.Kind
				q.Quantity = sale.Quantity
			}
			s.registry.Quarantine(q)
		})
		if errors.Is(err, ErrRegistryClosed) {
			return res, err
		}
		if !started {
			res.AlreadyMonitoring++
			continue
		}
		res.MonitorsStarted++
	}
	return res, nil
}

// nextPage reads the page after the stored cursor and advances it. A short
// page wraps the cursor back to the oldest position.
func (s *Scheduler) nextPage(ctx context.Context, limit int) ([]*position.Position, error) {
	s.mu.Lock()
	after := s.cursor
	s.mu.Unlock()

	positions, err := s.deps.Store.ListOpen(ctx, storage.Page{Limit: limit, After: after})
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}

	s.mu.Lock()
	if len(positions) < limit {
		s.cursor = nil
	} else {
		s.cursor = storage.CursorOf(positions[len(positions)-1])
	}
	s.mu.Unlock()
	return positions, nil
}

// Loop calls Run immediately and then every interval until ctx is done.
func (s *Scheduler) Loop(ctx context.Context, every time.Duration, batchSize int) error {
	if every <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", every)
	}
	s.logger.Info("Scheduler loop started",
		zap.Duration("interval", every),
		zap.Int("batch_size", batchSize))

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := s.Run(ctx, batchSize); errors.Is(err, ErrRegistryClosed) {
			return nil
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Registry returns the registry supervisors are tracked in.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

func (s *Scheduler) publish(e events.Event) {
	if err := s.deps.Events.Publish(e); err != nil {
		s.logger.Debug("Event dropped", zap.String("event_type", string(e.Type())), zap.Error(err))
	}
}

func ownerIDs(positions []*position.Position) []string {
	seen := make(map[string]struct{}, len(positions))
	out := make([]string, 0, len(positions))
	for _, p := range positions {
		if _, ok := seen[p.OwnerID]; ok {
			continue
		}
		seen[p.OwnerID] = struct{}{}
		out = append(out, p.OwnerID)
	}
	return out
}
