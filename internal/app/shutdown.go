// internal/app/shutdown.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ShutdownFunc releases one component. It must respect ctx.
type ShutdownFunc func(ctx context.Context) error

// CloserFunc adapts a Close method without a context.
func CloserFunc(close func() error) ShutdownFunc {
	return func(context.Context) error { return close() }
}

type namedHook struct {
	name string
	fn   ShutdownFunc
}

// ShutdownHandler runs registered hooks in reverse registration order, one
// at a time. A component is registered after everything it depends on, so
// it is released before them.
type ShutdownHandler struct {
	logger *zap.Logger
	mu     sync.Mutex
	hooks  []namedHook
	once   sync.Once
	err    error
}

func NewShutdownHandler(logger *zap.Logger) *ShutdownHandler {
	return &ShutdownHandler{logger: logger.Named("shutdown")}
}

// Add registers a hook.
func (sh *ShutdownHandler) Add(name string, fn ShutdownFunc) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.hooks = append(sh.hooks, namedHook{name: name, fn: fn})
	sh.logger.Debug("Registered service for shutdown", zap.String("service", name))
}

// Shutdown runs every hook once. Later calls return the first result. A hook
// that fails or times out does not stop the hooks after it.
func (sh *ShutdownHandler) Shutdown(ctx context.Context) error {
	sh.once.Do(func() {
		sh.err = sh.run(ctx)
	})
	return sh.err
}

func (sh *ShutdownHandler) run(ctx context.Context) error {
	sh.mu.Lock()
	hooks := make([]namedHook, len(sh.hooks))
	copy(hooks, sh.hooks)
	sh.mu.Unlock()

	sh.logger.Info("Starting graceful shutdown", zap.Int("services", len(hooks)))

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		sh.logger.Info("Shutting down service", zap.String("service", h.name))
		if err := h.fn(ctx); err != nil {
			sh.logger.Error("Failed to shutdown service",
				zap.String("service", h.name),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		sh.logger.Info("Service shutdown complete", zap.String("service", h.name))
	}

	if len(errs) > 0 {
		sh.logger.Error("Shutdown completed with errors", zap.Int("errorCount", len(errs)))
		return errors.Join(errs...)
	}
	sh.logger.Info("Graceful shutdown completed successfully")
	return nil
}
