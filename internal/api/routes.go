// internal/api/routes.go
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autosell/internal/monitor"
	"github.com/rovshanmuradov/solana-autosell/internal/storage"
)

// SchedulerRunner triggers one scheduler pass.
type SchedulerRunner interface {
	Run(ctx context.Context, batchSize int) (monitor.RunResult, error)
}

// MonitorRegistry exposes the running supervisors.
type MonitorRegistry interface {
	Active() []monitor.ActiveMonitor
	Stop(id string) bool
	Quarantined() []monitor.QuarantinedPosition
	Release(id string) bool
}

// SalesReader reads the sale ledger.
type SalesReader interface {
	ListSales(ctx context.Context, positionID string) ([]storage.Sale, error)
}

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Scheduler        SchedulerRunner
	Monitors         MonitorRegistry
	Sales            SalesReader
	Gatherer         prometheus.Gatherer
	DefaultBatchSize int
	Logger           *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты
//
// /api/v1/
//
//	├── POST   /scheduler/run         - запустить планировщик
//	├── GET    /monitors              - активные супервизоры
//	├── DELETE /monitors/{id}         - остановить супервизор
//	├── GET    /quarantine            - позиции с незаписанной продажей
//	├── DELETE /quarantine/{id}       - снять карантин после сверки
//	└── GET    /positions/{id}/sales  - журнал продаж позиции
//
// /healthz, /metrics
func SetupRoutes(deps Dependencies) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	router := mux.NewRouter()
	router.Use(recovery(logger))
	router.Use(logging(logger))

	h := &handler{deps: deps, logger: logger}

	api := router.PathPrefix("/api/v1").Subrouter()
	if deps.Scheduler != nil {
		api.HandleFunc("/scheduler/run", h.runScheduler).Methods(http.MethodPost)
	}
	if deps.Monitors != nil {
		api.HandleFunc("/monitors", h.listMonitors).Methods(http.MethodGet)
		api.HandleFunc("/monitors/{id}", h.stopMonitor).Methods(http.MethodDelete)
		api.HandleFunc("/quarantine", h.listQuarantine).Methods(http.MethodGet)
		api.HandleFunc("/quarantine/{id}", h.releaseQuarantine).Methods(http.MethodDelete)
	}
	if deps.Sales != nil {
		api.HandleFunc("/positions/{id}/sales", h.listSales).Methods(http.MethodGet)
	}

	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return router
}
