// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autosell/internal/monitor"
)

const maxBatchSize = 10_000

// ErrorResponse стандартный формат ответа об ошибке
type ErrorResponse struct {
	Error string `json:"error"`
}

type runRequest struct {
	BatchSize int `json:"batchSize"`
}

type monitorsResponse struct {
	Count    int                     `json:"count"`
	Monitors []monitor.ActiveMonitor `json:"monitors"`
}

type quarantineResponse struct {
	Count     int                           `json:"count"`
	Positions []monitor.QuarantinedPosition `json:"positions"`
}

type saleResponse struct {
	Signature  string    `json:"signature"`
	Kind       string    `json:"kind"`
	Reason     string    `json:"reason"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Received   float64   `json:"received"`
	ExecutedAt time.Time `json:"executedAt"`
}

type handler struct {
	deps   Dependencies
	logger *zap.Logger
}

// runScheduler accepts an optional {"batchSize": n} body.
func (h *handler) runScheduler(w http.ResponseWriter, r *http.Request) {
	req := runRequest{BatchSize: h.deps.DefaultBatchSize}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.BatchSize < 0 || req.BatchSize > maxBatchSize {
		writeError(w, http.StatusBadRequest, "batchSize out of range")
		return
	}

	res, err := h.deps.Scheduler.Run(r.Context(), req.BatchSize)
	if errors.Is(err, monitor.ErrRegistryClosed) {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	if err != nil {
		h.logger.Error("Scheduler run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "scheduler run failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) listMonitors(w http.ResponseWriter, _ *http.Request) {
	active := h.deps.Monitors.Active()
	writeJSON(w, http.StatusOK, monitorsResponse{Count: len(active), Monitors: active})
}

func (h *handler) stopMonitor(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.deps.Monitors.Stop(id) {
		writeError(w, http.StatusNotFound, "no monitor for position")
		return
	}
	h.logger.Info("Monitor stopped via API", zap.String("position_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listQuarantine(w http.ResponseWriter, _ *http.Request) {
	held := h.deps.Monitors.Quarantined()
	writeJSON(w, http.StatusOK, quarantineResponse{Count: len(held), Positions: held})
}

func (h *handler) releaseQuarantine(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.deps.Monitors.Release(id) {
		writeError(w, http.StatusNotFound, "position is not quarantined")
		return
	}
	h.logger.Info("Quarantine released via API", zap.String("position_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listSales(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sales, err := h.deps.Sales.ListSales(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list sales", zap.String("position_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sales")
		return
	}

	out := make([]saleResponse, 0, len(sales))
	for _, s := range sales {
		out = append(out, saleResponse{
			Signature:  s.Signature,
			Kind:       s.Kind,
			Reason:     s.Reason,
			Quantity:   s.Quantity,
			Price:      s.Price,
			Received:   s.Received,
			ExecutedAt: s.ExecutedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
