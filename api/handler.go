// Package api serves the operator facing HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type StatusProvider interface {
	LedgerHeights() map[string]int
}

type ReconciliationProvider interface {
	GetReconciliation() ([]string, error)
}

type Handler struct {
	status         StatusProvider
	integrity      *IntegrityCache
	reconciliation ReconciliationProvider
	logger         *zap.SugaredLogger
	verifyTimeout  time.Duration
}

type HealthResponse struct {
	Status string `json:"status"`
}

type LedgerStatus struct {
	Height int    `json:"height"`
	Intact bool   `json:"intact"`
	Error  string `json:"error,omitempty"`
}

type StatusResponse struct {
	Ledgers   map[string]LedgerStatus `json:"ledgers"`
	CheckedAt time.Time               `json:"integrityCheckedAt"`
}

type ReconciliationResponse struct {
	Transactions []string `json:"transactions"`
}

func NewHandler(status StatusProvider, integrity *IntegrityCache, reconciliation ReconciliationProvider, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		status:         status,
		integrity:      integrity,
		reconciliation: reconciliation,
		logger:         logger,
		verifyTimeout:  30 * time.Second,
	}
}

// Routes registers the operator endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.GetHealth)
	mux.HandleFunc("GET /v1/status", h.GetStatus)
	mux.HandleFunc("POST /v1/status/verify", h.PostVerify)
	mux.HandleFunc("GET /v1/reconciliation", h.GetReconciliation)
}

func (h *Handler) GetHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, HealthResponse{Status: "UP"})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.verifyTimeout)
	defer cancel()

	report, err := h.integrity.Report(ctx)
	if err != nil {
		h.logger.Errorw("Error getting integrity report.", "error", err)
		http.Error(w, "Error getting integrity report", http.StatusInternalServerError)
		return
	}

	heights := h.status.LedgerHeights()
	ledgers := make(map[string]LedgerStatus, len(heights))
	for code, height := range heights {
		ledgers[code] = LedgerStatus{
			Height: height,
			Intact: report.Intact(code),
			Error:  report.Failures[code],
		}
	}
	h.writeJSON(w, StatusResponse{Ledgers: ledgers, CheckedAt: report.CheckedAt})
}

// PostVerify discards the cached integrity verdict and answers with a freshly verified status.
func (h *Handler) PostVerify(w http.ResponseWriter, r *http.Request) {
	h.integrity.Invalidate()
	h.GetStatus(w, r)
}

func (h *Handler) GetReconciliation(w http.ResponseWriter, _ *http.Request) {
	ids, err := h.reconciliation.GetReconciliation()
	if err != nil {
		h.logger.Errorw("Error getting reconciliation list.", "error", err)
		http.Error(w, "Error getting reconciliation list", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	h.writeJSON(w, ReconciliationResponse{Transactions: ids})
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Errorw("Error encoding response.", "error", err)
	}
}
