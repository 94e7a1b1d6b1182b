// Package handlers exposes the admin control surface: scheduler
// start/stop, on-demand evaluation of a single rule, and status.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"area-engine/internal/common/errors"
	"area-engine/internal/common/logging"
	"area-engine/internal/scheduler"
)

// HealthChecker reports backing-store health for the /health endpoint.
type HealthChecker interface {
	Health() error
}

// Handler serves the admin API.
type Handler struct {
	scheduler *scheduler.Scheduler
	health    HealthChecker
	logger    logging.Logger
}

// New creates the admin handler.
func New(sched *scheduler.Scheduler, health HealthChecker, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handler{scheduler: sched, health: health, logger: logger}
}

// Router builds the admin route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/scheduler/start", h.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/scheduler/stop", h.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/rules/{id}/evaluate", h.handleEvaluate).Methods(http.MethodPost)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.health.Health(); err != nil {
		h.logger.Error("health check failed", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Start(); err != nil {
		h.logger.Error("failed to start scheduler", err)
		writeError(w, http.StatusInternalServerError, "failed to start scheduler")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	h.scheduler.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	ruleID := mux.Vars(r)["id"]

	result, err := h.scheduler.RunOnce(r.Context(), ruleID)
	if err != nil {
		switch errors.GetType(err) {
		case errors.ErrTypeNotFound:
			writeError(w, http.StatusNotFound, "rule not found")
		case errors.ErrTypeLockContention:
			writeError(w, http.StatusConflict, "evaluation already in flight")
		default:
			h.logger.Error("on-demand evaluation failed", err,
				logging.String("rule_id", ruleID))
			writeError(w, http.StatusInternalServerError, "evaluation failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
