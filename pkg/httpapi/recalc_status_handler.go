package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

// RecalcTaskReader narrows tasks.RecalcRegistry to the two reads the
// recalculation-status endpoint needs.
type RecalcTaskReader interface {
	Get(ctx context.Context, taskID string) (*models.RecalculationTask, error)
	MostRecent(ctx context.Context, tenant string) (*models.RecalculationTask, error)
}

// RecalcStatusHandler serves polling for the Stock Engine's
// recalculation tasks (C10), the same shape StatusHandler gives the
// upload tasks.
type RecalcStatusHandler struct {
	tasks RecalcTaskReader
	auth  config.AuthConfig
	log   *zap.Logger
}

// NewRecalcStatusHandler builds a RecalcStatusHandler backed by tasks.
func NewRecalcStatusHandler(tasks RecalcTaskReader, authConfig config.AuthConfig, logger *zap.Logger) *RecalcStatusHandler {
	return &RecalcStatusHandler{tasks: tasks, auth: authConfig, log: logger}
}

// ServeStatus handles GET /stock/recalc/status/{task_id}.
func (h *RecalcStatusHandler) ServeStatus(w http.ResponseWriter, r *http.Request, taskID string) {
	if !authenticate(r, h.auth) {
		h.writeError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	task, err := h.tasks.Get(r.Context(), taskID)
	if err != nil {
		h.log.Error("failed to load recalculation task", zap.String("task_id", taskID), zap.Error(err))
		h.writeError(w, http.StatusNotFound, "Recalculation task not found")
		return
	}
	h.writeTask(w, task)
}

// ServeRecent handles GET /stock/recalc/recent-task.
func (h *RecalcStatusHandler) ServeRecent(w http.ResponseWriter, r *http.Request) {
	if !authenticate(r, h.auth) {
		h.writeError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		h.writeError(w, http.StatusBadRequest, "tenant query parameter is required")
		return
	}
	task, err := h.tasks.MostRecent(r.Context(), tenant)
	if err != nil {
		h.log.Error("failed to load most recent recalculation task", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, http.StatusNotFound, "No recalculation task found")
		return
	}
	h.writeTask(w, task)
}

func (h *RecalcStatusHandler) writeTask(w http.ResponseWriter, task *models.RecalculationTask) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(task)
}

func (h *RecalcStatusHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(UploadResponse{Status: "error", Error: message})
}
