package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

// TaskReader resolves a task_id (or the most recent task for a tenant)
// to its current row, backing both the poll and resume-on-refresh
// endpoints (§6 `/upload/process/status/{task_id}`, `/upload/recent-task`).
// One TaskReader is bound to one document kind, same as BatchStarter.
type TaskReader interface {
	Get(ctx context.Context, taskID string) (*models.UploadTask, error)
	MostRecent(ctx context.Context, tenant string) (*models.UploadTask, error)
}

// StatusHandler serves the task-status and recent-task GETs.
type StatusHandler struct {
	tasks TaskReader
	auth  config.AuthConfig
	log   *zap.Logger
}

// NewStatusHandler builds a StatusHandler backed by tasks.
func NewStatusHandler(tasks TaskReader, authConfig config.AuthConfig, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{tasks: tasks, auth: authConfig, log: logger}
}

// ServeStatus handles GET /upload/process/status/{task_id}; taskID is
// whatever the caller's router extracted from the path.
func (h *StatusHandler) ServeStatus(w http.ResponseWriter, r *http.Request, taskID string) {
	if !authenticate(r, h.auth) {
		h.writeError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	if taskID == "" {
		h.writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	task, err := h.tasks.Get(r.Context(), taskID)
	if err != nil {
		h.log.Error("failed to load task", zap.String("task_id", taskID), zap.Error(err))
		h.writeError(w, http.StatusNotFound, "Unknown task_id")
		return
	}
	h.writeTask(w, task)
}

// ServeRecent handles GET /upload/recent-task, letting a refreshed
// browser resume polling the tenant's last batch.
func (h *StatusHandler) ServeRecent(w http.ResponseWriter, r *http.Request) {
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
		h.log.Error("failed to load most recent task", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, http.StatusNotFound, "No task found for tenant")
		return
	}
	h.writeTask(w, task)
}

// IsFinished implements httpapi.TaskStatusChecker for ProgressHandler,
// narrowing Get down to the two facts the SSE loop polls for.
func (h *StatusHandler) IsFinished(taskID string) (finished, failed bool, err error) {
	task, err := h.tasks.Get(context.Background(), taskID)
	if err != nil {
		return false, false, err
	}
	switch task.Status {
	case models.TaskStatusCompleted, models.TaskStatusDuplicateDetected:
		return true, false, nil
	case models.TaskStatusFailed:
		return true, true, nil
	default:
		return false, false, nil
	}
}

func (h *StatusHandler) writeTask(w http.ResponseWriter, task *models.UploadTask) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(task)
}

func (h *StatusHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(UploadResponse{Status: "error", Error: message})
}
