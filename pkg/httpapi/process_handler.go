package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
	"github.com/jordigilh/invoicepipe/pkg/progress"
)

// BatchStarter kicks off the parallel extraction/transform/persist
// phase (§4.8.2) for a batch of already-uploaded object-store keys,
// returning the task_id of the background run immediately — the
// asynchronous counterpart to Processor's blocking upload contract.
// One BatchStarter is bound to one document kind, the same pattern
// Processor follows.
type BatchStarter interface {
	StartProcessing(ctx context.Context, tenant string, keys []string, forceUpload bool, stream *progress.Stream) (string, error)
}

// ProcessRequest is POST /upload/process-files and /inventory/process's
// JSON body (spec §6).
type ProcessRequest struct {
	FileKeys    []string `json:"file_keys"`
	ForceUpload bool     `json:"force_upload"`
}

// ProcessResponse is the immediate, pre-completion response both
// endpoints return.
type ProcessResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ProcessHandler serves the asynchronous batch-processing trigger.
type ProcessHandler struct {
	starter BatchStarter
	streams *progress.Registry
	auth    config.AuthConfig
	log     *zap.Logger
}

// NewProcessHandler builds a ProcessHandler backed by starter,
// registering each new task's progress stream in streams so
// ProgressHandler can find it once polling starts.
func NewProcessHandler(starter BatchStarter, streams *progress.Registry, authConfig config.AuthConfig, logger *zap.Logger) *ProcessHandler {
	return &ProcessHandler{starter: starter, streams: streams, auth: authConfig, log: logger}
}

func (h *ProcessHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "Only POST method is allowed")
		return
	}

	if !authenticate(r, h.auth) {
		h.writeError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}

	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		h.writeError(w, http.StatusBadRequest, "tenant query parameter is required")
		return
	}

	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.FileKeys) == 0 {
		h.writeError(w, http.StatusBadRequest, "file_keys must not be empty")
		return
	}

	stream := progress.NewStream(16)
	taskID, err := h.starter.StartProcessing(r.Context(), tenant, req.FileKeys, req.ForceUpload, stream)
	if err != nil {
		h.log.Error("failed to start processing batch", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to queue processing batch")
		return
	}
	h.streams.Register(taskID, stream)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(ProcessResponse{TaskID: taskID, Status: "queued"})
}

func (h *ProcessHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ProcessResponse{Status: "error", Error: message})
}
