package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
	"github.com/jordigilh/invoicepipe/pkg/progress"
)

// Reconciler runs §4.9.3 Sync & Finish for tenant, reporting each
// stage through stream (nil is valid — ServeSync passes nil since it
// discards progress and waits only for the returned error).
type Reconciler interface {
	SyncAndFinish(ctx context.Context, tenant string, stream *progress.Stream) error
}

// SyncResponse is ServeSync's JSON envelope.
type SyncResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// SyncHandler serves both the blocking and SSE forms of Sync & Finish.
type SyncHandler struct {
	reconciler Reconciler
	auth       config.AuthConfig
	log        *zap.Logger
}

// NewSyncHandler builds a SyncHandler backed by reconciler.
func NewSyncHandler(reconciler Reconciler, authConfig config.AuthConfig, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{reconciler: reconciler, auth: authConfig, log: logger}
}

// ServeSync handles POST /review/sync-finish: run reconciliation to
// completion before responding, no progress reporting.
func (h *SyncHandler) ServeSync(w http.ResponseWriter, r *http.Request) {
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

	if err := h.reconciler.SyncAndFinish(r.Context(), tenant, nil); err != nil {
		h.log.Error("sync & finish failed", zap.String("tenant", tenant), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Sync & Finish failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(SyncResponse{Status: "completed"})
}

// ServeStream handles GET /review/sync-finish/stream: run
// reconciliation in the background while relaying its progress stream
// to the client as SSE, the same drain-until-closed shape
// ProgressHandler uses for batch processing.
func (h *SyncHandler) ServeStream(w http.ResponseWriter, r *http.Request) {
	if !authenticate(r, h.auth) {
		h.writeError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		h.writeError(w, http.StatusBadRequest, "tenant query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	stream := progress.NewStream(16)
	ctx := r.Context()
	errCh := make(chan error, 1)

	go func() {
		defer stream.Close()
		errCh <- h.reconciler.SyncAndFinish(context.Background(), tenant, stream)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case ev, open := <-stream.Events():
			if !open {
				err := <-errCh
				terminal := progress.Event{Stage: "complete", Percentage: 100, Message: "done", Terminal: true}
				if err != nil {
					terminal = progress.Event{Stage: "error", Percentage: 100, Message: err.Error(), Terminal: true}
				}
				h.writeEvent(w, flusher, terminal)
				return
			}
			h.writeEvent(w, flusher, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (h *SyncHandler) writeEvent(w http.ResponseWriter, flusher http.Flusher, ev progress.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to marshal sync progress event", zap.Error(err))
		return
	}
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
	flusher.Flush()
}

func (h *SyncHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(SyncResponse{Status: "error", Error: message})
}
