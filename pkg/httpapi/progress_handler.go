package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/pkg/progress"
)

// pollInterval bounds how long the drain loop waits for an event
// before re-checking whether the backing task has finished.
const pollInterval = 250 * time.Millisecond

// TaskStatusChecker reports whether a background task has reached a
// terminal state, and whether that state was a failure.
type TaskStatusChecker interface {
	IsFinished(taskID string) (finished, failed bool, err error)
}

// StreamLookup resolves a task_id to its live progress.Stream (§4.12).
type StreamLookup interface {
	Stream(taskID string) (*progress.Stream, bool)
}

// ProgressHandler serves the SSE progress endpoint over a single
// long-lived response per spec §4.12: drain the channel while the
// task isn't finished, drain any trailing events, then emit the
// terminal event and return.
type ProgressHandler struct {
	streams StreamLookup
	tasks   TaskStatusChecker
	log     *zap.Logger
}

// NewProgressHandler builds a ProgressHandler.
func NewProgressHandler(streams StreamLookup, tasks TaskStatusChecker, logger *zap.Logger) *ProgressHandler {
	return &ProgressHandler{streams: streams, tasks: tasks, log: logger}
}

func (h *ProgressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		http.Error(w, "task_id query parameter is required", http.StatusBadRequest)
		return
	}

	stream, ok := h.streams.Stream(taskID)
	if !ok {
		http.Error(w, "unknown task_id", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()

pollLoop:
	for {
		finished, _, err := h.tasks.IsFinished(taskID)
		if err != nil {
			h.log.Error("progress stream status check failed", zap.String("task_id", taskID), zap.Error(err))
			break
		}
		if finished {
			break
		}

		select {
		case ev, open := <-stream.Events():
			if !open {
				break pollLoop
			}
			h.writeEvent(w, flusher, ev)
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return
		}
	}

drain:
	for {
		select {
		case ev, open := <-stream.Events():
			if !open {
				break drain
			}
			h.writeEvent(w, flusher, ev)
		default:
			break drain
		}
	}

	_, failed, _ := h.tasks.IsFinished(taskID)
	terminal := progress.Event{Stage: "complete", Percentage: 100, Message: "done", Terminal: true}
	if failed {
		terminal = progress.Event{Stage: "error", Percentage: 100, Message: "failed", Terminal: true}
	}
	h.writeEvent(w, flusher, terminal)
}

func (h *ProgressHandler) writeEvent(w http.ResponseWriter, flusher http.Flusher, ev progress.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to marshal progress event", zap.Error(err))
		return
	}
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
	flusher.Flush()
}
