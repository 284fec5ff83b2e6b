package progress

import "sync"

// Registry tracks the in-flight Stream for each task_id so an HTTP
// handler started after the background worker can find and drain it.
// An entry stays until Remove is called for its task_id; draining a
// stream does not remove it. A missing entry means the task_id was
// never registered or has been removed.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*Stream
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*Stream)}
}

// Register associates stream with taskID, overwriting any prior entry.
func (r *Registry) Register(taskID string, stream *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[taskID] = stream
}

// Stream returns the Stream registered for taskID, if any.
func (r *Registry) Stream(taskID string) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[taskID]
	return s, ok
}

// Remove deletes taskID's entry.
func (r *Registry) Remove(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, taskID)
}
