package handler

import "net/http"

// DebugHandler exposes a redacted configuration summary.
type DebugHandler struct {
	snapshot func() any
}

// NewDebugHandler creates a DebugHandler. snapshot must not return secrets.
func NewDebugHandler(snapshot func() any) *DebugHandler {
	return &DebugHandler{snapshot: snapshot}
}

// Debug writes the snapshot.
// GET /debug
func (h *DebugHandler) Debug(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}
