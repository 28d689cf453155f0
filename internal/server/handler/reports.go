package handler

import (
	"errors"
	"log/slog"
	"net/http"

	s3blob "github.com/alanyoungcy/retropick/internal/blob/s3"
	"github.com/alanyoungcy/retropick/internal/domain"
)

// ReportsHandler serves archived reports and the submission ledger.
type ReportsHandler struct {
	blobs  domain.BlobReader
	ledger domain.AttemptStore
	logger *slog.Logger
}

// NewReportsHandler creates a ReportsHandler. Either dependency may be nil,
// in which case its endpoint answers 404.
func NewReportsHandler(blobs domain.BlobReader, ledger domain.AttemptStore, logger *slog.Logger) *ReportsHandler {
	return &ReportsHandler{blobs: blobs, ledger: ledger, logger: logHandler(logger, "reports")}
}

// GetReport returns the last archived report for a kind and key.
// GET /api/reports/{kind}/{key}
func (h *ReportsHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotFound, "report archive disabled")
		return
	}
	rec, err := s3blob.LoadReport(r.Context(), h.blobs, r.PathValue("kind"), r.PathValue("key"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "load report failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "load report failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListAttempts pages through the submission ledger, newest first.
// GET /api/attempts
func (h *ReportsHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeError(w, http.StatusNotFound, "ledger disabled")
		return
	}
	attempts, err := h.ledger.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list attempts failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "list attempts failed")
		return
	}
	if attempts == nil {
		attempts = []domain.Attempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}
