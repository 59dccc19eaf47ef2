package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/percmarket/percolator-markets/internal/domain"
)

// ProtocolReader is the protocol and audit query slice the handler needs.
type ProtocolReader interface {
	Protocol(ctx context.Context) (domain.Protocol, error)
	AuditTrail(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// ProtocolHandler serves the protocol counters and the audit trail.
type ProtocolHandler struct {
	reader ProtocolReader
	logger *slog.Logger
}

// NewProtocolHandler creates a ProtocolHandler.
func NewProtocolHandler(reader ProtocolReader, logger *slog.Logger) *ProtocolHandler {
	return &ProtocolHandler{
		reader: reader,
		logger: logHandler(logger, "protocol"),
	}
}

// GetProtocol returns the protocol-wide counters.
// GET /api/protocol
func (h *ProtocolHandler) GetProtocol(w http.ResponseWriter, r *http.Request) {
	p, err := h.reader.Protocol(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get protocol failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get protocol state")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// ListAudit returns audit entries, newest first.
// GET /api/audit?limit=50&offset=0
func (h *ProtocolHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.reader.AuditTrail(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
