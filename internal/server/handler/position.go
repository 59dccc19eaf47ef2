package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/percmarket/percolator-markets/internal/domain"
	"github.com/percmarket/percolator-markets/internal/server/middleware"
)

// PositionReader is the position query slice the handler needs.
type PositionReader interface {
	ListParticipantPositions(ctx context.Context, participant string, opts domain.ListOpts) ([]domain.Position, error)
	TokenBalance(ctx context.Context, marketID uint64, participant string, side domain.BetSide) (uint64, error)
}

// PositionHandler serves the caller's own positions.
type PositionHandler struct {
	reader PositionReader
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(reader PositionReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		reader: reader,
		logger: logHandler(logger, "position"),
	}
}

// ListMine returns the caller's positions across all markets, newest
// first.
// GET /api/positions
func (h *PositionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "caller identity required")
		return
	}

	positions, err := h.reader.ListParticipantPositions(r.Context(), caller, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed",
			slog.String("participant", caller),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// TokenBalance returns the caller's position-token balance on one side
// of a market.
// GET /api/markets/{id}/tokens?side=yes
func (h *PositionHandler) TokenBalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "caller identity required")
		return
	}

	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	side := domain.BetSide(r.URL.Query().Get("side"))
	balance, err := h.reader.TokenBalance(r.Context(), id, caller, side)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "token balance failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get token balance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"side":      side,
		"balance":   balance,
	})
}
