package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/percmarket/percolator-markets/internal/server/middleware"
)

// SettlementService is the disbursement slice the handler needs.
type SettlementService interface {
	Settle(ctx context.Context, marketID uint64, participant string) (uint64, error)
	ClaimRefund(ctx context.Context, marketID uint64, participant string) (uint64, error)
}

// SettlementHandler serves the payout and refund endpoints.
type SettlementHandler struct {
	settlement SettlementService
	logger     *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlement SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlement: settlement,
		logger:     logHandler(logger, "settlement"),
	}
}

// settlementResponse reports a disbursed amount.
type settlementResponse struct {
	MarketID    uint64 `json:"market_id"`
	Participant string `json:"participant"`
	Amount      uint64 `json:"amount"`
}

// Settle pays out the caller's winning position on a resolved market.
// POST /api/markets/{id}/settle
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
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

	payout, err := h.settlement.Settle(r.Context(), id, caller)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "settle failed",
			slog.Uint64("market_id", id),
			slog.String("participant", caller),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to settle position")
		return
	}

	writeJSON(w, http.StatusOK, settlementResponse{
		MarketID:    id,
		Participant: caller,
		Amount:      payout,
	})
}

// ClaimRefund returns the caller's deposit on a cancelled market.
// POST /api/markets/{id}/refund
func (h *SettlementHandler) ClaimRefund(w http.ResponseWriter, r *http.Request) {
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

	refund, err := h.settlement.ClaimRefund(r.Context(), id, caller)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "claim refund failed",
			slog.Uint64("market_id", id),
			slog.String("participant", caller),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to claim refund")
		return
	}

	writeJSON(w, http.StatusOK, settlementResponse{
		MarketID:    id,
		Participant: caller,
		Amount:      refund,
	})
}
