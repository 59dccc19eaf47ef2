package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/percmarket/percolator-markets/internal/domain"
	"github.com/percmarket/percolator-markets/internal/server/middleware"
	"github.com/percmarket/percolator-markets/internal/service"
)

// MarketWriter is the mutating slice of the market service the handler
// needs. Declared locally so the handler does not depend on the concrete
// service implementation.
type MarketWriter interface {
	CreateMarket(ctx context.Context, in service.CreateMarketInput) (domain.Market, error)
	PlaceBet(ctx context.Context, marketID uint64, participant string, side domain.BetSide, amount uint64) (domain.Position, error)
	ResolveMarket(ctx context.Context, marketID uint64, caller string, outcome domain.Outcome) (domain.Market, error)
	CancelMarket(ctx context.Context, marketID uint64, caller string) (domain.Market, error)
}

// MarketReader is the read slice backing the market endpoints.
type MarketReader interface {
	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error)
	CountMarkets(ctx context.Context) (int64, error)
	ListMarketPositions(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Position, error)
	VaultBalance(ctx context.Context, marketID uint64) (uint64, error)
}

// MarketHandler serves the market lifecycle endpoints.
type MarketHandler struct {
	writer MarketWriter
	reader MarketReader
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(writer MarketWriter, reader MarketReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		writer: writer,
		reader: reader,
		logger: logHandler(logger, "market"),
	}
}

// createMarketRequest is the POST /api/markets body. The creator is the
// verified caller, never a body field.
type createMarketRequest struct {
	Oracle       string    `json:"oracle"`
	Question     string    `json:"question"`
	Rule         string    `json:"rule"`
	TargetValue  uint64    `json:"target_value"`
	SubjectAsset string    `json:"subject_asset"`
	Deadline     time.Time `json:"deadline"`
}

// CreateMarket opens a new market with the caller as creator.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "caller identity required")
		return
	}

	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Oracle == "" {
		writeError(w, http.StatusBadRequest, "oracle is required")
		return
	}

	m, err := h.writer.CreateMarket(r.Context(), service.CreateMarketInput{
		Creator:      caller,
		Oracle:       req.Oracle,
		Question:     req.Question,
		Rule:         domain.MarketRule(req.Rule),
		TargetValue:  req.TargetValue,
		SubjectAsset: req.SubjectAsset,
		Deadline:     req.Deadline,
	})
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "create market failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create market")
		return
	}

	writeJSON(w, http.StatusCreated, m)
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets with pagination, optionally filtered by
// status.
// GET /api/markets?status=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	status := domain.MarketStatus(r.URL.Query().Get("status"))

	markets, err := h.reader.ListMarkets(r.Context(), status, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	total, err := h.reader.CountMarkets(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "count markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count markets")
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// marketResponse augments a market with its live vault balance.
type marketResponse struct {
	domain.Market
	VaultBalance uint64 `json:"vault_balance"`
}

// GetMarket returns a single market with its vault balance.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	m, err := h.reader.GetMarket(r.Context(), id)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "get market failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	balance, err := h.reader.VaultBalance(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "vault balance failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, marketResponse{Market: m, VaultBalance: balance})
}

// placeBetRequest is the POST /api/markets/{id}/bets body.
type placeBetRequest struct {
	Side   string `json:"side"`
	Amount uint64 `json:"amount"`
}

// PlaceBet stakes the caller on one side of the market.
// POST /api/markets/{id}/bets
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
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

	var req placeBetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	pos, err := h.writer.PlaceBet(r.Context(), id, caller, domain.BetSide(req.Side), req.Amount)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "place bet failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to place bet")
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// resolveRequest is the POST /api/markets/{id}/resolve body.
type resolveRequest struct {
	Outcome string `json:"outcome"`
}

// ResolveMarket freezes the outcome. Caller must be the market's oracle.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
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

	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	m, err := h.writer.ResolveMarket(r.Context(), id, caller, domain.Outcome(req.Outcome))
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "resolve market failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to resolve market")
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// CancelMarket voids the market. Caller must be the creator.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
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

	m, err := h.writer.CancelMarket(r.Context(), id, caller)
	if err != nil {
		if writeDomainError(w, err) {
			return
		}
		h.logger.ErrorContext(r.Context(), "cancel market failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to cancel market")
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// ListMarketPositions returns every position on one market.
// GET /api/markets/{id}/positions
func (h *MarketHandler) ListMarketPositions(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	positions, err := h.reader.ListMarketPositions(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list market positions failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}
