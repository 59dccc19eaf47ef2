package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percmarket/percolator-markets/internal/domain"
	"github.com/percmarket/percolator-markets/internal/server/middleware"
	"github.com/percmarket/percolator-markets/internal/service"
)

const testCaller = "0xA11CE00000000000000000000000000000000001"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// stubWriter returns canned results per method.
type stubWriter struct {
	market domain.Market
	pos    domain.Position
	err    error
}

func (s *stubWriter) CreateMarket(context.Context, service.CreateMarketInput) (domain.Market, error) {
	return s.market, s.err
}

func (s *stubWriter) PlaceBet(context.Context, uint64, string, domain.BetSide, uint64) (domain.Position, error) {
	return s.pos, s.err
}

func (s *stubWriter) ResolveMarket(context.Context, uint64, string, domain.Outcome) (domain.Market, error) {
	return s.market, s.err
}

func (s *stubWriter) CancelMarket(context.Context, uint64, string) (domain.Market, error) {
	return s.market, s.err
}

type stubReader struct {
	market    domain.Market
	markets   []domain.Market
	positions []domain.Position
	balance   uint64
	err       error
}

func (s *stubReader) GetMarket(context.Context, uint64) (domain.Market, error) {
	return s.market, s.err
}

func (s *stubReader) ListMarkets(context.Context, domain.MarketStatus, domain.ListOpts) ([]domain.Market, error) {
	return s.markets, s.err
}

func (s *stubReader) CountMarkets(context.Context) (int64, error) {
	return int64(len(s.markets)), s.err
}

func (s *stubReader) ListMarketPositions(context.Context, uint64, domain.ListOpts) ([]domain.Position, error) {
	return s.positions, s.err
}

func (s *stubReader) VaultBalance(context.Context, uint64) (uint64, error) {
	return s.balance, s.err
}

// newRequest builds a request with an optional verified caller identity
// and routes it through a mux so path parameters resolve.
func doRequest(t *testing.T, h *MarketHandler, method, target, body, caller string) *httptest.ResponseRecorder {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/markets", h.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/bets", h.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/resolve", h.ResolveMarket)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if caller != "" {
		req = req.WithContext(middleware.WithCaller(req.Context(), caller))
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateMarketHandler(t *testing.T) {
	writer := &stubWriter{market: domain.Market{ID: 7, Status: domain.MarketStatusOpen}}
	h := NewMarketHandler(writer, &stubReader{}, discard)

	body := `{"oracle":"0xfeed","question":"q?","rule":"oracle_custom","deadline":"2026-06-01T00:00:00Z"}`
	rec := doRequest(t, h, http.MethodPost, "/api/markets", body, testCaller)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got domain.Market
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(7), got.ID)
}

func TestCreateMarketHandler_RequiresCaller(t *testing.T) {
	h := NewMarketHandler(&stubWriter{}, &stubReader{}, discard)

	rec := doRequest(t, h, http.MethodPost, "/api/markets", `{"oracle":"0xfeed"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateMarketHandler_DomainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"question too long", domain.ErrQuestionTooLong, http.StatusBadRequest},
		{"deadline in past", domain.ErrDeadlineInPast, http.StatusBadRequest},
		{"invalid rule", domain.ErrInvalidRule, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMarketHandler(&stubWriter{err: tt.err}, &stubReader{}, discard)
			body := `{"oracle":"0xfeed","question":"q?"}`
			rec := doRequest(t, h, http.MethodPost, "/api/markets", body, testCaller)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestGetMarketHandler(t *testing.T) {
	reader := &stubReader{
		market:  domain.Market{ID: 3, Status: domain.MarketStatusResolved, HRatioBps: 8000},
		balance: 120,
	}
	h := NewMarketHandler(&stubWriter{}, reader, discard)

	rec := doRequest(t, h, http.MethodGet, "/api/markets/3", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got marketResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(3), got.ID)
	assert.Equal(t, uint16(8000), got.HRatioBps)
	assert.Equal(t, uint64(120), got.VaultBalance)
}

func TestGetMarketHandler_NotFound(t *testing.T) {
	h := NewMarketHandler(&stubWriter{}, &stubReader{err: domain.ErrNotFound}, discard)

	rec := doRequest(t, h, http.MethodGet, "/api/markets/99", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/markets/notanumber", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceBetHandler_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"zero amount", domain.ErrZeroBetAmount, http.StatusBadRequest},
		{"market closed", domain.ErrInvalidMarketStatus, http.StatusConflict},
		{"expired", domain.ErrMarketExpired, http.StatusConflict},
		{"contention", domain.ErrLockHeld, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMarketHandler(&stubWriter{err: tt.err}, &stubReader{}, discard)
			body := `{"side":"yes","amount":100}`
			rec := doRequest(t, h, http.MethodPost, "/api/markets/1/bets", body, testCaller)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestResolveMarketHandler_Authorization(t *testing.T) {
	h := NewMarketHandler(&stubWriter{err: domain.ErrUnauthorizedOracle}, &stubReader{}, discard)

	rec := doRequest(t, h, http.MethodPost, "/api/markets/1/resolve", `{"outcome":"yes"}`, testCaller)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

type stubSettlement struct {
	amount uint64
	err    error
}

func (s *stubSettlement) Settle(context.Context, uint64, string) (uint64, error) {
	return s.amount, s.err
}

func (s *stubSettlement) ClaimRefund(context.Context, uint64, string) (uint64, error) {
	return s.amount, s.err
}

func TestSettleHandler(t *testing.T) {
	h := NewSettlementHandler(&stubSettlement{amount: 150}, discard)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/markets/{id}/settle", h.Settle)

	req := httptest.NewRequest(http.MethodPost, "/api/markets/5/settle", nil)
	req = req.WithContext(middleware.WithCaller(req.Context(), testCaller))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got settlementResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(150), got.Amount)
	assert.Equal(t, testCaller, got.Participant)
}

func TestSettleHandler_Conflicts(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"already settled", domain.ErrAlreadySettled, http.StatusConflict},
		{"losing side", domain.ErrLosingSide, http.StatusConflict},
		{"no position", domain.ErrNoPosition, http.StatusNotFound},
		{"insolvency is internal", domain.ErrVaultInsolvency, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSettlementHandler(&stubSettlement{err: tt.err}, discard)

			mux := http.NewServeMux()
			mux.HandleFunc("POST /api/markets/{id}/settle", h.Settle)

			req := httptest.NewRequest(http.MethodPost, "/api/markets/5/settle", nil)
			req = req.WithContext(middleware.WithCaller(req.Context(), testCaller))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
