package service

import (
	"context"
	"fmt"

	"github.com/percmarket/percolator-markets/internal/domain"
)

// QueryService serves the read-only API paths straight from the stores,
// outside any transaction or lock.
type QueryService struct {
	stores domain.Stores
}

// NewQueryService creates a QueryService over the given stores.
func NewQueryService(stores domain.Stores) *QueryService {
	return &QueryService{stores: stores}
}

// GetMarket returns one market by id.
func (s *QueryService) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	m, err := s.stores.Markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("service: get market: %w", err)
	}
	return m, nil
}

// ListMarkets returns markets, optionally filtered by status (empty
// status means all).
func (s *QueryService) ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	var (
		markets []domain.Market
		err     error
	)
	if status == "" {
		markets, err = s.stores.Markets.List(ctx, opts)
	} else {
		markets, err = s.stores.Markets.ListByStatus(ctx, status, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("service: list markets: %w", err)
	}
	return markets, nil
}

// CountMarkets returns the total number of markets ever created.
func (s *QueryService) CountMarkets(ctx context.Context) (int64, error) {
	n, err := s.stores.Markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: count markets: %w", err)
	}
	return n, nil
}

// GetPosition returns one participant's position on one market.
func (s *QueryService) GetPosition(ctx context.Context, marketID uint64, participant string) (domain.Position, error) {
	p, err := s.stores.Positions.Get(ctx, marketID, participant)
	if err != nil {
		return domain.Position{}, fmt.Errorf("service: get position: %w", err)
	}
	return p, nil
}

// ListMarketPositions returns every position on a market.
func (s *QueryService) ListMarketPositions(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.stores.Positions.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list market positions: %w", err)
	}
	return positions, nil
}

// ListParticipantPositions returns a participant's positions across all
// markets, newest first.
func (s *QueryService) ListParticipantPositions(ctx context.Context, participant string, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.stores.Positions.ListByParticipant(ctx, participant, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list participant positions: %w", err)
	}
	return positions, nil
}

// TokenBalance returns a participant's position-token balance for one
// side of a market.
func (s *QueryService) TokenBalance(ctx context.Context, marketID uint64, participant string, side domain.BetSide) (uint64, error) {
	if !side.Valid() {
		return 0, domain.ErrInvalidSide
	}
	bal, err := s.stores.Tokens.Balance(ctx, marketID, participant, side)
	if err != nil {
		return 0, fmt.Errorf("service: token balance: %w", err)
	}
	return bal, nil
}

// Protocol returns the protocol-wide counters.
func (s *QueryService) Protocol(ctx context.Context) (domain.Protocol, error) {
	p, err := s.stores.Protocol.Get(ctx)
	if err != nil {
		return domain.Protocol{}, fmt.Errorf("service: protocol: %w", err)
	}
	return p, nil
}

// VaultBalance returns a market's vault balance.
func (s *QueryService) VaultBalance(ctx context.Context, marketID uint64) (uint64, error) {
	bal, err := s.stores.Vault.Balance(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("service: vault balance: %w", err)
	}
	return bal, nil
}

// AuditTrail returns audit entries, newest first.
func (s *QueryService) AuditTrail(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.stores.Audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service: audit trail: %w", err)
	}
	return entries, nil
}
