package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/percmarket/percolator-markets/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	db DBTX
}

// NewMarketStore creates a MarketStore over the given querier.
func NewMarketStore(db DBTX) *MarketStore {
	return &MarketStore{db: db}
}

const marketSelectCols = `market_id, creator, oracle, question, rule, target_value,
	subject_asset, deadline, status, outcome, yes_pool, no_pool,
	h_ratio_bps, settled_amount, settlements_count, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var id, targetValue, yesPool, noPool, settledAmount, settlementsCount int64
	var rule, status, outcome string
	var hRatioBps int32

	err := row.Scan(
		&id, &m.Creator, &m.Oracle, &m.Question, &rule, &targetValue,
		&m.SubjectAsset, &m.Deadline, &status, &outcome, &yesPool, &noPool,
		&hRatioBps, &settledAmount, &settlementsCount, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}

	m.ID = uint64(id)
	m.Rule = domain.MarketRule(rule)
	m.TargetValue = uint64(targetValue)
	m.Status = domain.MarketStatus(status)
	m.Outcome = domain.Outcome(outcome)
	m.YesPool = uint64(yesPool)
	m.NoPool = uint64(noPool)
	m.HRatioBps = uint16(hRatioBps)
	m.SettledAmount = uint64(settledAmount)
	m.SettlementsCount = uint64(settlementsCount)
	return m, nil
}

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			market_id, creator, oracle, question, rule, target_value,
			subject_asset, deadline, status, outcome, yes_pool, no_pool,
			h_ratio_bps, settled_amount, settlements_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, NOW(), NOW()
		)`

	_, err := s.db.Exec(ctx, query,
		int64(m.ID), m.Creator, m.Oracle, m.Question, string(m.Rule), int64(m.TargetValue),
		m.SubjectAsset, m.Deadline, string(m.Status), string(m.Outcome),
		int64(m.YesPool), int64(m.NoPool),
		int32(m.HRatioBps), int64(m.SettledAmount), int64(m.SettlementsCount),
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %d: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a single market.
func (s *MarketStore) GetByID(ctx context.Context, id uint64) (domain.Market, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE market_id = $1`, int64(id))

	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// UpdatePools sets both pool accumulators. The status guard keeps pools
// immutable once the market leaves Open.
func (s *MarketStore) UpdatePools(ctx context.Context, id uint64, yesPool, noPool uint64) error {
	const query = `
		UPDATE markets SET
			yes_pool   = $2,
			no_pool    = $3,
			updated_at = NOW()
		WHERE market_id = $1 AND status = 'open'`

	tag, err := s.db.Exec(ctx, query, int64(id), int64(yesPool), int64(noPool))
	if err != nil {
		return fmt.Errorf("postgres: update pools for market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Resolve freezes the outcome and h-ratio and moves the market to Resolved.
// The status guard makes resolution single-shot even under races.
func (s *MarketStore) Resolve(ctx context.Context, id uint64, outcome domain.Outcome, hRatioBps uint16) error {
	const query = `
		UPDATE markets SET
			outcome     = $2,
			h_ratio_bps = $3,
			status      = 'resolved',
			updated_at  = NOW()
		WHERE market_id = $1 AND status IN ('open', 'closed')`

	tag, err := s.db.Exec(ctx, query, int64(id), string(outcome), int32(hRatioBps))
	if err != nil {
		return fmt.Errorf("postgres: resolve market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus sets the market status.
func (s *MarketStore) UpdateStatus(ctx context.Context, id uint64, status domain.MarketStatus) error {
	const query = `UPDATE markets SET status = $2, updated_at = NOW() WHERE market_id = $1`

	tag, err := s.db.Exec(ctx, query, int64(id), string(status))
	if err != nil {
		return fmt.Errorf("postgres: update status for market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordSettlement stores the running settlement totals.
func (s *MarketStore) RecordSettlement(ctx context.Context, id uint64, settledAmount, settlementsCount uint64) error {
	const query = `
		UPDATE markets SET
			settled_amount    = $2,
			settlements_count = $3,
			updated_at        = NOW()
		WHERE market_id = $1`

	tag, err := s.db.Exec(ctx, query, int64(id), int64(settledAmount), int64(settlementsCount))
	if err != nil {
		return fmt.Errorf("postgres: record settlement for market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanMarkets(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// ListByStatus returns markets in the given status, newest first.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+marketSelectCols+` FROM markets
		 WHERE status = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		string(status), listLimit(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by status: %w", err)
	}
	defer rows.Close()

	markets, err := scanMarkets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets: %w", err)
	}
	return markets, nil
}

// List returns all markets, newest first.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+marketSelectCols+` FROM markets
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		listLimit(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	markets, err := scanMarkets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// listLimit applies the default page size when the caller passed none.
func listLimit(opts domain.ListOpts) int {
	if opts.Limit <= 0 {
		return 50
	}
	return opts.Limit
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
