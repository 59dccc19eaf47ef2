package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/percmarket/percolator-markets/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	db DBTX
}

// NewPositionStore creates a PositionStore over the given querier.
func NewPositionStore(db DBTX) *PositionStore {
	return &PositionStore{db: db}
}

const positionSelectCols = `market_id, participant, side, deposited, settled,
	payout, created_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var marketID, deposited, payout int64
	var side string

	err := row.Scan(
		&marketID, &p.Participant, &side, &deposited, &p.Settled,
		&payout, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.MarketID = uint64(marketID)
	p.Side = domain.BetSide(side)
	p.Deposited = uint64(deposited)
	p.Payout = uint64(payout)
	return p, nil
}

// Create inserts a new position, binding its side.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			market_id, participant, side, deposited, settled, payout,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`

	_, err := s.db.Exec(ctx, query,
		int64(p.MarketID), p.Participant, string(p.Side),
		int64(p.Deposited), p.Settled, int64(p.Payout),
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %d/%s: %w", p.MarketID, p.Participant, err)
	}
	return nil
}

// Get retrieves a position by its composite key.
func (s *PositionStore) Get(ctx context.Context, marketID uint64, participant string) (domain.Position, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE market_id = $1 AND participant = $2`,
		int64(marketID), participant)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNoPosition
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %d/%s: %w", marketID, participant, err)
	}
	return p, nil
}

// AddStake adds amount to the position's deposited total. Stake is additive
// only; the bound side is never touched here.
func (s *PositionStore) AddStake(ctx context.Context, marketID uint64, participant string, amount uint64) error {
	const query = `
		UPDATE positions SET
			deposited  = deposited + $3,
			updated_at = NOW()
		WHERE market_id = $1 AND participant = $2 AND NOT settled`

	tag, err := s.db.Exec(ctx, query, int64(marketID), participant, int64(amount))
	if err != nil {
		return fmt.Errorf("postgres: add stake %d/%s: %w", marketID, participant, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNoPosition
	}
	return nil
}

// MarkSettled flips the one-way settled flag and records the payout. The
// NOT settled guard makes settlement idempotence a storage property, not
// just a service check.
func (s *PositionStore) MarkSettled(ctx context.Context, marketID uint64, participant string, payout uint64) error {
	const query = `
		UPDATE positions SET
			settled    = TRUE,
			payout     = $3,
			updated_at = NOW()
		WHERE market_id = $1 AND participant = $2 AND NOT settled`

	tag, err := s.db.Exec(ctx, query, int64(marketID), participant, int64(payout))
	if err != nil {
		return fmt.Errorf("postgres: mark settled %d/%s: %w", marketID, participant, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadySettled
	}
	return nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListByMarket returns all positions in a market, oldest first.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Position, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE market_id = $1
		 ORDER BY created_at ASC
		 LIMIT $2 OFFSET $3`,
		int64(marketID), listLimit(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for market %d: %w", marketID, err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// ListByParticipant returns a participant's positions across markets,
// newest first.
func (s *PositionStore) ListByParticipant(ctx context.Context, participant string, opts domain.ListOpts) ([]domain.Position, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE participant = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		participant, listLimit(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", participant, err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// CountUnsettled returns open positions for the market, optionally
// restricted to one side.
func (s *PositionStore) CountUnsettled(ctx context.Context, marketID uint64, side *domain.BetSide) (int64, error) {
	query := `SELECT COUNT(*) FROM positions WHERE market_id = $1 AND NOT settled`
	args := []any{int64(marketID)}
	if side != nil {
		query += ` AND side = $2`
		args = append(args, string(*side))
	}

	var count int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count unsettled for market %d: %w", marketID, err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
