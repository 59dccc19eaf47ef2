package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/percmarket/percolator-markets/internal/domain"
)

// TokenLedger implements domain.TokenLedger using PostgreSQL. Position
// tokens externalize claims and move 1:1 with stake; the engine only issues
// and retires them.
type TokenLedger struct {
	db DBTX
}

// NewTokenLedger creates a TokenLedger over the given querier.
func NewTokenLedger(db DBTX) *TokenLedger {
	return &TokenLedger{db: db}
}

// Mint issues amount tokens for the (market, participant, side) claim.
func (l *TokenLedger) Mint(ctx context.Context, marketID uint64, participant string, side domain.BetSide, amount uint64) error {
	const query = `
		INSERT INTO position_tokens (market_id, participant, side, amount, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (market_id, participant, side)
		DO UPDATE SET amount = position_tokens.amount + EXCLUDED.amount, updated_at = NOW()`

	_, err := l.db.Exec(ctx, query, int64(marketID), participant, string(side), int64(amount))
	if err != nil {
		return fmt.Errorf("postgres: mint %d tokens %d/%s/%s: %w", amount, marketID, participant, side, err)
	}
	return nil
}

// Burn retires amount tokens. Burning more than the held balance fails with
// ErrInsufficientFunds; tokens must stay in lockstep with the ledger.
func (l *TokenLedger) Burn(ctx context.Context, marketID uint64, participant string, side domain.BetSide, amount uint64) error {
	const query = `
		UPDATE position_tokens SET amount = amount - $4, updated_at = NOW()
		WHERE market_id = $1 AND participant = $2 AND side = $3 AND amount >= $4`

	tag, err := l.db.Exec(ctx, query, int64(marketID), participant, string(side), int64(amount))
	if err != nil {
		return fmt.Errorf("postgres: burn %d tokens %d/%s/%s: %w", amount, marketID, participant, side, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds
	}
	return nil
}

// Balance returns the held token amount for the claim.
func (l *TokenLedger) Balance(ctx context.Context, marketID uint64, participant string, side domain.BetSide) (uint64, error) {
	var amount int64
	err := l.db.QueryRow(ctx,
		`SELECT amount FROM position_tokens
		 WHERE market_id = $1 AND participant = $2 AND side = $3`,
		int64(marketID), participant, string(side)).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: token balance %d/%s/%s: %w", marketID, participant, side, err)
	}
	return uint64(amount), nil
}

// Compile-time interface check.
var _ domain.TokenLedger = (*TokenLedger)(nil)
