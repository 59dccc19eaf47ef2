package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/percmarket/percolator-markets/internal/domain"
)

// VaultStore implements domain.VaultStore using PostgreSQL: one balance row
// per market, the fund reservoir all of a market's positions share.
type VaultStore struct {
	db DBTX
}

// NewVaultStore creates a VaultStore over the given querier.
func NewVaultStore(db DBTX) *VaultStore {
	return &VaultStore{db: db}
}

// Create inserts an empty vault for the market.
func (s *VaultStore) Create(ctx context.Context, marketID uint64) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO vaults (market_id, balance, updated_at) VALUES ($1, 0, NOW())`,
		int64(marketID))
	if err != nil {
		return fmt.Errorf("postgres: create vault %d: %w", marketID, err)
	}
	return nil
}

// Deposit adds amount to the vault balance.
func (s *VaultStore) Deposit(ctx context.Context, marketID uint64, amount uint64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE vaults SET balance = balance + $2, updated_at = NOW() WHERE market_id = $1`,
		int64(marketID), int64(amount))
	if err != nil {
		return fmt.Errorf("postgres: deposit %d into vault %d: %w", amount, marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Withdraw removes amount from the vault balance. The balance check and
// mutation are one conditional statement, so no interleaved operation can
// observe or create a partial withdrawal.
func (s *VaultStore) Withdraw(ctx context.Context, marketID uint64, amount uint64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE vaults SET balance = balance - $2, updated_at = NOW()
		 WHERE market_id = $1 AND balance >= $2`,
		int64(marketID), int64(amount))
	if err != nil {
		return fmt.Errorf("postgres: withdraw %d from vault %d: %w", amount, marketID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing vault from an underfunded one.
		var exists bool
		if err := s.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM vaults WHERE market_id = $1)`,
			int64(marketID)).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check vault %d: %w", marketID, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrInsufficientFunds
	}
	return nil
}

// Balance returns the current vault balance.
func (s *VaultStore) Balance(ctx context.Context, marketID uint64) (uint64, error) {
	var balance int64
	err := s.db.QueryRow(ctx,
		`SELECT balance FROM vaults WHERE market_id = $1`, int64(marketID)).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: vault balance %d: %w", marketID, err)
	}
	return uint64(balance), nil
}

// Compile-time interface check.
var _ domain.VaultStore = (*VaultStore)(nil)
