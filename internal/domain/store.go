package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists markets. Markets are never deleted; terminal states
// persist for audit.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id uint64) (Market, error)
	// UpdatePools sets both pool accumulators. Only legal while Open.
	UpdatePools(ctx context.Context, id uint64, yesPool, noPool uint64) error
	// Resolve freezes the outcome and h-ratio and moves the market to
	// Resolved in a single statement.
	Resolve(ctx context.Context, id uint64, outcome Outcome, hRatioBps uint16) error
	UpdateStatus(ctx context.Context, id uint64, status MarketStatus) error
	// RecordSettlement adds payout to settled_amount and increments
	// settlements_count.
	RecordSettlement(ctx context.Context, id uint64, settledAmount, settlementsCount uint64) error
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// PositionStore persists positions keyed by (market, participant).
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	Get(ctx context.Context, marketID uint64, participant string) (Position, error)
	// AddStake adds amount to the position's deposited total.
	AddStake(ctx context.Context, marketID uint64, participant string, amount uint64) error
	// MarkSettled flips the one-way settled flag and records the payout.
	MarkSettled(ctx context.Context, marketID uint64, participant string, payout uint64) error
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]Position, error)
	ListByParticipant(ctx context.Context, participant string, opts ListOpts) ([]Position, error)
	// CountUnsettled returns open positions for the market, optionally
	// restricted to one side (nil means both sides).
	CountUnsettled(ctx context.Context, marketID uint64, side *BetSide) (int64, error)
}

// ProtocolStore persists the process-wide protocol row.
type ProtocolStore interface {
	Get(ctx context.Context) (Protocol, error)
	// AllocateMarketID atomically increments next_market_id and
	// total_markets, returning the allocated id.
	AllocateMarketID(ctx context.Context) (uint64, error)
	AddVolume(ctx context.Context, amount uint64) error
}

// VaultStore is the fund reservoir, one balance per market. Withdraw must
// check and mutate the balance as a single consistent operation.
type VaultStore interface {
	Create(ctx context.Context, marketID uint64) error
	Deposit(ctx context.Context, marketID uint64, amount uint64) error
	// Withdraw fails with ErrInsufficientFunds when amount exceeds the
	// balance; no partial withdrawal occurs.
	Withdraw(ctx context.Context, marketID uint64, amount uint64) error
	Balance(ctx context.Context, marketID uint64) (uint64, error)
}

// TokenLedger issues and retires position tokens 1:1 with stake. The engine
// does not interpret balances beyond keeping them in lockstep with the
// ledger.
type TokenLedger interface {
	Mint(ctx context.Context, marketID uint64, participant string, side BetSide, amount uint64) error
	Burn(ctx context.Context, marketID uint64, participant string, side BetSide, amount uint64) error
	Balance(ctx context.Context, marketID uint64, participant string, side BetSide) (uint64, error)
}

// AuditEntry is a single append-only audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists the append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Stores bundles every store participating in a transaction.
type Stores struct {
	Markets   MarketStore
	Positions PositionStore
	Protocol  ProtocolStore
	Vault     VaultStore
	Tokens    TokenLedger
	Audit     AuditStore
}

// UnitOfWork runs fn against transaction-scoped stores. Either every write
// fn performs is committed, or none are; no other operation observes a
// partial state.
type UnitOfWork interface {
	InTx(ctx context.Context, fn func(s Stores) error) error
}
