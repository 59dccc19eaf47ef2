package postgres

import (
	"context"
	"fmt"

	"github.com/percmarket/percolator-markets/internal/domain"
)

// ProtocolStore implements domain.ProtocolStore using PostgreSQL. The
// protocol table holds exactly one row.
type ProtocolStore struct {
	db DBTX
}

// NewProtocolStore creates a ProtocolStore over the given querier.
func NewProtocolStore(db DBTX) *ProtocolStore {
	return &ProtocolStore{db: db}
}

// Get returns the protocol row.
func (s *ProtocolStore) Get(ctx context.Context) (domain.Protocol, error) {
	var p domain.Protocol
	var nextID, totalMarkets, totalVolume int64
	var feeBps int32

	err := s.db.QueryRow(ctx,
		`SELECT next_market_id, total_markets, total_volume, fee_bps, fee_collector, updated_at
		 FROM protocol WHERE id = 1`,
	).Scan(&nextID, &totalMarkets, &totalVolume, &feeBps, &p.FeeCollector, &p.UpdatedAt)
	if err != nil {
		return domain.Protocol{}, fmt.Errorf("postgres: get protocol: %w", err)
	}

	p.NextMarketID = uint64(nextID)
	p.TotalMarkets = uint64(totalMarkets)
	p.TotalVolume = uint64(totalVolume)
	p.FeeBps = uint16(feeBps)
	return p, nil
}

// AllocateMarketID atomically assigns the next market id. The single
// UPDATE ... RETURNING statement is the serialized counter: concurrent
// creators block on the row lock and each receives a distinct id.
func (s *ProtocolStore) AllocateMarketID(ctx context.Context) (uint64, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`UPDATE protocol SET
			next_market_id = next_market_id + 1,
			total_markets  = total_markets + 1,
			updated_at     = NOW()
		 WHERE id = 1
		 RETURNING next_market_id - 1`,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: allocate market id: %w", err)
	}
	return uint64(id), nil
}

// AddVolume adds amount to the aggregate volume counter.
func (s *ProtocolStore) AddVolume(ctx context.Context, amount uint64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE protocol SET total_volume = total_volume + $1, updated_at = NOW() WHERE id = 1`,
		int64(amount))
	if err != nil {
		return fmt.Errorf("postgres: add volume: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ProtocolStore = (*ProtocolStore)(nil)
