package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/percmarket/percolator-markets/internal/domain"
)

// memState is a single in-memory ledger shared by the fake stores. The
// fakes mirror the storage guards (status checks, balance checks, the
// one-way settled flag) so service tests exercise the same failure
// surface as PostgreSQL.
type memState struct {
	mu        sync.Mutex
	markets   map[uint64]domain.Market
	positions map[string]domain.Position
	protocol  domain.Protocol
	vaults    map[uint64]uint64
	tokens    map[string]uint64
	audit     []domain.AuditEntry
}

func newMemState() *memState {
	return &memState{
		markets:   make(map[uint64]domain.Market),
		positions: make(map[string]domain.Position),
		protocol:  domain.Protocol{NextMarketID: 1},
		vaults:    make(map[uint64]uint64),
		tokens:    make(map[string]uint64),
	}
}

func (st *memState) stores() domain.Stores {
	return domain.Stores{
		Markets:   &memMarkets{st},
		Positions: &memPositions{st},
		Protocol:  &memProtocol{st},
		Vault:     &memVault{st},
		Tokens:    &memTokens{st},
		Audit:     &memAudit{st},
	}
}

// InTx satisfies domain.UnitOfWork. The fakes are not transactional;
// tests only assert on committed outcomes and on errors raised before
// any mutation of interest.
func (st *memState) InTx(_ context.Context, fn func(s domain.Stores) error) error {
	return fn(st.stores())
}

func posKey(marketID uint64, participant string) string {
	return fmt.Sprintf("%d/%s", marketID, participant)
}

func tokKey(marketID uint64, participant string, side domain.BetSide) string {
	return fmt.Sprintf("%d/%s/%s", marketID, participant, side)
}

type memMarkets struct{ st *memState }

func (s *memMarkets) Create(_ context.Context, m domain.Market) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.markets[m.ID] = m
	return nil
}

func (s *memMarkets) GetByID(_ context.Context, id uint64) (domain.Market, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	m, ok := s.st.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarkets) UpdatePools(_ context.Context, id uint64, yesPool, noPool uint64) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	m, ok := s.st.markets[id]
	if !ok || m.Status != domain.MarketStatusOpen {
		return domain.ErrNotFound
	}
	m.YesPool, m.NoPool = yesPool, noPool
	s.st.markets[id] = m
	return nil
}

func (s *memMarkets) Resolve(_ context.Context, id uint64, outcome domain.Outcome, hRatioBps uint16) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	m, ok := s.st.markets[id]
	if !ok || !m.Resolvable() {
		return domain.ErrNotFound
	}
	m.Outcome, m.HRatioBps, m.Status = outcome, hRatioBps, domain.MarketStatusResolved
	s.st.markets[id] = m
	return nil
}

func (s *memMarkets) UpdateStatus(_ context.Context, id uint64, status domain.MarketStatus) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	m, ok := s.st.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.Status = status
	s.st.markets[id] = m
	return nil
}

func (s *memMarkets) RecordSettlement(_ context.Context, id uint64, settledAmount, settlementsCount uint64) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	m, ok := s.st.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.SettledAmount += settledAmount
	m.SettlementsCount += settlementsCount
	s.st.markets[id] = m
	return nil
}

func (s *memMarkets) ListByStatus(_ context.Context, status domain.MarketStatus, _ domain.ListOpts) ([]domain.Market, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []domain.Market
	for _, m := range s.st.markets {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarkets) List(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []domain.Market
	for _, m := range s.st.markets {
		out = append(out, m)
	}
	return out, nil
}

func (s *memMarkets) Count(_ context.Context) (int64, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return int64(len(s.st.markets)), nil
}

type memPositions struct{ st *memState }

func (s *memPositions) Create(_ context.Context, p domain.Position) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.positions[posKey(p.MarketID, p.Participant)] = p
	return nil
}

func (s *memPositions) Get(_ context.Context, marketID uint64, participant string) (domain.Position, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	p, ok := s.st.positions[posKey(marketID, participant)]
	if !ok {
		return domain.Position{}, domain.ErrNoPosition
	}
	return p, nil
}

func (s *memPositions) AddStake(_ context.Context, marketID uint64, participant string, amount uint64) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	p, ok := s.st.positions[posKey(marketID, participant)]
	if !ok || p.Settled {
		return domain.ErrNoPosition
	}
	p.Deposited += amount
	s.st.positions[posKey(marketID, participant)] = p
	return nil
}

func (s *memPositions) MarkSettled(_ context.Context, marketID uint64, participant string, payout uint64) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	p, ok := s.st.positions[posKey(marketID, participant)]
	if !ok {
		return domain.ErrNoPosition
	}
	if p.Settled {
		return domain.ErrAlreadySettled
	}
	p.Settled, p.Payout = true, payout
	s.st.positions[posKey(marketID, participant)] = p
	return nil
}

func (s *memPositions) ListByMarket(_ context.Context, marketID uint64, _ domain.ListOpts) ([]domain.Position, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []domain.Position
	for _, p := range s.st.positions {
		if p.MarketID == marketID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPositions) ListByParticipant(_ context.Context, participant string, _ domain.ListOpts) ([]domain.Position, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []domain.Position
	for _, p := range s.st.positions {
		if p.Participant == participant {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPositions) CountUnsettled(_ context.Context, marketID uint64, side *domain.BetSide) (int64, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var n int64
	for _, p := range s.st.positions {
		if p.MarketID != marketID || p.Settled {
			continue
		}
		if side != nil && p.Side != *side {
			continue
		}
		n++
	}
	return n, nil
}

type memProtocol struct{ st *memState }

func (s *memProtocol) Get(_ context.Context) (domain.Protocol, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.st.protocol, nil
}

func (s *memProtocol) AllocateMarketID(_ context.Context) (uint64, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	id := s.st.protocol.NextMarketID
	s.st.protocol.NextMarketID++
	s.st.protocol.TotalMarkets++
	return id, nil
}

func (s *memProtocol) AddVolume(_ context.Context, amount uint64) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.protocol.TotalVolume += amount
	return nil
}

type memVault struct{ st *memState }

func (s *memVault) Create(_ context.Context, marketID uint64) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.vaults[marketID] = 0
	return nil
}

func (s *memVault) Deposit(_ context.Context, marketID uint64, amount uint64) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.vaults[marketID] += amount
	return nil
}

func (s *memVault) Withdraw(_ context.Context, marketID uint64, amount uint64) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	bal, ok := s.st.vaults[marketID]
	if !ok {
		return domain.ErrNotFound
	}
	if bal < amount {
		return domain.ErrInsufficientFunds
	}
	s.st.vaults[marketID] = bal - amount
	return nil
}

func (s *memVault) Balance(_ context.Context, marketID uint64) (uint64, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	bal, ok := s.st.vaults[marketID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return bal, nil
}

type memTokens struct{ st *memState }

func (s *memTokens) Mint(_ context.Context, marketID uint64, participant string, side domain.BetSide, amount uint64) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.tokens[tokKey(marketID, participant, side)] += amount
	return nil
}

func (s *memTokens) Burn(_ context.Context, marketID uint64, participant string, side domain.BetSide, amount uint64) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	k := tokKey(marketID, participant, side)
	if s.st.tokens[k] < amount {
		return domain.ErrInsufficientFunds
	}
	s.st.tokens[k] -= amount
	return nil
}

func (s *memTokens) Balance(_ context.Context, marketID uint64, participant string, side domain.BetSide) (uint64, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.st.tokens[tokKey(marketID, participant, side)], nil
}

type memAudit struct{ st *memState }

func (s *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.audit = append(s.st.audit, domain.AuditEntry{
		ID:     int64(len(s.st.audit) + 1),
		Event:  event,
		Detail: detail,
	})
	return nil
}

func (s *memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := make([]domain.AuditEntry, len(s.st.audit))
	copy(out, s.st.audit)
	return out, nil
}

// fakeLocks records acquired keys and can simulate contention.
type fakeLocks struct {
	mu       sync.Mutex
	acquired []string
	held     bool
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired = append(l.acquired, key)
	return func() {}, nil
}

// fakeBus records published payloads per channel.
type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// fakeNotifier records which alerts fired.
type fakeNotifier struct {
	mu           sync.Mutex
	resolved     []uint64
	cancelled    []uint64
	settled      []uint64
	insolvencies []uint64
}

func (n *fakeNotifier) MarketResolved(_ context.Context, m *domain.Market) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolved = append(n.resolved, m.ID)
}

func (n *fakeNotifier) MarketCancelled(_ context.Context, m *domain.Market) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, m.ID)
}

func (n *fakeNotifier) MarketSettled(_ context.Context, m *domain.Market) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settled = append(n.settled, m.ID)
}

func (n *fakeNotifier) Insolvency(_ context.Context, m *domain.Market, _ uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.insolvencies = append(n.insolvencies, m.ID)
}

// fakeArchiver records snapshot and export requests.
type fakeArchiver struct {
	mu        sync.Mutex
	snapshots []uint64
	exports   int
}

func (a *fakeArchiver) SnapshotMarket(_ context.Context, marketID uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshots = append(a.snapshots, marketID)
	return nil
}

func (a *fakeArchiver) ExportAudit(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exports++
	return nil
}
