// Package service implements the settlement engine's operations on top of
// the domain stores: market lifecycle, bet intake, payout disbursement,
// and refunds. Every mutating operation runs under the market's
// distributed lock and inside a single database transaction.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/percmarket/percolator-markets/internal/domain"
)

// defaultLockTTL bounds how long a crashed process can hold a market
// hostage before its lock expires.
const defaultLockTTL = 10 * time.Second

// MarketConfig tunes market-level limits.
type MarketConfig struct {
	// MaxBetAmount caps a single stake; zero means uncapped.
	MaxBetAmount uint64
	// LockTTL is the distributed lock expiry for market operations.
	LockTTL time.Duration
}

// MarketService drives the market lifecycle: creation, bet intake,
// resolution, and cancellation.
type MarketService struct {
	uow      domain.UnitOfWork
	locks    domain.LockManager
	bus      domain.EventBus
	notifier Notifier
	clock    domain.Clock
	cfg      MarketConfig
	logger   *slog.Logger
}

// Notifier is the slice of the operator alerting surface the services
// use. Satisfied by *notify.Notifier.
type Notifier interface {
	MarketResolved(ctx context.Context, m *domain.Market)
	MarketCancelled(ctx context.Context, m *domain.Market)
	MarketSettled(ctx context.Context, m *domain.Market)
	Insolvency(ctx context.Context, m *domain.Market, vaultBalance uint64)
}

// NewMarketService creates a MarketService. notifier and bus may be nil,
// in which case alerts and events are dropped.
func NewMarketService(uow domain.UnitOfWork, locks domain.LockManager, bus domain.EventBus, notifier Notifier, clock domain.Clock, cfg MarketConfig, logger *slog.Logger) *MarketService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &MarketService{
		uow:      uow,
		locks:    locks,
		bus:      bus,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

// CreateMarketInput carries the parameters for a new market.
type CreateMarketInput struct {
	Creator      string
	Oracle       string
	Question     string
	Rule         domain.MarketRule
	TargetValue  uint64
	SubjectAsset string
	Deadline     time.Time
}

// CreateMarket validates the input, allocates the next market id, and
// creates the market with its empty vault.
func (s *MarketService) CreateMarket(ctx context.Context, in CreateMarketInput) (domain.Market, error) {
	if in.Question == "" || len(in.Question) > domain.MaxQuestionBytes {
		return domain.Market{}, domain.ErrQuestionTooLong
	}
	if !in.Rule.Valid() {
		return domain.Market{}, domain.ErrInvalidRule
	}

	now := s.clock.Now()
	if !in.Deadline.After(now) {
		return domain.Market{}, domain.ErrDeadlineInPast
	}

	var m domain.Market
	err := s.uow.InTx(ctx, func(st domain.Stores) error {
		id, err := st.Protocol.AllocateMarketID(ctx)
		if err != nil {
			return err
		}

		m = domain.Market{
			ID:           id,
			Creator:      in.Creator,
			Oracle:       in.Oracle,
			Question:     in.Question,
			Rule:         in.Rule,
			TargetValue:  in.TargetValue,
			SubjectAsset: in.SubjectAsset,
			Deadline:     in.Deadline.UTC(),
			Status:       domain.MarketStatusOpen,
			Outcome:      domain.OutcomeUnresolved,
			HRatioBps:    domain.BpsDenominator,
			CreatedAt:    now.UTC(),
			UpdatedAt:    now.UTC(),
		}

		if err := st.Markets.Create(ctx, m); err != nil {
			return err
		}
		if err := st.Vault.Create(ctx, id); err != nil {
			return err
		}
		return st.Audit.Log(ctx, EventMarketCreated, map[string]any{
			"market_id": id,
			"creator":   in.Creator,
			"oracle":    in.Oracle,
			"rule":      in.Rule,
			"deadline":  m.Deadline,
		})
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("service: create market: %w", err)
	}

	s.logger.InfoContext(ctx, "market created",
		slog.Uint64("market_id", m.ID),
		slog.String("creator", m.Creator),
		slog.String("rule", string(m.Rule)),
	)
	publishEvent(ctx, s.bus, s.logger, ChannelMarkets, Event{
		Type:     EventMarketCreated,
		MarketID: m.ID,
		At:       now.UTC(),
	})
	return m, nil
}

// PlaceBet adds stake to the participant's position on the market. The
// first bet binds the position's side; later bets must name the same
// side. Expired markets are moved to closed and the bet is rejected.
func (s *MarketService) PlaceBet(ctx context.Context, marketID uint64, participant string, side domain.BetSide, amount uint64) (domain.Position, error) {
	if amount == 0 {
		return domain.Position{}, domain.ErrZeroBetAmount
	}
	if s.cfg.MaxBetAmount > 0 && amount > s.cfg.MaxBetAmount {
		return domain.Position{}, domain.ErrBetAmountExceedsMax
	}
	if !side.Valid() {
		return domain.Position{}, domain.ErrInvalidSide
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketID), s.cfg.LockTTL)
	if err != nil {
		return domain.Position{}, fmt.Errorf("service: place bet: %w", err)
	}
	defer unlock()

	now := s.clock.Now()
	var (
		pos     domain.Position
		expired bool
	)
	err = s.uow.InTx(ctx, func(st domain.Stores) error {
		m, err := st.Markets.GetByID(ctx, marketID)
		if err != nil {
			return err
		}
		if !m.AcceptsBets() {
			return domain.ErrInvalidMarketStatus
		}
		if m.Expired(now) {
			// Lazy close: commit the status flip, then reject the bet.
			expired = true
			return st.Markets.UpdateStatus(ctx, marketID, domain.MarketStatusClosed)
		}

		yes, no := m.YesPool, m.NoPool
		if side == domain.SideYes {
			if yes, err = domain.CheckedAdd(yes, amount); err != nil {
				return err
			}
		} else {
			if no, err = domain.CheckedAdd(no, amount); err != nil {
				return err
			}
		}

		pos, err = st.Positions.Get(ctx, marketID, participant)
		switch {
		case errors.Is(err, domain.ErrNoPosition):
			pos = domain.Position{
				MarketID:    marketID,
				Participant: participant,
				Side:        side,
				Deposited:   amount,
				CreatedAt:   now.UTC(),
				UpdatedAt:   now.UTC(),
			}
			if err := st.Positions.Create(ctx, pos); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			// The side bound at the first deposit is authoritative.
			if pos.Side != side {
				return domain.ErrInvalidSide
			}
			if pos.Deposited, err = domain.CheckedAdd(pos.Deposited, amount); err != nil {
				return err
			}
			if err := st.Positions.AddStake(ctx, marketID, participant, amount); err != nil {
				return err
			}
		}

		if err := st.Markets.UpdatePools(ctx, marketID, yes, no); err != nil {
			return err
		}
		if err := st.Vault.Deposit(ctx, marketID, amount); err != nil {
			return err
		}
		if err := st.Tokens.Mint(ctx, marketID, participant, side, amount); err != nil {
			return err
		}
		if err := st.Protocol.AddVolume(ctx, amount); err != nil {
			return err
		}
		return st.Audit.Log(ctx, EventBetPlaced, map[string]any{
			"market_id":   marketID,
			"participant": participant,
			"side":        side,
			"amount":      amount,
		})
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("service: place bet: %w", err)
	}
	if expired {
		publishEvent(ctx, s.bus, s.logger, ChannelMarkets, Event{
			Type:     EventMarketClosed,
			MarketID: marketID,
			At:       now.UTC(),
		})
		return domain.Position{}, fmt.Errorf("service: place bet: %w", domain.ErrMarketExpired)
	}

	s.logger.InfoContext(ctx, "bet placed",
		slog.Uint64("market_id", marketID),
		slog.String("participant", participant),
		slog.String("side", string(side)),
		slog.Uint64("amount", amount),
	)
	publishEvent(ctx, s.bus, s.logger, ChannelBets, Event{
		Type:        EventBetPlaced,
		MarketID:    marketID,
		Participant: participant,
		At:          now.UTC(),
		Data:        map[string]any{"side": side, "amount": amount},
	})
	return pos, nil
}

// ResolveMarket freezes the outcome and the h-ratio. Only the market's
// oracle may resolve; the h-ratio is computed once here from the vault
// balance and never recomputed.
func (s *MarketService) ResolveMarket(ctx context.Context, marketID uint64, caller string, outcome domain.Outcome) (domain.Market, error) {
	if outcome != domain.OutcomeYes && outcome != domain.OutcomeNo {
		return domain.Market{}, domain.ErrInvalidOutcome
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketID), s.cfg.LockTTL)
	if err != nil {
		return domain.Market{}, fmt.Errorf("service: resolve market: %w", err)
	}
	defer unlock()

	var (
		m       domain.Market
		vault   uint64
		settled bool
	)
	err = s.uow.InTx(ctx, func(st domain.Stores) error {
		var err error
		m, err = st.Markets.GetByID(ctx, marketID)
		if err != nil {
			return err
		}
		if caller != m.Oracle {
			return domain.ErrUnauthorizedOracle
		}
		// Any status past Open/Closed means the outcome question is already
		// decided, one way or another.
		if !m.Resolvable() {
			return domain.ErrAlreadyResolved
		}

		vault, err = st.Vault.Balance(ctx, marketID)
		if err != nil {
			return err
		}

		m.Outcome = outcome
		m.HRatioBps = m.ComputeHRatio(vault)
		m.Status = domain.MarketStatusResolved

		if err := st.Markets.Resolve(ctx, marketID, outcome, m.HRatioBps); err != nil {
			return err
		}

		// A market with no winning positions has nothing left to settle.
		winner := winningSide(outcome)
		open, err := st.Positions.CountUnsettled(ctx, marketID, &winner)
		if err != nil {
			return err
		}
		if open == 0 {
			settled = true
			m.Status = domain.MarketStatusSettled
			if err := st.Markets.UpdateStatus(ctx, marketID, domain.MarketStatusSettled); err != nil {
				return err
			}
		}

		return st.Audit.Log(ctx, EventMarketResolved, map[string]any{
			"market_id":   marketID,
			"outcome":     outcome,
			"h_ratio_bps": m.HRatioBps,
			"vault":       vault,
		})
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("service: resolve market: %w", err)
	}

	s.logger.InfoContext(ctx, "market resolved",
		slog.Uint64("market_id", marketID),
		slog.String("outcome", string(outcome)),
		slog.Int("h_ratio_bps", int(m.HRatioBps)),
	)
	if s.notifier != nil {
		s.notifier.MarketResolved(ctx, &m)
		if m.HRatioBps < domain.BpsDenominator {
			s.notifier.Insolvency(ctx, &m, vault)
		}
		if settled {
			s.notifier.MarketSettled(ctx, &m)
		}
	}
	publishEvent(ctx, s.bus, s.logger, ChannelMarkets, Event{
		Type:     EventMarketResolved,
		MarketID: marketID,
		At:       s.clock.Now().UTC(),
		Data:     map[string]any{"outcome": outcome, "h_ratio_bps": m.HRatioBps},
	})
	if settled {
		publishEvent(ctx, s.bus, s.logger, ChannelMarkets, Event{
			Type:     EventMarketSettled,
			MarketID: marketID,
			At:       s.clock.Now().UTC(),
		})
	}
	return m, nil
}

// CancelMarket voids the market and opens refunds. Only the creator or the
// oracle may cancel, and never after resolution.
func (s *MarketService) CancelMarket(ctx context.Context, marketID uint64, caller string) (domain.Market, error) {
	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketID), s.cfg.LockTTL)
	if err != nil {
		return domain.Market{}, fmt.Errorf("service: cancel market: %w", err)
	}
	defer unlock()

	var (
		m       domain.Market
		settled bool
	)
	err = s.uow.InTx(ctx, func(st domain.Stores) error {
		var err error
		m, err = st.Markets.GetByID(ctx, marketID)
		if err != nil {
			return err
		}
		if caller != m.Creator && caller != m.Oracle {
			return domain.ErrUnauthorizedCreator
		}
		if m.Status == domain.MarketStatusResolved {
			return domain.ErrCannotCancelResolved
		}
		if !m.Cancellable() {
			return domain.ErrInvalidMarketStatus
		}

		m.Status = domain.MarketStatusCancelled
		if err := st.Markets.UpdateStatus(ctx, marketID, domain.MarketStatusCancelled); err != nil {
			return err
		}

		// A market nobody bet on has nothing to refund.
		open, err := st.Positions.CountUnsettled(ctx, marketID, nil)
		if err != nil {
			return err
		}
		if open == 0 {
			settled = true
			m.Status = domain.MarketStatusSettled
			if err := st.Markets.UpdateStatus(ctx, marketID, domain.MarketStatusSettled); err != nil {
				return err
			}
		}

		return st.Audit.Log(ctx, EventMarketCancelled, map[string]any{
			"market_id": marketID,
			"caller":    caller,
		})
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("service: cancel market: %w", err)
	}

	s.logger.InfoContext(ctx, "market cancelled", slog.Uint64("market_id", marketID))
	if s.notifier != nil {
		s.notifier.MarketCancelled(ctx, &m)
		if settled {
			s.notifier.MarketSettled(ctx, &m)
		}
	}
	publishEvent(ctx, s.bus, s.logger, ChannelMarkets, Event{
		Type:     EventMarketCancelled,
		MarketID: marketID,
		At:       s.clock.Now().UTC(),
	})
	if settled {
		publishEvent(ctx, s.bus, s.logger, ChannelMarkets, Event{
			Type:     EventMarketSettled,
			MarketID: marketID,
			At:       s.clock.Now().UTC(),
		})
	}
	return m, nil
}

// marketLockKey serializes all mutations of one market, its positions,
// and its vault.
func marketLockKey(marketID uint64) string {
	return fmt.Sprintf("market:%d", marketID)
}

// winningSide maps a resolved outcome to the side it pays.
func winningSide(outcome domain.Outcome) domain.BetSide {
	if outcome == domain.OutcomeYes {
		return domain.SideYes
	}
	return domain.SideNo
}
