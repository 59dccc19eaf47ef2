package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/percmarket/percolator-markets/internal/domain"
)

// Archiver exports terminal markets and the audit trail to object
// storage. Satisfied by *s3blob.Archiver.
type Archiver interface {
	SnapshotMarket(ctx context.Context, marketID uint64) error
	ExportAudit(ctx context.Context) error
}

// SettlementService disburses payouts on resolved markets and refunds on
// cancelled ones. Settlement is per-position and caller-driven; there is
// no batch sweep.
type SettlementService struct {
	uow      domain.UnitOfWork
	locks    domain.LockManager
	bus      domain.EventBus
	notifier Notifier
	archiver Archiver
	clock    domain.Clock
	lockTTL  time.Duration
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService. notifier, bus, and
// archiver may be nil.
func NewSettlementService(uow domain.UnitOfWork, locks domain.LockManager, bus domain.EventBus, notifier Notifier, archiver Archiver, clock domain.Clock, lockTTL time.Duration, logger *slog.Logger) *SettlementService {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &SettlementService{
		uow:      uow,
		locks:    locks,
		bus:      bus,
		notifier: notifier,
		archiver: archiver,
		clock:    clock,
		lockTTL:  lockTTL,
		logger:   logger.With(slog.String("component", "settlement_service")),
	}
}

// Settle pays out the participant's winning position on a resolved
// market. The payout is recomputed from the frozen h-ratio; the vault
// withdrawal re-checks the balance, so a shortfall surfaces as
// ErrVaultInsolvency instead of overdrawing.
//
// When the last winning position settles, the market moves to Settled.
func (s *SettlementService) Settle(ctx context.Context, marketID uint64, participant string) (uint64, error) {
	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketID), s.lockTTL)
	if err != nil {
		return 0, fmt.Errorf("service: settle: %w", err)
	}
	defer unlock()

	var (
		m       domain.Market
		payout  uint64
		settled bool
	)
	err = s.uow.InTx(ctx, func(st domain.Stores) error {
		var err error
		m, err = st.Markets.GetByID(ctx, marketID)
		if err != nil {
			return err
		}
		// Settled is admitted so stragglers get the precise error below
		// (already settled, or losing side) instead of a status error.
		if m.Status != domain.MarketStatusResolved && m.Status != domain.MarketStatusSettled {
			return domain.ErrInvalidMarketStatus
		}

		pos, err := st.Positions.Get(ctx, marketID, participant)
		if err != nil {
			return err
		}
		if pos.Settled {
			return domain.ErrAlreadySettled
		}
		if !pos.Side.Wins(m.Outcome) {
			return domain.ErrLosingSide
		}

		payout = m.Payout(pos.Deposited)

		if err := st.Vault.Withdraw(ctx, marketID, payout); err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return fmt.Errorf("payout %d for %s on market %d: %w",
					payout, participant, marketID, domain.ErrVaultInsolvency)
			}
			return err
		}
		if err := st.Positions.MarkSettled(ctx, marketID, participant, payout); err != nil {
			return err
		}
		if err := st.Tokens.Burn(ctx, marketID, participant, pos.Side, pos.Deposited); err != nil {
			return err
		}
		if err := st.Markets.RecordSettlement(ctx, marketID, payout, 1); err != nil {
			return err
		}
		m.SettledAmount = domain.SaturatingAdd(m.SettledAmount, payout)
		m.SettlementsCount++

		winner := winningSide(m.Outcome)
		open, err := st.Positions.CountUnsettled(ctx, marketID, &winner)
		if err != nil {
			return err
		}
		if open == 0 && m.Status == domain.MarketStatusResolved {
			settled = true
			m.Status = domain.MarketStatusSettled
			if err := st.Markets.UpdateStatus(ctx, marketID, domain.MarketStatusSettled); err != nil {
				return err
			}
		}

		return st.Audit.Log(ctx, EventPositionSettled, map[string]any{
			"market_id":   marketID,
			"participant": participant,
			"payout":      payout,
			"h_ratio_bps": m.HRatioBps,
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrVaultInsolvency) {
			s.logger.ErrorContext(ctx, "vault insolvency at disbursement",
				slog.Uint64("market_id", marketID),
				slog.String("participant", participant),
				slog.String("error", err.Error()),
			)
		}
		return 0, fmt.Errorf("service: settle: %w", err)
	}

	s.logger.InfoContext(ctx, "position settled",
		slog.Uint64("market_id", marketID),
		slog.String("participant", participant),
		slog.Uint64("payout", payout),
	)
	publishEvent(ctx, s.bus, s.logger, ChannelSettlements, Event{
		Type:        EventPositionSettled,
		MarketID:    marketID,
		Participant: participant,
		At:          s.clock.Now().UTC(),
		Data:        map[string]any{"payout": payout},
	})
	s.finalize(ctx, &m, settled)
	return payout, nil
}

// ClaimRefund returns the participant's exact deposit on a cancelled
// market. No haircut applies: stake never left the vault, so the vault
// always covers refunds in full.
//
// When the last open position is refunded, the market moves to Settled.
func (s *SettlementService) ClaimRefund(ctx context.Context, marketID uint64, participant string) (uint64, error) {
	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketID), s.lockTTL)
	if err != nil {
		return 0, fmt.Errorf("service: claim refund: %w", err)
	}
	defer unlock()

	var (
		m       domain.Market
		refund  uint64
		settled bool
	)
	err = s.uow.InTx(ctx, func(st domain.Stores) error {
		var err error
		m, err = st.Markets.GetByID(ctx, marketID)
		if err != nil {
			return err
		}
		cancelled := m.Status == domain.MarketStatusCancelled ||
			(m.Status == domain.MarketStatusSettled && m.Outcome == domain.OutcomeUnresolved)
		if !cancelled {
			return domain.ErrInvalidMarketStatus
		}

		pos, err := st.Positions.Get(ctx, marketID, participant)
		if err != nil {
			return err
		}
		if pos.Settled {
			return domain.ErrAlreadySettled
		}

		refund = pos.RefundAmount()

		if err := st.Vault.Withdraw(ctx, marketID, refund); err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return fmt.Errorf("refund %d for %s on market %d: %w",
					refund, participant, marketID, domain.ErrVaultInsolvency)
			}
			return err
		}
		if err := st.Positions.MarkSettled(ctx, marketID, participant, refund); err != nil {
			return err
		}
		if err := st.Tokens.Burn(ctx, marketID, participant, pos.Side, pos.Deposited); err != nil {
			return err
		}
		if err := st.Markets.RecordSettlement(ctx, marketID, refund, 1); err != nil {
			return err
		}
		m.SettledAmount = domain.SaturatingAdd(m.SettledAmount, refund)
		m.SettlementsCount++

		open, err := st.Positions.CountUnsettled(ctx, marketID, nil)
		if err != nil {
			return err
		}
		if open == 0 && m.Status == domain.MarketStatusCancelled {
			settled = true
			m.Status = domain.MarketStatusSettled
			if err := st.Markets.UpdateStatus(ctx, marketID, domain.MarketStatusSettled); err != nil {
				return err
			}
		}

		return st.Audit.Log(ctx, EventPositionRefund, map[string]any{
			"market_id":   marketID,
			"participant": participant,
			"refund":      refund,
		})
	})
	if err != nil {
		return 0, fmt.Errorf("service: claim refund: %w", err)
	}

	s.logger.InfoContext(ctx, "position refunded",
		slog.Uint64("market_id", marketID),
		slog.String("participant", participant),
		slog.Uint64("refund", refund),
	)
	publishEvent(ctx, s.bus, s.logger, ChannelSettlements, Event{
		Type:        EventPositionRefund,
		MarketID:    marketID,
		Participant: participant,
		At:          s.clock.Now().UTC(),
		Data:        map[string]any{"refund": refund},
	})
	s.finalize(ctx, &m, settled)
	return refund, nil
}

// finalize runs the terminal-state side effects after a commit: the
// settled event, the operator alert, the archive snapshot, and the audit
// export. All are best-effort.
func (s *SettlementService) finalize(ctx context.Context, m *domain.Market, becameSettled bool) {
	if !becameSettled {
		return
	}

	publishEvent(ctx, s.bus, s.logger, ChannelMarkets, Event{
		Type:     EventMarketSettled,
		MarketID: m.ID,
		At:       s.clock.Now().UTC(),
	})
	if s.notifier != nil {
		s.notifier.MarketSettled(ctx, m)
	}
	if s.archiver != nil {
		if err := s.archiver.SnapshotMarket(ctx, m.ID); err != nil {
			s.logger.WarnContext(ctx, "archive snapshot failed",
				slog.Uint64("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.archiver.ExportAudit(ctx); err != nil {
			s.logger.WarnContext(ctx, "audit export failed",
				slog.Uint64("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
