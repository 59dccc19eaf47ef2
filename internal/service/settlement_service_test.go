package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percmarket/percolator-markets/internal/domain"
)

// openMarket creates a market with alice 100 on yes and bob 50 on no.
func openMarket(t *testing.T, env *testEnv) domain.Market {
	t.Helper()
	ctx := context.Background()

	m, err := env.markets.CreateMarket(ctx, validInput())
	require.NoError(t, err)
	_, err = env.markets.PlaceBet(ctx, m.ID, addrAlice, domain.SideYes, 100)
	require.NoError(t, err)
	_, err = env.markets.PlaceBet(ctx, m.ID, addrBob, domain.SideNo, 50)
	require.NoError(t, err)
	return m
}

func TestSettle_WinnerTakesStakePlusProfit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := openMarket(t, env)

	_, err := env.markets.ResolveMarket(ctx, m.ID, addrOracle, domain.OutcomeYes)
	require.NoError(t, err)

	payout, err := env.settlement.Settle(ctx, m.ID, addrAlice)
	require.NoError(t, err)
	// Sole winner: stake 100 plus the whole losing pool.
	assert.Equal(t, uint64(150), payout)

	got := env.state.markets[m.ID]
	assert.Equal(t, domain.MarketStatusSettled, got.Status)
	assert.Equal(t, uint64(150), got.SettledAmount)
	assert.Equal(t, uint64(1), got.SettlementsCount)
	assert.Zero(t, env.state.vaults[m.ID])

	// Position tokens were burned.
	tokens, err := env.state.stores().Tokens.Balance(ctx, m.ID, addrAlice, domain.SideYes)
	require.NoError(t, err)
	assert.Zero(t, tokens)

	// The terminal market was archived and the audit trail exported.
	assert.Equal(t, []uint64{m.ID}, env.archiver.snapshots)
	assert.Equal(t, 1, env.archiver.exports)
	assert.Equal(t, []uint64{m.ID}, env.notifier.settled)
}

func TestSettle_IsOneShot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := openMarket(t, env)

	_, err := env.markets.ResolveMarket(ctx, m.ID, addrOracle, domain.OutcomeYes)
	require.NoError(t, err)

	_, err = env.settlement.Settle(ctx, m.ID, addrAlice)
	require.NoError(t, err)

	_, err = env.settlement.Settle(ctx, m.ID, addrAlice)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)

	// Double settlement paid nothing extra.
	assert.Equal(t, uint64(150), env.state.markets[m.ID].SettledAmount)
}

func TestSettle_LosingSide(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := openMarket(t, env)

	_, err := env.markets.ResolveMarket(ctx, m.ID, addrOracle, domain.OutcomeYes)
	require.NoError(t, err)

	_, err = env.settlement.Settle(ctx, m.ID, addrBob)
	assert.ErrorIs(t, err, domain.ErrLosingSide)

	// The loser's position stays open and unpaid.
	pos, err := env.state.stores().Positions.Get(ctx, m.ID, addrBob)
	require.NoError(t, err)
	assert.False(t, pos.Settled)
	assert.Zero(t, pos.Payout)
}

func TestSettle_HaircutPayout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const addrCarol = "0xCAB0000000000000000000000000000000000005"

	m, err := env.markets.CreateMarket(ctx, validInput())
	require.NoError(t, err)
	_, err = env.markets.PlaceBet(ctx, m.ID, addrAlice, domain.SideYes, 100)
	require.NoError(t, err)
	_, err = env.markets.PlaceBet(ctx, m.ID, addrCarol, domain.SideYes, 900)
	require.NoError(t, err)
	_, err = env.markets.PlaceBet(ctx, m.ID, addrBob, domain.SideNo, 500)
	require.NoError(t, err)

	// Claims total 1500 against a 1200 vault: h = 8000 bps.
	env.state.vaults[m.ID] = 1200

	resolved, err := env.markets.ResolveMarket(ctx, m.ID, addrOracle, domain.OutcomeYes)
	require.NoError(t, err)
	require.Equal(t, uint16(8000), resolved.HRatioBps)

	payout, err := env.settlement.Settle(ctx, m.ID, addrAlice)
	require.NoError(t, err)
	// Principal 100 in full, profit share 50 haircut to 40.
	assert.Equal(t, uint64(140), payout)
	assert.Equal(t, uint64(1060), env.state.vaults[m.ID])
}

func TestSettle_SoleWinnerInsolventVault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := openMarket(t, env)

	// The sole winner claims capital 100 plus haircut profit 40, but the
	// haircut only trims the profit leg: 140 still exceeds the 120 vault.
	env.state.vaults[m.ID] = 120

	resolved, err := env.markets.ResolveMarket(ctx, m.ID, addrOracle, domain.OutcomeYes)
	require.NoError(t, err)
	require.Equal(t, uint16(8000), resolved.HRatioBps)

	_, err = env.settlement.Settle(ctx, m.ID, addrAlice)
	assert.ErrorIs(t, err, domain.ErrVaultInsolvency)

	// No partial disbursement happened.
	assert.Equal(t, uint64(120), env.state.vaults[m.ID])
	pos, err := env.state.stores().Positions.Get(ctx, m.ID, addrAlice)
	require.NoError(t, err)
	assert.False(t, pos.Settled)
}

func TestSettle_VaultInsolvencyAtDisbursement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := openMarket(t, env)

	_, err := env.markets.ResolveMarket(ctx, m.ID, addrOracle, domain.OutcomeYes)
	require.NoError(t, err)

	// Drain the vault after resolution froze the h-ratio.
	env.state.vaults[m.ID] = 10

	_, err = env.settlement.Settle(ctx, m.ID, addrAlice)
	assert.ErrorIs(t, err, domain.ErrVaultInsolvency)

	// No partial disbursement happened.
	assert.Equal(t, uint64(10), env.state.vaults[m.ID])
	pos, err := env.state.stores().Positions.Get(ctx, m.ID, addrAlice)
	require.NoError(t, err)
	assert.False(t, pos.Settled)
}

func TestSettle_WrongStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := openMarket(t, env)

	_, err := env.settlement.Settle(ctx, m.ID, addrAlice)
	assert.ErrorIs(t, err, domain.ErrInvalidMarketStatus)

	_, err = env.markets.CancelMarket(ctx, m.ID, addrAlice)
	require.NoError(t, err)

	_, err = env.settlement.Settle(ctx, m.ID, addrAlice)
	assert.ErrorIs(t, err, domain.ErrInvalidMarketStatus)
}

func TestSettle_NoPosition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := openMarket(t, env)

	_, err := env.markets.ResolveMarket(ctx, m.ID, addrOracle, domain.OutcomeYes)
	require.NoError(t, err)

	_, err = env.settlement.Settle(ctx, m.ID, "0xDEAD000000000000000000000000000000000004")
	assert.ErrorIs(t, err, domain.ErrNoPosition)
}

func TestClaimRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := openMarket(t, env)

	_, err := env.markets.CancelMarket(ctx, m.ID, addrAlice)
	require.NoError(t, err)

	refund, err := env.settlement.ClaimRefund(ctx, m.ID, addrAlice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), refund)

	// Not settled yet: bob's refund is outstanding.
	assert.Equal(t, domain.MarketStatusCancelled, env.state.markets[m.ID].Status)

	refund, err = env.settlement.ClaimRefund(ctx, m.ID, addrBob)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), refund)

	// Last refund settles the market and empties the vault exactly.
	got := env.state.markets[m.ID]
	assert.Equal(t, domain.MarketStatusSettled, got.Status)
	assert.Equal(t, uint64(150), got.SettledAmount)
	assert.Equal(t, uint64(2), got.SettlementsCount)
	assert.Zero(t, env.state.vaults[m.ID])
	assert.Equal(t, []uint64{m.ID}, env.archiver.snapshots)
}

func TestClaimRefund_IsOneShot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := openMarket(t, env)

	_, err := env.markets.CancelMarket(ctx, m.ID, addrAlice)
	require.NoError(t, err)

	_, err = env.settlement.ClaimRefund(ctx, m.ID, addrAlice)
	require.NoError(t, err)

	_, err = env.settlement.ClaimRefund(ctx, m.ID, addrAlice)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestClaimRefund_WrongStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := openMarket(t, env)

	// Open market: no refunds.
	_, err := env.settlement.ClaimRefund(ctx, m.ID, addrAlice)
	assert.ErrorIs(t, err, domain.ErrInvalidMarketStatus)

	// Resolved market: settlement, not refund.
	_, err = env.markets.ResolveMarket(ctx, m.ID, addrOracle, domain.OutcomeYes)
	require.NoError(t, err)
	_, err = env.settlement.ClaimRefund(ctx, m.ID, addrAlice)
	assert.ErrorIs(t, err, domain.ErrInvalidMarketStatus)
}

func TestSettle_MultipleWinnersProRata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const addrCarol = "0xCAB0000000000000000000000000000000000005"

	m, err := env.markets.CreateMarket(ctx, validInput())
	require.NoError(t, err)
	_, err = env.markets.PlaceBet(ctx, m.ID, addrAlice, domain.SideYes, 100)
	require.NoError(t, err)
	_, err = env.markets.PlaceBet(ctx, m.ID, addrCarol, domain.SideYes, 300)
	require.NoError(t, err)
	_, err = env.markets.PlaceBet(ctx, m.ID, addrBob, domain.SideNo, 200)
	require.NoError(t, err)

	_, err = env.markets.ResolveMarket(ctx, m.ID, addrOracle, domain.OutcomeYes)
	require.NoError(t, err)

	// Losing pool 200 split 1:3 across the winners.
	payout, err := env.settlement.Settle(ctx, m.ID, addrAlice)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), payout)

	payout, err = env.settlement.Settle(ctx, m.ID, addrCarol)
	require.NoError(t, err)
	assert.Equal(t, uint64(450), payout)

	// Every deposit was disbursed; nothing remains for the loser.
	assert.Zero(t, env.state.vaults[m.ID])
	assert.Equal(t, domain.MarketStatusSettled, env.state.markets[m.ID].Status)
}
