package domain

import "math/big"

// BpsDenominator is the fixed-point denominator for the h-ratio.
const BpsDenominator = 10_000

// ComputeHRatio returns the profit haircut ratio in basis points for the
// market's resolved outcome given the vault balance at resolution time.
//
//	h = min(vault_balance, total_claims) / total_claims
//
// where total_claims = winner_pool + loser_pool. Truncating division biases
// toward under-payment so truncation drift across many settlements can
// never drain the vault below its remaining claims.
//
// Returns 10000 (100%) when the market is unresolved, when there are no
// winners to haircut, or when the vault covers all claims.
func (m *Market) ComputeHRatio(vaultBalance uint64) uint16 {
	winner, loser, ok := m.WinnerPool()
	if !ok || winner == 0 {
		return BpsDenominator
	}

	totalClaims := SaturatingAdd(winner, loser)
	if vaultBalance >= totalClaims {
		return BpsDenominator
	}

	// vaultBalance < totalClaims, so the quotient is strictly below 10000
	// and fits a uint16. The product needs 128 bits.
	h := new(big.Int).SetUint64(vaultBalance)
	h.Mul(h, big.NewInt(BpsDenominator))
	h.Quo(h, new(big.Int).SetUint64(totalClaims))
	return uint16(h.Uint64())
}

// Payout computes the settlement amount for a winning position with the
// given stake, under the two-claim model:
//
//	capital = stake                               (senior, paid in full)
//	profit  = stake * loser_pool / winner_pool    (junior, pro-rata)
//	payout  = capital + profit * h_ratio / 10000
//
// Both divisions truncate; the intermediate products are computed in a wide
// integer domain. Returns 0 for an unresolved market or when there are no
// winners. Callers must check the position's side first: Payout does not
// know which side the stake is on.
func (m *Market) Payout(stake uint64) uint64 {
	winner, loser, ok := m.WinnerPool()
	if !ok || winner == 0 {
		return 0
	}

	profit := new(big.Int).SetUint64(stake)
	profit.Mul(profit, new(big.Int).SetUint64(loser))
	profit.Quo(profit, new(big.Int).SetUint64(winner))

	profit.Mul(profit, new(big.Int).SetInt64(int64(m.HRatioBps)))
	profit.Quo(profit, big.NewInt(BpsDenominator))

	// stake <= winner_pool implies profit <= loser_pool, so it fits uint64;
	// guard anyway since stake comes from storage.
	if !profit.IsUint64() {
		return SaturatingAdd(stake, ^uint64(0))
	}
	return SaturatingAdd(stake, profit.Uint64())
}

// RefundAmount is the cancellation refund for a position: capital only, no
// profit sharing, since no outcome was ever resolved.
func (p *Position) RefundAmount() uint64 {
	return p.Deposited
}

// CheckedAdd returns a+b or ErrOverflow on wraparound. Pool and stake
// accounting must halt on overflow rather than wrap or saturate.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// SaturatingAdd returns a+b clamped to the maximum uint64. Used only for
// total claims and the final payout sum, which must never halt settlement.
func SaturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}
