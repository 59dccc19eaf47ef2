// Package domain defines the entities, lifecycle rules, and settlement
// arithmetic of the Percolator prediction-market engine, together with the
// store and collaborator interfaces that the service layer composes.
package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
//
// Transitions: Open -> {Closed, Cancelled}; Closed -> {Resolved, Cancelled};
// Resolved -> Settled (synthesized when the last winning position settles);
// Cancelled -> Settled (when the last position is refunded). Cancelled and
// Settled are terminal; markets are never deleted.
type MarketStatus string

const (
	// MarketStatusOpen accepts bets until the deadline.
	MarketStatusOpen MarketStatus = "open"
	// MarketStatusClosed means the deadline passed, awaiting resolution.
	// Deadline expiry is advisory: bets are rejected by timestamp
	// comparison, no timer drives this transition.
	MarketStatusClosed MarketStatus = "closed"
	// MarketStatusResolved means the outcome is frozen; settlement in progress.
	MarketStatusResolved MarketStatus = "resolved"
	// MarketStatusCancelled means refunds are available.
	MarketStatusCancelled MarketStatus = "cancelled"
	// MarketStatusSettled means every claim against the vault is paid.
	MarketStatusSettled MarketStatus = "settled"
)

// MarketRule determines how a market is resolved.
type MarketRule string

const (
	// RuleMarketCapTarget resolves YES if the subject asset reaches a
	// target market cap (USD x 10^6).
	RuleMarketCapTarget MarketRule = "market_cap_target"
	// RulePriceTarget resolves YES if the subject asset reaches a target
	// price (USD x 10^9).
	RulePriceTarget MarketRule = "price_target"
	// RuleMarketCapFloor resolves YES if the subject asset maintains a
	// minimum market cap throughout the period.
	RuleMarketCapFloor MarketRule = "market_cap_floor"
	// RuleOracleCustom is a free-form condition resolved at the oracle's
	// discretion.
	RuleOracleCustom MarketRule = "oracle_custom"
)

// Valid reports whether r is a known resolution rule.
func (r MarketRule) Valid() bool {
	switch r {
	case RuleMarketCapTarget, RulePriceTarget, RuleMarketCapFloor, RuleOracleCustom:
		return true
	}
	return false
}

// Outcome is the resolved result of a market.
type Outcome string

const (
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeYes        Outcome = "yes"
	OutcomeNo         Outcome = "no"
)

// BetSide is the side of a binary bet.
type BetSide string

const (
	SideYes BetSide = "yes"
	SideNo  BetSide = "no"
)

// Valid reports whether s is a known side.
func (s BetSide) Valid() bool {
	return s == SideYes || s == SideNo
}

// Wins reports whether s is the winning side for the given outcome.
func (s BetSide) Wins(outcome Outcome) bool {
	return (outcome == OutcomeYes && s == SideYes) ||
		(outcome == OutcomeNo && s == SideNo)
}

// MaxQuestionBytes bounds the question text length.
const MaxQuestionBytes = 256

// Market is a single binary prediction market. Pool totals only increase
// while the market is Open; HRatioBps is frozen at resolution.
type Market struct {
	ID           uint64       `json:"id"`
	Creator      string       `json:"creator"`
	Oracle       string       `json:"oracle"`
	Question     string       `json:"question"`
	Rule         MarketRule   `json:"rule"`
	TargetValue  uint64       `json:"target_value"`
	SubjectAsset string       `json:"subject_asset"`
	Deadline     time.Time    `json:"deadline"`
	Status       MarketStatus `json:"status"`
	Outcome      Outcome      `json:"outcome"`

	YesPool uint64 `json:"yes_pool"`
	NoPool  uint64 `json:"no_pool"`

	// HRatioBps is the profit haircut ratio in basis points, 10000 until
	// resolution.
	HRatioBps        uint16 `json:"h_ratio_bps"`
	SettledAmount    uint64 `json:"settled_amount"`
	SettlementsCount uint64 `json:"settlements_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AcceptsBets reports whether the market status admits new stakes. The
// deadline check is separate and uses caller-supplied time.
func (m *Market) AcceptsBets() bool {
	return m.Status == MarketStatusOpen
}

// Resolvable reports whether the market may transition to Resolved.
func (m *Market) Resolvable() bool {
	return m.Status == MarketStatusOpen || m.Status == MarketStatusClosed
}

// Cancellable reports whether the market may transition to Cancelled.
func (m *Market) Cancellable() bool {
	return m.Status == MarketStatusOpen || m.Status == MarketStatusClosed
}

// Expired reports whether now is at or past the deadline.
func (m *Market) Expired(now time.Time) bool {
	return !now.Before(m.Deadline)
}

// WinnerPool returns the pool totals ordered (winner, loser) for the
// resolved outcome. ok is false while the market is unresolved.
func (m *Market) WinnerPool() (winner, loser uint64, ok bool) {
	switch m.Outcome {
	case OutcomeYes:
		return m.YesPool, m.NoPool, true
	case OutcomeNo:
		return m.NoPool, m.YesPool, true
	default:
		return 0, 0, false
	}
}

// Position tracks one participant's stake in one market. The side is bound
// at creation and never changes; the settled flag is one-way.
type Position struct {
	MarketID    uint64    `json:"market_id"`
	Participant string    `json:"participant"`
	Side        BetSide   `json:"side"`
	Deposited   uint64    `json:"deposited"`
	Settled     bool      `json:"settled"`
	Payout      uint64    `json:"payout"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Protocol is the process-wide singleton: the market-id counter and
// aggregate volume counters. FeeBps and FeeCollector are reserved; no fee
// is currently taken.
type Protocol struct {
	NextMarketID uint64    `json:"next_market_id"`
	TotalMarkets uint64    `json:"total_markets"`
	TotalVolume  uint64    `json:"total_volume"`
	FeeBps       uint16    `json:"fee_bps"`
	FeeCollector string    `json:"fee_collector"`
	UpdatedAt    time.Time `json:"updated_at"`
}
