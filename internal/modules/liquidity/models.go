// Package liquidity implements the capital allocation ledger: a pool of
// investable capital per (owner, channel), distributed in fractions to open
// trading positions, marked to market and reconciled under a strict
// accounting identity.
package liquidity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradelab/ledger/internal/domain"
)

// Pool is the capital ledger for one strategy channel.
//
// TotalCapital, AvailableCapital, DistributedCapital, TotalProfitLoss and
// TotalProfitLossPct are derived fields; Reconcile is the only writer.
// InitialCapital changes only by explicit admin top-up/edit.
type Pool struct {
	ID      string         `json:"id"`
	Owner   string         `json:"owner"`
	Channel domain.Channel `json:"channel"`

	InitialCapital     decimal.Decimal `json:"initial_capital"`
	TotalCapital       decimal.Decimal `json:"total_capital"`
	AvailableCapital   decimal.Decimal `json:"available_capital"`
	DistributedCapital decimal.Decimal `json:"distributed_capital"`
	TotalProfitLoss    decimal.Decimal `json:"total_pl"`
	TotalProfitLossPct decimal.Decimal `json:"total_pl_pct"`

	// AllowOvercommit keeps the historical allocation ceiling: required
	// amount is checked against TotalCapital, permitting commitments beyond
	// what is currently free. When false the ceiling is AvailableCapital.
	AllowOvercommit bool `json:"allow_overcommit"`

	Distributions []*Distribution `json:"distributions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Distribution is one position's slice of the pool's capital.
type Distribution struct {
	PositionID string `json:"position_id"`
	Symbol     string `json:"symbol"`

	// PercentageOfPool is informational, recomputed after every
	// reconciliation relative to the current TotalCapital.
	PercentageOfPool decimal.Decimal `json:"percentage_of_pool"`

	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	ShareCount      decimal.Decimal `json:"share_count"`

	UnrealizedPL    decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPct decimal.Decimal `json:"unrealized_pl_pct"`
	RealizedPL      decimal.Decimal `json:"realized_pl"`
	SoldShareCount  decimal.Decimal `json:"sold_share_count"`

	Active bool `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status derives the lifecycle state of the distribution
func (d *Distribution) Status() domain.LiquidityStatus {
	switch {
	case !d.Active && d.ShareCount.IsZero():
		return domain.StatusFullySold
	case d.SoldShareCount.Sign() > 0:
		return domain.StatusPartiallySold
	default:
		return domain.StatusAllocated
	}
}

// SaleResult is returned by Sell
type SaleResult struct {
	RealizedGain    decimal.Decimal `json:"realized_gain"`
	Proceeds        decimal.Decimal `json:"proceeds"`
	RemainingShares decimal.Decimal `json:"remaining_shares"`
}

// Summary is the read-only projection consumed by dashboards
type Summary struct {
	Owner              string          `json:"owner"`
	Channel            domain.Channel  `json:"channel,omitempty"`
	InitialCapital     decimal.Decimal `json:"initial_capital"`
	TotalCapital       decimal.Decimal `json:"total_capital"`
	AvailableCapital   decimal.Decimal `json:"available_capital"`
	DistributedCapital decimal.Decimal `json:"distributed_capital"`
	Gain               decimal.Decimal `json:"gain"`
	GainPercentage     decimal.Decimal `json:"gain_percentage"`
	PercentRemaining   decimal.Decimal `json:"percent_remaining"`
	Distributions      []*Distribution `json:"distributions"`
}

// Clone returns a deep copy of the pool. Used to compare reconciliation
// snapshots and to hand out state without aliasing internal slices.
func (p *Pool) Clone() *Pool {
	cp := *p
	cp.Distributions = make([]*Distribution, len(p.Distributions))
	for i, d := range p.Distributions {
		dc := *d
		cp.Distributions[i] = &dc
	}
	return &cp
}
