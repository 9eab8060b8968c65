package liquidity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradelab/ledger/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// NewPool creates an empty pool with the given base capital.
// Derived fields are populated by the immediate Reconcile.
func NewPool(id, owner string, channel domain.Channel, initialCapital decimal.Decimal, allowOvercommit bool) *Pool {
	now := time.Now().UTC()
	p := &Pool{
		ID:              id,
		Owner:           owner,
		Channel:         channel,
		InitialCapital:  initialCapital,
		AllowOvercommit: allowOvercommit,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	p.Reconcile()
	return p
}

// SetInitialCapital changes the admin-set base capital (top-up/edit)
func (p *Pool) SetInitialCapital(amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: initial capital must not be negative", domain.ErrInvalidQuantity)
	}
	p.InitialCapital = amount
	p.Reconcile()
	return nil
}

// Allocate commits capital to a new position. Exactly one of percentage or
// amount must be positive; required capital is percentage/100 × TotalCapital
// when a percentage is given. Fractional share counts are allowed.
//
// The ceiling is TotalCapital, not AvailableCapital, when AllowOvercommit is
// set: the pool may commit more than is currently free, funded by expected
// realized gains.
func (p *Pool) Allocate(positionID, symbol string, percentage, amount, entryPrice decimal.Decimal) (*Distribution, error) {
	if entryPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: entry price must be positive", domain.ErrInvalidQuantity)
	}
	if percentage.Sign() <= 0 && amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: either percentage or amount must be positive", domain.ErrInvalidQuantity)
	}
	// Fully-sold distributions are retained for the P&L history and keep the
	// position id occupied; a re-entry needs a fresh position.
	if existing := p.FindDistribution(positionID); existing != nil {
		return nil, fmt.Errorf("%w: position %s already has a distribution", domain.ErrInvalidQuantity, positionID)
	}

	required := amount
	if percentage.Sign() > 0 {
		required = percentage.Div(hundred).Mul(p.TotalCapital)
	}

	ceiling := p.TotalCapital
	if !p.AllowOvercommit {
		ceiling = p.AvailableCapital
	}
	if required.GreaterThan(ceiling) {
		return nil, fmt.Errorf("%w: required %s, ceiling %s", domain.ErrInsufficientTotalCapital, required, ceiling)
	}

	now := time.Now().UTC()
	dist := &Distribution{
		PositionID:      positionID,
		Symbol:          symbol,
		AllocatedAmount: required,
		EntryPrice:      entryPrice,
		CurrentPrice:    entryPrice,
		ShareCount:      required.Div(entryPrice),
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	p.Distributions = append(p.Distributions, dist)
	p.Reconcile()
	return dist, nil
}

// MarkPrice updates the current price of an active distribution and
// recomputes its unrealized P&L.
//
// Unrealized P&L is derived from allocated capital, not shareCount × Δprice:
// shareCount can degenerate to 0 for very small allocations and would
// produce a zero-PL artifact.
func (p *Pool) MarkPrice(positionID string, currentPrice decimal.Decimal) error {
	if currentPrice.Sign() <= 0 {
		return fmt.Errorf("%w: price must be positive", domain.ErrInvalidQuantity)
	}

	dist := p.findActive(positionID)
	if dist == nil {
		return fmt.Errorf("%w: position %s", domain.ErrDistributionNotFound, positionID)
	}

	dist.CurrentPrice = currentPrice
	dist.refreshUnrealized()
	dist.UpdatedAt = time.Now().UTC()

	p.Reconcile()
	return nil
}

// Sell liquidates part or all of a distribution at the given price.
// Capital released by the sale becomes available through the reconciliation
// formula's realized-PL term, never by direct mutation.
func (p *Pool) Sell(positionID string, sharesToSell, sellPrice decimal.Decimal) (*SaleResult, error) {
	dist := p.findActive(positionID)
	if dist == nil {
		return nil, fmt.Errorf("%w: position %s", domain.ErrDistributionNotFound, positionID)
	}
	if sharesToSell.Sign() <= 0 {
		return nil, fmt.Errorf("%w: shares to sell must be positive", domain.ErrInvalidQuantity)
	}
	if sellPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: sell price must be positive", domain.ErrInvalidQuantity)
	}
	if sharesToSell.GreaterThan(dist.ShareCount) {
		return nil, fmt.Errorf("%w: requested %s, holding %s", domain.ErrInsufficientShares, sharesToSell, dist.ShareCount)
	}

	proceeds := sharesToSell.Mul(sellPrice)
	costBasis := sharesToSell.Mul(dist.EntryPrice)
	realizedGain := proceeds.Sub(costBasis)

	dist.ShareCount = dist.ShareCount.Sub(sharesToSell)
	dist.SoldShareCount = dist.SoldShareCount.Add(sharesToSell)
	dist.RealizedPL = dist.RealizedPL.Add(realizedGain)
	dist.CurrentPrice = sellPrice
	// Re-derived, not decremented, to avoid compounding rounding error
	dist.AllocatedAmount = dist.ShareCount.Mul(dist.EntryPrice)
	dist.refreshUnrealized()
	dist.Active = dist.ShareCount.Sign() > 0
	dist.UpdatedAt = time.Now().UTC()

	p.Reconcile()

	return &SaleResult{
		RealizedGain:    realizedGain,
		Proceeds:        proceeds,
		RemainingShares: dist.ShareCount,
	}, nil
}

// Remove deletes the distribution from the pool entirely. The allocated
// amount is NOT banked as realized gain: removal means the capital's fate
// was resolved elsewhere or is being discarded without a result.
func (p *Pool) Remove(positionID string) error {
	idx := -1
	for i, d := range p.Distributions {
		if d.PositionID == positionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: position %s", domain.ErrDistributionNotFound, positionID)
	}

	p.Distributions = append(p.Distributions[:idx], p.Distributions[idx+1:]...)
	p.Reconcile()
	return nil
}

// Reconcile recomputes every derived pool field from the distribution list.
// It is idempotent, never fails, and is the single authority for derived
// fields; it runs at the end of every mutating operation and before any
// persistence.
//
// Invariants established:
//
//	distributedCapital = Σ allocatedAmount        (active, shareCount > 0)
//	totalCapital       = initialCapital + Σ realizedPL + Σ unrealizedPL (active)
//	availableCapital   = initialCapital − distributedCapital + Σ realizedPL
func (p *Pool) Reconcile() {
	distributed := decimal.Zero
	realized := decimal.Zero
	unrealized := decimal.Zero

	for _, d := range p.Distributions {
		realized = realized.Add(d.RealizedPL)
		if d.Active && d.ShareCount.Sign() > 0 {
			distributed = distributed.Add(d.AllocatedAmount)
			unrealized = unrealized.Add(d.UnrealizedPL)
		}
	}

	p.DistributedCapital = distributed
	p.TotalCapital = p.InitialCapital.Add(realized).Add(unrealized)
	p.AvailableCapital = p.InitialCapital.Sub(distributed).Add(realized)
	p.TotalProfitLoss = realized.Add(unrealized)

	if distributed.Sign() > 0 {
		p.TotalProfitLossPct = p.TotalProfitLoss.Div(distributed).Mul(hundred)
	} else {
		p.TotalProfitLossPct = decimal.Zero
	}

	for _, d := range p.Distributions {
		if p.TotalCapital.Sign() > 0 {
			d.PercentageOfPool = d.AllocatedAmount.Div(p.TotalCapital).Mul(hundred)
		} else {
			d.PercentageOfPool = decimal.Zero
		}
	}

	p.UpdatedAt = time.Now().UTC()
}

// Summary builds the display projection for this pool
func (p *Pool) Summary() *Summary {
	percentRemaining := decimal.Zero
	if p.InitialCapital.Sign() > 0 {
		percentRemaining = p.DistributedCapital.Mul(hundred).Div(p.InitialCapital)
	}

	return &Summary{
		Owner:              p.Owner,
		Channel:            p.Channel,
		InitialCapital:     p.InitialCapital,
		TotalCapital:       p.TotalCapital,
		AvailableCapital:   p.AvailableCapital,
		DistributedCapital: p.DistributedCapital,
		Gain:               p.TotalProfitLoss,
		GainPercentage:     p.TotalProfitLossPct,
		PercentRemaining:   percentRemaining,
		Distributions:      p.Clone().Distributions,
	}
}

// FindDistribution returns the distribution for the position, active or not
func (p *Pool) FindDistribution(positionID string) *Distribution {
	for _, d := range p.Distributions {
		if d.PositionID == positionID {
			return d
		}
	}
	return nil
}

// findActive returns the active distribution for the position, or nil
func (p *Pool) findActive(positionID string) *Distribution {
	for _, d := range p.Distributions {
		if d.PositionID == positionID && d.Active {
			return d
		}
	}
	return nil
}

// refreshUnrealized recomputes unrealized P&L from allocated capital
func (d *Distribution) refreshUnrealized() {
	if d.EntryPrice.Sign() <= 0 {
		d.UnrealizedPLPct = decimal.Zero
		d.UnrealizedPL = decimal.Zero
		return
	}
	d.UnrealizedPLPct = d.CurrentPrice.Sub(d.EntryPrice).Div(d.EntryPrice).Mul(hundred)
	d.UnrealizedPL = d.UnrealizedPLPct.Div(hundred).Mul(d.AllocatedAmount)
}
