// Package partialsale implements the cross-entity sale workflow: given a
// position and a percentage to liquidate at a price (or price range), it
// computes share quantities, mutates the pool's distribution, records an
// audit entry, mirrors the updated allocation onto the position record, and
// closes the position when fully sold - all inside one transaction, with
// the pool write as the authority.
package partialsale

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradelab/ledger/internal/domain"
	"github.com/tradelab/ledger/internal/events"
	"github.com/tradelab/ledger/internal/modules/liquidity"
	"github.com/tradelab/ledger/internal/modules/positions"
)

var hundred = decimal.NewFromInt(100)

// Service orchestrates allocation and sale workflows across the pool and
// the position record
type Service struct {
	pools        *liquidity.Service
	positionRepo *positions.Repository
	eventManager *events.Manager
	log          zerolog.Logger

	// defaultAllocation, when non-nil, is allocated on the fly for a
	// position that has no distribution at sale time. Off by default:
	// silently inventing capital exposure is a policy decision, so every
	// use is logged at Warn.
	defaultAllocation *decimal.Decimal
}

// NewService creates a new partial-sale orchestrator
func NewService(
	pools *liquidity.Service,
	positionRepo *positions.Repository,
	eventManager *events.Manager,
	defaultAllocation *decimal.Decimal,
	log zerolog.Logger,
) *Service {
	return &Service{
		pools:             pools,
		positionRepo:      positionRepo,
		eventManager:      eventManager,
		defaultAllocation: defaultAllocation,
		log:               log.With().Str("service", "partialsale").Logger(),
	}
}

// AllocateRequest carries parameters for an orchestrated allocation
type AllocateRequest struct {
	Owner      string
	Channel    domain.Channel
	PositionID string // generated when empty
	Symbol     string
	Percentage decimal.Decimal
	Amount     decimal.Decimal
	EntryPrice decimal.Decimal
}

// AllocateResult reports the created distribution and position
type AllocateResult struct {
	PositionID   string                  `json:"position_id"`
	Distribution *liquidity.Distribution `json:"distribution"`
}

// Allocate commits pool capital to a position and creates (or updates) the
// position record with its original allocation snapshot, atomically.
func (s *Service) Allocate(req AllocateRequest) (*AllocateResult, error) {
	if req.PositionID == "" {
		req.PositionID = uuid.New().String()
	}

	var dist *liquidity.Distribution
	_, err := s.pools.Mutate(req.Owner, req.Channel, func(tx *sql.Tx, pool *liquidity.Pool) error {
		var err error
		dist, err = pool.Allocate(req.PositionID, req.Symbol, req.Percentage, req.Amount, req.EntryPrice)
		if err != nil {
			return err
		}

		_, err = s.positionRepo.GetByIDTx(tx, req.PositionID)
		switch {
		case err == nil:
			// Position already exists (pre-created by the alert system);
			// just mirror the allocation onto it.
		case errorsIsNotFound(err):
			entry := dist.EntryPrice
			alloc := dist.AllocatedAmount
			shares := dist.ShareCount
			pos := &positions.Position{
				ID:                      req.PositionID,
				Owner:                   req.Owner,
				Channel:                 req.Channel,
				Symbol:                  req.Symbol,
				EntryPrice:              &entry,
				OriginalAllocatedAmount: &alloc,
				OriginalShareCount:      &shares,
			}
			if err := s.positionRepo.CreateTx(tx, pos); err != nil {
				return err
			}
		default:
			return err
		}

		return s.positionRepo.UpdateLiquiditySnapshotTx(tx, req.PositionID, positions.LiquiditySnapshot{
			AllocatedAmount: dist.AllocatedAmount,
			ShareCount:      dist.ShareCount,
		})
	})
	if err != nil {
		return nil, err
	}

	s.eventManager.Emit(events.AllocationCreated, "partialsale", map[string]interface{}{
		"owner":       req.Owner,
		"channel":     string(req.Channel),
		"position_id": req.PositionID,
		"symbol":      req.Symbol,
		"allocated":   dist.AllocatedAmount.String(),
	})

	return &AllocateResult{PositionID: req.PositionID, Distribution: dist}, nil
}

// SaleRequest carries parameters for an orchestrated (partial) sale
type SaleRequest struct {
	Owner      string
	Channel    domain.Channel
	PositionID string
	Percentage decimal.Decimal // percentage of the remaining shares, (0, 100]
	Shares     decimal.Decimal // explicit share count; takes precedence over Percentage
	Price      decimal.Decimal // single price; ignored when a range is given
	PriceLow   decimal.Decimal
	PriceHigh  decimal.Decimal
	Executor   string
	Note       string
	ImageRef   string
}

// sellPrice resolves the execution price: the upper bound of the range when
// one is supplied, otherwise the single price
func (r SaleRequest) sellPrice() decimal.Decimal {
	if r.PriceHigh.Sign() > 0 {
		return r.PriceHigh
	}
	return r.Price
}

func (r SaleRequest) priceLow() decimal.Decimal {
	if r.PriceLow.Sign() > 0 {
		return r.PriceLow
	}
	return r.Price
}

// SaleOutcome reports the result of an orchestrated sale
type SaleOutcome struct {
	RealizedGain    decimal.Decimal        `json:"realized_gain"`
	Proceeds        decimal.Decimal        `json:"proceeds"`
	SharesSold      decimal.Decimal        `json:"shares_sold"`
	RemainingShares decimal.Decimal        `json:"remaining_shares"`
	Status          domain.LiquidityStatus `json:"status"`
	PositionClosed  bool                   `json:"position_closed"`
}

// ExecuteSale runs the partial-sale workflow. The quantity comes from
// req.Shares when given, otherwise from req.Percentage of the remaining
// share count.
func (s *Service) ExecuteSale(req SaleRequest) (*SaleOutcome, error) {
	if req.Shares.Sign() <= 0 {
		if req.Percentage.Sign() <= 0 || req.Percentage.GreaterThan(hundred) {
			return nil, fmt.Errorf("%w: percentage must be in (0, 100], got %s", domain.ErrInvalidQuantity, req.Percentage)
		}
	}

	sellPrice := req.sellPrice()
	if sellPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: sell price must be positive", domain.ErrInvalidQuantity)
	}

	outcome := &SaleOutcome{}
	now := time.Now().UTC()

	_, err := s.pools.Mutate(req.Owner, req.Channel, func(tx *sql.Tx, pool *liquidity.Pool) error {
		dist := pool.FindDistribution(req.PositionID)
		if dist == nil || !dist.Active {
			var err error
			dist, err = s.fallbackAllocate(tx, pool, req, sellPrice)
			if err != nil {
				return err
			}
		}

		sharesToSell := req.Shares
		percentage := req.Percentage
		if sharesToSell.Sign() <= 0 {
			sharesToSell = dist.ShareCount.Mul(req.Percentage).Div(hundred)
		} else if dist.ShareCount.Sign() > 0 {
			percentage = sharesToSell.Div(dist.ShareCount).Mul(hundred)
		}

		result, err := pool.Sell(req.PositionID, sharesToSell, sellPrice)
		if err != nil {
			return err
		}

		record := positions.SaleRecord{
			ID:           uuid.New().String(),
			PositionID:   req.PositionID,
			SoldAt:       now,
			Percentage:   percentage,
			PriceLow:     req.priceLow(),
			PriceHigh:    sellPrice,
			RealizedGain: result.RealizedGain,
			SharesSold:   sharesToSell,
			Executor:     req.Executor,
			Note:         req.Note,
			ImageRef:     req.ImageRef,
		}
		if err := s.positionRepo.AppendSaleRecordTx(tx, record); err != nil {
			return err
		}

		if err := s.positionRepo.UpdateLiquiditySnapshotTx(tx, req.PositionID, positions.LiquiditySnapshot{
			AllocatedAmount: dist.AllocatedAmount,
			ShareCount:      dist.ShareCount,
		}); err != nil {
			return err
		}

		outcome.RealizedGain = result.RealizedGain
		outcome.Proceeds = result.Proceeds
		outcome.SharesSold = sharesToSell
		outcome.RemainingShares = result.RemainingShares
		outcome.Status = dist.Status()

		if result.RemainingShares.IsZero() {
			outcome.PositionClosed = true
			return s.positionRepo.CloseTx(tx, req.PositionID, sellPrice, "fully sold", now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.eventManager.Emit(events.SharesSold, "partialsale", map[string]interface{}{
		"owner":         req.Owner,
		"channel":       string(req.Channel),
		"position_id":   req.PositionID,
		"percentage":    req.Percentage.String(),
		"price":         sellPrice.String(),
		"realized_gain": outcome.RealizedGain.String(),
		"executor":      req.Executor,
	})

	if outcome.PositionClosed {
		s.eventManager.Emit(events.PositionClosed, "partialsale", map[string]interface{}{
			"position_id": req.PositionID,
			"exit_price":  sellPrice.String(),
		})
	}

	return outcome, nil
}

// fallbackAllocate handles a sale against a position with no distribution.
// With no configured default allocation this is an error; with one, the
// invented exposure is allocated first and loudly logged.
func (s *Service) fallbackAllocate(tx *sql.Tx, pool *liquidity.Pool, req SaleRequest, sellPrice decimal.Decimal) (*liquidity.Distribution, error) {
	if s.defaultAllocation == nil {
		return nil, fmt.Errorf("%w: position %s has no active distribution", domain.ErrDistributionNotFound, req.PositionID)
	}

	pos, err := s.positionRepo.GetByIDTx(tx, req.PositionID)
	if err != nil {
		return nil, fmt.Errorf("%w: position %s has no distribution and no record", domain.ErrDistributionNotFound, req.PositionID)
	}

	entryPrice := sellPrice
	if pos.EntryPrice != nil && pos.EntryPrice.Sign() > 0 {
		entryPrice = *pos.EntryPrice
	}

	s.log.Warn().
		Str("position_id", req.PositionID).
		Str("symbol", pos.Symbol).
		Str("default_allocation", s.defaultAllocation.String()).
		Msg("No distribution found at sale time; allocating configured default amount")

	return pool.Allocate(req.PositionID, pos.Symbol, decimal.Zero, *s.defaultAllocation, entryPrice)
}

// Remove deletes a position's distribution and clears the mirrored snapshot
// atomically. The allocated amount is not banked as realized gain.
func (s *Service) Remove(owner string, channel domain.Channel, positionID string) error {
	_, err := s.pools.Mutate(owner, channel, func(tx *sql.Tx, pool *liquidity.Pool) error {
		if err := pool.Remove(positionID); err != nil {
			return err
		}
		return s.positionRepo.ClearLiquiditySnapshotTx(tx, positionID)
	})
	if err != nil {
		return err
	}

	s.eventManager.Emit(events.DistributionRemoved, "partialsale", map[string]interface{}{
		"owner":       owner,
		"channel":     string(channel),
		"position_id": positionID,
	})

	return nil
}

// errorsIsNotFound reports whether err wraps domain.ErrPositionNotFound
func errorsIsNotFound(err error) bool {
	return errors.Is(err, domain.ErrPositionNotFound)
}
