// Package positions manages position records: the trading-position side of
// the ledger, carrying a denormalized liquidity snapshot and the audit trail
// of partial sales. The pool's distribution is the authority for liquidity
// figures; the snapshot here exists for read convenience and is only ever
// written in the same transaction as the pool mutation.
package positions

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradelab/ledger/internal/domain"
)

// PositionStatus represents the trading lifecycle of a position
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// Position is one trading position (alert) record
type Position struct {
	ID      string         `json:"id"`
	Owner   string         `json:"owner"`
	Channel domain.Channel `json:"channel"`
	Symbol  string         `json:"symbol"`
	Status  PositionStatus `json:"status"`

	EntryPrice *decimal.Decimal `json:"entry_price,omitempty"`
	ExitPrice  *decimal.Decimal `json:"exit_price,omitempty"`
	ExitReason string           `json:"exit_reason,omitempty"`
	ClosedAt   *time.Time       `json:"closed_at,omitempty"`

	// Liquidity snapshot mirrored from the pool's distribution
	AllocatedAmount         *decimal.Decimal `json:"allocated_amount,omitempty"`
	ShareCount              *decimal.Decimal `json:"share_count,omitempty"`
	OriginalAllocatedAmount *decimal.Decimal `json:"original_allocated_amount,omitempty"`
	OriginalShareCount      *decimal.Decimal `json:"original_share_count,omitempty"`

	SaleHistory []SaleRecord `json:"sale_history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SaleRecord is one audit entry for a (partial) sale
type SaleRecord struct {
	ID           string          `json:"id"`
	PositionID   string          `json:"position_id"`
	SoldAt       time.Time       `json:"sold_at"`
	Percentage   decimal.Decimal `json:"percentage"`
	PriceLow     decimal.Decimal `json:"price_low"`
	PriceHigh    decimal.Decimal `json:"price_high"`
	RealizedGain decimal.Decimal `json:"realized_gain"`
	SharesSold   decimal.Decimal `json:"shares_sold"`
	Executor     string          `json:"executor,omitempty"`
	Note         string          `json:"note,omitempty"`
	ImageRef     string          `json:"image_ref,omitempty"`
}

// LiquiditySnapshot carries the mirrored figures for a snapshot update
type LiquiditySnapshot struct {
	AllocatedAmount decimal.Decimal
	ShareCount      decimal.Decimal
}
