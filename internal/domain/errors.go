package domain

import "errors"

// Validation failures surfaced synchronously to callers. Handlers map these
// to HTTP status codes; none are retried automatically.
var (
	// ErrPoolNotFound - no pool exists for the (owner, channel) pair
	ErrPoolNotFound = errors.New("liquidity pool not found")

	// ErrDistributionNotFound - no active distribution for the position
	ErrDistributionNotFound = errors.New("distribution not found")

	// ErrInsufficientTotalCapital - allocation would exceed the pool ceiling
	ErrInsufficientTotalCapital = errors.New("required amount exceeds total capital")

	// ErrInsufficientShares - sale quantity exceeds remaining share count
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrInvalidQuantity - non-positive shares/amount or percentage out of [0,100]
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrPositionNotFound - position record does not exist
	ErrPositionNotFound = errors.New("position not found")

	// ErrPoolExists - a pool already exists for the (owner, channel) pair
	ErrPoolExists = errors.New("liquidity pool already exists")
)
