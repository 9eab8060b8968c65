package liquidity

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradelab/ledger/internal/database"
	"github.com/tradelab/ledger/internal/domain"
	"github.com/tradelab/ledger/internal/events"
)

// Service coordinates pool mutations. Every mutating operation runs under a
// per-(owner, channel) mutex and a single SQLite transaction: reconciliation
// reads the full distribution list and writes four derived fields, so the
// load → mutate → persist cycle must be atomic relative to concurrent
// operations on the same pool.
type Service struct {
	db           *sql.DB
	repo         PoolRepositoryInterface
	eventManager *events.Manager
	log          zerolog.Logger

	// AllowOvercommit is applied to newly created pools
	allowOvercommit bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new liquidity service
func NewService(db *sql.DB, repo PoolRepositoryInterface, eventManager *events.Manager, allowOvercommit bool, log zerolog.Logger) *Service {
	return &Service{
		db:              db,
		repo:            repo,
		eventManager:    eventManager,
		allowOvercommit: allowOvercommit,
		log:             log.With().Str("service", "liquidity").Logger(),
		locks:           make(map[string]*sync.Mutex),
	}
}

// poolLock returns the mutex serializing writes for one (owner, channel)
func (s *Service) poolLock(owner string, channel domain.Channel) *sync.Mutex {
	key := owner + "|" + string(channel)

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// CreatePool initializes the pool for (owner, channel) with base capital.
// Fails if a pool already exists for that identity.
func (s *Service) CreatePool(owner string, channel domain.Channel, initialCapital decimal.Decimal) (*Pool, error) {
	if !channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", domain.ErrInvalidQuantity, channel)
	}
	if initialCapital.Sign() < 0 {
		return nil, fmt.Errorf("%w: initial capital must not be negative", domain.ErrInvalidQuantity)
	}

	lock := s.poolLock(owner, channel)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.repo.Load(owner, channel); err == nil {
		return nil, fmt.Errorf("%w: owner=%s channel=%s", domain.ErrPoolExists, owner, channel)
	}

	pool := NewPool(uuid.New().String(), owner, channel, initialCapital, s.allowOvercommit)
	if err := s.repo.Save(pool); err != nil {
		return nil, fmt.Errorf("failed to save new pool: %w", err)
	}

	s.eventManager.Emit(events.PoolCreated, "liquidity", map[string]interface{}{
		"owner":           owner,
		"channel":         string(channel),
		"initial_capital": initialCapital.String(),
	})

	s.log.Info().
		Str("owner", owner).
		Str("channel", string(channel)).
		Str("initial_capital", initialCapital.String()).
		Msg("Pool created")

	return pool, nil
}

// GetPool returns the full pool state
func (s *Service) GetPool(owner string, channel domain.Channel) (*Pool, error) {
	return s.repo.Load(owner, channel)
}

// Mutate runs fn against the pool under its lock and a single transaction.
// The pool is reloaded inside the transaction, fn mutates it (aggregate
// operations reconcile themselves), and the result is persisted atomically.
// Exported so cross-entity workflows (partial sale) can join the same
// transaction via the tx handle.
func (s *Service) Mutate(owner string, channel domain.Channel, fn func(tx *sql.Tx, pool *Pool) error) (*Pool, error) {
	lock := s.poolLock(owner, channel)
	lock.Lock()
	defer lock.Unlock()

	var pool *Pool
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		var err error
		pool, err = s.repo.LoadTx(tx, owner, channel)
		if err != nil {
			return err
		}

		if err := fn(tx, pool); err != nil {
			return err
		}

		return s.repo.SaveTx(tx, pool)
	})
	if err != nil {
		return nil, err
	}

	// A negative available capital is a modeling inconsistency, surfaced
	// as a warning rather than clamped.
	if pool.AvailableCapital.Sign() < 0 {
		s.log.Warn().
			Str("owner", owner).
			Str("channel", string(channel)).
			Str("available_capital", pool.AvailableCapital.String()).
			Msg("Reconciliation produced negative available capital")
	}

	return pool, nil
}

// SetInitialCapital applies an admin top-up/edit of the base capital
func (s *Service) SetInitialCapital(owner string, channel domain.Channel, amount decimal.Decimal) (*Pool, error) {
	pool, err := s.Mutate(owner, channel, func(_ *sql.Tx, p *Pool) error {
		return p.SetInitialCapital(amount)
	})
	if err != nil {
		return nil, err
	}

	s.eventManager.Emit(events.CapitalUpdated, "liquidity", map[string]interface{}{
		"owner":           owner,
		"channel":         string(channel),
		"initial_capital": amount.String(),
	})

	return pool, nil
}

// AllocateRequest carries allocation parameters
type AllocateRequest struct {
	PositionID string
	Symbol     string
	Percentage decimal.Decimal
	Amount     decimal.Decimal
	EntryPrice decimal.Decimal
}

// Allocate commits pool capital to a new position
func (s *Service) Allocate(owner string, channel domain.Channel, req AllocateRequest) (*Distribution, error) {
	var dist *Distribution
	_, err := s.Mutate(owner, channel, func(_ *sql.Tx, p *Pool) error {
		var err error
		dist, err = p.Allocate(req.PositionID, req.Symbol, req.Percentage, req.Amount, req.EntryPrice)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.eventManager.Emit(events.AllocationCreated, "liquidity", map[string]interface{}{
		"owner":       owner,
		"channel":     string(channel),
		"position_id": req.PositionID,
		"symbol":      req.Symbol,
		"allocated":   dist.AllocatedAmount.String(),
		"share_count": dist.ShareCount.String(),
	})

	return dist, nil
}

// MarkPrice updates the current price of a position's distribution
func (s *Service) MarkPrice(owner string, channel domain.Channel, positionID string, price decimal.Decimal) error {
	_, err := s.Mutate(owner, channel, func(_ *sql.Tx, p *Pool) error {
		return p.MarkPrice(positionID, price)
	})
	if err != nil {
		return err
	}

	s.eventManager.Emit(events.PriceMarked, "liquidity", map[string]interface{}{
		"owner":       owner,
		"channel":     string(channel),
		"position_id": positionID,
		"price":       price.String(),
	})

	return nil
}

// Sell liquidates shares of a position's distribution
func (s *Service) Sell(owner string, channel domain.Channel, positionID string, shares, price decimal.Decimal) (*SaleResult, error) {
	var result *SaleResult
	_, err := s.Mutate(owner, channel, func(_ *sql.Tx, p *Pool) error {
		var err error
		result, err = p.Sell(positionID, shares, price)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.eventManager.Emit(events.SharesSold, "liquidity", map[string]interface{}{
		"owner":         owner,
		"channel":       string(channel),
		"position_id":   positionID,
		"shares":        shares.String(),
		"price":         price.String(),
		"realized_gain": result.RealizedGain.String(),
	})

	return result, nil
}

// Remove deletes a position's distribution, releasing its capital without
// banking a realized result
func (s *Service) Remove(owner string, channel domain.Channel, positionID string) error {
	_, err := s.Mutate(owner, channel, func(_ *sql.Tx, p *Pool) error {
		return p.Remove(positionID)
	})
	if err != nil {
		return err
	}

	s.eventManager.Emit(events.DistributionRemoved, "liquidity", map[string]interface{}{
		"owner":       owner,
		"channel":     string(channel),
		"position_id": positionID,
	})

	return nil
}

// Reconcile forces a recomputation of the pool's derived fields. It is
// idempotent; calling it on an untouched pool is a no-op write.
func (s *Service) Reconcile(owner string, channel domain.Channel) (*Pool, error) {
	return s.Mutate(owner, channel, func(_ *sql.Tx, p *Pool) error {
		p.Reconcile()
		return nil
	})
}

// GetSummary builds the display projection for a single channel
func (s *Service) GetSummary(owner string, channel domain.Channel) (*Summary, error) {
	pool, err := s.repo.Load(owner, channel)
	if err != nil {
		return nil, err
	}
	return pool.Summary(), nil
}

// GetOwnerSummary aggregates the owner's pools across all channels into one
// display projection. Identity is explicit everywhere; there is no implicit
// "first pool found" lookup.
func (s *Service) GetOwnerSummary(owner string) (*Summary, error) {
	summary := &Summary{Owner: owner}
	found := false

	for _, channel := range domain.Channels {
		pool, err := s.repo.Load(owner, channel)
		if err != nil {
			if errors.Is(err, domain.ErrPoolNotFound) {
				continue
			}
			return nil, err
		}
		found = true

		summary.InitialCapital = summary.InitialCapital.Add(pool.InitialCapital)
		summary.TotalCapital = summary.TotalCapital.Add(pool.TotalCapital)
		summary.AvailableCapital = summary.AvailableCapital.Add(pool.AvailableCapital)
		summary.DistributedCapital = summary.DistributedCapital.Add(pool.DistributedCapital)
		summary.Gain = summary.Gain.Add(pool.TotalProfitLoss)
		summary.Distributions = append(summary.Distributions, pool.Clone().Distributions...)
	}

	if !found {
		return nil, fmt.Errorf("%w: owner=%s", domain.ErrPoolNotFound, owner)
	}

	if summary.DistributedCapital.Sign() > 0 {
		summary.GainPercentage = summary.Gain.Div(summary.DistributedCapital).Mul(hundred)
	}
	if summary.InitialCapital.Sign() > 0 {
		summary.PercentRemaining = summary.DistributedCapital.Mul(hundred).Div(summary.InitialCapital)
	}

	return summary, nil
}
