package liquidity

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradelab/ledger/internal/domain"
)

// PoolRepositoryInterface defines the interface for pool persistence
type PoolRepositoryInterface interface {
	// Load retrieves the pool for (owner, channel); domain.ErrPoolNotFound if absent
	Load(owner string, channel domain.Channel) (*Pool, error)

	// LoadTx retrieves the pool within an existing transaction
	LoadTx(tx *sql.Tx, owner string, channel domain.Channel) (*Pool, error)

	// LoadAll retrieves every pool (used by the price-refresh sweep)
	LoadAll() ([]*Pool, error)

	// Save persists the pool and its distributions
	Save(pool *Pool) error

	// SaveTx persists the pool within an existing transaction
	SaveTx(tx *sql.Tx, pool *Pool) error
}

// Compile-time check that PoolRepository implements PoolRepositoryInterface
var _ PoolRepositoryInterface = (*PoolRepository)(nil)

// PoolRepository handles pool database operations
type PoolRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPoolRepository creates a new pool repository
func NewPoolRepository(db *sql.DB, log zerolog.Logger) *PoolRepository {
	return &PoolRepository{
		db:  db,
		log: log.With().Str("repo", "pool").Logger(),
	}
}

type querier interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// Load retrieves the pool for (owner, channel)
func (r *PoolRepository) Load(owner string, channel domain.Channel) (*Pool, error) {
	return r.load(r.db, owner, channel)
}

// LoadTx retrieves the pool within an existing transaction
func (r *PoolRepository) LoadTx(tx *sql.Tx, owner string, channel domain.Channel) (*Pool, error) {
	return r.load(tx, owner, channel)
}

func (r *PoolRepository) load(q querier, owner string, channel domain.Channel) (*Pool, error) {
	owner = strings.TrimSpace(owner)

	row := q.QueryRow(`SELECT id, owner, channel, initial_capital, total_capital,
		available_capital, distributed_capital, total_pl, total_pl_pct,
		allow_overcommit, created_at, updated_at
		FROM pools WHERE owner = ? AND channel = ?`, owner, string(channel))

	pool, err := scanPool(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: owner=%s channel=%s", domain.ErrPoolNotFound, owner, channel)
		}
		return nil, fmt.Errorf("failed to query pool: %w", err)
	}

	if err := r.loadDistributions(q, pool); err != nil {
		return nil, err
	}

	return pool, nil
}

// LoadAll retrieves every pool with its distributions
func (r *PoolRepository) LoadAll() ([]*Pool, error) {
	rows, err := r.db.Query(`SELECT id, owner, channel, initial_capital, total_capital,
		available_capital, distributed_capital, total_pl, total_pl_pct,
		allow_overcommit, created_at, updated_at
		FROM pools ORDER BY owner, channel`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pools: %w", err)
	}
	defer rows.Close()

	var pools []*Pool
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		pools = append(pools, pool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pools: %w", err)
	}

	for _, pool := range pools {
		if err := r.loadDistributions(r.db, pool); err != nil {
			return nil, err
		}
	}

	return pools, nil
}

// Save persists the pool and its distributions in a single transaction
func (r *PoolRepository) Save(pool *Pool) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.SaveTx(tx, pool); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SaveTx persists the pool within an existing transaction. The distribution
// list is rewritten wholesale; it is small, bounded by open-position count.
func (r *PoolRepository) SaveTx(tx *sql.Tx, pool *Pool) error {
	_, err := tx.Exec(`INSERT INTO pools
		(id, owner, channel, initial_capital, total_capital, available_capital,
		 distributed_capital, total_pl, total_pl_pct, allow_overcommit,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			initial_capital = excluded.initial_capital,
			total_capital = excluded.total_capital,
			available_capital = excluded.available_capital,
			distributed_capital = excluded.distributed_capital,
			total_pl = excluded.total_pl,
			total_pl_pct = excluded.total_pl_pct,
			allow_overcommit = excluded.allow_overcommit,
			updated_at = excluded.updated_at`,
		pool.ID,
		pool.Owner,
		string(pool.Channel),
		pool.InitialCapital.String(),
		pool.TotalCapital.String(),
		pool.AvailableCapital.String(),
		pool.DistributedCapital.String(),
		pool.TotalProfitLoss.String(),
		pool.TotalProfitLossPct.String(),
		boolToInt(pool.AllowOvercommit),
		pool.CreatedAt.Unix(),
		pool.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pool: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM distributions WHERE pool_id = ?", pool.ID); err != nil {
		return fmt.Errorf("failed to clear distributions: %w", err)
	}

	for _, d := range pool.Distributions {
		_, err := tx.Exec(`INSERT INTO distributions
			(pool_id, position_id, symbol, percentage_of_pool, allocated_amount,
			 entry_price, current_price, share_count, unrealized_pl,
			 unrealized_pl_pct, realized_pl, sold_share_count, active,
			 created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			pool.ID,
			d.PositionID,
			d.Symbol,
			d.PercentageOfPool.String(),
			d.AllocatedAmount.String(),
			d.EntryPrice.String(),
			d.CurrentPrice.String(),
			d.ShareCount.String(),
			d.UnrealizedPL.String(),
			d.UnrealizedPLPct.String(),
			d.RealizedPL.String(),
			d.SoldShareCount.String(),
			boolToInt(d.Active),
			d.CreatedAt.Unix(),
			d.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert distribution for %s: %w", d.PositionID, err)
		}
	}

	r.log.Debug().
		Str("pool_id", pool.ID).
		Str("owner", pool.Owner).
		Str("channel", string(pool.Channel)).
		Int("distributions", len(pool.Distributions)).
		Msg("Pool saved")

	return nil
}

func (r *PoolRepository) loadDistributions(q querier, pool *Pool) error {
	rows, err := q.Query(`SELECT position_id, symbol, percentage_of_pool,
		allocated_amount, entry_price, current_price, share_count,
		unrealized_pl, unrealized_pl_pct, realized_pl, sold_share_count,
		active, created_at, updated_at
		FROM distributions WHERE pool_id = ? ORDER BY created_at, position_id`, pool.ID)
	if err != nil {
		return fmt.Errorf("failed to query distributions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d                  Distribution
			pct, alloc         string
			entry, current     string
			shares, unrl       string
			unrlPct, realized  string
			sold               string
			active             int
			createdAt, updated int64
		)

		err := rows.Scan(&d.PositionID, &d.Symbol, &pct, &alloc, &entry,
			&current, &shares, &unrl, &unrlPct, &realized, &sold,
			&active, &createdAt, &updated)
		if err != nil {
			return fmt.Errorf("failed to scan distribution: %w", err)
		}

		if err := assignDecimals([]decimalField{
			{pct, &d.PercentageOfPool},
			{alloc, &d.AllocatedAmount},
			{entry, &d.EntryPrice},
			{current, &d.CurrentPrice},
			{shares, &d.ShareCount},
			{unrl, &d.UnrealizedPL},
			{unrlPct, &d.UnrealizedPLPct},
			{realized, &d.RealizedPL},
			{sold, &d.SoldShareCount},
		}); err != nil {
			return fmt.Errorf("corrupt distribution %s: %w", d.PositionID, err)
		}

		d.Active = active != 0
		d.CreatedAt = time.Unix(createdAt, 0).UTC()
		d.UpdatedAt = time.Unix(updated, 0).UTC()

		pool.Distributions = append(pool.Distributions, &d)
	}

	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPool(row rowScanner) (*Pool, error) {
	var (
		p                       Pool
		channel                 string
		initial, total          string
		available, distributed  string
		totalPL, totalPLPct     string
		overcommit              int
		createdUnix, updateUnix int64
	)

	err := row.Scan(&p.ID, &p.Owner, &channel, &initial, &total, &available,
		&distributed, &totalPL, &totalPLPct, &overcommit, &createdUnix, &updateUnix)
	if err != nil {
		return nil, err
	}

	if err := assignDecimals([]decimalField{
		{initial, &p.InitialCapital},
		{total, &p.TotalCapital},
		{available, &p.AvailableCapital},
		{distributed, &p.DistributedCapital},
		{totalPL, &p.TotalProfitLoss},
		{totalPLPct, &p.TotalProfitLossPct},
	}); err != nil {
		return nil, fmt.Errorf("corrupt pool %s: %w", p.ID, err)
	}

	p.Channel = domain.Channel(channel)
	p.AllowOvercommit = overcommit != 0
	p.CreatedAt = time.Unix(createdUnix, 0).UTC()
	p.UpdatedAt = time.Unix(updateUnix, 0).UTC()

	return &p, nil
}

// decimalField pairs a raw TEXT column value with its destination
type decimalField struct {
	raw string
	dst *decimal.Decimal
}

// assignDecimals parses decimal strings into their destinations
func assignDecimals(fields []decimalField) error {
	for _, f := range fields {
		val, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("invalid decimal %q: %w", f.raw, err)
		}
		*f.dst = val
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
