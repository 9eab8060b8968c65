package positions

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradelab/ledger/internal/domain"
)

// Repository handles position database operations. Mutating methods take an
// external *sql.Tx so the orchestrator can commit the mirror atomically with
// the pool write.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new position repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "positions").Logger(),
	}
}

// GetByID returns a position with its sale history
func (r *Repository) GetByID(id string) (*Position, error) {
	row := r.db.QueryRow(`SELECT id, owner, channel, symbol, status,
		entry_price, exit_price, exit_reason, closed_at,
		allocated_amount, share_count, original_allocated_amount,
		original_share_count, created_at, updated_at
		FROM positions WHERE id = ?`, id)

	pos, err := scanPosition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", domain.ErrPositionNotFound, id)
		}
		return nil, fmt.Errorf("failed to query position: %w", err)
	}

	sales, err := r.GetSaleRecords(id)
	if err != nil {
		return nil, err
	}
	pos.SaleHistory = sales

	return pos, nil
}

// GetByIDTx returns a position within an existing transaction (no sale history)
func (r *Repository) GetByIDTx(tx *sql.Tx, id string) (*Position, error) {
	row := tx.QueryRow(`SELECT id, owner, channel, symbol, status,
		entry_price, exit_price, exit_reason, closed_at,
		allocated_amount, share_count, original_allocated_amount,
		original_share_count, created_at, updated_at
		FROM positions WHERE id = ?`, id)

	pos, err := scanPosition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", domain.ErrPositionNotFound, id)
		}
		return nil, fmt.Errorf("failed to query position: %w", err)
	}
	return pos, nil
}

// CreateTx inserts a new open position record
func (r *Repository) CreateTx(tx *sql.Tx, pos *Position) error {
	now := time.Now().UTC()
	pos.Symbol = strings.ToUpper(strings.TrimSpace(pos.Symbol))
	if pos.Status == "" {
		pos.Status = StatusOpen
	}
	pos.CreatedAt = now
	pos.UpdatedAt = now

	_, err := tx.Exec(`INSERT INTO positions
		(id, owner, channel, symbol, status, entry_price,
		 allocated_amount, share_count, original_allocated_amount,
		 original_share_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.ID,
		pos.Owner,
		string(pos.Channel),
		pos.Symbol,
		string(pos.Status),
		decimalPtrString(pos.EntryPrice),
		decimalPtrString(pos.AllocatedAmount),
		decimalPtrString(pos.ShareCount),
		decimalPtrString(pos.OriginalAllocatedAmount),
		decimalPtrString(pos.OriginalShareCount),
		now.Unix(),
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}

	r.log.Info().Str("position_id", pos.ID).Str("symbol", pos.Symbol).Msg("Position created")
	return nil
}

// UpdateLiquiditySnapshotTx mirrors the pool's allocation figures onto the
// position record
func (r *Repository) UpdateLiquiditySnapshotTx(tx *sql.Tx, positionID string, snapshot LiquiditySnapshot) error {
	result, err := tx.Exec(`UPDATE positions SET
		allocated_amount = ?,
		share_count = ?,
		updated_at = ?
		WHERE id = ?`,
		snapshot.AllocatedAmount.String(),
		snapshot.ShareCount.String(),
		time.Now().UTC().Unix(),
		positionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update liquidity snapshot: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrPositionNotFound, positionID)
	}
	return nil
}

// ClearLiquiditySnapshotTx blanks the mirror after a distribution is removed
func (r *Repository) ClearLiquiditySnapshotTx(tx *sql.Tx, positionID string) error {
	_, err := tx.Exec(`UPDATE positions SET
		allocated_amount = NULL,
		share_count = NULL,
		updated_at = ?
		WHERE id = ?`,
		time.Now().UTC().Unix(),
		positionID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear liquidity snapshot: %w", err)
	}
	return nil
}

// CloseTx marks the position fully closed
func (r *Repository) CloseTx(tx *sql.Tx, positionID string, exitPrice decimal.Decimal, exitReason string, closedAt time.Time) error {
	result, err := tx.Exec(`UPDATE positions SET
		status = ?,
		exit_price = ?,
		exit_reason = ?,
		closed_at = ?,
		updated_at = ?
		WHERE id = ?`,
		string(StatusClosed),
		exitPrice.String(),
		exitReason,
		closedAt.Unix(),
		time.Now().UTC().Unix(),
		positionID,
	)
	if err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrPositionNotFound, positionID)
	}

	r.log.Info().Str("position_id", positionID).Str("exit_price", exitPrice.String()).Msg("Position closed")
	return nil
}

// AppendSaleRecordTx records one audit entry for a (partial) sale
func (r *Repository) AppendSaleRecordTx(tx *sql.Tx, record SaleRecord) error {
	_, err := tx.Exec(`INSERT INTO sale_records
		(id, position_id, sold_at, percentage, price_low, price_high,
		 realized_gain, shares_sold, executor, note, image_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.PositionID,
		record.SoldAt.Unix(),
		record.Percentage.String(),
		record.PriceLow.String(),
		record.PriceHigh.String(),
		record.RealizedGain.String(),
		record.SharesSold.String(),
		nullString(record.Executor),
		nullString(record.Note),
		nullString(record.ImageRef),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sale record: %w", err)
	}
	return nil
}

// GetSaleRecords returns the sale history for a position, oldest first
func (r *Repository) GetSaleRecords(positionID string) ([]SaleRecord, error) {
	rows, err := r.db.Query(`SELECT id, position_id, sold_at, percentage,
		price_low, price_high, realized_gain, shares_sold, executor, note, image_ref
		FROM sale_records WHERE position_id = ? ORDER BY sold_at`, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale records: %w", err)
	}
	defer rows.Close()

	var records []SaleRecord
	for rows.Next() {
		var (
			rec                    SaleRecord
			soldAt                 int64
			pct, low, high         string
			gain, shares           string
			executor, note, imgRef sql.NullString
		)

		err := rows.Scan(&rec.ID, &rec.PositionID, &soldAt, &pct, &low, &high,
			&gain, &shares, &executor, &note, &imgRef)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sale record: %w", err)
		}

		rec.SoldAt = time.Unix(soldAt, 0).UTC()
		if rec.Percentage, err = decimal.NewFromString(pct); err != nil {
			return nil, fmt.Errorf("corrupt sale record %s: %w", rec.ID, err)
		}
		if rec.PriceLow, err = decimal.NewFromString(low); err != nil {
			return nil, fmt.Errorf("corrupt sale record %s: %w", rec.ID, err)
		}
		if rec.PriceHigh, err = decimal.NewFromString(high); err != nil {
			return nil, fmt.Errorf("corrupt sale record %s: %w", rec.ID, err)
		}
		if rec.RealizedGain, err = decimal.NewFromString(gain); err != nil {
			return nil, fmt.Errorf("corrupt sale record %s: %w", rec.ID, err)
		}
		if rec.SharesSold, err = decimal.NewFromString(shares); err != nil {
			return nil, fmt.Errorf("corrupt sale record %s: %w", rec.ID, err)
		}
		rec.Executor = executor.String
		rec.Note = note.String
		rec.ImageRef = imgRef.String

		records = append(records, rec)
	}

	return records, rows.Err()
}

// scanPosition scans a database row into a Position struct
func scanPosition(row *sql.Row) (*Position, error) {
	var (
		pos                Position
		channel, status    string
		entryPrice         sql.NullString
		exitPrice          sql.NullString
		exitReason         sql.NullString
		closedAt           sql.NullInt64
		allocated, shares  sql.NullString
		origAlloc, origSh  sql.NullString
		createdAt, updated int64
	)

	err := row.Scan(&pos.ID, &pos.Owner, &channel, &pos.Symbol, &status,
		&entryPrice, &exitPrice, &exitReason, &closedAt,
		&allocated, &shares, &origAlloc, &origSh, &createdAt, &updated)
	if err != nil {
		return nil, err
	}

	pos.Channel = domain.Channel(channel)
	pos.Status = PositionStatus(status)
	pos.ExitReason = exitReason.String
	pos.CreatedAt = time.Unix(createdAt, 0).UTC()
	pos.UpdatedAt = time.Unix(updated, 0).UTC()

	if closedAt.Valid {
		t := time.Unix(closedAt.Int64, 0).UTC()
		pos.ClosedAt = &t
	}

	for _, field := range []struct {
		raw sql.NullString
		dst **decimal.Decimal
	}{
		{entryPrice, &pos.EntryPrice},
		{exitPrice, &pos.ExitPrice},
		{allocated, &pos.AllocatedAmount},
		{shares, &pos.ShareCount},
		{origAlloc, &pos.OriginalAllocatedAmount},
		{origSh, &pos.OriginalShareCount},
	} {
		if !field.raw.Valid {
			continue
		}
		val, err := decimal.NewFromString(field.raw.String)
		if err != nil {
			return nil, fmt.Errorf("invalid decimal %q: %w", field.raw.String, err)
		}
		*field.dst = &val
	}

	return &pos, nil
}

// Helper functions for nullable types

func decimalPtrString(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: val, Valid: true}
}
