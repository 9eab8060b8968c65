package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradelab/ledger/internal/database"
)

// DBMaintenanceJob checkpoints the WAL and runs a quick integrity check on
// the ledger database.
type DBMaintenanceJob struct {
	db  *database.DB
	log zerolog.Logger
}

// NewDBMaintenanceJob creates a new DBMaintenanceJob
func NewDBMaintenanceJob(db *database.DB, log zerolog.Logger) *DBMaintenanceJob {
	return &DBMaintenanceJob{
		db:  db,
		log: log.With().Str("job", "db_maintenance").Logger(),
	}
}

// Name returns the job name
func (j *DBMaintenanceJob) Name() string {
	return "db_maintenance"
}

// Run executes the maintenance pass
func (j *DBMaintenanceJob) Run() error {
	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		j.log.Warn().
			Err(err).
			Str("database", j.db.Name()).
			Msg("WAL checkpoint failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := j.db.QuickCheck(ctx); err != nil {
		j.log.Error().
			Err(err).
			Str("database", j.db.Name()).
			Msg("Integrity quick check failed")
		return err
	}

	j.log.Debug().Str("database", j.db.Name()).Msg("Maintenance pass finished")
	return nil
}
