package scheduler

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradelab/ledger/internal/modules/liquidity"
)

// PriceSource provides the latest market price for a symbol.
type PriceSource interface {
	Quote(symbol string) (decimal.Decimal, error)
}

// PriceRefreshJob walks every active distribution and marks it with the
// latest quote. Per-symbol failures are logged and skipped so one bad
// ticker cannot stall the whole sweep.
type PriceRefreshJob struct {
	repo   liquidity.PoolRepositoryInterface
	pools  *liquidity.Service
	source PriceSource
	log    zerolog.Logger
}

// NewPriceRefreshJob creates a new PriceRefreshJob
func NewPriceRefreshJob(repo liquidity.PoolRepositoryInterface, pools *liquidity.Service, source PriceSource, log zerolog.Logger) *PriceRefreshJob {
	return &PriceRefreshJob{
		repo:   repo,
		pools:  pools,
		source: source,
		log:    log.With().Str("job", "price_refresh").Logger(),
	}
}

// Name returns the job name
func (j *PriceRefreshJob) Name() string {
	return "price_refresh"
}

// Run executes the price refresh sweep
func (j *PriceRefreshJob) Run() error {
	pools, err := j.repo.LoadAll()
	if err != nil {
		return err
	}

	quotes := make(map[string]decimal.Decimal)
	marked := 0
	failed := 0

	for _, pool := range pools {
		for _, dist := range pool.Distributions {
			if !dist.Active || dist.ShareCount.IsZero() {
				continue
			}

			price, ok := quotes[dist.Symbol]
			if !ok {
				price, err = j.source.Quote(dist.Symbol)
				if err != nil {
					j.log.Warn().
						Err(err).
						Str("symbol", dist.Symbol).
						Msg("Quote lookup failed")
					failed++
					continue
				}
				quotes[dist.Symbol] = price
			}

			if err := j.pools.MarkPrice(pool.Owner, pool.Channel, dist.PositionID, price); err != nil {
				j.log.Warn().
					Err(err).
					Str("owner", pool.Owner).
					Str("position_id", dist.PositionID).
					Msg("Failed to mark price")
				failed++
				continue
			}
			marked++
		}
	}

	j.log.Info().
		Int("marked", marked).
		Int("failed", failed).
		Int("pools", len(pools)).
		Msg("Price refresh sweep finished")

	return nil
}
