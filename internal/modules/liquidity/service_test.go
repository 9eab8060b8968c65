package liquidity

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradelab/ledger/internal/domain"
	"github.com/tradelab/ledger/internal/events"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	conn := setupTestDB(t)
	repo := NewPoolRepository(conn, testLogger())
	return NewService(conn, repo, events.NewManager(testLogger()), true, testLogger())
}

func TestService_CreatePool(t *testing.T) {
	svc := newTestService(t)

	pool, err := svc.CreatePool("owner-1", domain.ChannelSwing, dec("10000"))
	require.NoError(t, err)
	assert.NotEmpty(t, pool.ID)
	assert.True(t, pool.AllowOvercommit)

	loaded, err := svc.GetPool("owner-1", domain.ChannelSwing)
	require.NoError(t, err)
	assert.True(t, loaded.InitialCapital.Equal(dec("10000")))
}

func TestService_CreatePool_Duplicate(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreatePool("owner-1", domain.ChannelSwing, dec("10000"))
	require.NoError(t, err)

	_, err = svc.CreatePool("owner-1", domain.ChannelSwing, dec("5000"))
	assert.ErrorIs(t, err, domain.ErrPoolExists)
}

func TestService_CreatePool_Validation(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreatePool("owner-1", domain.Channel("DAYTRADING"), dec("10000"))
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = svc.CreatePool("owner-1", domain.ChannelSwing, dec("-1"))
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestService_AllocateAndSell_Persisted(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreatePool("owner-1", domain.ChannelSwing, dec("10000"))
	require.NoError(t, err)

	dist, err := svc.Allocate("owner-1", domain.ChannelSwing, AllocateRequest{
		PositionID: "pos-1",
		Symbol:     "AAPL",
		Percentage: dec("10"),
		EntryPrice: dec("100"),
	})
	require.NoError(t, err)
	assert.True(t, dist.AllocatedAmount.Equal(dec("1000")))

	result, err := svc.Sell("owner-1", domain.ChannelSwing, "pos-1", dec("5"), dec("120"))
	require.NoError(t, err)
	assert.True(t, result.RealizedGain.Equal(dec("100")))

	// State survives a fresh load
	loaded, err := svc.GetPool("owner-1", domain.ChannelSwing)
	require.NoError(t, err)
	assert.True(t, loaded.AvailableCapital.Equal(dec("9600")))
	assert.True(t, loaded.TotalCapital.Equal(dec("10200")))
}

func TestService_ReallocateSoldOutPosition_DomainError(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreatePool("owner-1", domain.ChannelSwing, dec("10000"))
	require.NoError(t, err)

	_, err = svc.Allocate("owner-1", domain.ChannelSwing, AllocateRequest{
		PositionID: "pos-1",
		Symbol:     "AAPL",
		Percentage: dec("10"),
		EntryPrice: dec("100"),
	})
	require.NoError(t, err)

	_, err = svc.Sell("owner-1", domain.ChannelSwing, "pos-1", dec("10"), dec("120"))
	require.NoError(t, err)

	// The sold-out distribution is retained and keeps the id occupied; the
	// second allocation must fail in the aggregate, not at the insert.
	_, err = svc.Allocate("owner-1", domain.ChannelSwing, AllocateRequest{
		PositionID: "pos-1",
		Symbol:     "AAPL",
		Percentage: dec("10"),
		EntryPrice: dec("110"),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	loaded, err := svc.GetPool("owner-1", domain.ChannelSwing)
	require.NoError(t, err)
	require.Len(t, loaded.Distributions, 1)
	assert.False(t, loaded.Distributions[0].Active)
	assert.True(t, loaded.TotalCapital.Equal(dec("10200")))
}

func TestService_MutateRollsBackOnError(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreatePool("owner-1", domain.ChannelSwing, dec("10000"))
	require.NoError(t, err)

	_, err = svc.Allocate("owner-1", domain.ChannelSwing, AllocateRequest{
		PositionID: "pos-1",
		Symbol:     "TSLA",
		Percentage: dec("150"),
		EntryPrice: dec("100"),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientTotalCapital)

	loaded, err := svc.GetPool("owner-1", domain.ChannelSwing)
	require.NoError(t, err)
	assert.Empty(t, loaded.Distributions)
	assert.True(t, loaded.AvailableCapital.Equal(dec("10000")))
}

func TestService_MarkPriceUnknownPool(t *testing.T) {
	svc := newTestService(t)

	err := svc.MarkPrice("ghost", domain.ChannelSwing, "pos-1", dec("100"))
	assert.ErrorIs(t, err, domain.ErrPoolNotFound)
}

func TestService_Reconcile_Idempotent(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreatePool("owner-1", domain.ChannelSwing, dec("10000"))
	require.NoError(t, err)
	_, err = svc.Allocate("owner-1", domain.ChannelSwing, AllocateRequest{
		PositionID: "pos-1",
		Symbol:     "AAPL",
		Amount:     dec("1000"),
		EntryPrice: dec("100"),
	})
	require.NoError(t, err)

	first, err := svc.Reconcile("owner-1", domain.ChannelSwing)
	require.NoError(t, err)
	second, err := svc.Reconcile("owner-1", domain.ChannelSwing)
	require.NoError(t, err)

	assert.True(t, first.TotalCapital.Equal(second.TotalCapital))
	assert.True(t, first.AvailableCapital.Equal(second.AvailableCapital))
	assert.True(t, first.DistributedCapital.Equal(second.DistributedCapital))
}

func TestService_ConcurrentSells_Serialized(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreatePool("owner-1", domain.ChannelSwing, dec("10000"))
	require.NoError(t, err)
	_, err = svc.Allocate("owner-1", domain.ChannelSwing, AllocateRequest{
		PositionID: "pos-1",
		Symbol:     "AAPL",
		Percentage: dec("10"),
		EntryPrice: dec("100"),
	})
	require.NoError(t, err)

	// 10 shares, 20 concurrent attempts to sell 1 share each: exactly 10
	// succeed, the rest fail with insufficient shares
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Sell("owner-1", domain.ChannelSwing, "pos-1", decimal.NewFromInt(1), dec("110"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.Truef(t,
				errorsIsAny(err, domain.ErrInsufficientShares, domain.ErrDistributionNotFound),
				"unexpected error: %v", err)
		}
	}
	assert.Equal(t, 10, succeeded)

	loaded, err := svc.GetPool("owner-1", domain.ChannelSwing)
	require.NoError(t, err)
	d := loaded.FindDistribution("pos-1")
	require.NotNil(t, d)
	assert.True(t, d.ShareCount.IsZero())
	assert.True(t, d.RealizedPL.Equal(dec("100")), "10 shares sold at +10 each")
}

func TestService_GetOwnerSummary(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreatePool("owner-1", domain.ChannelSwing, dec("10000"))
	require.NoError(t, err)
	_, err = svc.CreatePool("owner-1", domain.ChannelLongTerm, dec("50000"))
	require.NoError(t, err)
	_, err = svc.Allocate("owner-1", domain.ChannelSwing, AllocateRequest{
		PositionID: "pos-1",
		Symbol:     "AAPL",
		Amount:     dec("1000"),
		EntryPrice: dec("100"),
	})
	require.NoError(t, err)

	summary, err := svc.GetOwnerSummary("owner-1")
	require.NoError(t, err)
	assert.True(t, summary.InitialCapital.Equal(dec("60000")))
	assert.True(t, summary.DistributedCapital.Equal(dec("1000")))
	assert.Len(t, summary.Distributions, 1)
}

func TestService_GetOwnerSummary_NoPools(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetOwnerSummary("ghost")
	assert.ErrorIs(t, err, domain.ErrPoolNotFound)
}

func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
