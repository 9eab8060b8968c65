package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradelab/ledger/internal/database"
	"github.com/tradelab/ledger/internal/domain"
	"github.com/tradelab/ledger/internal/events"
	"github.com/tradelab/ledger/internal/modules/liquidity"
	"github.com/tradelab/ledger/internal/modules/partialsale"
	"github.com/tradelab/ledger/internal/modules/positions"
)

func setupRouter(t *testing.T) (chi.Router, *liquidity.Service) {
	t.Helper()

	log := zerolog.New(nil).Level(zerolog.Disabled)

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	eventManager := events.NewManager(log)
	poolRepo := liquidity.NewPoolRepository(db.Conn(), log)
	positionRepo := positions.NewRepository(db.Conn(), log)
	pools := liquidity.NewService(db.Conn(), poolRepo, eventManager, true, log)
	sales := partialsale.NewService(pools, positionRepo, eventManager, nil, log)

	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		NewSaleHandlers(sales, pools, log).RegisterRoutes(api)
	})

	return r, pools
}

func doRequest(t *testing.T, r chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createPool(t *testing.T, pools *liquidity.Service) {
	t.Helper()
	_, err := pools.CreatePool("alice", domain.ChannelSwing, mustDec("10000"))
	require.NoError(t, err)
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestHandleAllocate(t *testing.T) {
	r, pools := setupRouter(t)
	createPool(t, pools)

	w := doRequest(t, r, "POST", "/api/allocations",
		`{"owner": "alice", "channel": "SWING", "position_id": "pos-1",
		  "symbol": "AAPL", "percentage": "10", "entry_price": "100"}`)

	assert.Equal(t, http.StatusCreated, w.Code)

	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, "pos-1", result["position_id"])
	dist := result["distribution"].(map[string]interface{})
	assert.Equal(t, "1000", dist["allocated_amount"])
	assert.Equal(t, "10", dist["share_count"])
}

func TestHandleAllocate_Validation(t *testing.T) {
	r, pools := setupRouter(t)
	createPool(t, pools)

	w := doRequest(t, r, "POST", "/api/allocations",
		`{"channel": "SWING", "symbol": "AAPL"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing owner")

	w = doRequest(t, r, "POST", "/api/allocations",
		`{"owner": "alice", "channel": "SWING", "symbol": "TSLA",
		  "percentage": "150", "entry_price": "100"}`)
	assert.Equal(t, http.StatusConflict, w.Code, "allocation beyond the pool ceiling")
}

func TestHandleMarkPrice(t *testing.T) {
	r, pools := setupRouter(t)
	createPool(t, pools)

	w := doRequest(t, r, "POST", "/api/allocations",
		`{"owner": "alice", "channel": "SWING", "position_id": "pos-1",
		  "symbol": "AAPL", "percentage": "10", "entry_price": "100"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, r, "POST", "/api/allocations/price",
		`{"owner": "alice", "channel": "SWING", "position_id": "pos-1", "current_price": "110"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	pool, err := pools.GetPool("alice", domain.ChannelSwing)
	require.NoError(t, err)
	dist := pool.FindDistribution("pos-1")
	require.NotNil(t, dist)
	assert.True(t, dist.CurrentPrice.Equal(mustDec("110")))
	assert.True(t, dist.UnrealizedPL.Equal(mustDec("100")))
}

func TestHandleMarkPrice_UnknownPosition(t *testing.T) {
	r, pools := setupRouter(t)
	createPool(t, pools)

	w := doRequest(t, r, "POST", "/api/allocations/price",
		`{"owner": "alice", "channel": "SWING", "position_id": "ghost", "current_price": "110"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlePartialSale(t *testing.T) {
	r, pools := setupRouter(t)
	createPool(t, pools)

	w := doRequest(t, r, "POST", "/api/allocations",
		`{"owner": "alice", "channel": "SWING", "position_id": "pos-1",
		  "symbol": "AAPL", "percentage": "10", "entry_price": "100"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, r, "POST", "/api/partial-sales",
		`{"owner": "alice", "channel": "SWING", "position_id": "pos-1",
		  "percentage": "50", "price": "120", "executor": "alice"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	var outcome map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&outcome))
	assert.Equal(t, "100", outcome["realized_gain"])
	assert.Equal(t, "5", outcome["shares_sold"])
	assert.Equal(t, "PARTIALLY_SOLD", outcome["status"])
	assert.Equal(t, false, outcome["position_closed"])
}

func TestHandlePartialSale_InvalidPercentage(t *testing.T) {
	r, pools := setupRouter(t)
	createPool(t, pools)

	w := doRequest(t, r, "POST", "/api/partial-sales",
		`{"owner": "alice", "channel": "SWING", "position_id": "pos-1",
		  "percentage": "150", "price": "120"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSell_ExplicitShares(t *testing.T) {
	r, pools := setupRouter(t)
	createPool(t, pools)

	w := doRequest(t, r, "POST", "/api/allocations",
		`{"owner": "alice", "channel": "SWING", "position_id": "pos-1",
		  "symbol": "AAPL", "percentage": "10", "entry_price": "100"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, r, "POST", "/api/allocations/sell",
		`{"owner": "alice", "channel": "SWING", "position_id": "pos-1",
		  "shares": "10", "price": "130"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	var outcome map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&outcome))
	assert.Equal(t, "300", outcome["realized_gain"])
	assert.Equal(t, true, outcome["position_closed"])
}

func TestHandleSell_InsufficientShares(t *testing.T) {
	r, pools := setupRouter(t)
	createPool(t, pools)

	w := doRequest(t, r, "POST", "/api/allocations",
		`{"owner": "alice", "channel": "SWING", "position_id": "pos-1",
		  "symbol": "AAPL", "percentage": "10", "entry_price": "100"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, r, "POST", "/api/allocations/sell",
		`{"owner": "alice", "channel": "SWING", "position_id": "pos-1",
		  "shares": "11", "price": "130"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleRemove(t *testing.T) {
	r, pools := setupRouter(t)
	createPool(t, pools)

	w := doRequest(t, r, "POST", "/api/allocations",
		`{"owner": "alice", "channel": "SWING", "position_id": "pos-1",
		  "symbol": "AAPL", "percentage": "10", "entry_price": "100"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, r, "DELETE", "/api/allocations/alice/SWING/pos-1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	pool, err := pools.GetPool("alice", domain.ChannelSwing)
	require.NoError(t, err)
	assert.Nil(t, pool.FindDistribution("pos-1"))
}

func TestHandleRemove_NotFound(t *testing.T) {
	r, pools := setupRouter(t)
	createPool(t, pools)

	w := doRequest(t, r, "DELETE", "/api/allocations/alice/SWING/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
