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
	"github.com/tradelab/ledger/internal/events"
	"github.com/tradelab/ledger/internal/modules/liquidity"
)

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// setupRouter wires pool handlers onto a chi router backed by a temp database
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

	repo := liquidity.NewPoolRepository(db.Conn(), log)
	service := liquidity.NewService(db.Conn(), repo, events.NewManager(log), true, log)

	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		NewPoolHandlers(service, log).RegisterRoutes(api)
	})

	return r, service
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

func TestHandleCreatePool(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(t, r, "POST", "/api/pools",
		`{"owner": "alice", "channel": "SWING", "initial_capital": "10000"}`)

	assert.Equal(t, http.StatusCreated, w.Code)

	var pool map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&pool))
	assert.Equal(t, "alice", pool["owner"])
	assert.Equal(t, "SWING", pool["channel"])
	assert.Equal(t, "10000", pool["available_capital"])
}

func TestHandleCreatePool_Duplicate(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(t, r, "POST", "/api/pools",
		`{"owner": "alice", "channel": "SWING", "initial_capital": "10000"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, r, "POST", "/api/pools",
		`{"owner": "alice", "channel": "SWING", "initial_capital": "10000"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleCreatePool_Validation(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(t, r, "POST", "/api/pools", `{"channel": "SWING"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing owner")

	w = doRequest(t, r, "POST", "/api/pools",
		`{"owner": "alice", "channel": "DAYTRADING", "initial_capital": "10000"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown channel")

	w = doRequest(t, r, "POST", "/api/pools", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetPool(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(t, r, "POST", "/api/pools",
		`{"owner": "alice", "channel": "SWING", "initial_capital": "10000"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, r, "GET", "/api/pools/alice/SWING", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var pool map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&pool))
	assert.Equal(t, "10000", pool["total_capital"])
}

func TestHandleGetPool_NotFound(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(t, r, "GET", "/api/pools/ghost/SWING", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSetCapital(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(t, r, "POST", "/api/pools",
		`{"owner": "alice", "channel": "SWING", "initial_capital": "10000"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, r, "PUT", "/api/pools/alice/SWING/capital",
		`{"initial_capital": "25000"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	var pool map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&pool))
	assert.Equal(t, "25000", pool["initial_capital"])
	assert.Equal(t, "25000", pool["total_capital"])
}

func TestHandleReconcile(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(t, r, "POST", "/api/pools",
		`{"owner": "alice", "channel": "SWING", "initial_capital": "10000"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, r, "POST", "/api/pools/alice/SWING/reconcile", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleGetSummary(t *testing.T) {
	r, svc := setupRouter(t)

	w := doRequest(t, r, "POST", "/api/pools",
		`{"owner": "alice", "channel": "SWING", "initial_capital": "10000"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	_, err := svc.Allocate("alice", "SWING", liquidity.AllocateRequest{
		PositionID: "pos-1",
		Symbol:     "AAPL",
		Percentage: mustDec("10"),
		EntryPrice: mustDec("100"),
	})
	require.NoError(t, err)

	w = doRequest(t, r, "GET", "/api/pools/alice/SWING/summary", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var summary map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&summary))
	assert.Equal(t, "1000", summary["distributed_capital"])
	distributions := summary["distributions"].([]interface{})
	assert.Len(t, distributions, 1)
}

func TestHandleGetOwnerSummary(t *testing.T) {
	r, _ := setupRouter(t)

	for _, channel := range []string{"SWING", "LONG_TERM"} {
		w := doRequest(t, r, "POST", "/api/pools",
			`{"owner": "alice", "channel": "`+channel+`", "initial_capital": "10000"}`)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doRequest(t, r, "GET", "/api/pools/alice/summary", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var summary map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&summary))
	assert.Equal(t, "20000", summary["initial_capital"])
}
