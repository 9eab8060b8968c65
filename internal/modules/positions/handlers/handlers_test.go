package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradelab/ledger/internal/database"
	"github.com/tradelab/ledger/internal/domain"
	"github.com/tradelab/ledger/internal/modules/positions"
)

func setupRouter(t *testing.T) (chi.Router, *positions.Repository, *sql.DB) {
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

	repo := positions.NewRepository(db.Conn(), log)

	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		NewPositionHandlers(repo, log).RegisterRoutes(api)
	})

	return r, repo, db.Conn()
}

func TestHandleGetPosition(t *testing.T) {
	r, repo, conn := setupRouter(t)

	entry := decimal.NewFromInt(100)
	require.NoError(t, database.WithTransaction(conn, func(tx *sql.Tx) error {
		if err := repo.CreateTx(tx, &positions.Position{
			ID:         "pos-1",
			Owner:      "alice",
			Channel:    domain.ChannelSwing,
			Symbol:     "AAPL",
			EntryPrice: &entry,
		}); err != nil {
			return err
		}
		return repo.AppendSaleRecordTx(tx, positions.SaleRecord{
			ID:           "sale-1",
			PositionID:   "pos-1",
			SoldAt:       time.Now().UTC(),
			Percentage:   decimal.NewFromInt(50),
			PriceLow:     decimal.NewFromInt(120),
			PriceHigh:    decimal.NewFromInt(120),
			RealizedGain: decimal.NewFromInt(100),
			SharesSold:   decimal.NewFromInt(5),
		})
	}))

	req := httptest.NewRequest("GET", "/api/positions/pos-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var pos map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&pos))
	assert.Equal(t, "alice", pos["owner"])
	assert.Equal(t, "AAPL", pos["symbol"])
	assert.Equal(t, "open", pos["status"])
	history := pos["sale_history"].([]interface{})
	require.Len(t, history, 1)
}

func TestHandleGetPosition_NotFound(t *testing.T) {
	r, _, _ := setupRouter(t)

	req := httptest.NewRequest("GET", "/api/positions/ghost", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
