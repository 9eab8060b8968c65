package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tradelab/ledger/internal/database"
)

// SystemHandlers serves monitoring endpoints for the ledger service
type SystemHandlers struct {
	log      zerolog.Logger
	dataDir  string
	ledgerDB *database.DB
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, dataDir string, ledgerDB *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:      log.With().Str("handler", "system").Logger(),
		dataDir:  dataDir,
		ledgerDB: ledgerDB,
	}
}

// HandleSystemHealth reports database connectivity plus CPU and memory usage
// GET /api/system/health
func (h *SystemHandlers) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := h.ledgerDB.HealthCheck(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Database health check failed")
		dbStatus = "unhealthy"
	}

	cpuAvg, memUsed := h.getSystemStats()

	h.writeJSON(w, map[string]interface{}{
		"status":          dbStatus,
		"database":        dbStatus,
		"cpu_percent":     cpuAvg,
		"memory_percent":  memUsed,
		"data_dir_mb":     h.getDirSize(h.dataDir),
		"checked_at_unix": time.Now().Unix(),
	})
}

// HandleDatabaseStats reports file and page statistics for the ledger database
// GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledgerDB.GetStats()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to collect database stats")
		http.Error(w, "failed to collect database stats", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"name":           h.ledgerDB.Name(),
		"size_bytes":     stats.SizeBytes,
		"wal_size_bytes": stats.WALSizeBytes,
		"page_count":     stats.PageCount,
		"page_size":      stats.PageSize,
	})
}

// getSystemStats calculates CPU and RAM usage percentages.
// Uses a short 100ms sample so the endpoint stays responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
