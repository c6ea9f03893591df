package db

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// RequiredTables are the tables every dashboard reads from.
var RequiredTables = []string{
	"hospital", "department", "patient", "staff", "work_in",
	"clinical_activity", "appointment", "emergency", "insurance", "expense",
	"medication", "prescription", "includes", "stock",
}

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

type healthDB interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// HealthChecker reports database reachability and whether the schema the
// aggregations depend on is present.
type HealthChecker struct {
	db     healthDB
	tables []string
	stats  func() *PoolStats
}

func NewHealthChecker(pool *pgxpool.Pool, tables []string) *HealthChecker {
	return &HealthChecker{
		db:     pool,
		tables: tables,
		stats:  func() *PoolStats { return GetPoolStats(pool) },
	}
}

// MissingTables returns the required tables that do not resolve in the
// current search_path.
func (h *HealthChecker) MissingTables(ctx context.Context) ([]string, error) {
	var missing []string
	for _, table := range h.tables {
		var present bool
		if err := h.db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&present); err != nil {
			return nil, fmt.Errorf("check table %s: %w", table, err)
		}
		if !present {
			missing = append(missing, table)
		}
	}
	return missing, nil
}

// Handler returns the database health check endpoint.
func (h *HealthChecker) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{}
		if h.stats != nil {
			body["pool"] = h.stats()
		}

		if err := h.db.Ping(ctx); err != nil {
			body["status"] = "unhealthy"
			body["error"] = "database unreachable"
			return c.JSON(http.StatusServiceUnavailable, body)
		}

		missing, err := h.MissingTables(ctx)
		if err != nil {
			body["status"] = "unhealthy"
			body["error"] = "schema check failed"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		if len(missing) > 0 {
			body["status"] = "unhealthy"
			body["missing_tables"] = missing
			return c.JSON(http.StatusServiceUnavailable, body)
		}

		body["status"] = "healthy"
		return c.JSON(http.StatusOK, body)
	}
}
