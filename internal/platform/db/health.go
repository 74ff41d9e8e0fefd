package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthTimeout = 3 * time.Second

// StoreHealth is the /healthz body for the Postgres store driver.
type StoreHealth struct {
	Status    string `json:"status"`
	Driver    string `json:"driver"`
	Keys      int64  `json:"keys"`
	LatencyMS int64  `json:"latency_ms"`
	Conns     int32  `json:"conns"`
	Idle      int32  `json:"idle"`
	MaxConns  int32  `json:"max_conns"`
	Error     string `json:"error,omitempty"`
}

// HealthHandler checks that the key-value table is reachable and reports
// how many keys it holds along with the pool's connection counts.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		stat := pool.Stat()
		h := StoreHealth{
			Status:   "ok",
			Driver:   "postgres",
			Conns:    stat.TotalConns(),
			Idle:     stat.IdleConns(),
			MaxConns: stat.MaxConns(),
		}

		start := time.Now()
		err := pool.QueryRow(ctx, `SELECT count(*) FROM kv_store`).Scan(&h.Keys)
		h.LatencyMS = time.Since(start).Milliseconds()
		if err != nil {
			h.Status = "unavailable"
			h.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, h)
		}
		return c.JSON(http.StatusOK, h)
	}
}
