package db

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// SchemeHealth is the body of /health/db.
type SchemeHealth struct {
	Status        string `json:"status"`
	Scheme        string `json:"scheme"`
	SchemaVersion int    `json:"schema_version"`
	OpenConns     int32  `json:"open_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	Error         string `json:"error,omitempty"`
}

// conclude fills in the verdict and returns the HTTP status to send. A
// reachable database whose scheme schema has no migrations is unhealthy.
func (h *SchemeHealth) conclude(pingErr, versionErr error) int {
	switch {
	case pingErr != nil:
		h.Error = "database unreachable: " + pingErr.Error()
	case versionErr != nil:
		h.Error = "scheme " + h.Scheme + " is not migrated: " + versionErr.Error()
	case h.SchemaVersion == 0:
		h.Error = "scheme " + h.Scheme + " has no applied migrations"
	default:
		h.Status = "healthy"
		return http.StatusOK
	}
	h.Status = "unhealthy"
	return http.StatusServiceUnavailable
}

// HealthHandler pings the database and reads the latest migration applied
// to defaultScheme's schema.
func HealthHandler(pool *pgxpool.Pool, defaultScheme string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		stat := pool.Stat()
		h := &SchemeHealth{
			Scheme:        defaultScheme,
			OpenConns:     stat.TotalConns(),
			AcquiredConns: stat.AcquiredConns(),
		}

		var versionErr error
		pingErr := pool.Ping(ctx)
		if pingErr == nil {
			query := fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s._migrations", quoteSchema(SchemaName(defaultScheme)))
			versionErr = pool.QueryRow(ctx, query).Scan(&h.SchemaVersion)
		}
		return c.JSON(h.conclude(pingErr, versionErr), h)
	}
}
