package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	SchemeIDKey contextKey = "scheme_id"
	DBConnKey   contextKey = "db_conn"
	DBTxKey     contextKey = "db_tx"
)

// SchemeHeader selects the insurance scheme whose schema serves the request.
const SchemeHeader = "X-Scheme-ID"

var schemeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaName returns the postgres schema that stores a scheme's data.
func SchemaName(schemeID string) string {
	return "scheme_" + schemeID
}

// SchemeMiddleware pins one pooled connection to the request and points its
// search_path at the caller's scheme schema.
func SchemeMiddleware(pool *pgxpool.Pool, defaultScheme string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			schemeID := extractSchemeID(c, defaultScheme)

			if !schemeIDPattern.MatchString(schemeID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid scheme identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			schema := pgx.Identifier{SchemaName(schemeID)}.Sanitize()
			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "scheme resolution failed")
			}
			// The connection returns to the pool afterwards; reset it so the
			// next borrower does not inherit this scheme.
			defer conn.Exec(context.Background(), "RESET search_path") //nolint:errcheck

			ctx = context.WithValue(ctx, SchemeIDKey, schemeID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("scheme_id", schemeID)

			return next(c)
		}
	}
}

func extractSchemeID(c echo.Context, defaultScheme string) string {
	if sid, ok := c.Get("jwt_scheme_id").(string); ok && sid != "" {
		return sid
	}
	if sid := c.Request().Header.Get(SchemeHeader); sid != "" {
		return sid
	}
	if sid := c.QueryParam("scheme_id"); sid != "" {
		return sid
	}
	return defaultScheme
}

// ConnFromContext retrieves the scheme-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// SchemeFromContext retrieves the scheme ID from context.
func SchemeFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(SchemeIDKey).(string)
	return sid
}

// CreateSchemeSchema creates the schema for a new scheme and migrates it.
// An empty migrationsDir skips migrations.
func CreateSchemeSchema(ctx context.Context, pool *pgxpool.Pool, schemeID string, migrationsDir string) error {
	if !schemeIDPattern.MatchString(schemeID) {
		return fmt.Errorf("invalid scheme identifier: %s", schemeID)
	}

	schema := SchemaName(schemeID)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrationsDir != "" {
		migrator := NewMigrator(pool, migrationsDir)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}
