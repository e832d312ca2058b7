package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger writes one line per request. Handler errors are rendered here so
// the logged status is the one the client receives.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			rid, _ := c.Get("request_id").(string)
			status := c.Response().Status

			evt := logger.Info()
			switch {
			case status >= 500:
				evt = logger.Error().Err(err)
			case status >= 400:
				evt = logger.Warn().AnErr("error", err)
			}

			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Str("actor", actorOf(c)).
				Str("scheme_id", stringOf(c, "scheme_id")).
				Msg("request")

			return nil
		}
	}
}

func actorOf(c echo.Context) string {
	return stringOf(c, "user_id")
}

func stringOf(c echo.Context, key string) string {
	s, _ := c.Get(key).(string)
	return s
}
