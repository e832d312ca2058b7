package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/schemehealth/claims/internal/platform/apperr"
)

// Recovery turns a handler panic into an internal error. http.ErrAbortHandler
// is re-raised so net/http can abort the connection as intended.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				cause, ok := r.(error)
				if !ok {
					cause = fmt.Errorf("%v", r)
				}
				rid, _ := c.Get("request_id").(string)
				logger.Error().
					Err(cause).
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				err = apperr.Internal(fmt.Errorf("panic in %s %s: %w", c.Request().Method, c.Path(), cause))
			}()
			return next(c)
		}
	}
}
