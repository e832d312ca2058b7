package middleware

import "github.com/labstack/echo/v4"

var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	// Claim amounts and payment references must not sit in shared caches.
	{"Cache-Control", "no-store"},
	{"Pragma", "no-cache"},
}

// SecurityHeaders sets the headers of a JSON-only API. HSTS is only sent on
// requests that arrived over HTTPS, directly or through a proxy.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range apiHeaders {
				h.Set(kv[0], kv[1])
			}
			if c.Scheme() == "https" {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			return next(c)
		}
	}
}
