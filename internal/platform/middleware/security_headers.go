package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	apiCSP = "default-src 'none'; frame-ancestors 'none'"
	// printable pages carry their stylesheet inline
	printCSP = "default-src 'none'; style-src 'unsafe-inline'; img-src data:; frame-ancestors 'none'"
)

// SecurityHeaders sets the response headers expected for an API serving
// patient records. Routes ending in /print get a policy that lets the
// document render in a browser tab.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			if strings.HasSuffix(c.Path(), "/print") {
				h.Set("Content-Security-Policy", printCSP)
			} else {
				h.Set("Content-Security-Policy", apiCSP)
			}
			return next(c)
		}
	}
}
