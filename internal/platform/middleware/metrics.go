package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/anesth/preop/internal/platform/metrics"
)

// Metrics records request count and latency by route template, so ids in
// the path do not explode label cardinality.
func Metrics(reg *metrics.Registry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			reg.ObserveHTTP(c.Request().Method, path, status, time.Since(start))
			return err
		}
	}
}
