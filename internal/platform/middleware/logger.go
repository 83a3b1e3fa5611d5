package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicore/practice/internal/platform/metrics"
)

// Logger writes one line per request and records its latency. The tenant id
// is read after the handler chain ran, once the tenant middleware set it.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)
			if err != nil {
				// Let echo's error handler write the status before logging it.
				c.Error(err)
			}

			status := c.Response().Status
			latency := time.Since(start)
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			metrics.HTTPRequests.WithLabelValues(req.Method, route, strconv.Itoa(status)).Observe(latency.Seconds())

			evt := logger.Info()
			switch {
			case status >= 500:
				evt = logger.Error().Err(err)
			case err != nil:
				evt = logger.Warn().Err(err)
			}
			tenantID, _ := c.Get("tenant_id").(string)

			evt.
				Str("request_id", rid).
				Str("tenant_id", tenantID).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", latency).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return nil
		}
	}
}
