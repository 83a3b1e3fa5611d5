package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a 500. Mount it outside the tenant
// middleware; the request scope is cleared before the panic reaches it.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				evt := logger.Error().
					Str("request_id", fmt.Sprint(c.Get("request_id"))).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", debug.Stack())
				if tid, ok := c.Get("tenant_id").(string); ok {
					evt = evt.Str("tenant_id", tid)
				}
				evt.Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
