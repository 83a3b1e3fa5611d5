package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole lets the request through when the caller holds any of roles.
// Admins pass every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := append([]string{RoleAdmin}, roles...)
	msg := "required role: " + strings.Join(roles, " or ")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !HasAnyRole(c.Request().Context(), allowed...) {
				return echo.NewHTTPError(http.StatusForbidden, msg)
			}
			return next(c)
		}
	}
}

// HasRole reports whether the caller holds role exactly.
func HasRole(ctx context.Context, role string) bool {
	return slices.Contains(RolesFromContext(ctx), role)
}

// HasAnyRole reports whether the caller holds at least one of roles.
func HasAnyRole(ctx context.Context, roles ...string) bool {
	for _, r := range RolesFromContext(ctx) {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}
