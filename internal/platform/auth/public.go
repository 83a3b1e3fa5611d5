package auth

import "github.com/labstack/echo/v4"

// Infrastructure routes served without authentication or a tenant.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// IsPublicPath reports whether the matched route is public.
func IsPublicPath(route string) bool {
	return publicPaths[route]
}

// AuthSkipper is a JWTConfig.Skipper for public routes.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}
