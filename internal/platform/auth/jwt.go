package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type JWTConfig struct {
	Issuer   string
	Audience string
	// JWKSURL overrides OIDC discovery on Issuer.
	JWKSURL string
	// SigningKey switches verification to HS256. Development and tests only.
	SigningKey []byte
	Skipper    func(c echo.Context) bool
}

// JWTMiddleware verifies bearer tokens and publishes their claims.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var keys *KeySet
	if len(cfg.SigningKey) == 0 {
		keys = NewKeySet(cfg.JWKSURL, defaultKeyTTL)
		keys.issuer = cfg.Issuer
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}
			raw, ok := bearerToken(c.Request().Header.Get("Authorization"))
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed bearer token")
			}

			var keyFunc jwt.Keyfunc
			if keys != nil {
				keyFunc = keys.Keyfunc(c.Request().Context())
			} else {
				keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			setClaims(c, claims)
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// DevAuthMiddleware is a permissive middleware for development. Requests
// without a token act as an admin of the default tenant; requests with one
// are verified against signingKey.
func DevAuthMiddleware(signingKey []byte) echo.MiddlewareFunc {
	verify := JWTMiddleware(JWTConfig{SigningKey: signingKey})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withToken := verify(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" && len(signingKey) > 0 {
				return withToken(c)
			}
			setClaims(c, &Claims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "dev-user"},
				TenantID:         "default",
				Role:             RoleAdmin,
			})
			return next(c)
		}
	}
}
