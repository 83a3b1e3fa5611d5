package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	ClaimsKey    contextKey = "claims"
)

// Roles known to the practice API.
const (
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RoleNurse        = "nurse"
	RoleReceptionist = "receptionist"
	RolePatient      = "patient"
)

// Claims are the token claims the API relies on. Role is the primary role;
// Roles may list additional ones. Tenants is only set for users that belong
// to more than one clinic.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Role     string   `json:"role"`
	Roles    []string `json:"roles,omitempty"`
	Tenants  []string `json:"tenants,omitempty"`
}

// AllRoles returns Role followed by Roles without duplicates.
func (c *Claims) AllRoles() []string {
	out := make([]string, 0, len(c.Roles)+1)
	seen := make(map[string]bool, len(c.Roles)+1)
	for _, r := range append([]string{c.Role}, c.Roles...) {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// setClaims publishes verified claims on the request context. The tenant id
// is also stored on the echo context for tenant resolution.
func setClaims(c echo.Context, claims *Claims) {
	c.Set("jwt_tenant_id", claims.TenantID)

	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
	ctx = context.WithValue(ctx, UserRolesKey, claims.AllRoles())
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	c.SetRequest(c.Request().WithContext(ctx))
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// ClaimsFromContext returns the verified token claims, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsKey).(*Claims)
	return claims
}
