package db

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicore/practice/internal/platform/auth"
	"github.com/clinicore/practice/internal/platform/datastore"
	"github.com/clinicore/practice/internal/platform/reqctx"
)

// TenantHeader lets a caller that belongs to several clinics pick one.
const TenantHeader = "X-Tenant-ID"

// TenantResolver is the part of Registry the middleware needs.
type TenantResolver interface {
	Get(ctx context.Context, id string) (*TenantRecord, error)
	Lookup(ctx context.Context, ids []string) ([]TenantRecord, error)
}

// TenantMiddleware opens a request scope and fills it with the tenant, the
// tenant record, the caller and the caller's tenant list. The scope is
// cleared when the handler chain returns, on every path.
//
// The tenant comes from the X-Tenant-ID header, then the token's tenant
// claim, then the tenant_id query parameter, then defaultTenant. A header or
// query value must be a tenant the token grants unless the caller is an
// admin. Public paths are served without a scope.
func TenantMiddleware(registry TenantResolver, defaultTenant string, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if auth.IsPublicPath(c.Path()) {
				return next(c)
			}

			claims := auth.ClaimsFromContext(c.Request().Context())
			tenantID, err := extractTenantID(c, claims, defaultTenant)
			if err != nil {
				return err
			}
			if !ValidTenantID(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			return reqctx.Run(c.Request().Context(), func(ctx context.Context) error {
				reqctx.SetTenantID(ctx, tenantID)

				if registry != nil {
					t, err := registry.Get(ctx, tenantID)
					if errors.Is(err, datastore.ErrNotFound) {
						return echo.NewHTTPError(http.StatusForbidden, "unknown tenant")
					}
					if err != nil {
						logger.Error().Err(err).Str("tenant_id", tenantID).Msg("tenant lookup failed")
						return echo.NewHTTPError(http.StatusServiceUnavailable, "tenant resolution failed")
					}
					if !t.Active {
						return echo.NewHTTPError(http.StatusForbidden, "tenant is disabled")
					}
					reqctx.SetTenant(ctx, t.Scope())
				}

				if claims != nil {
					reqctx.SetUser(ctx, &reqctx.User{
						ID:       claims.Subject,
						Role:     primaryRole(claims),
						TenantID: claims.TenantID,
						Tenants:  claims.Tenants,
					})
					if registry != nil && len(claims.Tenants) > 0 {
						records, err := registry.Lookup(ctx, claims.Tenants)
						if err != nil {
							logger.Warn().Err(err).Str("user_id", claims.Subject).Msg("user tenant lookup failed")
						} else {
							reqctx.SetUserTenants(ctx, userTenants(records))
						}
					}
				}

				c.Set("tenant_id", tenantID)
				c.SetRequest(c.Request().WithContext(ctx))
				return next(c)
			})
		}
	}
}

func extractTenantID(c echo.Context, claims *auth.Claims, defaultTenant string) (string, error) {
	if tid := c.Request().Header.Get(TenantHeader); tid != "" {
		return tid, checkGranted(claims, tid)
	}

	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid, nil
	}

	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid, checkGranted(claims, tid)
	}

	return defaultTenant, nil
}

// checkGranted rejects a requested tenant the token does not grant.
// Without claims there is nothing to check against.
func checkGranted(claims *auth.Claims, tenantID string) error {
	if claims == nil || claims.TenantID == tenantID {
		return nil
	}
	for _, r := range claims.AllRoles() {
		if r == auth.RoleAdmin {
			return nil
		}
	}
	for _, t := range claims.Tenants {
		if t == tenantID {
			return nil
		}
	}
	return echo.NewHTTPError(http.StatusForbidden, "tenant not granted to caller")
}

func primaryRole(claims *auth.Claims) string {
	if roles := claims.AllRoles(); len(roles) > 0 {
		return roles[0]
	}
	return ""
}

func userTenants(records []TenantRecord) []reqctx.UserTenant {
	out := make([]reqctx.UserTenant, 0, len(records))
	for _, t := range records {
		out = append(out, reqctx.UserTenant{ID: t.ID, Name: t.Name, Type: t.Type})
	}
	return out
}
