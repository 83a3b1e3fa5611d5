package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func signHS256(t *testing.T, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	require.NoError(t, err)
	return s
}

// run invokes mw on a request to route and returns the handler's view of the
// request context, or the middleware error.
func run(t *testing.T, mw echo.MiddlewareFunc, route, authHeader string) (context.Context, echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, route, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath(route)

	var seen context.Context
	err := mw(func(c echo.Context) error {
		seen = c.Request().Context()
		return c.NoContent(http.StatusOK)
	})(c)
	return seen, c, err
}

func assertStatus(t *testing.T, err error, code int) {
	t.Helper()
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, code, httpErr.Code)
}

func TestJWTMiddleware_RejectsMalformedHeaders(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	for _, header := range []string{"", "Token abc", "Bearer", "Bearer   ", "Basic dXNlcjpwYXNz", "Bearer not.a.jwt"} {
		t.Run(header, func(t *testing.T) {
			_, _, err := run(t, mw, "/api/v1/patients", header)
			assertStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_PublishesClaims(t *testing.T) {
	token := signHS256(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "clinic_a",
		Role:     RoleDoctor,
		Roles:    []string{RoleNurse, RoleDoctor},
		Tenants:  []string{"clinic_a", "clinic_b"},
	})

	ctx, c, err := run(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "/api/v1/patients", "bearer "+token)
	require.NoError(t, err)

	assert.Equal(t, "user-1", UserIDFromContext(ctx))
	assert.Equal(t, []string{RoleDoctor, RoleNurse}, RolesFromContext(ctx))
	claims := ClaimsFromContext(ctx)
	require.NotNil(t, claims)
	assert.Equal(t, []string{"clinic_a", "clinic_b"}, claims.Tenants)
	assert.Equal(t, "clinic_a", c.Get("jwt_tenant_id"))
}

func TestJWTMiddleware_RejectsBadTokens(t *testing.T) {
	tests := []struct {
		name  string
		cfg   JWTConfig
		token func(t *testing.T) string
	}{
		{
			name: "expired",
			cfg:  JWTConfig{SigningKey: testSigningKey},
			token: func(t *testing.T) string {
				return signHS256(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
				}})
			},
		},
		{
			name: "wrong key",
			cfg:  JWTConfig{SigningKey: []byte("another-key")},
			token: func(t *testing.T) string {
				return signHS256(t, Claims{TenantID: "clinic_a"})
			},
		},
		{
			name: "wrong issuer",
			cfg:  JWTConfig{SigningKey: testSigningKey, Issuer: "https://idp.example"},
			token: func(t *testing.T) string {
				return signHS256(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "https://other.example"}})
			},
		},
		{
			name: "wrong audience",
			cfg:  JWTConfig{SigningKey: testSigningKey, Audience: "practice-api"},
			token: func(t *testing.T) string {
				return signHS256(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Audience: jwt.ClaimStrings{"billing"}}})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, JWTMiddleware(tt.cfg), "/api/v1/patients", "Bearer "+tt.token(t))
			assertStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})

	for _, route := range []string{"/health", "/health/db", "/metrics"} {
		_, _, err := run(t, mw, route, "")
		assert.NoError(t, err, route)
	}
	for _, route := range []string{"/", "/health/extra", "/api/v1/appointments"} {
		_, _, err := run(t, mw, route, "")
		assertStatus(t, err, http.StatusUnauthorized)
	}

	_, _, err := run(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "/health", "")
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware(t *testing.T) {
	ctx, c, err := run(t, DevAuthMiddleware(testSigningKey), "/api/v1/patients", "")
	require.NoError(t, err)
	assert.Equal(t, "dev-user", UserIDFromContext(ctx))
	assert.Equal(t, []string{RoleAdmin}, RolesFromContext(ctx))
	assert.Equal(t, "default", c.Get("jwt_tenant_id"))

	token := signHS256(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "nurse-7"}, TenantID: "clinic_b", Role: RoleNurse})
	ctx, c, err = run(t, DevAuthMiddleware(testSigningKey), "/api/v1/patients", "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, "nurse-7", UserIDFromContext(ctx))
	assert.Equal(t, "clinic_b", c.Get("jwt_tenant_id"))

	_, _, err = run(t, DevAuthMiddleware(testSigningKey), "/api/v1/patients", "Bearer garbage")
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestClaims_AllRoles(t *testing.T) {
	c := &Claims{Role: RoleDoctor, Roles: []string{"", RoleNurse, RoleDoctor, RoleNurse}}
	assert.Equal(t, []string{RoleDoctor, RoleNurse}, c.AllRoles())
	assert.Empty(t, (&Claims{}).AllRoles())
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  int
	}{
		{"holder", []string{RoleNurse}, http.StatusOK},
		{"admin bypass", []string{RoleAdmin}, http.StatusOK},
		{"other role", []string{RolePatient}, http.StatusForbidden},
		{"no roles", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, tt.roles))
			rec := httptest.NewRecorder()
			err := RequireRole(RoleDoctor, RoleNurse)(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})(e.NewContext(req, rec))
			if tt.want == http.StatusOK {
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, rec.Code)
				return
			}
			assertStatus(t, err, tt.want)
		})
	}
}

func TestHasRole(t *testing.T) {
	ctx := context.WithValue(context.Background(), UserRolesKey, []string{RoleAdmin, RoleDoctor})
	assert.True(t, HasRole(ctx, RoleDoctor))
	assert.False(t, HasRole(ctx, RoleNurse))
	assert.True(t, HasAnyRole(ctx, RoleNurse, RoleDoctor))
	assert.False(t, HasAnyRole(context.Background(), RoleAdmin))
	assert.Empty(t, UserIDFromContext(context.Background()))
}
