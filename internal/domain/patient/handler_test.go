package patient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/practice/internal/platform/auth"
	"github.com/clinicore/practice/internal/platform/reqctx"
)

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	e := echo.New()
	NewHandler(newTestService(t)).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func serve(t *testing.T, e *echo.Echo, req *http.Request, tenant, role string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	err := reqctx.Run(req.Context(), func(ctx context.Context) error {
		reqctx.SetTenantID(ctx, tenant)
		ctx = context.WithValue(ctx, auth.UserRolesKey, []string{role})
		e.ServeHTTP(rec, req.WithContext(ctx))
		return nil
	})
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	return rec
}

func TestHandler_CreatePatient(t *testing.T) {
	e := newTestServer(t)
	body := `{"first_name":"Ana","last_name":"Pérez"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := serve(t, e, req, "clinic_a", auth.RoleReceptionist)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var p Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.TenantID != "clinic_a" || p.ID == uuid.Nil {
		t.Errorf("unexpected patient: %+v", p)
	}
}

func TestHandler_CreatePatient_BadRequest(t *testing.T) {
	e := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := serve(t, e, req, "clinic_a", auth.RoleReceptionist)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_PatientsRequireStaff(t *testing.T) {
	e := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	rec := serve(t, e, req, "clinic_a", auth.RolePatient)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	e := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+uuid.New().String(), nil)
	rec := serve(t, e, req, "clinic_a", auth.RoleDoctor)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_MyTenants(t *testing.T) {
	e := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/tenants", nil)
	rec := serve(t, e, req, "clinic_a", auth.RolePatient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Tenants []reqctx.UserTenant `json:"tenants"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Tenants) != 1 || body.Tenants[0].ID != "clinic_a" {
		t.Errorf("unexpected tenants: %+v", body.Tenants)
	}
}
