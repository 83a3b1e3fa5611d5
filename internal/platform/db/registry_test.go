package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicore/practice/internal/platform/apierr"
	"github.com/clinicore/practice/internal/platform/cache"
	"github.com/clinicore/practice/internal/platform/datastore"
	"github.com/clinicore/practice/internal/platform/reqctx"
	"github.com/clinicore/practice/internal/platform/tenancy"
)

func newTestRegistry(t *testing.T) (*Registry, *datastore.Memory) {
	t.Helper()
	mem, err := datastore.NewMemory(tenancy.DefaultRules(), zerolog.Nop())
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	backend := cache.NewMemoryBackend(0)
	t.Cleanup(func() { backend.Close() })
	return NewRegistry(mem, cache.New(backend, zerolog.Nop()), time.Minute), mem
}

func TestRegistry_CreateAndGet(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.Create(ctx, NewTenant{ID: "clinic_a", Name: " Clinic A "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Type != "clinic" || created.Name != "Clinic A" {
		t.Errorf("unexpected record: %+v", created)
	}

	got, err := reg.Get(ctx, "clinic_a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "clinic_a" || !got.Active {
		t.Errorf("unexpected record: %+v", got)
	}
	if s := got.Scope(); s.ID != "clinic_a" || s.Type != "clinic" {
		t.Errorf("unexpected scope tenant: %+v", s)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Get(context.Background(), "nowhere")
	if !errors.Is(err, datastore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_CreateValidation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.Create(ctx, NewTenant{ID: "a b", Name: "x"}); !errors.Is(err, apierr.ErrInvalid) {
		t.Errorf("expected ErrInvalid for bad id, got %v", err)
	}
	if _, err := reg.Create(ctx, NewTenant{ID: "clinic_a"}); !errors.Is(err, apierr.ErrInvalid) {
		t.Errorf("expected ErrInvalid for missing name, got %v", err)
	}
	if _, err := reg.Create(ctx, NewTenant{ID: "clinic_a", Name: "A"}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Create(ctx, NewTenant{ID: "clinic_a", Name: "A again"}); !errors.Is(err, apierr.ErrInvalid) {
		t.Errorf("expected ErrInvalid for duplicate, got %v", err)
	}
}

func TestRegistry_LookupSkipsUnknownAndInactive(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	for _, rec := range []NewTenant{
		{ID: "clinic_b", Name: "Beta"},
		{ID: "clinic_a", Name: "Alpha"},
		{ID: "clinic_c", Name: "Closed", Disabled: true},
	} {
		if _, err := reg.Create(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	got, err := reg.Lookup(ctx, []string{"clinic_b", "clinic_a", "clinic_c", "gone"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "clinic_a" || got[1].ID != "clinic_b" {
		t.Errorf("expected alpha then beta, got %+v", got)
	}

	empty, err := reg.Lookup(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty lookup, got %+v (%v)", empty, err)
	}
}

func TestRegistry_CreateInvalidatesLookups(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	if _, err := reg.Create(ctx, NewTenant{ID: "clinic_a", Name: "Alpha"}); err != nil {
		t.Fatal(err)
	}

	ids := []string{"clinic_a", "clinic_b"}
	first, err := reg.Lookup(ctx, ids)
	if err != nil || len(first) != 1 {
		t.Fatalf("expected one tenant, got %+v (%v)", first, err)
	}

	if _, err := reg.Create(ctx, NewTenant{ID: "clinic_b", Name: "Beta"}); err != nil {
		t.Fatal(err)
	}
	second, err := reg.Lookup(ctx, ids)
	if err != nil || len(second) != 2 {
		t.Errorf("expected lookup to see the new tenant, got %+v (%v)", second, err)
	}
}

func TestRegistry_CreatedTenantServesRequests(t *testing.T) {
	reg, _ := newTestRegistry(t)
	created, err := reg.Create(context.Background(), NewTenant{ID: "clinic_new", Name: "New"})
	if err != nil {
		t.Fatal(err)
	}
	if !created.Active {
		t.Fatalf("expected a new tenant to be active, got %+v", created)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set(TenantHeader, "clinic_new")
	c, rec := newContext(req, nil)

	var tid string
	h := TenantMiddleware(reg, "default", zerolog.Nop())(func(c echo.Context) error {
		tid, _ = reqctx.TenantID(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || tid != "clinic_new" {
		t.Errorf("expected clinic_new to be served, got code=%d tenant=%q", rec.Code, tid)
	}
}

func TestRegistry_DisabledTenantIsRejected(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.Create(context.Background(), NewTenant{ID: "clinic_off", Name: "Off", Disabled: true}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set(TenantHeader, "clinic_off")
	c, _ := newContext(req, nil)

	err := TenantMiddleware(reg, "default", zerolog.Nop())(func(c echo.Context) error {
		t.Fatal("handler must not run")
		return nil
	})(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}
