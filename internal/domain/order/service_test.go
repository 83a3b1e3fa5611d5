package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/practice/internal/domain/catalog"
	"github.com/clinicore/practice/internal/domain/patient"
	"github.com/clinicore/practice/internal/platform/apierr"
	"github.com/clinicore/practice/internal/platform/cache"
	"github.com/clinicore/practice/internal/platform/datastore"
	"github.com/clinicore/practice/internal/platform/reqctx"
	"github.com/clinicore/practice/internal/platform/tenancy"
)

type testDeps struct {
	svc      *Service
	patients *patient.Service
	catalog  *catalog.Service
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	mem, err := datastore.NewMemory(tenancy.DefaultRules(), zerolog.Nop())
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	backend := cache.NewMemoryBackend(0)
	t.Cleanup(func() { backend.Close() })
	patients := patient.NewService(patient.NewRepo(mem))
	cat := catalog.NewService(catalog.NewRepo(mem), cache.New(backend, zerolog.Nop()), time.Minute)
	return &testDeps{
		svc:      NewService(NewRepo(mem), patients, cat),
		patients: patients,
		catalog:  cat,
	}
}

func inTenant(t *testing.T, tenant string, fn func(ctx context.Context)) {
	t.Helper()
	err := reqctx.RunFresh(context.Background(), func(ctx context.Context) error {
		reqctx.SetTenantID(ctx, tenant)
		fn(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
}

// seed creates a patient and an active service priced at 45000 cents.
func (d *testDeps) seed(t *testing.T, ctx context.Context) (uuid.UUID, uuid.UUID) {
	t.Helper()
	p := &patient.Patient{FirstName: "Ana", LastName: "Pérez"}
	if err := d.patients.Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	cs := &catalog.ClinicService{Name: "Consulta", DurationMinutes: 30, PriceCents: 45000, Active: true}
	if err := d.catalog.Create(ctx, cs); err != nil {
		t.Fatal(err)
	}
	return p.ID, cs.ID
}

func TestService_CreatePricesFromCatalog(t *testing.T) {
	d := newTestDeps(t)
	inTenant(t, "clinic_a", func(ctx context.Context) {
		pid, sid := d.seed(t, ctx)
		o := &Order{PatientID: pid, ServiceID: sid, Quantity: 2}
		if err := d.svc.Create(ctx, o); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if o.UnitPriceCents != 45000 || o.TotalCents != 90000 {
			t.Errorf("unexpected pricing: unit=%d total=%d", o.UnitPriceCents, o.TotalCents)
		}
		if o.Status != StatusOpen || o.TenantID != "clinic_a" {
			t.Errorf("unexpected order: %+v", o)
		}
	})
}

func TestService_CreateRejectsOtherTenantReferences(t *testing.T) {
	d := newTestDeps(t)
	var pid, sid uuid.UUID
	inTenant(t, "clinic_a", func(ctx context.Context) {
		pid, sid = d.seed(t, ctx)
	})
	inTenant(t, "clinic_b", func(ctx context.Context) {
		err := d.svc.Create(ctx, &Order{PatientID: pid, ServiceID: sid})
		if !errors.Is(err, apierr.ErrInvalid) {
			t.Errorf("expected ErrInvalid, got %v", err)
		}
	})
}

func TestService_CreateRejectsInactiveService(t *testing.T) {
	d := newTestDeps(t)
	inTenant(t, "clinic_a", func(ctx context.Context) {
		pid, _ := d.seed(t, ctx)
		cs := &catalog.ClinicService{Name: "Retirado", DurationMinutes: 30}
		if err := d.catalog.Create(ctx, cs); err != nil {
			t.Fatal(err)
		}
		if err := d.svc.Create(ctx, &Order{PatientID: pid, ServiceID: cs.ID}); !errors.Is(err, apierr.ErrInvalid) {
			t.Errorf("expected ErrInvalid, got %v", err)
		}
	})
}

func TestService_UpdateStatus(t *testing.T) {
	d := newTestDeps(t)
	inTenant(t, "clinic_a", func(ctx context.Context) {
		pid, sid := d.seed(t, ctx)
		o := &Order{PatientID: pid, ServiceID: sid}
		if err := d.svc.Create(ctx, o); err != nil {
			t.Fatal(err)
		}
		got, err := d.svc.UpdateStatus(ctx, o.ID, StatusFulfilled)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != StatusFulfilled {
			t.Errorf("expected fulfilled, got %s", got.Status)
		}
		if _, err := d.svc.UpdateStatus(ctx, o.ID, StatusFulfilled); err != nil {
			t.Errorf("repeating the same transition should succeed, got %v", err)
		}
		if _, err := d.svc.UpdateStatus(ctx, o.ID, StatusCancelled); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
		if _, err := d.svc.UpdateStatus(ctx, o.ID, StatusOpen); !errors.Is(err, apierr.ErrInvalid) {
			t.Errorf("expected ErrInvalid reopening, got %v", err)
		}
		if _, err := d.svc.UpdateStatus(ctx, uuid.New(), StatusCancelled); !errors.Is(err, datastore.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestService_ListAndDelete(t *testing.T) {
	d := newTestDeps(t)
	inTenant(t, "clinic_a", func(ctx context.Context) {
		pid, sid := d.seed(t, ctx)
		o := &Order{PatientID: pid, ServiceID: sid}
		if err := d.svc.Create(ctx, o); err != nil {
			t.Fatal(err)
		}
		items, total, err := d.svc.List(ctx, ListFilter{PatientID: pid, Status: StatusOpen}, 20, 0)
		if err != nil {
			t.Fatal(err)
		}
		if total != 1 || items[0].ID != o.ID {
			t.Errorf("unexpected listing: total=%d", total)
		}
		if err := d.svc.Delete(ctx, o.ID); err != nil {
			t.Fatal(err)
		}
		if _, total, _ = d.svc.List(ctx, ListFilter{}, 20, 0); total != 0 {
			t.Errorf("expected deleted order to be hidden, got %d", total)
		}
		if _, _, err := d.svc.List(ctx, ListFilter{Status: "paid"}, 20, 0); !errors.Is(err, apierr.ErrInvalid) {
			t.Errorf("expected ErrInvalid for unknown status, got %v", err)
		}
	})
}
