package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicore/practice/internal/domain/catalog"
	"github.com/clinicore/practice/internal/domain/patient"
	"github.com/clinicore/practice/internal/platform/apierr"
	"github.com/clinicore/practice/internal/platform/datastore"
)

var ErrInvalidTransition = errors.New("invalid order status transition")

type PatientGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type CatalogGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*catalog.ClinicService, error)
}

type Service struct {
	repo     Repository
	patients PatientGetter
	catalog  CatalogGetter
}

func NewService(repo Repository, patients PatientGetter, catalog CatalogGetter) *Service {
	return &Service{repo: repo, patients: patients, catalog: catalog}
}

// Create prices the order from the catalog. Both the patient and the
// service are looked up in the caller's tenant, so an id belonging to
// another clinic is rejected as invalid.
func (s *Service) Create(ctx context.Context, o *Order) error {
	if o.PatientID == uuid.Nil || o.ServiceID == uuid.Nil {
		return fmt.Errorf("%w: patient_id and service_id are required", apierr.ErrInvalid)
	}
	if o.Quantity == 0 {
		o.Quantity = 1
	}
	if o.Quantity < 0 {
		return fmt.Errorf("%w: quantity must be positive", apierr.ErrInvalid)
	}
	if _, err := s.patients.Get(ctx, o.PatientID); err != nil {
		return referenceError("patient", err)
	}
	svc, err := s.catalog.Get(ctx, o.ServiceID)
	if err != nil {
		return referenceError("service", err)
	}
	if !svc.Active {
		return fmt.Errorf("%w: service %s is not active", apierr.ErrInvalid, svc.ID)
	}
	o.UnitPriceCents = svc.PriceCents
	o.TotalCents = svc.PriceCents * int64(o.Quantity)
	o.Status = StatusOpen
	return s.repo.Create(ctx, o)
}

func referenceError(what string, err error) error {
	if errors.Is(err, datastore.ErrNotFound) {
		return fmt.Errorf("%w: unknown %s", apierr.ErrInvalid, what)
	}
	return err
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Order, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", apierr.ErrInvalid, f.Status)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// UpdateStatus closes an open order.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) (*Order, error) {
	if to != StatusFulfilled && to != StatusCancelled {
		return nil, fmt.Errorf("%w: status must be %s or %s", apierr.ErrInvalid, StatusFulfilled, StatusCancelled)
	}
	changed, err := s.repo.TransitionStatus(ctx, id, StatusOpen, to)
	if err != nil {
		return nil, err
	}
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !changed && current.Status != to {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, current.Status)
	}
	return current, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
