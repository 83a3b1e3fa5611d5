package order

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicore/practice/internal/platform/datastore"
	"github.com/clinicore/practice/internal/platform/tenancy"
)

type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Order, int, error)
	// TransitionStatus changes the status only if the row still has from.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type storeRepo struct {
	store tenancy.Executor
}

func NewRepo(store tenancy.Executor) Repository {
	return &storeRepo{store: store}
}

func (r *storeRepo) Create(ctx context.Context, o *Order) error {
	payload := tenancy.Record{
		"patient_id":       o.PatientID,
		"service_id":       o.ServiceID,
		"quantity":         o.Quantity,
		"unit_price_cents": o.UnitPriceCents,
		"total_cents":      o.TotalCents,
		"status":           string(o.Status),
	}
	if o.AppointmentID != nil {
		payload["appointment_id"] = *o.AppointmentID
	}
	if o.Notes != nil {
		payload["notes"] = *o.Notes
	}
	created, err := datastore.Insert[Order](ctx, r.store, tenancy.EntityOrder, payload)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	*o = *created
	return nil
}

func (r *storeRepo) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := datastore.Get[Order](ctx, r.store, tenancy.EntityOrder, tenancy.Filter{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (r *storeRepo) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Order, int, error) {
	filter := tenancy.Filter{}
	if f.PatientID != uuid.Nil {
		filter["patient_id"] = f.PatientID
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	items, total, err := datastore.List[Order](ctx, r.store, tenancy.EntityOrder, datastore.Query{
		Filter: filter,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return items, total, nil
}

func (r *storeRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	rows, err := datastore.Update[Order](ctx, r.store, tenancy.EntityOrder,
		tenancy.Filter{"id": id, "status": string(from)},
		tenancy.Record{"status": string(to)})
	if err != nil {
		return false, fmt.Errorf("transition order %s: %w", id, err)
	}
	return len(rows) > 0, nil
}

func (r *storeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := datastore.Delete(ctx, r.store, tenancy.EntityOrder, tenancy.Filter{"id": id})
	if err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete order %s: %w", id, datastore.ErrNotFound)
	}
	return nil
}
