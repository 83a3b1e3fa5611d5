package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicore/practice/internal/platform/datastore"
	"github.com/clinicore/practice/internal/platform/tenancy"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type storeRepo struct {
	store tenancy.Executor
}

func NewRepo(store tenancy.Executor) Repository {
	return &storeRepo{store: store}
}

func record(p *Patient) tenancy.Record {
	rec := tenancy.Record{
		"first_name": p.FirstName,
		"last_name":  p.LastName,
	}
	if p.UserID != nil {
		rec["user_id"] = *p.UserID
	}
	if p.DocumentID != nil {
		rec["document_id"] = *p.DocumentID
	}
	if p.Email != nil {
		rec["email"] = *p.Email
	}
	if p.Phone != nil {
		rec["phone"] = *p.Phone
	}
	if p.BirthDate != nil {
		rec["birth_date"] = *p.BirthDate
	}
	return rec
}

func (r *storeRepo) Create(ctx context.Context, p *Patient) error {
	created, err := datastore.Insert[Patient](ctx, r.store, tenancy.EntityPatient, record(p))
	if err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	*p = *created
	return nil
}

func (r *storeRepo) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := datastore.Get[Patient](ctx, r.store, tenancy.EntityPatient, tenancy.Filter{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", id, err)
	}
	return p, nil
}

func (r *storeRepo) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	filter := tenancy.Filter{}
	if f.LastName != "" {
		filter["last_name"] = f.LastName
	}
	if f.DocumentID != "" {
		filter["document_id"] = f.DocumentID
	}
	items, total, err := datastore.List[Patient](ctx, r.store, tenancy.EntityPatient, datastore.Query{
		Filter:  filter,
		OrderBy: "last_name ASC",
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	return items, total, nil
}

func (r *storeRepo) Update(ctx context.Context, p *Patient) error {
	updated, err := datastore.UpdateOne[Patient](ctx, r.store, tenancy.EntityPatient, tenancy.Filter{"id": p.ID}, record(p))
	if err != nil {
		return fmt.Errorf("update patient %s: %w", p.ID, err)
	}
	*p = *updated
	return nil
}

func (r *storeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := datastore.Delete(ctx, r.store, tenancy.EntityPatient, tenancy.Filter{"id": id})
	if err != nil {
		return fmt.Errorf("delete patient %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete patient %s: %w", id, datastore.ErrNotFound)
	}
	return nil
}
