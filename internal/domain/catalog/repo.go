package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicore/practice/internal/platform/datastore"
	"github.com/clinicore/practice/internal/platform/tenancy"
)

type Repository interface {
	Create(ctx context.Context, s *ClinicService) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicService, error)
	List(ctx context.Context, f ListFilter) (*Page, error)
	Update(ctx context.Context, s *ClinicService) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type storeRepo struct {
	store tenancy.Executor
}

func NewRepo(store tenancy.Executor) Repository {
	return &storeRepo{store: store}
}

func record(s *ClinicService) tenancy.Record {
	rec := tenancy.Record{
		"name":             s.Name,
		"duration_minutes": s.DurationMinutes,
		"price_cents":      s.PriceCents,
		"active":           s.Active,
	}
	if s.Category != nil {
		rec["category"] = *s.Category
	}
	if s.Description != nil {
		rec["description"] = *s.Description
	}
	return rec
}

func (r *storeRepo) Create(ctx context.Context, s *ClinicService) error {
	created, err := datastore.Insert[ClinicService](ctx, r.store, tenancy.EntityCatalogService, record(s))
	if err != nil {
		return fmt.Errorf("create catalog service: %w", err)
	}
	*s = *created
	return nil
}

func (r *storeRepo) GetByID(ctx context.Context, id uuid.UUID) (*ClinicService, error) {
	s, err := datastore.Get[ClinicService](ctx, r.store, tenancy.EntityCatalogService, tenancy.Filter{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get catalog service %s: %w", id, err)
	}
	return s, nil
}

func (r *storeRepo) List(ctx context.Context, f ListFilter) (*Page, error) {
	filter := tenancy.Filter{}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.ActiveOnly {
		filter["active"] = true
	}
	items, total, err := datastore.List[ClinicService](ctx, r.store, tenancy.EntityCatalogService, datastore.Query{
		Filter:  filter,
		OrderBy: "name ASC",
		Limit:   f.Limit,
		Offset:  f.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list catalog services: %w", err)
	}
	if items == nil {
		items = []*ClinicService{}
	}
	return &Page{Items: items, Total: total}, nil
}

func (r *storeRepo) Update(ctx context.Context, s *ClinicService) error {
	updated, err := datastore.UpdateOne[ClinicService](ctx, r.store, tenancy.EntityCatalogService, tenancy.Filter{"id": s.ID}, record(s))
	if err != nil {
		return fmt.Errorf("update catalog service %s: %w", s.ID, err)
	}
	*s = *updated
	return nil
}

func (r *storeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := datastore.Delete(ctx, r.store, tenancy.EntityCatalogService, tenancy.Filter{"id": id})
	if err != nil {
		return fmt.Errorf("delete catalog service %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete catalog service %s: %w", id, datastore.ErrNotFound)
	}
	return nil
}
