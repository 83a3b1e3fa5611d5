package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicore/practice/internal/platform/apierr"
	"github.com/clinicore/practice/internal/platform/reqctx"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func validate(p *Patient) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("%w: first_name and last_name are required", apierr.ErrInvalid)
	}
	if p.Email != nil && !strings.Contains(*p.Email, "@") {
		return fmt.Errorf("%w: invalid email", apierr.ErrInvalid)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, p *Patient) error {
	if err := validate(p); err != nil {
		return err
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) Update(ctx context.Context, p *Patient) error {
	if err := validate(p); err != nil {
		return err
	}
	return s.repo.Update(ctx, p)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// MyTenants returns the clinics the caller belongs to. Single-tenant users
// get their current tenant only.
func (s *Service) MyTenants(ctx context.Context) []reqctx.UserTenant {
	if reqctx.IsMultiTenantPatient(ctx) {
		tenants, _ := reqctx.UserTenants(ctx)
		return tenants
	}
	if t, ok := reqctx.CurrentTenant(ctx); ok {
		return []reqctx.UserTenant{{ID: t.ID, Type: t.Type}}
	}
	if id, ok := reqctx.TenantID(ctx); ok {
		return []reqctx.UserTenant{{ID: id}}
	}
	return []reqctx.UserTenant{}
}
