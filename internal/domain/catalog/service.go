package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/practice/internal/platform/apierr"
	"github.com/clinicore/practice/internal/platform/cache"
)

const cacheBase = "catalog"

// tenantPrefix keys catalog entries by the tenant in ctx so identical
// queries from two clinics never share an entry.
func tenantPrefix(ctx context.Context) string {
	return cache.TenantPrefix(ctx, cacheBase)
}

// invalidationPrefix ends with the separator so clinic "a" never drops the
// entries of clinic "ab".
func invalidationPrefix(ctx context.Context) string {
	return tenantPrefix(ctx) + ":"
}

// Service serves the catalog read path from cache. Writes invalidate the
// caller's catalog entries once they succeed.
type Service struct {
	repo Repository

	list   func(ctx context.Context, f ListFilter) (*Page, error)
	get    func(ctx context.Context, id uuid.UUID) (*ClinicService, error)
	create func(ctx context.Context, s *ClinicService) (*ClinicService, error)
	update func(ctx context.Context, s *ClinicService) (*ClinicService, error)
	remove func(ctx context.Context, id uuid.UUID) (struct{}, error)
}

func NewService(repo Repository, c *cache.Service, ttl time.Duration) *Service {
	s := &Service{repo: repo}
	s.list = cache.Cached(c, tenantPrefix, "list", ttl, repo.List)
	s.get = cache.Cached(c, tenantPrefix, "get", ttl, repo.GetByID)
	s.create = cache.Invalidates(c, func(ctx context.Context, cs *ClinicService) (*ClinicService, error) {
		return cs, repo.Create(ctx, cs)
	}, invalidationPrefix)
	s.update = cache.Invalidates(c, func(ctx context.Context, cs *ClinicService) (*ClinicService, error) {
		return cs, repo.Update(ctx, cs)
	}, invalidationPrefix)
	s.remove = cache.Invalidates(c, func(ctx context.Context, id uuid.UUID) (struct{}, error) {
		return struct{}{}, repo.Delete(ctx, id)
	}, invalidationPrefix)
	return s
}

func validate(cs *ClinicService) error {
	cs.Name = strings.TrimSpace(cs.Name)
	if cs.Name == "" {
		return fmt.Errorf("%w: name is required", apierr.ErrInvalid)
	}
	if cs.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration_minutes must be positive", apierr.ErrInvalid)
	}
	if cs.PriceCents < 0 {
		return fmt.Errorf("%w: price_cents cannot be negative", apierr.ErrInvalid)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, cs *ClinicService) error {
	if err := validate(cs); err != nil {
		return err
	}
	_, err := s.create(ctx, cs)
	return err
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ClinicService, error) {
	return s.get(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) (*Page, error) {
	return s.list(ctx, f)
}

func (s *Service) Update(ctx context.Context, cs *ClinicService) error {
	if err := validate(cs); err != nil {
		return err
	}
	_, err := s.update(ctx, cs)
	return err
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.remove(ctx, id)
	return err
}
