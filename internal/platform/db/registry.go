package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/clinicore/practice/internal/platform/apierr"
	"github.com/clinicore/practice/internal/platform/cache"
	"github.com/clinicore/practice/internal/platform/datastore"
	"github.com/clinicore/practice/internal/platform/reqctx"
	"github.com/clinicore/practice/internal/platform/tenancy"
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidTenantID reports whether id is an acceptable tenant identifier.
func ValidTenantID(id string) bool {
	return len(id) <= 63 && tenantIDPattern.MatchString(id)
}

// TenantRecord is one row of the tenants table.
type TenantRecord struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Type      string    `db:"type" json:"type"`
	DBName    *string   `db:"db_name" json:"db_name,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Scope converts the record to the shape stored in the request scope.
func (t *TenantRecord) Scope() *reqctx.Tenant {
	out := &reqctx.Tenant{ID: t.ID, Type: t.Type}
	if t.DBName != nil {
		out.DBName = *t.DBName
	}
	return out
}

// NewTenant is the input of Registry.Create. The zero value of Disabled
// provisions an active tenant.
type NewTenant struct {
	ID       string
	Name     string
	Type     string
	DBName   *string
	Disabled bool
}

const registryPrefix = "tenants"

// Registry resolves tenant records. Lookups are cached; creating a tenant
// drops the cached entries.
type Registry struct {
	store tenancy.Executor

	get    func(ctx context.Context, id string) (*TenantRecord, error)
	lookup func(ctx context.Context, ids []string) ([]TenantRecord, error)
	create func(ctx context.Context, t NewTenant) (*TenantRecord, error)
}

// NewRegistry returns a registry over the tenants entity of store, caching
// reads for ttl in c.
func NewRegistry(store tenancy.Executor, c *cache.Service, ttl time.Duration) *Registry {
	r := &Registry{store: store}
	prefix := cache.StaticPrefix(registryPrefix)
	r.get = cache.Cached(c, prefix, "get", ttl, r.fetch)
	r.lookup = cache.Cached(c, prefix, "lookup", ttl, r.fetchMany)
	r.create = cache.Invalidates(c, r.insert, cache.StaticPrefix(registryPrefix+":"))
	return r
}

func (r *Registry) fetch(ctx context.Context, id string) (*TenantRecord, error) {
	t, err := datastore.Get[TenantRecord](ctx, r.store, tenancy.EntityTenant, tenancy.Filter{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", id, err)
	}
	return t, nil
}

func (r *Registry) fetchMany(ctx context.Context, ids []string) ([]TenantRecord, error) {
	if len(ids) == 0 {
		return []TenantRecord{}, nil
	}
	items, _, err := datastore.List[TenantRecord](ctx, r.store, tenancy.EntityTenant, datastore.Query{
		Filter:  tenancy.Filter{"id": ids, "active": true},
		OrderBy: "name ASC",
	})
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	out := make([]TenantRecord, 0, len(items))
	for _, t := range items {
		out = append(out, *t)
	}
	return out, nil
}

func (r *Registry) insert(ctx context.Context, t NewTenant) (*TenantRecord, error) {
	rec := tenancy.Record{
		"id":     t.ID,
		"name":   t.Name,
		"type":   t.Type,
		"active": !t.Disabled,
	}
	if t.DBName != nil {
		rec["db_name"] = *t.DBName
	}
	created, err := datastore.Insert[TenantRecord](ctx, r.store, tenancy.EntityTenant, rec)
	if err != nil {
		return nil, fmt.Errorf("create tenant %s: %w", t.ID, err)
	}
	return created, nil
}

// Get returns the tenant with the given id, or an error matching
// datastore.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*TenantRecord, error) {
	return r.get(ctx, id)
}

// Lookup returns the active tenants among ids, ordered by name. Unknown ids
// are skipped.
func (r *Registry) Lookup(ctx context.Context, ids []string) ([]TenantRecord, error) {
	return r.lookup(ctx, ids)
}

// Create registers a new tenant. It is active unless t.Disabled is set.
func (r *Registry) Create(ctx context.Context, t NewTenant) (*TenantRecord, error) {
	t.ID = strings.TrimSpace(t.ID)
	t.Name = strings.TrimSpace(t.Name)
	if !ValidTenantID(t.ID) {
		return nil, fmt.Errorf("%w: invalid tenant identifier %q", apierr.ErrInvalid, t.ID)
	}
	if t.Name == "" {
		return nil, fmt.Errorf("%w: tenant name is required", apierr.ErrInvalid)
	}
	if t.Type == "" {
		t.Type = "clinic"
	}
	if _, err := r.fetch(ctx, t.ID); err == nil {
		return nil, fmt.Errorf("%w: tenant %s already exists", apierr.ErrInvalid, t.ID)
	} else if !errors.Is(err, datastore.ErrNotFound) {
		return nil, err
	}
	return r.create(ctx, t)
}
