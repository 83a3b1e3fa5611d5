// Package reqctx carries the identity of the current logical operation
// (one inbound request or one job invocation) through context.Context.
//
// The primary path is explicit: Run binds a Scope to a derived context and
// every function that receives that context, on any goroutine, observes the
// same tenant and user. Outside a scope the tenant id falls back to a single
// process-wide variable. That fallback is a legacy shim: every use is logged
// at warn level and counted in practice_reqctx_fallback_total, and it can be
// switched off with DisableLegacyFallback. Two concurrent operations without
// a scope race on it, so repeated warnings must be treated as a bug.
package reqctx

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/clinicore/practice/internal/platform/metrics"
)

// RolePatient is the user role that may belong to several tenants at once.
const RolePatient = "patient"

// Tenant is the resolved tenant record for the current operation.
type Tenant struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	DBName string `json:"db_name,omitempty"`
}

// User is the authenticated caller.
type User struct {
	ID       string   `json:"id"`
	Role     string   `json:"role"`
	TenantID string   `json:"tenant_id"`
	Tenants  []string `json:"tenants,omitempty"`
}

// UserTenant is one entry of the tenant list of a multi-tenant user.
type UserTenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExecutionContext is a point-in-time copy of a Scope.
type ExecutionContext struct {
	TenantID    string       `json:"tenant_id,omitempty"`
	Tenant      *Tenant      `json:"tenant,omitempty"`
	User        *User        `json:"user,omitempty"`
	UserTenants []UserTenant `json:"user_tenants,omitempty"`
}

// Scope holds the mutable identity of one logical operation. It is only
// reachable through the context returned by Run.
type Scope struct {
	mu          sync.RWMutex
	tenantID    string
	tenant      *Tenant
	user        *User
	userTenants []UserTenant
}

type scopeKey struct{}

// Run executes fn with a new scope that starts as a copy of the scope active
// in ctx, if any. Writes inside fn never reach the parent scope. The scope is
// cleared when fn returns, fails or panics.
func Run(ctx context.Context, fn func(ctx context.Context) error) error {
	s := &Scope{}
	if parent := scopeFrom(ctx); parent != nil {
		s.copyFrom(parent)
	}
	return run(ctx, s, fn)
}

// RunFresh is Run without inheritance: fn starts with an empty scope.
func RunFresh(ctx context.Context, fn func(ctx context.Context) error) error {
	return run(ctx, &Scope{}, fn)
}

func run(ctx context.Context, s *Scope, fn func(ctx context.Context) error) error {
	defer s.clear()
	return fn(context.WithValue(ctx, scopeKey{}, s))
}

// InScope reports whether ctx carries a scope.
func InScope(ctx context.Context) bool {
	return scopeFrom(ctx) != nil
}

func scopeFrom(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// SetTenantID sets the active tenant id. A tenant record with a different id
// is dropped so that TenantID and Tenant never disagree.
func SetTenantID(ctx context.Context, id string) {
	s := scopeFrom(ctx)
	if s == nil {
		setLegacyTenantID(id)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenantID = id
	if s.tenant != nil && s.tenant.ID != id {
		s.tenant = nil
	}
}

// TenantID returns the active tenant id and whether one is set.
func TenantID(ctx context.Context) (string, bool) {
	s := scopeFrom(ctx)
	if s == nil {
		id := legacyTenantID()
		return id, id != ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenantID, s.tenantID != ""
}

// SetTenant stores the tenant record and aligns the tenant id with it.
// Outside a scope it is a no-op.
func SetTenant(ctx context.Context, t *Tenant) {
	s := scopeFrom(ctx)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t == nil {
		s.tenant = nil
		return
	}
	cp := *t
	s.tenant = &cp
	s.tenantID = cp.ID
}

// CurrentTenant returns a copy of the tenant record.
func CurrentTenant(ctx context.Context) (*Tenant, bool) {
	s := scopeFrom(ctx)
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tenant == nil {
		return nil, false
	}
	cp := *s.tenant
	return &cp, true
}

// SetUser stores a copy of the authenticated caller. Outside a scope it is a
// no-op.
func SetUser(ctx context.Context, u *User) {
	s := scopeFrom(ctx)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.user = nil
		return
	}
	cp := *u
	cp.Tenants = append([]string(nil), u.Tenants...)
	s.user = &cp
}

// CurrentUser returns a copy of the caller set with SetUser.
func CurrentUser(ctx context.Context) (*User, bool) {
	s := scopeFrom(ctx)
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil, false
	}
	cp := *s.user
	cp.Tenants = append([]string(nil), s.user.Tenants...)
	return &cp, true
}

// SetUserTenants stores the tenants the caller may act for.
func SetUserTenants(ctx context.Context, tenants []UserTenant) {
	s := scopeFrom(ctx)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userTenants = append([]UserTenant(nil), tenants...)
}

// UserTenants returns the list set with SetUserTenants; ok is false when it
// was never set.
func UserTenants(ctx context.Context) ([]UserTenant, bool) {
	s := scopeFrom(ctx)
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userTenants == nil {
		return nil, false
	}
	return append([]UserTenant(nil), s.userTenants...), true
}

// HasValidTenant reports whether a non-empty tenant id is resolvable.
func HasValidTenant(ctx context.Context) bool {
	id, ok := TenantID(ctx)
	return ok && id != ""
}

// IsMultiTenantPatient reports whether the caller is a patient registered
// with at least one tenant in the user-tenants list.
func IsMultiTenantPatient(ctx context.Context) bool {
	u, ok := CurrentUser(ctx)
	if !ok || u.Role != RolePatient {
		return false
	}
	tenants, _ := UserTenants(ctx)
	return len(tenants) > 0
}

// Clear resets every field of the active scope. Outside a scope it resets
// the legacy tenant id.
func Clear(ctx context.Context) {
	s := scopeFrom(ctx)
	if s == nil {
		clearLegacyTenantID()
		return
	}
	s.clear()
}

// Current returns a copy of the active scope.
func Current(ctx context.Context) (ExecutionContext, bool) {
	s := scopeFrom(ctx)
	if s == nil {
		return ExecutionContext{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ec := ExecutionContext{TenantID: s.tenantID}
	if s.tenant != nil {
		cp := *s.tenant
		ec.Tenant = &cp
	}
	if s.user != nil {
		cp := *s.user
		cp.Tenants = append([]string(nil), s.user.Tenants...)
		ec.User = &cp
	}
	ec.UserTenants = append([]UserTenant(nil), s.userTenants...)
	return ec, true
}

func (s *Scope) copyFrom(parent *Scope) {
	parent.mu.RLock()
	defer parent.mu.RUnlock()
	s.tenantID = parent.tenantID
	if parent.tenant != nil {
		cp := *parent.tenant
		s.tenant = &cp
	}
	if parent.user != nil {
		cp := *parent.user
		cp.Tenants = append([]string(nil), parent.user.Tenants...)
		s.user = &cp
	}
	s.userTenants = append([]UserTenant(nil), parent.userTenants...)
}

func (s *Scope) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenantID = ""
	s.tenant = nil
	s.user = nil
	s.userTenants = nil
}

// legacy process-wide tenant id, used only when no scope is active.
var legacy struct {
	mu       sync.Mutex
	tenantID string
	disabled bool
}

// DisableLegacyFallback turns the process-wide tenant id off. Once disabled,
// reads outside a scope return no tenant and writes are dropped.
func DisableLegacyFallback(disabled bool) {
	legacy.mu.Lock()
	defer legacy.mu.Unlock()
	legacy.disabled = disabled
	if disabled {
		legacy.tenantID = ""
	}
}

func setLegacyTenantID(id string) {
	legacy.mu.Lock()
	defer legacy.mu.Unlock()
	metrics.ContextFallbacks.WithLabelValues("set").Inc()
	if legacy.disabled {
		log.Warn().Str("tenant_id", id).Msg("reqctx: SetTenantID called outside a request scope; legacy fallback disabled, value dropped")
		return
	}
	log.Warn().Str("tenant_id", id).Msg("reqctx: SetTenantID called outside a request scope; writing process-wide fallback")
	legacy.tenantID = id
}

func legacyTenantID() string {
	legacy.mu.Lock()
	defer legacy.mu.Unlock()
	metrics.ContextFallbacks.WithLabelValues("get").Inc()
	if legacy.disabled {
		log.Warn().Msg("reqctx: TenantID read outside a request scope; legacy fallback disabled")
		return ""
	}
	log.Warn().Str("tenant_id", legacy.tenantID).Msg("reqctx: TenantID read outside a request scope; using process-wide fallback")
	return legacy.tenantID
}

func clearLegacyTenantID() {
	legacy.mu.Lock()
	defer legacy.mu.Unlock()
	metrics.ContextFallbacks.WithLabelValues("clear").Inc()
	legacy.tenantID = ""
}
