package reqctx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_PropagatesAcrossGoroutines(t *testing.T) {
	err := Run(context.Background(), func(ctx context.Context) error {
		SetTenantID(ctx, "clinic_a")

		var wg sync.WaitGroup
		got := make([]string, 8)
		for i := range got {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				time.Sleep(time.Millisecond)
				got[i], _ = TenantID(ctx)
			}(i)
		}
		wg.Wait()

		for _, id := range got {
			assert.Equal(t, "clinic_a", id)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRun_ConcurrentScopesAreIsolated(t *testing.T) {
	var wg sync.WaitGroup
	for _, tenant := range []string{"clinic_a", "clinic_b", "clinic_c"} {
		wg.Add(1)
		go func(tenant string) {
			defer wg.Done()
			_ = Run(context.Background(), func(ctx context.Context) error {
				SetTenantID(ctx, tenant)
				time.Sleep(2 * time.Millisecond)
				id, ok := TenantID(ctx)
				assert.True(t, ok)
				assert.Equal(t, tenant, id)
				return nil
			})
		}(tenant)
	}
	wg.Wait()
}

func TestRun_NestedInheritsAndOverrides(t *testing.T) {
	_ = Run(context.Background(), func(outer context.Context) error {
		SetTenantID(outer, "clinic_a")
		SetUser(outer, &User{ID: "u1", Role: "admin"})

		_ = Run(outer, func(inner context.Context) error {
			id, _ := TenantID(inner)
			assert.Equal(t, "clinic_a", id, "nested scope inherits")
			u, ok := CurrentUser(inner)
			require.True(t, ok)
			assert.Equal(t, "u1", u.ID)

			SetTenantID(inner, "clinic_b")
			id, _ = TenantID(inner)
			assert.Equal(t, "clinic_b", id)
			return nil
		})

		id, _ := TenantID(outer)
		assert.Equal(t, "clinic_a", id, "override must not leak into parent")
		return nil
	})
}

func TestRunFresh_DoesNotInherit(t *testing.T) {
	_ = Run(context.Background(), func(outer context.Context) error {
		SetTenantID(outer, "clinic_a")
		return RunFresh(outer, func(inner context.Context) error {
			_, ok := TenantID(inner)
			assert.False(t, ok)
			return nil
		})
	})
}

func TestRun_ClearsOnEveryExit(t *testing.T) {
	var captured context.Context
	sentinel := errors.New("boom")

	err := Run(context.Background(), func(ctx context.Context) error {
		captured = ctx
		SetTenantID(ctx, "clinic_a")
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	_, ok := TenantID(captured)
	assert.False(t, ok, "scope must be cleared after an error")

	func() {
		defer func() { _ = recover() }()
		_ = Run(context.Background(), func(ctx context.Context) error {
			captured = ctx
			SetTenantID(ctx, "clinic_b")
			panic("handler panic")
		})
	}()
	_, ok = TenantID(captured)
	assert.False(t, ok, "scope must be cleared after a panic")
}

func TestSetTenant_KeepsIDConsistent(t *testing.T) {
	_ = Run(context.Background(), func(ctx context.Context) error {
		SetTenant(ctx, &Tenant{ID: "clinic_a", Type: "clinic"})
		id, _ := TenantID(ctx)
		assert.Equal(t, "clinic_a", id)

		SetTenantID(ctx, "clinic_b")
		_, ok := CurrentTenant(ctx)
		assert.False(t, ok, "stale tenant record must be dropped")
		return nil
	})
}

func TestIsMultiTenantPatient(t *testing.T) {
	_ = Run(context.Background(), func(ctx context.Context) error {
		SetUser(ctx, &User{ID: "p1", Role: RolePatient})
		assert.False(t, IsMultiTenantPatient(ctx))

		SetUserTenants(ctx, []UserTenant{{ID: "clinic_a", Name: "A"}})
		assert.True(t, IsMultiTenantPatient(ctx))

		SetUser(ctx, &User{ID: "d1", Role: "doctor"})
		assert.False(t, IsMultiTenantPatient(ctx))
		return nil
	})
}

func TestHasValidTenant(t *testing.T) {
	_ = Run(context.Background(), func(ctx context.Context) error {
		assert.False(t, HasValidTenant(ctx))
		SetTenantID(ctx, "clinic_a")
		assert.True(t, HasValidTenant(ctx))
		Clear(ctx)
		assert.False(t, HasValidTenant(ctx))
		return nil
	})
}

func TestDegradedMode_TenantIDFallsBackToProcessVariable(t *testing.T) {
	DisableLegacyFallback(false)
	t.Cleanup(func() { Clear(context.Background()) })

	ctx := context.Background()
	SetTenantID(ctx, "startup_tenant")
	id, ok := TenantID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "startup_tenant", id)

	// Richer fields have no fallback.
	SetUser(ctx, &User{ID: "u1"})
	_, ok = CurrentUser(ctx)
	assert.False(t, ok)
	SetTenant(ctx, &Tenant{ID: "x"})
	_, ok = CurrentTenant(ctx)
	assert.False(t, ok)

	// A scope never sees the fallback.
	_ = Run(ctx, func(scoped context.Context) error {
		_, ok := TenantID(scoped)
		assert.False(t, ok)
		return nil
	})
}

func TestDegradedMode_Disabled(t *testing.T) {
	DisableLegacyFallback(true)
	t.Cleanup(func() { DisableLegacyFallback(false) })

	SetTenantID(context.Background(), "ignored")
	_, ok := TenantID(context.Background())
	assert.False(t, ok)
}

func TestCurrent_ReturnsCopy(t *testing.T) {
	_ = Run(context.Background(), func(ctx context.Context) error {
		SetUser(ctx, &User{ID: "u1", Tenants: []string{"a"}})
		ec, ok := Current(ctx)
		require.True(t, ok)
		ec.User.Tenants[0] = "mutated"

		u, _ := CurrentUser(ctx)
		assert.Equal(t, "a", u.Tenants[0])
		return nil
	})
}
