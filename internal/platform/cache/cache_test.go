package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/practice/internal/platform/reqctx"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T, opts ...Option) (*Service, *MemoryBackend, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	backend := NewMemoryBackend(0)
	t.Cleanup(func() { _ = backend.Close() })
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(backend, zerolog.Nop(), opts...), backend, clock
}

func TestGenerateKey_CanonicalizesArguments(t *testing.T) {
	a := GenerateKey("catalog:clinic_a", "list", map[string]any{"category": "lab", "active": true, "page": 2})
	b := GenerateKey("catalog:clinic_a", "list", map[string]any{"page": 2, "active": true, "category": "lab"})
	assert.Equal(t, a, b)

	type filter struct {
		Category string `json:"category"`
		Active   bool   `json:"active"`
		Page     int    `json:"page"`
	}
	c := GenerateKey("catalog:clinic_a", "list", filter{Category: "lab", Active: true, Page: 2})
	assert.Equal(t, a, c, "struct and map with the same fields share a key")

	assert.NotEqual(t, a, GenerateKey("catalog:clinic_a", "list", map[string]any{"category": "img"}))
	assert.NotEqual(t, a, GenerateKey("catalog:clinic_b", "list", map[string]any{"category": "lab", "active": true, "page": 2}))
	assert.True(t, strings.HasPrefix(a, "catalog:clinic_a:list:"))
}

func TestGenerateKey_LargeIntegersStayDistinct(t *testing.T) {
	assert.NotEqual(t,
		GenerateKey("p", "op", int64(9007199254740993)),
		GenerateKey("p", "op", int64(9007199254740992)))
}

func TestGetOrSet_ComputesOncePerTTLWindow(t *testing.T) {
	svc, _, clock := newService(t)
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) ([]string, error) {
		calls++
		return []string{"consulta", "ecografia"}, nil
	}

	v, err := GetOrSet(ctx, svc, "k", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, []string{"consulta", "ecografia"}, v)

	clock.Advance(30 * time.Second)
	v, err = GetOrSet(ctx, svc, "k", time.Minute, compute)
	require.NoError(t, err)
	assert.Len(t, v, 2)
	assert.Equal(t, 1, calls)

	clock.Advance(31 * time.Second)
	_, err = GetOrSet(ctx, svc, "k", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "expired entry is recomputed")
}

func TestGetOrSet_ErrorsPropagateAndAreNotCached(t *testing.T) {
	svc, backend, _ := newService(t)
	ctx := context.Background()
	sentinel := errors.New("db down")

	_, err := GetOrSet(ctx, svc, "k", time.Minute, func(context.Context) (int, error) {
		return 0, sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Zero(t, backend.Len())

	v, err := GetOrSet(ctx, svc, "k", time.Minute, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestGetOrSet_DefaultTTL(t *testing.T) {
	svc, _, clock := newService(t, WithDefaultTTL(10*time.Second))
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) (int, error) { calls++; return calls, nil }

	_, _ = GetOrSet(ctx, svc, "k", 0, compute)
	clock.Advance(9 * time.Second)
	_, _ = GetOrSet(ctx, svc, "k", 0, compute)
	assert.Equal(t, 1, calls)
	clock.Advance(2 * time.Second)
	_, _ = GetOrSet(ctx, svc, "k", 0, compute)
	assert.Equal(t, 2, calls)
}

func TestInvalidateByPrefix(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	calls := map[string]int{}
	compute := func(key string) func(context.Context) (string, error) {
		return func(context.Context) (string, error) {
			calls[key]++
			return key, nil
		}
	}

	for _, k := range []string{"cat_x:list:1", "cat_x:get:2", "cat_y:list:1"} {
		_, err := GetOrSet(ctx, svc, k, time.Minute, compute(k))
		require.NoError(t, err)
	}

	n, err := svc.InvalidateByPrefix(ctx, "cat_x")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, k := range []string{"cat_x:list:1", "cat_x:get:2", "cat_y:list:1"} {
		_, err := GetOrSet(ctx, svc, k, time.Minute, compute(k))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls["cat_x:list:1"])
	assert.Equal(t, 2, calls["cat_x:get:2"])
	assert.Equal(t, 1, calls["cat_y:list:1"], "other prefixes survive")

	_, err = svc.InvalidateByPrefix(ctx, "")
	assert.Error(t, err)
}

func TestSingleFlight_CoalescesConcurrentMisses(t *testing.T) {
	svc, _, _ := newService(t, WithSingleFlight(true))
	ctx := context.Background()
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := GetOrSet(ctx, svc, "hot", time.Minute, func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

type failingBackend struct{ Backend }

func (failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func TestGetOrSet_BackendFailureDegradesToCompute(t *testing.T) {
	svc := New(failingBackend{}, zerolog.Nop())
	v, err := GetOrSet(context.Background(), svc, "k", time.Minute, func(context.Context) (string, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestCached_TenantPrefixIsolatesTenants(t *testing.T) {
	svc, _, _ := newService(t)
	calls := map[string]int{}
	list := Cached(svc, func(ctx context.Context) string { return TenantPrefix(ctx, "catalog") }, "list", time.Minute,
		func(ctx context.Context, category string) (string, error) {
			tenant, _ := reqctx.TenantID(ctx)
			calls[tenant]++
			return tenant + "/" + category, nil
		})

	for _, tenant := range []string{"clinic_a", "clinic_b", "clinic_a"} {
		require.NoError(t, reqctx.Run(context.Background(), func(ctx context.Context) error {
			reqctx.SetTenantID(ctx, tenant)
			v, err := list(ctx, "lab")
			require.NoError(t, err)
			assert.Equal(t, tenant+"/lab", v)
			return nil
		}))
	}
	assert.Equal(t, 1, calls["clinic_a"])
	assert.Equal(t, 1, calls["clinic_b"])
}

func TestInvalidates_OnlyAfterSuccess(t *testing.T) {
	svc, backend, _ := newService(t)
	ctx := context.Background()
	_, err := GetOrSet(ctx, svc, "cat_x:list:1", time.Minute, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	sentinel := errors.New("constraint violation")
	failing := Invalidates(svc, func(context.Context, string) (int, error) { return 0, sentinel }, StaticPrefix("cat_x"))
	_, err = failing(ctx, "x")
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, backend.Len(), "failed write must not invalidate")

	ok := Invalidates(svc, func(context.Context, string) (int, error) { return 1, nil }, StaticPrefix("cat_x"))
	_, err = ok(ctx, "x")
	require.NoError(t, err)
	assert.Zero(t, backend.Len())
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `catalog:a\*b\?\[c\]`, escapeGlob("catalog:a*b?[c]"))
}
