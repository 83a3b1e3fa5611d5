package tenancy

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/practice/internal/platform/reqctx"
)

type recordingExecutor struct {
	ops []*Operation
}

func (r *recordingExecutor) Execute(_ context.Context, op *Operation) (*Result, error) {
	r.ops = append(r.ops, op)
	return &Result{}, nil
}

func newGuard(t *testing.T) (Executor, *recordingExecutor) {
	t.Helper()
	rec := &recordingExecutor{}
	g, err := Guard(rec, DefaultRules(), zerolog.Nop())
	require.NoError(t, err)
	return g, rec
}

func allActions() []Action {
	return []Action{ActionCreate, ActionRead, ActionReadMany, ActionUpdate, ActionDelete}
}

func TestGuard_NoTenantNeverReachesStore(t *testing.T) {
	g, rec := newGuard(t)

	for _, rule := range DefaultRules() {
		if !rule.TenantIDRequired {
			continue
		}
		for _, action := range allActions() {
			if !rule.Actions.Has(action) {
				continue
			}
			err := reqctx.RunFresh(context.Background(), func(ctx context.Context) error {
				_, err := g.Execute(ctx, &Operation{Entity: rule.Entity, Action: action, Filter: Filter{"id": "x"}, Payload: Record{"name": "x"}})
				return err
			})
			var v *ScopeViolation
			require.ErrorAs(t, err, &v, "%s %s", action, rule.Entity)
			assert.Equal(t, rule.Entity, v.Entity)
			assert.Equal(t, action, v.Action)
			assert.True(t, errors.Is(err, ErrScopeViolation))
		}
	}
	assert.Empty(t, rec.ops, "rejected operations must not reach the store")
}

func TestGuard_NoScopeNoFallbackFails(t *testing.T) {
	reqctx.DisableLegacyFallback(true)
	t.Cleanup(func() { reqctx.DisableLegacyFallback(false) })

	g, rec := newGuard(t)
	_, err := g.Execute(context.Background(), &Operation{Entity: EntityPatient, Action: ActionReadMany})
	require.ErrorIs(t, err, ErrScopeViolation)
	assert.Empty(t, rec.ops)
}

func TestGuard_LegacyFallbackOutsideScope(t *testing.T) {
	reqctx.DisableLegacyFallback(false)
	reqctx.SetTenantID(context.Background(), "clinic_legacy")
	t.Cleanup(func() { reqctx.Clear(context.Background()) })

	g, rec := newGuard(t)
	_, err := g.Execute(context.Background(), &Operation{Entity: EntityPatient, Action: ActionReadMany})
	require.NoError(t, err)
	require.Len(t, rec.ops, 1)
	assert.Equal(t, "clinic_legacy", rec.ops[0].Filter[TenantField])
}

func TestGuard_CreateMergesContextTenant(t *testing.T) {
	g, rec := newGuard(t)
	payload := Record{"name": "Ana"}

	err := reqctx.Run(context.Background(), func(ctx context.Context) error {
		reqctx.SetTenantID(ctx, "clinic_a")
		_, err := g.Execute(ctx, &Operation{Entity: EntityPatient, Action: ActionCreate, Payload: payload})
		return err
	})
	require.NoError(t, err)
	require.Len(t, rec.ops, 1)
	assert.Equal(t, "clinic_a", rec.ops[0].Payload[TenantField])
	_, mutated := payload[TenantField]
	assert.False(t, mutated, "caller payload must not be mutated")
}

func TestGuard_CreateWithMismatchedTenantFails(t *testing.T) {
	g, rec := newGuard(t)

	err := reqctx.Run(context.Background(), func(ctx context.Context) error {
		reqctx.SetTenantID(ctx, "clinic_a")
		_, err := g.Execute(ctx, &Operation{Entity: EntityAppointment, Action: ActionCreate, Payload: Record{TenantField: "clinic_b"}})
		return err
	})
	var v *ScopeViolation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "clinic_a", v.Expected)
	assert.Equal(t, "clinic_b", v.Got)
	assert.Empty(t, rec.ops)
}

func TestGuard_CreateWithMatchingExplicitTenant(t *testing.T) {
	g, rec := newGuard(t)

	err := reqctx.Run(context.Background(), func(ctx context.Context) error {
		reqctx.SetTenantID(ctx, "clinic_a")
		_, err := g.Execute(ctx, &Operation{Entity: EntityOrder, Action: ActionCreate, Payload: Record{TenantField: "clinic_a"}})
		return err
	})
	require.NoError(t, err)
	require.Len(t, rec.ops, 1)
}

func TestGuard_ExplicitTenantWithoutContext(t *testing.T) {
	g, rec := newGuard(t)

	err := reqctx.RunFresh(context.Background(), func(ctx context.Context) error {
		_, err := g.Execute(ctx, &Operation{Entity: EntityAppointment, Action: ActionUpdate,
			Filter: Filter{TenantField: "clinic_a", "id": "1"}, Payload: Record{"status": "x"}})
		return err
	})
	require.NoError(t, err)
	require.Len(t, rec.ops, 1)
	assert.Equal(t, "clinic_a", rec.ops[0].Filter[TenantField])
}

func TestGuard_FilterConflictFails(t *testing.T) {
	g, rec := newGuard(t)

	for _, action := range []Action{ActionRead, ActionReadMany, ActionUpdate, ActionDelete} {
		err := reqctx.Run(context.Background(), func(ctx context.Context) error {
			reqctx.SetTenantID(ctx, "clinic_a")
			_, err := g.Execute(ctx, &Operation{Entity: EntityCatalogService, Action: action, Filter: Filter{TenantField: "clinic_b"}})
			return err
		})
		require.ErrorIs(t, err, ErrScopeViolation, action.String())
	}
	assert.Empty(t, rec.ops)
}

func TestGuard_FilterMerge(t *testing.T) {
	g, rec := newGuard(t)
	filter := Filter{"id": "abc"}

	err := reqctx.Run(context.Background(), func(ctx context.Context) error {
		reqctx.SetTenantID(ctx, "clinic_a")
		_, err := g.Execute(ctx, &Operation{Entity: EntityAppointment, Action: ActionDelete, Filter: filter})
		return err
	})
	require.NoError(t, err)
	require.Len(t, rec.ops, 1)
	assert.Equal(t, Filter{"id": "abc", TenantField: "clinic_a"}, rec.ops[0].Filter)
	assert.Len(t, filter, 1, "caller filter must not be mutated")
}

func TestGuard_UpdateCannotMoveRow(t *testing.T) {
	g, rec := newGuard(t)

	err := reqctx.Run(context.Background(), func(ctx context.Context) error {
		reqctx.SetTenantID(ctx, "clinic_a")
		_, err := g.Execute(ctx, &Operation{Entity: EntityPatient, Action: ActionUpdate,
			Filter: Filter{"id": "1"}, Payload: Record{TenantField: "clinic_b"}})
		return err
	})
	require.ErrorIs(t, err, ErrScopeViolation)
	assert.Empty(t, rec.ops)
}

func TestGuard_MalformedTenantValue(t *testing.T) {
	g, _ := newGuard(t)

	err := reqctx.Run(context.Background(), func(ctx context.Context) error {
		reqctx.SetTenantID(ctx, "clinic_a")
		_, err := g.Execute(ctx, &Operation{Entity: EntityPatient, Action: ActionRead, Filter: Filter{TenantField: 42}})
		return err
	})
	require.ErrorIs(t, err, ErrScopeViolation)
}

func TestGuard_PassThroughWithoutRule(t *testing.T) {
	g, rec := newGuard(t)

	err := reqctx.RunFresh(context.Background(), func(ctx context.Context) error {
		_, err := g.Execute(ctx, &Operation{Entity: EntityTenant, Action: ActionReadMany})
		if err != nil {
			return err
		}
		// users are not scoped on create
		_, err = g.Execute(ctx, &Operation{Entity: EntityUser, Action: ActionCreate, Payload: Record{"id": "u"}})
		return err
	})
	require.NoError(t, err)
	require.Len(t, rec.ops, 2)
	_, has := rec.ops[1].Payload[TenantField]
	assert.False(t, has)
}

func TestGuard_UnknownEntity(t *testing.T) {
	g, rec := newGuard(t)
	_, err := g.Execute(context.Background(), &Operation{Entity: Entity(99), Action: ActionRead})
	require.Error(t, err)
	assert.Empty(t, rec.ops)
}

func TestGuard_RejectsInvalidRules(t *testing.T) {
	rules := DefaultRules()
	delete(rules, EntityOrder)
	_, err := Guard(&recordingExecutor{}, rules, zerolog.Nop())
	require.Error(t, err)

	rules = DefaultRules()
	rules[EntityOrder] = Rule{Entity: EntityPatient, Actions: AllActions}
	_, err = Guard(&recordingExecutor{}, rules, zerolog.Nop())
	require.Error(t, err)

	rules = DefaultRules()
	rules[Entity(42)] = Rule{Entity: Entity(42), Actions: AllActions}
	_, err = Guard(&recordingExecutor{}, rules, zerolog.Nop())
	require.Error(t, err)

	rules = DefaultRules()
	rules[EntityOrder] = Rule{Entity: EntityOrder}
	_, err = Guard(&recordingExecutor{}, rules, zerolog.Nop())
	require.Error(t, err)

	_, err = Guard(nil, DefaultRules(), zerolog.Nop())
	require.Error(t, err)
}

func TestActionSet(t *testing.T) {
	s := Actions(ActionRead, ActionUpdate)
	assert.True(t, s.Has(ActionRead))
	assert.False(t, s.Has(ActionCreate))
	assert.Equal(t, "{read,update}", s.String())
	assert.Equal(t, "read_many", ActionReadMany.String())
	assert.Equal(t, "appointments", EntityAppointment.Table())
}
