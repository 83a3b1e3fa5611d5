// Package tenancy enforces tenant scoping on data-access operations.
//
// Every operation against the relational store is described by an Operation
// and executed by an Executor. Guard wraps an Executor so that, for entities
// whose rule requires a tenant, the operation is rewritten to carry the
// resolved tenant id before it runs, or rejected with a *ScopeViolation when
// no tenant can be resolved or two tenants conflict. The wrapped executor is
// never called for a rejected operation.
package tenancy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/clinicore/practice/internal/platform/metrics"
	"github.com/clinicore/practice/internal/platform/reqctx"
)

// TenantField is the column that carries tenant ownership.
const TenantField = "tenant_id"

// Filter selects rows. Keys are column names.
type Filter map[string]any

// Record is a row or a write payload. Keys are column names.
type Record map[string]any

// Operation is one data-access call.
type Operation struct {
	Entity  Entity
	Action  Action
	Filter  Filter
	Payload Record

	// ReadMany only.
	Limit   int
	Offset  int
	OrderBy string
	Count   bool
	// GroupBy turns a ReadMany into a count per distinct value of the
	// column: one row per value holding the column and "count", with Total
	// set to the sum. Limit, Offset and OrderBy are ignored.
	GroupBy string
}

// Result holds rows returned by the store. Affected is the number of rows
// written; Total is set for counting reads.
type Result struct {
	Rows     []Record
	Affected int64
	Total    int64
}

// Executor runs operations against a store.
type Executor interface {
	Execute(ctx context.Context, op *Operation) (*Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, op *Operation) (*Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, op *Operation) (*Result, error) {
	return f(ctx, op)
}

type guard struct {
	next   Executor
	rules  RuleTable
	logger zerolog.Logger
}

// Guard wraps next with tenant enforcement. It fails when the rule table is
// invalid, so a misconfigured process never starts serving.
func Guard(next Executor, rules RuleTable, logger zerolog.Logger) (Executor, error) {
	if next == nil {
		return nil, fmt.Errorf("tenancy: nil executor")
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	table := make(RuleTable, len(rules))
	for k, v := range rules {
		table[k] = v
	}
	return &guard{
		next:   next,
		rules:  table,
		logger: logger.With().Str("component", "tenancy").Logger(),
	}, nil
}

func (g *guard) Execute(ctx context.Context, op *Operation) (*Result, error) {
	if op == nil {
		return nil, fmt.Errorf("tenancy: nil operation")
	}
	if !op.Entity.Valid() {
		return nil, fmt.Errorf("tenancy: unknown %s", op.Entity)
	}
	scoped, err := g.enforce(ctx, op)
	if err != nil {
		metrics.TenantViolations.WithLabelValues(op.Entity.String(), op.Action.String()).Inc()
		g.logger.Warn().Err(err).
			Str("entity", op.Entity.String()).
			Str("action", op.Action.String()).
			Msg("rejected data access")
		return nil, err
	}
	return g.next.Execute(ctx, scoped)
}

// enforce returns the operation to execute: op itself when no rule applies,
// or a copy carrying the tenant id.
func (g *guard) enforce(ctx context.Context, op *Operation) (*Operation, error) {
	rule, ok := g.rules.Lookup(op.Entity)
	if !ok || !rule.Actions.Has(op.Action) || !rule.TenantIDRequired {
		return op, nil
	}

	violation := func(reason, expected, got string) error {
		return &ScopeViolation{Entity: op.Entity, Action: op.Action, Reason: reason, Expected: expected, Got: got}
	}

	var explicit string
	var err error
	if op.Action == ActionCreate {
		explicit, err = tenantValue(op.Payload)
	} else {
		explicit, err = tenantValue(op.Filter)
	}
	if err != nil {
		return nil, violation(err.Error(), "", "")
	}

	ctxTenant, _ := reqctx.TenantID(ctx)

	var tenantID string
	switch {
	case explicit != "" && ctxTenant != "" && explicit != ctxTenant:
		return nil, violation("operation names a different tenant than the caller", ctxTenant, explicit)
	case explicit != "":
		tenantID = explicit
	case ctxTenant != "":
		tenantID = ctxTenant
	default:
		return nil, violation("no tenant id resolvable", "", "")
	}

	scoped := *op
	switch op.Action {
	case ActionCreate:
		scoped.Payload = with(op.Payload, tenantID)
	default:
		if op.Action == ActionUpdate {
			moved, err := tenantValue(op.Payload)
			if err != nil {
				return nil, violation(err.Error(), "", "")
			}
			if moved != "" && moved != tenantID {
				return nil, violation("update would move the row to another tenant", tenantID, moved)
			}
		}
		scoped.Filter = with(op.Filter, tenantID)
	}
	return &scoped, nil
}

func tenantValue[M ~map[string]any](m M) (string, error) {
	v, ok := m[TenantField]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("tenant_id must be a string, got %T", v)
	}
	return s, nil
}

func with[M ~map[string]any](m M, tenantID string) M {
	out := make(M, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[TenantField] = tenantID
	return out
}
