package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/practice/internal/platform/tenancy"
)

// Memory is a guarded in-memory store for tests and local development. It
// applies the same filter, ordering and soft-delete rules as the Postgres
// executor.
type Memory struct {
	tenancy.Executor
	raw *memoryExecutor
}

// NewMemory returns an empty guarded in-memory store.
func NewMemory(rules tenancy.RuleTable, logger zerolog.Logger) (*Memory, error) {
	raw := &memoryExecutor{tables: make(map[tenancy.Entity][]tenancy.Record), now: time.Now}
	ex, err := guarded(raw, rules, logger)
	if err != nil {
		return nil, err
	}
	return &Memory{Executor: ex, raw: raw}, nil
}

// SetClock replaces the timestamp source used for created_at, updated_at
// and deleted_at.
func (m *Memory) SetClock(now func() time.Time) {
	m.raw.mu.Lock()
	defer m.raw.mu.Unlock()
	m.raw.now = now
}

// Rows returns a copy of every stored row of entity, soft-deleted ones
// included. It bypasses tenant enforcement and exists for assertions.
func (m *Memory) Rows(entity tenancy.Entity) []tenancy.Record {
	m.raw.mu.Lock()
	defer m.raw.mu.Unlock()
	out := make([]tenancy.Record, 0, len(m.raw.tables[entity]))
	for _, r := range m.raw.tables[entity] {
		out = append(out, copyRecord(r))
	}
	return out
}

type memoryExecutor struct {
	mu     sync.Mutex
	tables map[tenancy.Entity][]tenancy.Record
	now    func() time.Time
}

func (m *memoryExecutor) Execute(_ context.Context, op *tenancy.Operation) (*tenancy.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for col := range op.Filter {
		if err := validIdent(col); err != nil {
			return nil, err
		}
	}
	for col := range op.Payload {
		if err := validIdent(col); err != nil {
			return nil, err
		}
	}

	switch op.Action {
	case tenancy.ActionCreate:
		if len(op.Payload) == 0 {
			return nil, fmt.Errorf("datastore: empty insert into %s", op.Entity.Table())
		}
		now := m.now()
		row := copyRecord(op.Payload)
		if _, ok := row[colID]; !ok {
			row[colID] = uuid.New()
		}
		row[colCreatedAt] = now
		row[colUpdatedAt] = now
		row[colDeletedAt] = nil
		m.tables[op.Entity] = append(m.tables[op.Entity], row)
		return &tenancy.Result{Rows: []tenancy.Record{copyRecord(row)}, Affected: 1}, nil

	case tenancy.ActionRead:
		matched, err := m.match(op.Entity, op.Filter)
		if err != nil {
			return nil, err
		}
		if len(matched) == 0 {
			return nil, ErrNotFound
		}
		sortRows(matched, colCreatedAt, true)
		return &tenancy.Result{Rows: []tenancy.Record{copyRecord(matched[0])}}, nil

	case tenancy.ActionReadMany:
		matched, err := m.match(op.Entity, op.Filter)
		if err != nil {
			return nil, err
		}
		if op.GroupBy != "" {
			return groupCount(matched, op.GroupBy)
		}
		col, desc, err := parseOrder(op.OrderBy)
		if err != nil {
			return nil, err
		}
		sortRows(matched, col, desc)
		total := int64(len(matched))
		if op.Offset > 0 {
			if op.Offset >= len(matched) {
				matched = nil
			} else {
				matched = matched[op.Offset:]
			}
		}
		if op.Limit > 0 && len(matched) > op.Limit {
			matched = matched[:op.Limit]
		}
		res := &tenancy.Result{Rows: make([]tenancy.Record, len(matched))}
		for i, r := range matched {
			res.Rows[i] = copyRecord(r)
		}
		if op.Count {
			res.Total = total
		}
		return res, nil

	case tenancy.ActionUpdate:
		if len(op.Payload) == 0 {
			return nil, fmt.Errorf("datastore: empty update of %s", op.Entity.Table())
		}
		matched, err := m.match(op.Entity, op.Filter)
		if err != nil {
			return nil, err
		}
		now := m.now()
		res := &tenancy.Result{}
		for _, r := range matched {
			for k, v := range op.Payload {
				if k == colID || k == colCreatedAt || k == colUpdatedAt {
					continue
				}
				r[k] = v
			}
			r[colUpdatedAt] = now
			res.Rows = append(res.Rows, copyRecord(r))
		}
		res.Affected = int64(len(matched))
		return res, nil

	case tenancy.ActionDelete:
		matched, err := m.match(op.Entity, op.Filter)
		if err != nil {
			return nil, err
		}
		now := m.now()
		for _, r := range matched {
			r[colDeletedAt] = now
			r[colUpdatedAt] = now
		}
		return &tenancy.Result{Affected: int64(len(matched))}, nil
	}
	return nil, fmt.Errorf("datastore: unsupported %s", op.Action)
}

func groupCount(rows []tenancy.Record, col string) (*tenancy.Result, error) {
	if err := validIdent(col); err != nil {
		return nil, err
	}
	counts := make(map[any]int64)
	var order []any
	for _, r := range rows {
		v := scalar(r[col])
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		cmp, ok := compare(order[i], order[j])
		return ok && cmp < 0
	})
	res := &tenancy.Result{Rows: make([]tenancy.Record, 0, len(order))}
	for _, v := range order {
		res.Rows = append(res.Rows, tenancy.Record{col: v, colCount: counts[v]})
		res.Total += counts[v]
	}
	return res, nil
}

// match returns live rows of entity satisfying filter. Callers hold m.mu.
func (m *memoryExecutor) match(entity tenancy.Entity, filter tenancy.Filter) ([]tenancy.Record, error) {
	var out []tenancy.Record
	for _, r := range m.tables[entity] {
		if r[colDeletedAt] != nil {
			continue
		}
		ok, err := matches(r, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func matches(row tenancy.Record, filter tenancy.Filter) (bool, error) {
	for col, want := range filter {
		got := scalar(row[col])
		if want == nil {
			if got != nil {
				return false, nil
			}
			continue
		}
		if c, ok := want.(Cond); ok {
			cmp, ok := compare(got, scalar(c.Value))
			if !ok {
				return false, nil
			}
			var pass bool
			switch c.Op {
			case OpRange:
				upper, ok := compare(got, scalar(c.Upper))
				pass = ok && cmp >= 0 && upper < 0
			case ">=":
				pass = cmp >= 0
			case ">":
				pass = cmp > 0
			case "<=":
				pass = cmp <= 0
			case "<":
				pass = cmp < 0
			default:
				return false, fmt.Errorf("datastore: unsupported operator %q", c.Op)
			}
			if !pass {
				return false, nil
			}
			continue
		}
		if list, ok := listValues(want); ok {
			found := false
			for _, v := range list {
				if cmp, ok := compare(got, scalar(v)); ok && cmp == 0 {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
			continue
		}
		if cmp, ok := compare(got, scalar(want)); !ok || cmp != 0 {
			return false, nil
		}
	}
	return true, nil
}

// compare orders two normalized values of the same kind.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case bool:
		y, ok := b.(bool)
		if !ok || x != y {
			return 1, ok
		}
		return 0, true
	}
	xf, ok1 := number(a)
	yf, ok2 := number(b)
	if !ok1 || !ok2 {
		return 0, false
	}
	switch {
	case xf < yf:
		return -1, true
	case xf > yf:
		return 1, true
	}
	return 0, true
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func sortRows(rows []tenancy.Record, col string, desc bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		cmp, ok := compare(scalar(rows[i][col]), scalar(rows[j][col]))
		if !ok {
			return false
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

func copyRecord(r tenancy.Record) tenancy.Record {
	out := make(tenancy.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
