// Package datastore is the only path from domain code to tenant-owned rows.
//
// New and NewMemory both hand back an executor already wrapped by
// tenancy.Guard. The raw executors are unexported, so a repository cannot
// reach the database without going through tenant enforcement. The
// reconciliation job's cross-tenant selection is the one documented
// exception and runs its own read-only query on the pool.
package datastore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/practice/internal/platform/tenancy"
)

// ErrNotFound is returned by single-row reads that match nothing.
var ErrNotFound = errors.New("datastore: not found")

// Soft-delete and audit columns present on every table.
const (
	colID        = "id"
	colCreatedAt = "created_at"
	colUpdatedAt = "updated_at"
	colDeletedAt = "deleted_at"
	colCount     = "count"
)

const defaultOrder = "created_at DESC"

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Cond is a non-equality predicate on a filter column. For OpRange the
// column must satisfy Value <= col < Upper.
type Cond struct {
	Op    string
	Value any
	Upper any
}

const OpRange = "range"

func Gte(v any) Cond { return Cond{Op: ">=", Value: v} }
func Gt(v any) Cond  { return Cond{Op: ">", Value: v} }
func Lte(v any) Cond { return Cond{Op: "<=", Value: v} }
func Lt(v any) Cond  { return Cond{Op: "<", Value: v} }

// Between matches from <= col < to.
func Between(from, to any) Cond { return Cond{Op: OpRange, Value: from, Upper: to} }

func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("datastore: invalid column name %q", name)
	}
	return nil
}

// parseOrder validates an "col [ASC|DESC]" clause.
func parseOrder(orderBy string) (string, bool, error) {
	if orderBy == "" {
		orderBy = defaultOrder
	}
	parts := strings.Fields(orderBy)
	if len(parts) == 0 || len(parts) > 2 {
		return "", false, fmt.Errorf("datastore: invalid order %q", orderBy)
	}
	if err := validIdent(parts[0]); err != nil {
		return "", false, err
	}
	desc := false
	if len(parts) == 2 {
		switch strings.ToUpper(parts[1]) {
		case "ASC":
		case "DESC":
			desc = true
		default:
			return "", false, fmt.Errorf("datastore: invalid order direction %q", parts[1])
		}
	}
	return parts[0], desc, nil
}

// scalar normalizes a filter or row value for comparison and for text
// array parameters.
func scalar(v any) any {
	switch x := v.(type) {
	case uuid.UUID:
		return x.String()
	case [16]byte:
		return uuid.UUID(x).String()
	case *uuid.UUID:
		if x == nil {
			return nil
		}
		return x.String()
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}

// listValues reports whether v is a list filter and returns its elements.
func listValues(v any) ([]any, bool) {
	switch x := v.(type) {
	case []string:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	case []uuid.UUID:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	case []any:
		return x, true
	}
	return nil, false
}

func stringList(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, fmt.Sprint(scalar(v)))
	}
	return out
}

func guarded(raw tenancy.Executor, rules tenancy.RuleTable, logger zerolog.Logger) (tenancy.Executor, error) {
	ex, err := tenancy.Guard(raw, rules, logger)
	if err != nil {
		return nil, fmt.Errorf("datastore: %w", err)
	}
	return ex, nil
}
