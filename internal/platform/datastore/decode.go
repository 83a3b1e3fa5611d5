package datastore

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/clinicore/practice/internal/platform/tenancy"
)

var uuidType = reflect.TypeOf(uuid.UUID{})

func uuidHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != uuidType {
		return data, nil
	}
	switch v := data.(type) {
	case uuid.UUID:
		return v, nil
	case [16]byte:
		return uuid.UUID(v), nil
	case string:
		return uuid.Parse(v)
	}
	return data, nil
}

// Decode copies a row into out, matching columns to `db` struct tags.
func Decode(row tenancy.Record, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "db",
		Result:  out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			uuidHook,
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
	})
	if err != nil {
		return fmt.Errorf("datastore: decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(row)); err != nil {
		return fmt.Errorf("datastore: decode: %w", err)
	}
	return nil
}

func decodeRows[T any](rows []tenancy.Record) ([]*T, error) {
	out := make([]*T, 0, len(rows))
	for _, r := range rows {
		var v T
		if err := Decode(r, &v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, nil
}

// Get reads one row of entity matching filter.
func Get[T any](ctx context.Context, ex tenancy.Executor, entity tenancy.Entity, filter tenancy.Filter) (*T, error) {
	res, err := ex.Execute(ctx, &tenancy.Operation{Entity: entity, Action: tenancy.ActionRead, Filter: filter})
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, ErrNotFound
	}
	var v T
	if err := Decode(res.Rows[0], &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Query describes a ReadMany call.
type Query struct {
	Filter  tenancy.Filter
	OrderBy string
	Limit   int
	Offset  int
}

// List reads a page of rows and the total number of matches.
func List[T any](ctx context.Context, ex tenancy.Executor, entity tenancy.Entity, q Query) ([]*T, int, error) {
	res, err := ex.Execute(ctx, &tenancy.Operation{
		Entity:  entity,
		Action:  tenancy.ActionReadMany,
		Filter:  q.Filter,
		OrderBy: q.OrderBy,
		Limit:   q.Limit,
		Offset:  q.Offset,
		Count:   true,
	})
	if err != nil {
		return nil, 0, err
	}
	items, err := decodeRows[T](res.Rows)
	if err != nil {
		return nil, 0, err
	}
	return items, int(res.Total), nil
}

// CountBy counts the rows matching filter per distinct value of col, in one
// read. Values are keyed by their string form; total is the sum.
func CountBy(ctx context.Context, ex tenancy.Executor, entity tenancy.Entity, filter tenancy.Filter, col string) (map[string]int, int, error) {
	res, err := ex.Execute(ctx, &tenancy.Operation{
		Entity:  entity,
		Action:  tenancy.ActionReadMany,
		Filter:  filter,
		GroupBy: col,
	})
	if err != nil {
		return nil, 0, err
	}
	out := make(map[string]int, len(res.Rows))
	for _, r := range res.Rows {
		n, ok := r[colCount].(int64)
		if !ok {
			return nil, 0, fmt.Errorf("datastore: count of %s has type %T", col, r[colCount])
		}
		out[fmt.Sprint(scalar(r[col]))] += int(n)
	}
	return out, int(res.Total), nil
}

// Insert creates a row and returns it as stored.
func Insert[T any](ctx context.Context, ex tenancy.Executor, entity tenancy.Entity, payload tenancy.Record) (*T, error) {
	res, err := ex.Execute(ctx, &tenancy.Operation{Entity: entity, Action: tenancy.ActionCreate, Payload: payload})
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, fmt.Errorf("datastore: insert into %s returned no row", entity.Table())
	}
	var v T
	if err := Decode(res.Rows[0], &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Update patches every row matching filter and returns the updated rows.
func Update[T any](ctx context.Context, ex tenancy.Executor, entity tenancy.Entity, filter tenancy.Filter, patch tenancy.Record) ([]*T, error) {
	res, err := ex.Execute(ctx, &tenancy.Operation{Entity: entity, Action: tenancy.ActionUpdate, Filter: filter, Payload: patch})
	if err != nil {
		return nil, err
	}
	return decodeRows[T](res.Rows)
}

// UpdateOne is Update for a single row; it returns ErrNotFound when nothing
// matched.
func UpdateOne[T any](ctx context.Context, ex tenancy.Executor, entity tenancy.Entity, filter tenancy.Filter, patch tenancy.Record) (*T, error) {
	items, err := Update[T](ctx, ex, entity, filter, patch)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

// Delete soft-deletes every row matching filter.
func Delete(ctx context.Context, ex tenancy.Executor, entity tenancy.Entity, filter tenancy.Filter) (int64, error) {
	res, err := ex.Execute(ctx, &tenancy.Operation{Entity: entity, Action: tenancy.ActionDelete, Filter: filter})
	if err != nil {
		return 0, err
	}
	return res.Affected, nil
}
