package datastore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicore/practice/internal/platform/tenancy"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// New returns a tenant-guarded executor backed by pool.
func New(pool *pgxpool.Pool, rules tenancy.RuleTable, logger zerolog.Logger) (tenancy.Executor, error) {
	if pool == nil {
		return nil, fmt.Errorf("datastore: nil pool")
	}
	return guarded(&pgExecutor{db: pool}, rules, logger)
}

type pgExecutor struct {
	db queryable
}

func (p *pgExecutor) Execute(ctx context.Context, op *tenancy.Operation) (*tenancy.Result, error) {
	table := op.Entity.Table()
	if table == "" {
		return nil, fmt.Errorf("datastore: no table for %s", op.Entity)
	}
	switch op.Action {
	case tenancy.ActionCreate:
		return p.insert(ctx, table, op.Payload)
	case tenancy.ActionRead:
		res, err := p.selectRows(ctx, table, op.Filter, "", 1, 0)
		if err != nil {
			return nil, err
		}
		if len(res.Rows) == 0 {
			return nil, ErrNotFound
		}
		return res, nil
	case tenancy.ActionReadMany:
		if op.GroupBy != "" {
			return p.groupCount(ctx, table, op.Filter, op.GroupBy)
		}
		res, err := p.selectRows(ctx, table, op.Filter, op.OrderBy, op.Limit, op.Offset)
		if err != nil {
			return nil, err
		}
		if op.Count {
			total, err := p.count(ctx, table, op.Filter)
			if err != nil {
				return nil, err
			}
			res.Total = total
		}
		return res, nil
	case tenancy.ActionUpdate:
		return p.update(ctx, table, op.Filter, op.Payload)
	case tenancy.ActionDelete:
		return p.softDelete(ctx, table, op.Filter)
	}
	return nil, fmt.Errorf("datastore: unsupported %s", op.Action)
}

func (p *pgExecutor) insert(ctx context.Context, table string, payload tenancy.Record) (*tenancy.Result, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("datastore: empty insert into %s", table)
	}
	cols := sortedKeys(payload)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		if err := validIdent(c); err != nil {
			return nil, err
		}
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = payload[c]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	rows, err := p.collect(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return &tenancy.Result{Rows: rows, Affected: int64(len(rows))}, nil
}

func (p *pgExecutor) selectRows(ctx context.Context, table string, filter tenancy.Filter, orderBy string, limit, offset int) (*tenancy.Result, error) {
	where, args, err := whereClause(filter, 1)
	if err != nil {
		return nil, err
	}
	col, desc, err := parseOrder(orderBy)
	if err != nil {
		return nil, err
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s %s", table, where, col, dir)
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		sql += fmt.Sprintf(" OFFSET %d", offset)
	}
	rows, err := p.collect(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return &tenancy.Result{Rows: rows}, nil
}

func (p *pgExecutor) count(ctx context.Context, table string, filter tenancy.Filter) (int64, error) {
	where, args, err := whereClause(filter, 1)
	if err != nil {
		return 0, err
	}
	var total int64
	err = p.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, where), args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return total, nil
}

func (p *pgExecutor) groupCount(ctx context.Context, table string, filter tenancy.Filter, col string) (*tenancy.Result, error) {
	if err := validIdent(col); err != nil {
		return nil, err
	}
	where, args, err := whereClause(filter, 1)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("SELECT %s, COUNT(*) AS %s FROM %s WHERE %s GROUP BY %s ORDER BY %s",
		col, colCount, table, where, col, col)
	rows, err := p.collect(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("count %s by %s: %w", table, col, err)
	}
	res := &tenancy.Result{Rows: rows}
	for _, r := range rows {
		n, _ := r[colCount].(int64)
		res.Total += n
	}
	return res, nil
}

func (p *pgExecutor) update(ctx context.Context, table string, filter tenancy.Filter, patch tenancy.Record) (*tenancy.Result, error) {
	if len(patch) == 0 {
		return nil, fmt.Errorf("datastore: empty update of %s", table)
	}
	cols := sortedKeys(patch)
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols))
	for _, c := range cols {
		if err := validIdent(c); err != nil {
			return nil, err
		}
		if c == colID || c == colCreatedAt || c == colUpdatedAt {
			continue
		}
		args = append(args, patch[c])
		sets = append(sets, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	sets = append(sets, colUpdatedAt+" = NOW()")

	where, whereArgs, err := whereClause(filter, len(args)+1)
	if err != nil {
		return nil, err
	}
	args = append(args, whereArgs...)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING *", table, strings.Join(sets, ", "), where)
	rows, err := p.collect(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	return &tenancy.Result{Rows: rows, Affected: int64(len(rows))}, nil
}

func (p *pgExecutor) softDelete(ctx context.Context, table string, filter tenancy.Filter) (*tenancy.Result, error) {
	where, args, err := whereClause(filter, 1)
	if err != nil {
		return nil, err
	}
	tag, err := p.db.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET deleted_at = NOW(), updated_at = NOW() WHERE %s", table, where), args...)
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", table, err)
	}
	return &tenancy.Result{Affected: tag.RowsAffected()}, nil
}

func (p *pgExecutor) collect(ctx context.Context, sql string, args []any) ([]tenancy.Record, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	out := make([]tenancy.Record, len(maps))
	for i, m := range maps {
		out[i] = tenancy.Record(m)
	}
	return out, nil
}

// whereClause renders filter as a conjunction starting at placeholder $start.
// Soft-deleted rows are always excluded.
func whereClause(filter tenancy.Filter, start int) (string, []any, error) {
	conds := []string{colDeletedAt + " IS NULL"}
	var args []any
	n := start
	for _, col := range sortedKeys(filter) {
		if err := validIdent(col); err != nil {
			return "", nil, err
		}
		v := filter[col]
		if v == nil {
			conds = append(conds, col+" IS NULL")
			continue
		}
		if c, ok := v.(Cond); ok {
			if c.Op == OpRange {
				conds = append(conds, fmt.Sprintf("%s >= $%d AND %s < $%d", col, n, col, n+1))
				args = append(args, c.Value, c.Upper)
				n += 2
				continue
			}
			switch c.Op {
			case ">=", ">", "<=", "<":
			default:
				return "", nil, fmt.Errorf("datastore: unsupported operator %q", c.Op)
			}
			conds = append(conds, fmt.Sprintf("%s %s $%d", col, c.Op, n))
			args = append(args, c.Value)
			n++
			continue
		}
		if list, ok := listValues(v); ok {
			conds = append(conds, fmt.Sprintf("%s::text = ANY($%d::text[])", col, n))
			args = append(args, stringList(list))
			n++
			continue
		}
		conds = append(conds, fmt.Sprintf("%s = $%d", col, n))
		args = append(args, v)
		n++
	}
	return strings.Join(conds, " AND "), args, nil
}

func sortedKeys[M ~map[string]any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
