package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// pgFinder runs the reconciliation selection and the all-tenant statistics
// as system queries. It is read-only; every write goes through the guarded
// repository.
type pgFinder struct {
	db queryable
}

// NewFinderPG returns a Finder that reads the appointments table directly.
func NewFinderPG(pool *pgxpool.Pool) Finder {
	return &pgFinder{db: pool}
}

func (f *pgFinder) FindExpiredPending(ctx context.Context, now time.Time) ([]Candidate, error) {
	rows, err := f.db.Query(ctx, `
		SELECT id, tenant_id, end_time
		FROM appointments
		WHERE status = $1 AND end_time < $2 AND deleted_at IS NULL
		ORDER BY tenant_id, end_time`,
		string(StatusPending), now)
	if err != nil {
		return nil, fmt.Errorf("query expired appointments: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.TenantID, &c.EndTime); err != nil {
			return nil, fmt.Errorf("scan expired appointment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (f *pgFinder) CountStatuses(ctx context.Context, sf StatsFilter) (map[Status]int, int, error) {
	sql := `SELECT status, COUNT(*) FROM appointments WHERE deleted_at IS NULL`
	var args []interface{}
	if !sf.From.IsZero() {
		args = append(args, sf.From)
		sql += fmt.Sprintf(" AND start_time >= $%d", len(args))
	}
	if !sf.To.IsZero() {
		args = append(args, sf.To)
		sql += fmt.Sprintf(" AND start_time < $%d", len(args))
	}
	sql += " GROUP BY status"

	rows, err := f.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("count appointments by status: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	total := 0
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, 0, fmt.Errorf("scan status count: %w", err)
		}
		out[Status(status)] = int(n)
		total += int(n)
	}
	return out, total, rows.Err()
}
