package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/practice/internal/platform/metrics"
	"github.com/clinicore/practice/internal/platform/reqctx"
)

// Candidate is a pending appointment whose end time has passed.
type Candidate struct {
	ID       uuid.UUID
	TenantID string
	EndTime  time.Time
}

// Finder runs the read-only queries that span every tenant.
type Finder interface {
	FindExpiredPending(ctx context.Context, now time.Time) ([]Candidate, error)
	// CountStatuses counts appointments per status across all tenants.
	// f.TenantID is ignored.
	CountStatuses(ctx context.Context, f StatsFilter) (map[Status]int, int, error)
}

// Reconciler moves pending appointments whose end time has passed to
// missed. Each tenant's batch runs in its own context scope and goes through
// the tenant-guarded repository; the update re-checks the pending status so
// a concurrent attended or cancelled write is never overwritten.
type Reconciler struct {
	finder Finder
	repo   Repository
	now    func() time.Time
	logger zerolog.Logger

	running sync.Mutex
}

// NewReconciler returns a reconciler that selects with finder and writes
// through repo.
func NewReconciler(finder Finder, repo Repository, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		finder: finder,
		repo:   repo,
		now:    time.Now,
		logger: logger.With().Str("component", "reconciler").Logger(),
	}
}

// SetClock replaces time.Now. Used by tests and the CLI --at flag.
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// Run executes one reconciliation pass. It never returns an error: failures
// are logged, counted and reported in RunResult.Error, and the next pass
// retries whatever is still pending. Overlapping calls are skipped.
func (r *Reconciler) Run(ctx context.Context) (result RunResult) {
	result.StartedAt = r.now()
	result.AffectedAppointments = []AffectedAppointment{}

	if !r.running.TryLock() {
		result.Skipped = true
		result.FinishedAt = r.now()
		metrics.ReconcileRuns.WithLabelValues("skipped").Inc()
		r.logger.Warn().Msg("reconciliation already running, skipping")
		return result
	}
	defer r.running.Unlock()

	defer func() {
		if p := recover(); p != nil {
			result.Error = fmt.Sprintf("panic: %v", p)
			r.logger.Error().Str("panic", fmt.Sprint(p)).Msg("reconciliation panicked")
		}
		result.FinishedAt = r.now()
		outcome := "ok"
		if result.Error != "" {
			outcome = "failed"
		}
		metrics.ReconcileRuns.WithLabelValues(outcome).Inc()
		metrics.ReconcileMissed.Add(float64(result.ProcessedCount))
	}()

	candidates, err := r.finder.FindExpiredPending(ctx, result.StartedAt)
	if err != nil {
		result.Error = fmt.Sprintf("select expired appointments: %v", err)
		r.logger.Error().Err(err).Msg("reconciliation selection failed")
		return result
	}
	if len(candidates) == 0 {
		r.logger.Debug().Msg("no expired pending appointments")
		return result
	}

	byTenant := make(map[string][]uuid.UUID)
	endTimes := make(map[uuid.UUID]time.Time, len(candidates))
	for _, c := range candidates {
		byTenant[c.TenantID] = append(byTenant[c.TenantID], c.ID)
		endTimes[c.ID] = c.EndTime
	}
	tenants := make([]string, 0, len(byTenant))
	for t := range byTenant {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)

	for _, tenantID := range tenants {
		ids := byTenant[tenantID]
		var updated []*Appointment
		err := reqctx.RunFresh(ctx, func(ctx context.Context) error {
			reqctx.SetTenantID(ctx, tenantID)
			var err error
			updated, err = r.repo.MarkMissed(ctx, ids)
			return err
		})
		if err != nil {
			r.logger.Error().Err(err).Str("tenant_id", tenantID).Int("candidates", len(ids)).
				Msg("reconciliation batch failed")
			if result.Error == "" {
				result.Error = fmt.Sprintf("tenant %s: %v", tenantID, err)
			}
			continue
		}
		for _, a := range updated {
			end := a.EndTime
			if end.IsZero() {
				end = endTimes[a.ID]
			}
			result.AffectedAppointments = append(result.AffectedAppointments, AffectedAppointment{
				ID:       a.ID,
				TenantID: tenantID,
				EndTime:  end,
			})
		}
		if skipped := len(ids) - len(updated); skipped > 0 {
			r.logger.Info().Str("tenant_id", tenantID).Int("skipped", skipped).
				Msg("appointments changed status before reconciliation, left untouched")
		}
	}

	result.ProcessedCount = len(result.AffectedAppointments)
	r.logger.Info().Int("processed", result.ProcessedCount).Int("candidates", len(candidates)).
		Msg("reconciliation finished")
	return result
}

// Start runs Run every interval until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.logger.Info().Dur("interval", interval).Msg("reconciliation scheduler started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reconciliation scheduler stopped")
			return
		case <-ticker.C:
			r.Run(ctx)
		}
	}
}

// Stats counts appointments per status. With f.TenantID set the count runs
// in a fresh scope for that tenant through the guarded repository, so
// callers must have authorized access to it. Without one it is a system
// count over every tenant.
func (r *Reconciler) Stats(ctx context.Context, f StatsFilter) (*Stats, error) {
	if f.TenantID == "" {
		counts, total, err := r.finder.CountStatuses(ctx, f)
		if err != nil {
			return nil, err
		}
		return r.tally(counts, total, "*"), nil
	}
	var out *Stats
	err := reqctx.RunFresh(ctx, func(ctx context.Context) error {
		reqctx.SetTenantID(ctx, f.TenantID)
		counts, total, err := r.repo.CountStatuses(ctx, f)
		if err != nil {
			return err
		}
		out = r.tally(counts, total, f.TenantID)
		return nil
	})
	return out, err
}

func (r *Reconciler) tally(counts map[Status]int, total int, tenant string) *Stats {
	st := &Stats{
		Total:     total,
		Pending:   counts[StatusPending],
		Attended:  counts[StatusAttended],
		Cancelled: counts[StatusCancelled],
		Missed:    counts[StatusMissed],
	}
	if unknown := total - st.Pending - st.Attended - st.Cancelled - st.Missed; unknown > 0 {
		r.logger.Warn().Int("count", unknown).Str("tenant_id", tenant).
			Msg("appointments with unrecognized status counted in total only")
	}
	return st
}
