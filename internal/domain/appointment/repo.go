package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/practice/internal/platform/datastore"
	"github.com/clinicore/practice/internal/platform/tenancy"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
	Reschedule(ctx context.Context, a *Appointment) error
	// TransitionStatus moves id from one status to another only if the row
	// still has status from. It reports whether a row was changed.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
	// MarkMissed moves exactly ids that are still pending to missed and
	// returns the rows it changed.
	MarkMissed(ctx context.Context, ids []uuid.UUID) ([]*Appointment, error)
	// CountStatuses counts the caller tenant's appointments per status in
	// one read and returns the total alongside.
	CountStatuses(ctx context.Context, f StatsFilter) (map[Status]int, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type storeRepo struct {
	store tenancy.Executor
}

// NewRepo returns a Repository over a tenant-guarded executor.
func NewRepo(store tenancy.Executor) Repository {
	return &storeRepo{store: store}
}

func (r *storeRepo) Create(ctx context.Context, a *Appointment) error {
	payload := tenancy.Record{
		"patient_id": a.PatientID,
		"start_time": a.StartTime,
		"end_time":   a.EndTime,
		"status":     string(a.Status),
	}
	if a.TenantID != "" {
		payload["tenant_id"] = a.TenantID
	}
	if a.ServiceID != nil {
		payload["service_id"] = *a.ServiceID
	}
	if a.PractitionerID != nil {
		payload["practitioner_id"] = *a.PractitionerID
	}
	if a.Reason != nil {
		payload["reason"] = *a.Reason
	}
	created, err := datastore.Insert[Appointment](ctx, r.store, tenancy.EntityAppointment, payload)
	if err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	*a = *created
	return nil
}

func (r *storeRepo) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := datastore.Get[Appointment](ctx, r.store, tenancy.EntityAppointment, tenancy.Filter{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	return a, nil
}

func (r *storeRepo) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	filter := tenancy.Filter{}
	if f.PatientID != uuid.Nil {
		filter["patient_id"] = f.PatientID
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	addRange(filter, "start_time", f.From, f.To)
	items, total, err := datastore.List[Appointment](ctx, r.store, tenancy.EntityAppointment, datastore.Query{
		Filter:  filter,
		OrderBy: "start_time DESC",
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	return items, total, nil
}

func (r *storeRepo) Reschedule(ctx context.Context, a *Appointment) error {
	patch := tenancy.Record{
		"start_time": a.StartTime,
		"end_time":   a.EndTime,
	}
	if a.Reason != nil {
		patch["reason"] = *a.Reason
	}
	if a.PractitionerID != nil {
		patch["practitioner_id"] = *a.PractitionerID
	}
	updated, err := datastore.UpdateOne[Appointment](ctx, r.store, tenancy.EntityAppointment, tenancy.Filter{"id": a.ID}, patch)
	if err != nil {
		return fmt.Errorf("reschedule appointment %s: %w", a.ID, err)
	}
	*a = *updated
	return nil
}

func (r *storeRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	rows, err := datastore.Update[Appointment](ctx, r.store, tenancy.EntityAppointment,
		tenancy.Filter{"id": id, "status": string(from)},
		tenancy.Record{"status": string(to)})
	if err != nil {
		return false, fmt.Errorf("transition appointment %s: %w", id, err)
	}
	return len(rows) > 0, nil
}

func (r *storeRepo) MarkMissed(ctx context.Context, ids []uuid.UUID) ([]*Appointment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := datastore.Update[Appointment](ctx, r.store, tenancy.EntityAppointment,
		tenancy.Filter{"id": ids, "status": string(StatusPending)},
		tenancy.Record{"status": string(StatusMissed)})
	if err != nil {
		return nil, fmt.Errorf("mark appointments missed: %w", err)
	}
	return rows, nil
}

func (r *storeRepo) CountStatuses(ctx context.Context, f StatsFilter) (map[Status]int, int, error) {
	filter := tenancy.Filter{}
	if f.TenantID != "" {
		filter[tenancy.TenantField] = f.TenantID
	}
	addRange(filter, "start_time", f.From, f.To)
	counts, total, err := datastore.CountBy(ctx, r.store, tenancy.EntityAppointment, filter, "status")
	if err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	out := make(map[Status]int, len(counts))
	for s, n := range counts {
		out[Status(s)] = n
	}
	return out, total, nil
}

func (r *storeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := datastore.Delete(ctx, r.store, tenancy.EntityAppointment, tenancy.Filter{"id": id})
	if err != nil {
		return fmt.Errorf("delete appointment %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete appointment %s: %w", id, datastore.ErrNotFound)
	}
	return nil
}

// addRange filters col to [from, to). A zero bound is open.
func addRange(filter tenancy.Filter, col string, from, to time.Time) {
	switch {
	case !from.IsZero() && !to.IsZero():
		filter[col] = datastore.Between(from, to)
	case !from.IsZero():
		filter[col] = datastore.Gte(from)
	case !to.IsZero():
		filter[col] = datastore.Lt(to)
	}
}
