package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicore/practice/internal/platform/apierr"
)

// ErrInvalidTransition is returned when a status change is not allowed from
// the appointment's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// allowedTransitions lists what staff may do by hand. Pending to missed is
// reserved for the reconciler.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {StatusAttended: true, StatusCancelled: true},
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", apierr.ErrInvalid)
	}
	if a.StartTime.IsZero() || a.EndTime.IsZero() {
		return fmt.Errorf("%w: start_time and end_time are required", apierr.ErrInvalid)
	}
	if !a.EndTime.After(a.StartTime) {
		return fmt.Errorf("%w: end_time must be after start_time", apierr.ErrInvalid)
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if a.Status != StatusPending {
		return fmt.Errorf("%w: new appointments must be %s", apierr.ErrInvalid, StatusPending)
	}
	return s.repo.Create(ctx, a)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", apierr.ErrInvalid, f.Status)
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) Reschedule(ctx context.Context, a *Appointment) error {
	if a.StartTime.IsZero() || a.EndTime.IsZero() || !a.EndTime.After(a.StartTime) {
		return fmt.Errorf("%w: a valid start_time and end_time are required", apierr.ErrInvalid)
	}
	current, err := s.repo.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	if current.Status != StatusPending {
		return fmt.Errorf("%w: only %s appointments can be rescheduled", ErrInvalidTransition, StatusPending)
	}
	return s.repo.Reschedule(ctx, a)
}

// UpdateStatus applies a manual status change. The write only succeeds if
// the row still holds the status it was read with.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", apierr.ErrInvalid, to)
	}
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == to {
		return current, nil
	}
	if !allowedTransitions[current.Status][to] {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, to)
	}
	changed, err := s.repo.TransitionStatus(ctx, id, current.Status, to)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition)
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
