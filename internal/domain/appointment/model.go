package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Status values are stored as written by the front office.
type Status string

const (
	StatusPending   Status = "pendiente"
	StatusAttended  Status = "atendida"
	StatusCancelled Status = "cancelada"
	StatusMissed    Status = "no_asistida"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusAttended: true, StatusCancelled: true, StatusMissed: true,
}

func (s Status) Valid() bool { return validStatuses[s] }

// Appointment is a booked visit of a patient to a clinic.
type Appointment struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	TenantID       string     `db:"tenant_id" json:"tenant_id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	ServiceID      *uuid.UUID `db:"service_id" json:"service_id,omitempty"`
	PractitionerID *string    `db:"practitioner_id" json:"practitioner_id,omitempty"`
	StartTime      time.Time  `db:"start_time" json:"start_time"`
	EndTime        time.Time  `db:"end_time" json:"end_time"`
	Status         Status     `db:"status" json:"status"`
	Reason         *string    `db:"reason" json:"reason,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at" json:"-"`
}

// ListFilter narrows appointment listings. Zero fields are ignored.
type ListFilter struct {
	PatientID uuid.UUID
	Status    Status
	From      time.Time // start_time >= From
	To        time.Time // start_time < To
}

// StatsFilter selects the appointments counted by Stats.
type StatsFilter struct {
	TenantID string    `json:"tenant_id,omitempty"`
	From     time.Time `json:"from,omitempty"`
	To       time.Time `json:"to,omitempty"`
}

// Stats counts appointments per status. Total includes statuses that no
// named counter covers.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pendiente"`
	Attended  int `json:"atendida"`
	Cancelled int `json:"cancelada"`
	Missed    int `json:"no_asistida"`
}

// AffectedAppointment is one appointment moved to missed by a run.
type AffectedAppointment struct {
	ID       uuid.UUID `json:"id"`
	TenantID string    `json:"tenant_id"`
	EndTime  time.Time `json:"end_time"`
}

// RunResult reports one reconciliation run.
type RunResult struct {
	StartedAt            time.Time             `json:"started_at"`
	FinishedAt           time.Time             `json:"finished_at"`
	ProcessedCount       int                   `json:"processed_count"`
	AffectedAppointments []AffectedAppointment `json:"affected_appointments"`
	Skipped              bool                  `json:"skipped,omitempty"`
	Error                string                `json:"error,omitempty"`
}
