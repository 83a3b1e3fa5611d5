package order

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusFulfilled Status = "fulfilled"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusFulfilled, StatusCancelled:
		return true
	}
	return false
}

// Order bills a patient for a catalog service, optionally tied to the
// appointment where it was delivered.
type Order struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	TenantID       string     `db:"tenant_id" json:"tenant_id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	ServiceID      uuid.UUID  `db:"service_id" json:"service_id"`
	AppointmentID  *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	Quantity       int        `db:"quantity" json:"quantity"`
	UnitPriceCents int64      `db:"unit_price_cents" json:"unit_price_cents"`
	TotalCents     int64      `db:"total_cents" json:"total_cents"`
	Status         Status     `db:"status" json:"status"`
	Notes          *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at" json:"-"`
}

type ListFilter struct {
	PatientID uuid.UUID
	Status    Status
}
