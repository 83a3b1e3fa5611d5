package catalog

import (
	"time"

	"github.com/google/uuid"
)

// ClinicService is one service a clinic offers, such as a consultation
// type or a procedure that appointments can reference.
type ClinicService struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	TenantID        string     `db:"tenant_id" json:"tenant_id"`
	Name            string     `db:"name" json:"name"`
	Category        *string    `db:"category" json:"category,omitempty"`
	Description     *string    `db:"description" json:"description,omitempty"`
	DurationMinutes int        `db:"duration_minutes" json:"duration_minutes"`
	PriceCents      int64      `db:"price_cents" json:"price_cents"`
	Active          bool       `db:"active" json:"active"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt       *time.Time `db:"deleted_at" json:"-"`
}

type ListFilter struct {
	Category   string `json:"category,omitempty"`
	ActiveOnly bool   `json:"active_only,omitempty"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}

// Page is a cached listing result.
type Page struct {
	Items []*ClinicService `json:"items"`
	Total int              `json:"total"`
}
