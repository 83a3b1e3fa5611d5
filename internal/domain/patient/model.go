package patient

import (
	"time"

	"github.com/google/uuid"
)

type Patient struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	TenantID   string     `db:"tenant_id" json:"tenant_id"`
	UserID     *string    `db:"user_id" json:"user_id,omitempty"`
	FirstName  string     `db:"first_name" json:"first_name"`
	LastName   string     `db:"last_name" json:"last_name"`
	DocumentID *string    `db:"document_id" json:"document_id,omitempty"`
	Email      *string    `db:"email" json:"email,omitempty"`
	Phone      *string    `db:"phone" json:"phone,omitempty"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt  *time.Time `db:"deleted_at" json:"-"`
}

type ListFilter struct {
	LastName   string
	DocumentID string
}
