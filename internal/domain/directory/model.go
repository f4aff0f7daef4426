package directory

import (
	"time"

	"github.com/google/uuid"
)

const (
	ClientActive   = "ACTIVE"
	ClientInactive = "INACTIVE"
)

// Client is a patient of the clinic, owned by the account that registered it.
type Client struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	Name       string     `db:"name" json:"name"`
	Email      string     `db:"email" json:"email"`
	Phone      *string    `db:"phone" json:"phone,omitempty"`
	Document   *string    `db:"document" json:"document,omitempty"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Street     *string    `db:"street" json:"street,omitempty"`
	Number     *string    `db:"number" json:"number,omitempty"`
	Complement *string    `db:"complement" json:"complement,omitempty"`
	District   *string    `db:"district" json:"district,omitempty"`
	City       *string    `db:"city" json:"city,omitempty"`
	State      *string    `db:"state" json:"state,omitempty"`
	PostalCode *string    `db:"postal_code" json:"postal_code,omitempty"`
	Notes      *string    `db:"notes" json:"notes,omitempty"`
	Status     string     `db:"status" json:"status"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// ClientInput is the body of create and update requests. BirthDate is
// YYYY-MM-DD.
type ClientInput struct {
	UserID     *uuid.UUID `json:"user_id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Phone      *string    `json:"phone"`
	Document   *string    `json:"document"`
	BirthDate  *string    `json:"birth_date"`
	Street     *string    `json:"street"`
	Number     *string    `json:"number"`
	Complement *string    `json:"complement"`
	District   *string    `json:"district"`
	City       *string    `json:"city"`
	State      *string    `json:"state"`
	PostalCode *string    `json:"postal_code"`
	Notes      *string    `json:"notes"`
	Status     string     `json:"status"`
}

type Professional struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        *string   `db:"email" json:"email,omitempty"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	Specialty    *string   `db:"specialty" json:"specialty,omitempty"`
	Registration *string   `db:"registration" json:"registration,omitempty"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type ProfessionalInput struct {
	Name         string  `json:"name"`
	Email        *string `json:"email"`
	Phone        *string `json:"phone"`
	Specialty    *string `json:"specialty"`
	Registration *string `json:"registration"`
	Active       *bool   `json:"active"`
}

// ClientFilter narrows client listings. OwnerID restricts results to one
// account's clients.
type ClientFilter struct {
	OwnerID *uuid.UUID
	Search  string
	Status  string
}
