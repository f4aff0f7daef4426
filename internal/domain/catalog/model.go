package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Procedure is a billable service the clinic performs.
type Procedure struct {
	ID           uuid.UUID           `db:"id" json:"id"`
	Name         string              `db:"name" json:"name"`
	Description  *string             `db:"description" json:"description,omitempty"`
	DurationMins int                 `db:"duration_mins" json:"duration_mins"`
	DefaultPrice decimal.NullDecimal `db:"default_price" json:"default_price"`
	Active       bool                `db:"active" json:"active"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time           `db:"updated_at" json:"updated_at"`
}

type ProcedureInput struct {
	Name         string           `json:"name"`
	Description  *string          `json:"description"`
	DurationMins int              `json:"duration_mins"`
	DefaultPrice *decimal.Decimal `json:"default_price"`
	Active       *bool            `json:"active"`
}

type InsurancePlan struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type PlanInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Active      *bool   `json:"active"`
}

// PlanPrice is what an insurance plan pays for one procedure.
type PlanPrice struct {
	PlanID        uuid.UUID       `db:"plan_id" json:"plan_id"`
	ProcedureID   uuid.UUID       `db:"procedure_id" json:"procedure_id"`
	ProcedureName string          `db:"procedure_name" json:"procedure_name,omitempty"`
	Price         decimal.Decimal `db:"price" json:"price"`
	Active        bool            `db:"active" json:"active"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

type PlanPriceInput struct {
	Price  *decimal.Decimal `json:"price"`
	Active *bool            `json:"active"`
}
