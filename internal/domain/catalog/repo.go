package catalog

import (
	"context"

	"github.com/google/uuid"
)

type ProcedureRepository interface {
	Create(ctx context.Context, p *Procedure) error
	GetByID(ctx context.Context, id uuid.UUID) (*Procedure, error)
	Update(ctx context.Context, p *Procedure) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, activeOnly bool, search string, limit, offset int) ([]*Procedure, int, error)
}

type PlanRepository interface {
	Create(ctx context.Context, p *InsurancePlan) error
	GetByID(ctx context.Context, id uuid.UUID) (*InsurancePlan, error)
	Update(ctx context.Context, p *InsurancePlan) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, activeOnly bool, search string, limit, offset int) ([]*InsurancePlan, int, error)

	// Prices
	UpsertPrice(ctx context.Context, pp *PlanPrice) error
	GetPrice(ctx context.Context, planID, procedureID uuid.UUID) (*PlanPrice, error)
	DeletePrice(ctx context.Context, planID, procedureID uuid.UUID) error
	ListPrices(ctx context.Context, planID uuid.UUID) ([]*PlanPrice, error)
}

// ReferenceGuard reports whether any appointment, cancelled or not, points at
// a procedure or plan.
type ReferenceGuard interface {
	ProcedureInUse(ctx context.Context, procedureID uuid.UUID) (bool, error)
	PlanInUse(ctx context.Context, planID uuid.UUID) (bool, error)
}
