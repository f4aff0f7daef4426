package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/apperr"
)

type Service struct {
	procedures ProcedureRepository
	plans      PlanRepository
	guard      ReferenceGuard
}

func NewService(procedures ProcedureRepository, plans PlanRepository, guard ReferenceGuard) *Service {
	return &Service{procedures: procedures, plans: plans, guard: guard}
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// money rounds to cents and rejects negative amounts.
func money(d decimal.Decimal, field string) (decimal.Decimal, error) {
	if d.IsNegative() {
		return decimal.Zero, apperr.Validation("%s cannot be negative", field)
	}
	return d.Round(2), nil
}

// -- Procedures --

func applyProcedureInput(p *Procedure, in ProcedureInput) error {
	p.Name = strings.TrimSpace(in.Name)
	if p.Name == "" {
		return apperr.Validation("name is required")
	}
	if in.DurationMins <= 0 {
		return apperr.Validation("duration_mins must be greater than zero")
	}
	p.DurationMins = in.DurationMins
	p.Description = trimmed(in.Description)
	p.DefaultPrice = decimal.NullDecimal{}
	if in.DefaultPrice != nil {
		price, err := money(*in.DefaultPrice, "default_price")
		if err != nil {
			return err
		}
		p.DefaultPrice = decimal.NewNullDecimal(price)
	}
	if in.Active != nil {
		p.Active = *in.Active
	}
	return nil
}

func (s *Service) CreateProcedure(ctx context.Context, in ProcedureInput) (*Procedure, error) {
	p := &Procedure{Active: true}
	if err := applyProcedureInput(p, in); err != nil {
		return nil, err
	}
	if err := s.procedures.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetProcedure(ctx context.Context, id uuid.UUID) (*Procedure, error) {
	return s.procedures.GetByID(ctx, id)
}

func (s *Service) ListProcedures(ctx context.Context, activeOnly bool, search string, limit, offset int) ([]*Procedure, int, error) {
	return s.procedures.List(ctx, activeOnly, search, limit, offset)
}

func (s *Service) UpdateProcedure(ctx context.Context, id uuid.UUID, in ProcedureInput) (*Procedure, error) {
	p, err := s.procedures.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyProcedureInput(p, in); err != nil {
		return nil, err
	}
	if err := s.procedures.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteProcedure removes a procedure no appointment has ever used. Its plan
// prices go with it.
func (s *Service) DeleteProcedure(ctx context.Context, id uuid.UUID) error {
	if _, err := s.procedures.GetByID(ctx, id); err != nil {
		return err
	}
	used, err := s.guard.ProcedureInUse(ctx, id)
	if err != nil {
		return err
	}
	if used {
		return apperr.Validation("cannot remove a procedure that has appointments; deactivate it instead")
	}
	return s.procedures.Delete(ctx, id)
}

// -- Insurance Plans --

func applyPlanInput(p *InsurancePlan, in PlanInput) error {
	p.Name = strings.TrimSpace(in.Name)
	if p.Name == "" {
		return apperr.Validation("name is required")
	}
	p.Description = trimmed(in.Description)
	if in.Active != nil {
		p.Active = *in.Active
	}
	return nil
}

func (s *Service) CreatePlan(ctx context.Context, in PlanInput) (*InsurancePlan, error) {
	p := &InsurancePlan{Active: true}
	if err := applyPlanInput(p, in); err != nil {
		return nil, err
	}
	if err := s.plans.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetPlan(ctx context.Context, id uuid.UUID) (*InsurancePlan, error) {
	return s.plans.GetByID(ctx, id)
}

func (s *Service) ListPlans(ctx context.Context, activeOnly bool, search string, limit, offset int) ([]*InsurancePlan, int, error) {
	return s.plans.List(ctx, activeOnly, search, limit, offset)
}

func (s *Service) UpdatePlan(ctx context.Context, id uuid.UUID, in PlanInput) (*InsurancePlan, error) {
	p, err := s.plans.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyPlanInput(p, in); err != nil {
		return nil, err
	}
	if err := s.plans.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) DeletePlan(ctx context.Context, id uuid.UUID) error {
	if _, err := s.plans.GetByID(ctx, id); err != nil {
		return err
	}
	used, err := s.guard.PlanInUse(ctx, id)
	if err != nil {
		return err
	}
	if used {
		return apperr.Validation("cannot remove an insurance plan that has appointments; deactivate it instead")
	}
	return s.plans.Delete(ctx, id)
}

// -- Plan Prices --

// SetPlanPrice creates or replaces the price a plan pays for a procedure.
func (s *Service) SetPlanPrice(ctx context.Context, planID, procedureID uuid.UUID, in PlanPriceInput) (*PlanPrice, error) {
	if in.Price == nil {
		return nil, apperr.Validation("price is required")
	}
	price, err := money(*in.Price, "price")
	if err != nil {
		return nil, err
	}
	if _, err := s.plans.GetByID(ctx, planID); err != nil {
		return nil, err
	}
	proc, err := s.procedures.GetByID(ctx, procedureID)
	if err != nil {
		return nil, err
	}
	pp := &PlanPrice{PlanID: planID, ProcedureID: procedureID, ProcedureName: proc.Name, Price: price, Active: true}
	if in.Active != nil {
		pp.Active = *in.Active
	}
	if err := s.plans.UpsertPrice(ctx, pp); err != nil {
		return nil, err
	}
	return pp, nil
}

func (s *Service) RemovePlanPrice(ctx context.Context, planID, procedureID uuid.UUID) error {
	return s.plans.DeletePrice(ctx, planID, procedureID)
}

func (s *Service) ListPlanPrices(ctx context.Context, planID uuid.UUID) ([]*PlanPrice, error) {
	if _, err := s.plans.GetByID(ctx, planID); err != nil {
		return nil, err
	}
	return s.plans.ListPrices(ctx, planID)
}

// PriceFor resolves the amount charged for a procedure: the plan's active
// price when one exists, else the procedure's default price, else zero.
func (s *Service) PriceFor(ctx context.Context, procedureID uuid.UUID, planID *uuid.UUID) (decimal.Decimal, error) {
	if planID != nil {
		pp, err := s.plans.GetPrice(ctx, *planID, procedureID)
		switch {
		case err == nil && pp.Active:
			return pp.Price, nil
		case err != nil && !apperr.Is(err, apperr.KindNotFound):
			return decimal.Zero, err
		}
	}
	proc, err := s.procedures.GetByID(ctx, procedureID)
	if err != nil {
		return decimal.Zero, err
	}
	if proc.DefaultPrice.Valid {
		return proc.DefaultPrice.Decimal, nil
	}
	return decimal.Zero, nil
}

// ActiveProcedure returns the procedure when it exists and is bookable.
func (s *Service) ActiveProcedure(ctx context.Context, id uuid.UUID) (*Procedure, error) {
	p, err := s.procedures.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, apperr.NotFound("procedure %s is inactive", id)
	}
	return p, nil
}

// ActivePlan returns the insurance plan when it exists and accepts bookings.
func (s *Service) ActivePlan(ctx context.Context, id uuid.UUID) (*InsurancePlan, error) {
	p, err := s.plans.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, apperr.NotFound("insurance plan %s is inactive", id)
	}
	return p, nil
}
