package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/catalog"
	"github.com/clinic/clinic/internal/domain/directory"
	"github.com/clinic/clinic/internal/platform/apperr"
)

// catalogLookup is the part of catalog.Service booking needs.
type catalogLookup interface {
	ActiveProcedure(ctx context.Context, id uuid.UUID) (*catalog.Procedure, error)
	ActivePlan(ctx context.Context, id uuid.UUID) (*catalog.InsurancePlan, error)
	PriceFor(ctx context.Context, procedureID uuid.UUID, planID *uuid.UUID) (decimal.Decimal, error)
}

// bookingRefs implements scheduling.References over the directory and
// catalog stores.
type bookingRefs struct {
	clients       directory.ClientRepository
	professionals directory.ProfessionalRepository
	catalog       catalogLookup
}

func (r *bookingRefs) ClientOwner(ctx context.Context, clientID uuid.UUID) (uuid.UUID, error) {
	c, err := r.clients.GetByID(ctx, clientID)
	if err != nil {
		return uuid.Nil, err
	}
	return c.UserID, nil
}

func (r *bookingRefs) ActiveProfessional(ctx context.Context, id uuid.UUID) error {
	p, err := r.professionals.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !p.Active {
		return apperr.NotFound("professional not found")
	}
	return nil
}

func (r *bookingRefs) ActiveProcedure(ctx context.Context, id uuid.UUID) error {
	_, err := r.catalog.ActiveProcedure(ctx, id)
	return err
}

func (r *bookingRefs) ActivePlan(ctx context.Context, id uuid.UUID) error {
	_, err := r.catalog.ActivePlan(ctx, id)
	return err
}

func (r *bookingRefs) PriceFor(ctx context.Context, procedureID uuid.UUID, planID *uuid.UUID) (decimal.Decimal, error) {
	return r.catalog.PriceFor(ctx, procedureID, planID)
}
