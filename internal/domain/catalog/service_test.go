package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/apperr"
)

// -- Mock Repositories --

type mockProcedureRepo struct {
	store map[uuid.UUID]*Procedure
}

func newMockProcedureRepo() *mockProcedureRepo {
	return &mockProcedureRepo{store: make(map[uuid.UUID]*Procedure)}
}

func (m *mockProcedureRepo) Create(_ context.Context, p *Procedure) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockProcedureRepo) GetByID(_ context.Context, id uuid.UUID) (*Procedure, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("procedure not found")
	}
	cp := *p
	return &cp, nil
}

func (m *mockProcedureRepo) Update(_ context.Context, p *Procedure) error {
	if _, ok := m.store[p.ID]; !ok {
		return apperr.NotFound("procedure not found")
	}
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockProcedureRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return apperr.NotFound("procedure not found")
	}
	delete(m.store, id)
	return nil
}

func (m *mockProcedureRepo) List(_ context.Context, activeOnly bool, _ string, _, _ int) ([]*Procedure, int, error) {
	var out []*Procedure
	for _, p := range m.store {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

type priceKey struct{ plan, proc uuid.UUID }

type mockPlanRepo struct {
	store  map[uuid.UUID]*InsurancePlan
	prices map[priceKey]*PlanPrice
}

func newMockPlanRepo() *mockPlanRepo {
	return &mockPlanRepo{store: make(map[uuid.UUID]*InsurancePlan), prices: make(map[priceKey]*PlanPrice)}
}

func (m *mockPlanRepo) Create(_ context.Context, p *InsurancePlan) error {
	for _, existing := range m.store {
		if existing.Name == p.Name {
			return apperr.Validation("an insurance plan named %q already exists", p.Name)
		}
	}
	p.ID = uuid.New()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockPlanRepo) GetByID(_ context.Context, id uuid.UUID) (*InsurancePlan, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("insurance plan not found")
	}
	cp := *p
	return &cp, nil
}

func (m *mockPlanRepo) Update(_ context.Context, p *InsurancePlan) error {
	if _, ok := m.store[p.ID]; !ok {
		return apperr.NotFound("insurance plan not found")
	}
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockPlanRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return apperr.NotFound("insurance plan not found")
	}
	delete(m.store, id)
	for k := range m.prices {
		if k.plan == id {
			delete(m.prices, k)
		}
	}
	return nil
}

func (m *mockPlanRepo) List(_ context.Context, activeOnly bool, _ string, _, _ int) ([]*InsurancePlan, int, error) {
	var out []*InsurancePlan
	for _, p := range m.store {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func (m *mockPlanRepo) UpsertPrice(_ context.Context, pp *PlanPrice) error {
	pp.UpdatedAt = time.Now()
	cp := *pp
	m.prices[priceKey{pp.PlanID, pp.ProcedureID}] = &cp
	return nil
}

func (m *mockPlanRepo) GetPrice(_ context.Context, planID, procedureID uuid.UUID) (*PlanPrice, error) {
	pp, ok := m.prices[priceKey{planID, procedureID}]
	if !ok {
		return nil, apperr.NotFound("plan price not found")
	}
	cp := *pp
	return &cp, nil
}

func (m *mockPlanRepo) DeletePrice(_ context.Context, planID, procedureID uuid.UUID) error {
	k := priceKey{planID, procedureID}
	if _, ok := m.prices[k]; !ok {
		return apperr.NotFound("plan price not found")
	}
	delete(m.prices, k)
	return nil
}

func (m *mockPlanRepo) ListPrices(_ context.Context, planID uuid.UUID) ([]*PlanPrice, error) {
	var out []*PlanPrice
	for k, pp := range m.prices {
		if k.plan == planID {
			out = append(out, pp)
		}
	}
	return out, nil
}

type mockGuard struct {
	procedures map[uuid.UUID]bool
	plans      map[uuid.UUID]bool
}

func (g *mockGuard) ProcedureInUse(_ context.Context, id uuid.UUID) (bool, error) {
	return g.procedures[id], nil
}

func (g *mockGuard) PlanInUse(_ context.Context, id uuid.UUID) (bool, error) {
	return g.plans[id], nil
}

func newTestService() (*Service, *mockProcedureRepo, *mockPlanRepo, *mockGuard) {
	procs, plans := newMockProcedureRepo(), newMockPlanRepo()
	guard := &mockGuard{procedures: map[uuid.UUID]bool{}, plans: map[uuid.UUID]bool{}}
	return NewService(procs, plans, guard), procs, plans, guard
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// -- Procedure Tests --

func TestCreateProcedure(t *testing.T) {
	svc, _, _, _ := newTestService()
	p, err := svc.CreateProcedure(context.Background(), ProcedureInput{
		Name: " Physiotherapy ", DurationMins: 50, DefaultPrice: dec("120.505"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Physiotherapy" || !p.Active {
		t.Errorf("unexpected procedure %+v", p)
	}
	if !p.DefaultPrice.Valid || p.DefaultPrice.Decimal.String() != "120.51" {
		t.Errorf("expected price rounded to cents, got %v", p.DefaultPrice)
	}
}

func TestCreateProcedure_Validation(t *testing.T) {
	svc, _, _, _ := newTestService()
	tests := []struct {
		name string
		in   ProcedureInput
	}{
		{"missing name", ProcedureInput{DurationMins: 30}},
		{"zero duration", ProcedureInput{Name: "X"}},
		{"negative duration", ProcedureInput{Name: "X", DurationMins: -5}},
		{"negative price", ProcedureInput{Name: "X", DurationMins: 30, DefaultPrice: dec("-1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateProcedure(context.Background(), tt.in); !apperr.Is(err, apperr.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpdateProcedure_ClearsPrice(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	p, _ := svc.CreateProcedure(ctx, ProcedureInput{Name: "X", DurationMins: 30, DefaultPrice: dec("10")})
	inactive := false

	updated, err := svc.UpdateProcedure(ctx, p.ID, ProcedureInput{Name: "X", DurationMins: 45, Active: &inactive})
	if err != nil {
		t.Fatal(err)
	}
	if updated.DefaultPrice.Valid || updated.Active || updated.DurationMins != 45 {
		t.Errorf("unexpected update result %+v", updated)
	}
}

func TestDeleteProcedure_InUse(t *testing.T) {
	svc, repo, _, guard := newTestService()
	ctx := context.Background()
	p, _ := svc.CreateProcedure(ctx, ProcedureInput{Name: "X", DurationMins: 30})

	guard.procedures[p.ID] = true
	if err := svc.DeleteProcedure(ctx, p.ID); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	guard.procedures[p.ID] = false
	if err := svc.DeleteProcedure(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if len(repo.store) != 0 {
		t.Error("procedure should be deleted")
	}
	if err := svc.DeleteProcedure(ctx, p.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestActiveProcedure(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	inactive := false
	p, _ := svc.CreateProcedure(ctx, ProcedureInput{Name: "Old", DurationMins: 30, Active: &inactive})

	if _, err := svc.ActiveProcedure(ctx, p.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("inactive procedure should not be bookable, got %v", err)
	}
	if _, err := svc.ActiveProcedure(ctx, uuid.New()); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

// -- Plan Tests --

func TestPlanLifecycle(t *testing.T) {
	svc, _, _, guard := newTestService()
	ctx := context.Background()

	plan, err := svc.CreatePlan(ctx, PlanInput{Name: "Unimed"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreatePlan(ctx, PlanInput{Name: "Unimed"}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected duplicate name error, got %v", err)
	}
	if _, err := svc.CreatePlan(ctx, PlanInput{Name: "  "}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected name required, got %v", err)
	}

	desc := "regional"
	updated, err := svc.UpdatePlan(ctx, plan.ID, PlanInput{Name: "Unimed Sul", Description: &desc})
	if err != nil || updated.Name != "Unimed Sul" || *updated.Description != "regional" {
		t.Errorf("unexpected update %+v %v", updated, err)
	}

	guard.plans[plan.ID] = true
	if err := svc.DeletePlan(ctx, plan.ID); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected in-use error, got %v", err)
	}
	guard.plans[plan.ID] = false
	if err := svc.DeletePlan(ctx, plan.ID); err != nil {
		t.Fatal(err)
	}
}

// -- Plan Price Tests --

func TestSetPlanPrice(t *testing.T) {
	svc, _, plans, _ := newTestService()
	ctx := context.Background()
	plan, _ := svc.CreatePlan(ctx, PlanInput{Name: "Plan"})
	proc, _ := svc.CreateProcedure(ctx, ProcedureInput{Name: "X", DurationMins: 30})

	pp, err := svc.SetPlanPrice(ctx, plan.ID, proc.ID, PlanPriceInput{Price: dec("80")})
	if err != nil {
		t.Fatal(err)
	}
	if !pp.Active || pp.ProcedureName != "X" {
		t.Errorf("unexpected plan price %+v", pp)
	}

	if _, err := svc.SetPlanPrice(ctx, plan.ID, proc.ID, PlanPriceInput{Price: dec("95")}); err != nil {
		t.Fatal(err)
	}
	if len(plans.prices) != 1 {
		t.Errorf("upsert should keep one row, got %d", len(plans.prices))
	}
	got, _ := svc.ListPlanPrices(ctx, plan.ID)
	if len(got) != 1 || !got[0].Price.Equal(decimal.NewFromInt(95)) {
		t.Errorf("expected updated price, got %+v", got)
	}
}

func TestSetPlanPrice_Errors(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	plan, _ := svc.CreatePlan(ctx, PlanInput{Name: "Plan"})
	proc, _ := svc.CreateProcedure(ctx, ProcedureInput{Name: "X", DurationMins: 30})

	if _, err := svc.SetPlanPrice(ctx, plan.ID, proc.ID, PlanPriceInput{}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected price required, got %v", err)
	}
	if _, err := svc.SetPlanPrice(ctx, plan.ID, proc.ID, PlanPriceInput{Price: dec("-3")}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected negative price error, got %v", err)
	}
	if _, err := svc.SetPlanPrice(ctx, uuid.New(), proc.ID, PlanPriceInput{Price: dec("3")}); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected plan not found, got %v", err)
	}
	if _, err := svc.SetPlanPrice(ctx, plan.ID, uuid.New(), PlanPriceInput{Price: dec("3")}); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected procedure not found, got %v", err)
	}
	if err := svc.RemovePlanPrice(ctx, plan.ID, proc.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found when removing missing price, got %v", err)
	}
}

func TestPriceFor(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	plan, _ := svc.CreatePlan(ctx, PlanInput{Name: "Plan"})
	other, _ := svc.CreatePlan(ctx, PlanInput{Name: "Other"})
	withDefault, _ := svc.CreateProcedure(ctx, ProcedureInput{Name: "A", DurationMins: 30, DefaultPrice: dec("100")})
	noDefault, _ := svc.CreateProcedure(ctx, ProcedureInput{Name: "B", DurationMins: 30})
	svc.SetPlanPrice(ctx, plan.ID, withDefault.ID, PlanPriceInput{Price: dec("70")})
	off := false
	svc.SetPlanPrice(ctx, other.ID, withDefault.ID, PlanPriceInput{Price: dec("10"), Active: &off})

	tests := []struct {
		name string
		proc uuid.UUID
		plan *uuid.UUID
		want string
	}{
		{"plan price wins", withDefault.ID, &plan.ID, "70"},
		{"inactive plan price ignored", withDefault.ID, &other.ID, "100"},
		{"no plan uses default", withDefault.ID, nil, "100"},
		{"plan without price uses default", withDefault.ID, &uuid.Nil, "100"},
		{"no default is zero", noDefault.ID, nil, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.PriceFor(ctx, tt.proc, tt.plan)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}

	if _, err := svc.PriceFor(ctx, uuid.New(), nil); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found for unknown procedure, got %v", err)
	}
}
