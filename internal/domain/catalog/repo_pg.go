package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
)

// listWhere builds the shared active/search filter used by both listings.
func listWhere(activeOnly bool, search string) (string, []interface{}, int) {
	var clauses []string
	var args []interface{}
	idx := 1
	if activeOnly {
		clauses = append(clauses, "active")
	}
	if s := strings.TrimSpace(search); s != "" {
		clauses = append(clauses, fmt.Sprintf("name ILIKE $%d", idx))
		args = append(args, "%"+s+"%")
		idx++
	}
	if len(clauses) == 0 {
		return "", args, idx
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, idx
}

// =========== Procedure Repository ===========

type procedureRepoPG struct{ pool *pgxpool.Pool }

func NewProcedureRepoPG(pool *pgxpool.Pool) ProcedureRepository { return &procedureRepoPG{pool: pool} }

const procCols = `id, name, description, duration_mins, default_price, active, created_at, updated_at`

func (r *procedureRepoPG) scanProcedure(row pgx.Row) (*Procedure, error) {
	var p Procedure
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.DurationMins, &p.DefaultPrice, &p.Active,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("procedure not found")
		}
		return nil, apperr.Store(err, "loading procedure")
	}
	return &p, nil
}

func (r *procedureRepoPG) Create(ctx context.Context, p *Procedure) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO procedures (id, name, description, duration_mins, default_price, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Description, p.DurationMins, p.DefaultPrice, p.Active).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsCheckViolation(err) {
			return apperr.Validation("procedure duration and price must be positive")
		}
		return apperr.Store(err, "creating procedure")
	}
	return nil
}

func (r *procedureRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Procedure, error) {
	return r.scanProcedure(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+procCols+` FROM procedures WHERE id = $1`, id))
}

func (r *procedureRepoPG) Update(ctx context.Context, p *Procedure) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE procedures SET name = $2, description = $3, duration_mins = $4, default_price = $5,
			active = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.Description, p.DurationMins, p.DefaultPrice, p.Active).Scan(&p.UpdatedAt)
	if err != nil {
		switch {
		case db.IsNoRows(err):
			return apperr.NotFound("procedure not found")
		case db.IsCheckViolation(err):
			return apperr.Validation("procedure duration and price must be positive")
		}
		return apperr.Store(err, "updating procedure")
	}
	return nil
}

func (r *procedureRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM procedures WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.Validation("procedure is referenced by appointments")
		}
		return apperr.Store(err, "deleting procedure")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("procedure not found")
	}
	return nil
}

func (r *procedureRepoPG) List(ctx context.Context, activeOnly bool, search string, limit, offset int) ([]*Procedure, int, error) {
	where, args, idx := listWhere(activeOnly, search)

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM procedures`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Store(err, "counting procedures")
	}

	query := fmt.Sprintf(`SELECT %s FROM procedures%s ORDER BY name LIMIT $%d OFFSET $%d`, procCols, where, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Store(err, "listing procedures")
	}
	defer rows.Close()

	var items []*Procedure
	for rows.Next() {
		p, err := r.scanProcedure(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Store(err, "listing procedures")
	}
	return items, total, nil
}

// =========== Insurance Plan Repository ===========

type planRepoPG struct{ pool *pgxpool.Pool }

func NewPlanRepoPG(pool *pgxpool.Pool) PlanRepository { return &planRepoPG{pool: pool} }

const planCols = `id, name, description, active, created_at, updated_at`

func (r *planRepoPG) scanPlan(row pgx.Row) (*InsurancePlan, error) {
	var p InsurancePlan
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("insurance plan not found")
		}
		return nil, apperr.Store(err, "loading insurance plan")
	}
	return &p, nil
}

func (r *planRepoPG) Create(ctx context.Context, p *InsurancePlan) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO insurance_plans (id, name, description, active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Description, p.Active).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Validation("an insurance plan named %q already exists", p.Name)
		}
		return apperr.Store(err, "creating insurance plan")
	}
	return nil
}

func (r *planRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*InsurancePlan, error) {
	return r.scanPlan(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+planCols+` FROM insurance_plans WHERE id = $1`, id))
}

func (r *planRepoPG) Update(ctx context.Context, p *InsurancePlan) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE insurance_plans SET name = $2, description = $3, active = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.Description, p.Active).Scan(&p.UpdatedAt)
	if err != nil {
		switch {
		case db.IsNoRows(err):
			return apperr.NotFound("insurance plan not found")
		case db.IsUniqueViolation(err):
			return apperr.Validation("an insurance plan named %q already exists", p.Name)
		}
		return apperr.Store(err, "updating insurance plan")
	}
	return nil
}

func (r *planRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM insurance_plans WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.Validation("insurance plan is referenced by appointments")
		}
		return apperr.Store(err, "deleting insurance plan")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("insurance plan not found")
	}
	return nil
}

func (r *planRepoPG) List(ctx context.Context, activeOnly bool, search string, limit, offset int) ([]*InsurancePlan, int, error) {
	where, args, idx := listWhere(activeOnly, search)

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM insurance_plans`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Store(err, "counting insurance plans")
	}

	query := fmt.Sprintf(`SELECT %s FROM insurance_plans%s ORDER BY name LIMIT $%d OFFSET $%d`, planCols, where, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Store(err, "listing insurance plans")
	}
	defer rows.Close()

	var items []*InsurancePlan
	for rows.Next() {
		p, err := r.scanPlan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Store(err, "listing insurance plans")
	}
	return items, total, nil
}

// -- Plan Prices --

const priceCols = `pp.plan_id, pp.procedure_id, pr.name, pp.price, pp.active, pp.updated_at`

func scanPrice(row pgx.Row) (*PlanPrice, error) {
	var pp PlanPrice
	err := row.Scan(&pp.PlanID, &pp.ProcedureID, &pp.ProcedureName, &pp.Price, &pp.Active, &pp.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("plan price not found")
		}
		return nil, apperr.Store(err, "loading plan price")
	}
	return &pp, nil
}

func (r *planRepoPG) UpsertPrice(ctx context.Context, pp *PlanPrice) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO plan_prices (plan_id, procedure_id, price, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (plan_id, procedure_id)
		DO UPDATE SET price = EXCLUDED.price, active = EXCLUDED.active, updated_at = NOW()
		RETURNING updated_at`,
		pp.PlanID, pp.ProcedureID, pp.Price, pp.Active).Scan(&pp.UpdatedAt)
	if err != nil {
		switch {
		case db.IsForeignKeyViolation(err):
			return apperr.NotFound("insurance plan or procedure not found")
		case db.IsCheckViolation(err):
			return apperr.Validation("price cannot be negative")
		}
		return apperr.Store(err, "saving plan price")
	}
	return nil
}

func (r *planRepoPG) GetPrice(ctx context.Context, planID, procedureID uuid.UUID) (*PlanPrice, error) {
	return scanPrice(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+priceCols+`
		FROM plan_prices pp JOIN procedures pr ON pr.id = pp.procedure_id
		WHERE pp.plan_id = $1 AND pp.procedure_id = $2`, planID, procedureID))
}

func (r *planRepoPG) DeletePrice(ctx context.Context, planID, procedureID uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM plan_prices WHERE plan_id = $1 AND procedure_id = $2`, planID, procedureID)
	if err != nil {
		return apperr.Store(err, "deleting plan price")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("plan price not found")
	}
	return nil
}

func (r *planRepoPG) ListPrices(ctx context.Context, planID uuid.UUID) ([]*PlanPrice, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+priceCols+`
		FROM plan_prices pp JOIN procedures pr ON pr.id = pp.procedure_id
		WHERE pp.plan_id = $1
		ORDER BY pr.name`, planID)
	if err != nil {
		return nil, apperr.Store(err, "listing plan prices")
	}
	defer rows.Close()

	var items []*PlanPrice
	for rows.Next() {
		pp, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, pp)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store(err, "listing plan prices")
	}
	return items, nil
}
