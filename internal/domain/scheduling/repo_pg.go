package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const apptCols = `a.id, a.client_id, a.professional_id, a.procedure_id, a.insurance_plan_id,
	a.charged_amount, a.start_time, a.end_time, a.status, a.notes, a.created_at, a.updated_at,
	c.name, c.user_id, p.name, pr.name, ip.name`

const apptFrom = ` FROM appointments a
	JOIN clients c ON c.id = a.client_id
	LEFT JOIN professionals p ON p.id = a.professional_id
	JOIN procedures pr ON pr.id = a.procedure_id
	LEFT JOIN insurance_plans ip ON ip.id = a.insurance_plan_id`

func (r *repoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	err := row.Scan(&a.ID, &a.ClientID, &a.ProfessionalID, &a.ProcedureID, &a.InsurancePlanID,
		&a.ChargedAmount, &a.StartTime, &a.EndTime, &status, &a.Notes, &a.CreatedAt, &a.UpdatedAt,
		&a.ClientName, &a.ClientUserID, &a.ProfessionalName, &a.ProcedureName, &a.InsurancePlanName)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("appointment not found")
		}
		return nil, apperr.Store(err, "loading appointment")
	}
	a.Status = Status(status)
	return &a, nil
}

func (r *repoPG) collect(rows pgx.Rows, op string) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store(err, "%s", op)
	}
	return items, nil
}

// writeErr classifies constraint failures raised by INSERT and UPDATE.
// Serialization failures pass through untouched for the service to classify.
func writeErr(err error, op string) error {
	switch {
	case db.IsExclusionViolation(err):
		return apperr.Conflict(nil, msgSlotTaken)
	case db.IsSerializationFailure(err):
		return err
	case db.IsForeignKeyViolation(err):
		return apperr.NotFound("referenced record not found")
	case db.IsCheckViolation(err):
		return apperr.Validation("appointment violates a data constraint")
	}
	return apperr.Store(err, "%s", op)
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, client_id, professional_id, procedure_id, insurance_plan_id,
			charged_amount, start_time, end_time, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		a.ID, a.ClientID, a.ProfessionalID, a.ProcedureID, a.InsurancePlanID,
		a.ChargedAmount, a.StartTime, a.EndTime, string(a.Status), a.Notes).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return writeErr(err, "creating appointment")
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppt(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+apptFrom+` WHERE a.id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments SET professional_id = $2, procedure_id = $3, insurance_plan_id = $4,
			charged_amount = $5, start_time = $6, end_time = $7, status = $8, notes = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.ProfessionalID, a.ProcedureID, a.InsurancePlanID,
		a.ChargedAmount, a.StartTime, a.EndTime, string(a.Status), a.Notes).Scan(&a.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return apperr.NotFound("appointment not found")
		}
		return writeErr(err, "updating appointment")
	}
	return nil
}

// FindConflicts applies the overlap rule A.start < end AND A.end > start.
// A nil professionalID matches only unassigned appointments.
func (r *repoPG) FindConflicts(ctx context.Context, professionalID *uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]*Appointment, error) {
	query := `SELECT ` + apptCols + apptFrom + `
		WHERE a.status <> 'CANCELLED'
		  AND a.professional_id IS NOT DISTINCT FROM $1
		  AND a.start_time < $3
		  AND a.end_time > $2`
	args := []interface{}{professionalID, start, end}
	if excludeID != nil {
		query += ` AND a.id <> $4`
		args = append(args, *excludeID)
	}
	query += ` ORDER BY a.start_time`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Store(err, "checking conflicts")
	}
	return r.collect(rows, "checking conflicts")
}

func (r *repoPG) ListByWindow(ctx context.Context, f WindowFilter, limit, offset int) ([]*Appointment, int, error) {
	clauses := []string{"a.status <> 'CANCELLED'", "a.start_time >= $1", "a.start_time <= $2"}
	args := []interface{}{f.From, f.To}
	idx := 3

	if f.ProfessionalID != nil {
		clauses = append(clauses, fmt.Sprintf("a.professional_id = $%d", idx))
		args = append(args, *f.ProfessionalID)
		idx++
	}
	if f.OwnerUserID != nil {
		clauses = append(clauses, fmt.Sprintf("c.user_id = $%d", idx))
		args = append(args, *f.OwnerUserID)
		idx++
	}
	where := " WHERE " + strings.Join(clauses, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM appointments a JOIN clients c ON c.id = a.client_id` + where
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Store(err, "counting appointments")
	}

	query := fmt.Sprintf(`SELECT %s%s%s ORDER BY a.start_time LIMIT $%d OFFSET $%d`, apptCols, apptFrom, where, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Store(err, "listing appointments")
	}
	items, err := r.collect(rows, "listing appointments")
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListByOwner lists the non-cancelled appointments of every client owned by
// userID. With upcomingFrom set, only appointments ending after it are
// returned, soonest first; otherwise the full history, newest first.
func (r *repoPG) ListByOwner(ctx context.Context, userID uuid.UUID, upcomingFrom *time.Time, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE a.status <> 'CANCELLED' AND c.user_id = $1`
	args := []interface{}{userID}
	order := ` ORDER BY a.start_time DESC`
	if upcomingFrom != nil {
		where += ` AND a.end_time > $2`
		args = append(args, *upcomingFrom)
		order = ` ORDER BY a.start_time`
	}
	idx := len(args) + 1

	var total int
	countQuery := `SELECT COUNT(*) FROM appointments a JOIN clients c ON c.id = a.client_id` + where
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Store(err, "counting appointments")
	}

	query := fmt.Sprintf(`SELECT %s%s%s%s LIMIT $%d OFFSET $%d`, apptCols, apptFrom, where, order, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Store(err, "listing appointments")
	}
	items, err := r.collect(rows, "listing appointments")
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) exists(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	var found bool
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (`+query+`)`, args...).Scan(&found); err != nil {
		return false, apperr.Store(err, "%s", op)
	}
	return found, nil
}

func (r *repoPG) ClientHasFutureAppointments(ctx context.Context, clientID uuid.UUID, now time.Time) (bool, error) {
	return r.exists(ctx, "checking client appointments",
		`SELECT 1 FROM appointments WHERE client_id = $1 AND status <> 'CANCELLED' AND start_time > $2`,
		clientID, now)
}

func (r *repoPG) ProfessionalHasFutureAppointments(ctx context.Context, professionalID uuid.UUID, now time.Time) (bool, error) {
	return r.exists(ctx, "checking professional appointments",
		`SELECT 1 FROM appointments WHERE professional_id = $1 AND status <> 'CANCELLED' AND start_time > $2`,
		professionalID, now)
}

func (r *repoPG) ProcedureInUse(ctx context.Context, procedureID uuid.UUID) (bool, error) {
	return r.exists(ctx, "checking procedure usage",
		`SELECT 1 FROM appointments WHERE procedure_id = $1`, procedureID)
}

func (r *repoPG) PlanInUse(ctx context.Context, planID uuid.UUID) (bool, error) {
	return r.exists(ctx, "checking insurance plan usage",
		`SELECT 1 FROM appointments WHERE insurance_plan_id = $1`, planID)
}
