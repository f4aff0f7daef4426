package directory

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

// =========== Client Repository ===========

type clientRepoPG struct{ pool *pgxpool.Pool }

func NewClientRepoPG(pool *pgxpool.Pool) ClientRepository { return &clientRepoPG{pool: pool} }

const clientCols = `id, user_id, name, email, phone, document, birth_date,
	street, number, complement, district, city, state, postal_code,
	notes, status, created_at, updated_at`

func (r *clientRepoPG) scanClient(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.Document, &c.BirthDate,
		&c.Street, &c.Number, &c.Complement, &c.District, &c.City, &c.State, &c.PostalCode,
		&c.Notes, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("client not found")
		}
		return nil, apperr.Store(err, "loading client")
	}
	return &c, nil
}

func (r *clientRepoPG) Create(ctx context.Context, c *Client) error {
	c.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO clients (id, user_id, name, email, phone, document, birth_date,
			street, number, complement, district, city, state, postal_code, notes, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		c.ID, c.UserID, c.Name, c.Email, c.Phone, c.Document, c.BirthDate,
		c.Street, c.Number, c.Complement, c.District, c.City, c.State, c.PostalCode,
		c.Notes, c.Status).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		switch {
		case db.IsUniqueViolation(err):
			return apperr.Validation("a client with this email already exists")
		case db.IsForeignKeyViolation(err):
			return apperr.NotFound("owning user not found")
		}
		return apperr.Store(err, "creating client")
	}
	return nil
}

func (r *clientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	return r.scanClient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+clientCols+` FROM clients WHERE id = $1`, id))
}

func (r *clientRepoPG) GetByEmail(ctx context.Context, email string) (*Client, error) {
	return r.scanClient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+clientCols+` FROM clients WHERE LOWER(email) = LOWER($1)`, email))
}

func (r *clientRepoPG) Update(ctx context.Context, c *Client) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE clients SET user_id = $2, name = $3, email = $4, phone = $5, document = $6, birth_date = $7,
			street = $8, number = $9, complement = $10, district = $11, city = $12, state = $13,
			postal_code = $14, notes = $15, status = $16, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.UserID, c.Name, c.Email, c.Phone, c.Document, c.BirthDate,
		c.Street, c.Number, c.Complement, c.District, c.City, c.State, c.PostalCode,
		c.Notes, c.Status).Scan(&c.UpdatedAt)
	if err != nil {
		switch {
		case db.IsNoRows(err):
			return apperr.NotFound("client not found")
		case db.IsUniqueViolation(err):
			return apperr.Validation("a client with this email already exists")
		}
		return apperr.Store(err, "updating client")
	}
	return nil
}

func (r *clientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.Validation("client has appointment history; set it INACTIVE instead")
		}
		return apperr.Store(err, "deleting client")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("client not found")
	}
	return nil
}

func (r *clientRepoPG) List(ctx context.Context, f ClientFilter, limit, offset int) ([]*Client, int, error) {
	var clauses []string
	var args []interface{}
	idx := 1

	if f.OwnerID != nil {
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", idx))
		args = append(args, *f.OwnerID)
		idx++
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		clauses = append(clauses, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d OR document ILIKE $%d)", idx, idx, idx))
		args = append(args, "%"+s+"%")
		idx++
	}
	if f.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM clients`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Store(err, "counting clients")
	}

	query := fmt.Sprintf(`SELECT %s FROM clients%s ORDER BY name LIMIT $%d OFFSET $%d`, clientCols, where, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Store(err, "listing clients")
	}
	defer rows.Close()

	var items []*Client
	for rows.Next() {
		c, err := r.scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Store(err, "listing clients")
	}
	return items, total, nil
}

// =========== Professional Repository ===========

type professionalRepoPG struct{ pool *pgxpool.Pool }

func NewProfessionalRepoPG(pool *pgxpool.Pool) ProfessionalRepository {
	return &professionalRepoPG{pool: pool}
}

const profCols = `id, name, email, phone, specialty, registration, active, created_at, updated_at`

func (r *professionalRepoPG) scanProfessional(row pgx.Row) (*Professional, error) {
	var p Professional
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.Specialty, &p.Registration, &p.Active,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("professional not found")
		}
		return nil, apperr.Store(err, "loading professional")
	}
	return &p, nil
}

func (r *professionalRepoPG) Create(ctx context.Context, p *Professional) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO professionals (id, name, email, phone, specialty, registration, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Email, p.Phone, p.Specialty, p.Registration, p.Active).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Validation("a professional with this email already exists")
		}
		return apperr.Store(err, "creating professional")
	}
	return nil
}

func (r *professionalRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Professional, error) {
	return r.scanProfessional(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+profCols+` FROM professionals WHERE id = $1`, id))
}

func (r *professionalRepoPG) GetByEmail(ctx context.Context, email string) (*Professional, error) {
	return r.scanProfessional(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+profCols+` FROM professionals WHERE LOWER(email) = LOWER($1)`, email))
}

func (r *professionalRepoPG) Update(ctx context.Context, p *Professional) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE professionals SET name = $2, email = $3, phone = $4, specialty = $5, registration = $6,
			active = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.Email, p.Phone, p.Specialty, p.Registration, p.Active).Scan(&p.UpdatedAt)
	if err != nil {
		switch {
		case db.IsNoRows(err):
			return apperr.NotFound("professional not found")
		case db.IsUniqueViolation(err):
			return apperr.Validation("a professional with this email already exists")
		}
		return apperr.Store(err, "updating professional")
	}
	return nil
}

func (r *professionalRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM professionals WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.Validation("professional has appointment history; deactivate it instead")
		}
		return apperr.Store(err, "deleting professional")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("professional not found")
	}
	return nil
}

func (r *professionalRepoPG) List(ctx context.Context, activeOnly bool, search string, limit, offset int) ([]*Professional, int, error) {
	var clauses []string
	var args []interface{}
	idx := 1

	if activeOnly {
		clauses = append(clauses, "active")
	}
	if s := strings.TrimSpace(search); s != "" {
		clauses = append(clauses, fmt.Sprintf("(name ILIKE $%d OR specialty ILIKE $%d)", idx, idx))
		args = append(args, "%"+s+"%")
		idx++
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM professionals`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Store(err, "counting professionals")
	}

	query := fmt.Sprintf(`SELECT %s FROM professionals%s ORDER BY name LIMIT $%d OFFSET $%d`, profCols, where, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Store(err, "listing professionals")
	}
	defer rows.Close()

	var items []*Professional
	for rows.Next() {
		p, err := r.scanProfessional(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Store(err, "listing professionals")
	}
	return items, total, nil
}
