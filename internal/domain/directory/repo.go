package directory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ClientRepository interface {
	Create(ctx context.Context, c *Client) error
	GetByID(ctx context.Context, id uuid.UUID) (*Client, error)
	GetByEmail(ctx context.Context, email string) (*Client, error)
	Update(ctx context.Context, c *Client) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ClientFilter, limit, offset int) ([]*Client, int, error)
}

type ProfessionalRepository interface {
	Create(ctx context.Context, p *Professional) error
	GetByID(ctx context.Context, id uuid.UUID) (*Professional, error)
	GetByEmail(ctx context.Context, email string) (*Professional, error)
	Update(ctx context.Context, p *Professional) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, activeOnly bool, search string, limit, offset int) ([]*Professional, int, error)
}

// AppointmentGuard answers whether a client or professional still has
// upcoming, non-cancelled appointments.
type AppointmentGuard interface {
	ClientHasFutureAppointments(ctx context.Context, clientID uuid.UUID, now time.Time) (bool, error)
	ProfessionalHasFutureAppointments(ctx context.Context, professionalID uuid.UUID, now time.Time) (bool, error)
}
