package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConflictFinder returns non-cancelled appointments in the same professional
// scope whose interval overlaps [start, end).
type ConflictFinder interface {
	FindConflicts(ctx context.Context, professionalID *uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]*Appointment, error)
}

type Repository interface {
	ConflictFinder

	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	ListByWindow(ctx context.Context, f WindowFilter, limit, offset int) ([]*Appointment, int, error)
	ListByOwner(ctx context.Context, userID uuid.UUID, upcomingFrom *time.Time, limit, offset int) ([]*Appointment, int, error)

	// Deletion guards for the reference records.
	ClientHasFutureAppointments(ctx context.Context, clientID uuid.UUID, now time.Time) (bool, error)
	ProfessionalHasFutureAppointments(ctx context.Context, professionalID uuid.UUID, now time.Time) (bool, error)
	ProcedureInUse(ctx context.Context, procedureID uuid.UUID) (bool, error)
	PlanInUse(ctx context.Context, planID uuid.UUID) (bool, error)
}
