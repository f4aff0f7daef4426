package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/telemetry"
)

const tracerName = "github.com/clinic/clinic/internal/domain/scheduling"

// Checker answers whether an interval is free for a professional scope.
type Checker struct {
	finder ConflictFinder
	tracer trace.Tracer
}

func NewChecker(finder ConflictFinder) *Checker {
	return &Checker{finder: finder, tracer: telemetry.Tracer(tracerName)}
}

// CheckConflict lists the non-cancelled appointments in the same scope that
// overlap [start, end). excludeID skips the appointment being edited.
func (c *Checker) CheckConflict(ctx context.Context, professionalID *uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (*ConflictResult, error) {
	if !end.After(start) {
		return nil, apperr.Validation("end time must be after start time")
	}

	ctx, span := c.tracer.Start(ctx, "scheduling.CheckConflict", trace.WithAttributes(
		attribute.String("appointment.start", start.UTC().Format(time.RFC3339)),
		attribute.String("appointment.end", end.UTC().Format(time.RFC3339)),
		attribute.Bool("appointment.unassigned", professionalID == nil),
	))
	defer span.End()
	if professionalID != nil {
		span.SetAttributes(attribute.String("professional.id", professionalID.String()))
	}

	conflicts, err := c.finder.FindConflicts(ctx, professionalID, start, end, excludeID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conflict lookup failed")
		return nil, err
	}
	if conflicts == nil {
		conflicts = []*Appointment{}
	}
	span.SetAttributes(attribute.Int("appointment.conflicts", len(conflicts)))
	return &ConflictResult{HasConflict: len(conflicts) > 0, Conflicts: conflicts}, nil
}
