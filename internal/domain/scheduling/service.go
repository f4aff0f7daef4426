package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/datetime"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/events"
	"github.com/clinic/clinic/internal/platform/live"
	"github.com/clinic/clinic/internal/platform/telemetry"
)

// References validates the records an appointment points at. Missing or
// inactive records are reported as not found.
type References interface {
	ClientOwner(ctx context.Context, clientID uuid.UUID) (uuid.UUID, error)
	ActiveProfessional(ctx context.Context, id uuid.UUID) error
	ActiveProcedure(ctx context.Context, id uuid.UUID) error
	ActivePlan(ctx context.Context, id uuid.UUID) error
	PriceFor(ctx context.Context, procedureID uuid.UUID, planID *uuid.UUID) (decimal.Decimal, error)
}

// TxRunner runs fn inside a serializable transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier fans committed events out to live subscribers.
type Notifier interface {
	Notify(ctx context.Context, evt events.Event, topics []string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, events.Event, []string) {}

type Service struct {
	repo    Repository
	refs    References
	checker *Checker
	tx      TxRunner
	events  events.Recorder
	live    Notifier
	metrics *telemetry.Metrics
	times   *datetime.Normalizer
	tracer  trace.Tracer
	now     func() time.Time
}

type Deps struct {
	Repo       Repository
	References References
	Tx         TxRunner
	Events     events.Recorder
	Live       Notifier
	Metrics    *telemetry.Metrics
	Normalizer *datetime.Normalizer
}

func NewService(d Deps) *Service {
	rec := d.Events
	if rec == nil {
		rec = events.NoopRecorder{}
	}
	notifier := d.Live
	if notifier == nil {
		notifier = noopNotifier{}
	}
	norm := d.Normalizer
	if norm == nil {
		norm = datetime.NewNormalizer(time.Local, false)
	}
	return &Service{
		repo:    d.Repo,
		refs:    d.References,
		checker: NewChecker(d.Repo),
		tx:      d.Tx,
		events:  rec,
		live:    notifier,
		metrics: d.Metrics,
		times:   norm,
		tracer:  telemetry.Tracer(tracerName),
		now:     time.Now,
	}
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

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Service) startSpan(ctx context.Context, name string, id uuid.UUID) (context.Context, trace.Span) {
	opts := []trace.SpanStartOption{}
	if id != uuid.Nil {
		opts = append(opts, trace.WithAttributes(attribute.String("appointment.id", id.String())))
	}
	return s.tracer.Start(ctx, name, opts...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	span.End()
}

const (
	msgSlotTaken  = "the requested time is no longer available"
	msgConcurrent = "the appointment was changed by a concurrent request, retry"
)

// classify maps database write failures onto apperr kinds. Only overlaps
// count as appointment conflicts; aborted transactions are tracked apart.
func (s *Service) classify(err error, operation string) error {
	switch {
	case err == nil:
		return nil
	case db.IsSerializationFailure(err):
		s.metrics.SerializationFailure(operation)
		return apperr.Conflict(nil, msgConcurrent)
	case db.IsExclusionViolation(err):
		err = apperr.Conflict(nil, msgSlotTaken)
	}
	if apperr.Is(err, apperr.KindConflict) {
		s.metrics.AppointmentConflict(operation)
	}
	return err
}

func (s *Service) ensureFree(ctx context.Context, a *Appointment, excludeID *uuid.UUID) error {
	res, err := s.checker.CheckConflict(ctx, a.ProfessionalID, a.StartTime, a.EndTime, excludeID)
	if err != nil {
		return err
	}
	if res.HasConflict {
		return apperr.Conflict(conflictViews(res.Conflicts), "the requested time conflicts with %d existing appointment(s)", len(res.Conflicts))
	}
	return nil
}

type pendingEvent struct {
	evt    events.Event
	topics []string
}

// record writes the event to the outbox inside the current transaction and
// queues it in out for the live feed. Queued events are only flushed after
// commit.
func (s *Service) record(ctx context.Context, out *[]pendingEvent, eventType string, a *Appointment, payload interface{}, previous ...*uuid.UUID) error {
	if payload == nil {
		payload = a
	}
	evt := events.New(eventType, a.ID, payload)
	if err := s.events.Record(ctx, evt); err != nil {
		return err
	}
	*out = append(*out, pendingEvent{evt: evt, topics: FeedTopics(append(previous, a.ProfessionalID)...)})
	return nil
}

func (s *Service) flush(ctx context.Context, out []pendingEvent) {
	for _, p := range out {
		s.live.Notify(ctx, p.evt, p.topics)
	}
}

// FeedTopics lists the live topics an appointment change is published on:
// the global topic plus one per professional scope involved.
func FeedTopics(professionals ...*uuid.UUID) []string {
	topics := []string{live.TopicAll}
	seen := map[string]bool{live.TopicAll: true}
	for _, id := range professionals {
		t := live.ProfessionalTopic(id)
		if !seen[t] {
			seen[t] = true
			topics = append(topics, t)
		}
	}
	return topics
}

// -- Create --

// Create books a new appointment in SCHEDULED state. The availability check
// and the insert share one serializable transaction.
func (s *Service) Create(ctx context.Context, caller auth.Identity, in CreateInput) (created *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "scheduling.Create", uuid.Nil)
	defer func() { endSpan(span, err) }()

	var missing []string
	if in.ClientID == nil {
		missing = append(missing, "client_id")
	}
	if in.ProcedureID == nil {
		missing = append(missing, "procedure_id")
	}
	if strings.TrimSpace(in.StartTime) == "" {
		missing = append(missing, "start_time")
	}
	if strings.TrimSpace(in.EndTime) == "" {
		missing = append(missing, "end_time")
	}
	if len(missing) > 0 {
		return nil, apperr.Validation("missing required fields: %s", strings.Join(missing, ", "))
	}

	start, err := s.times.Parse(in.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := s.times.Parse(in.EndTime)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, apperr.Validation("end time must be after start time")
	}
	if datetime.BeforeNow(start, s.now()) {
		return nil, apperr.PastDate("cannot book an appointment in the past")
	}
	if in.ChargedAmount != nil && in.ChargedAmount.IsNegative() {
		return nil, apperr.Validation("charged_amount cannot be negative")
	}

	a := &Appointment{
		ClientID:        *in.ClientID,
		ProfessionalID:  in.ProfessionalID,
		ProcedureID:     *in.ProcedureID,
		InsurancePlanID: in.InsurancePlanID,
		StartTime:       start,
		EndTime:         end,
		Status:          StatusScheduled,
		Notes:           trimmed(in.Notes),
	}

	var out []pendingEvent
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		owner, err := s.refs.ClientOwner(ctx, a.ClientID)
		if err != nil {
			return err
		}
		if !auth.CanActFor(caller, owner) {
			return apperr.Permission("you cannot book appointments for this client")
		}
		if err := s.refs.ActiveProcedure(ctx, a.ProcedureID); err != nil {
			return err
		}
		if a.ProfessionalID != nil {
			if err := s.refs.ActiveProfessional(ctx, *a.ProfessionalID); err != nil {
				return err
			}
		}
		if a.InsurancePlanID != nil {
			if err := s.refs.ActivePlan(ctx, *a.InsurancePlanID); err != nil {
				return err
			}
		}
		if err := s.ensureFree(ctx, a, nil); err != nil {
			return err
		}

		if in.ChargedAmount != nil {
			a.ChargedAmount = in.ChargedAmount.Round(2)
		} else {
			price, err := s.refs.PriceFor(ctx, a.ProcedureID, a.InsurancePlanID)
			if err != nil {
				return err
			}
			a.ChargedAmount = price
		}

		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}
		if created, err = s.repo.GetByID(ctx, a.ID); err != nil {
			return err
		}
		return s.record(ctx, &out, events.AppointmentCreated, created, nil)
	})
	if err != nil {
		return nil, s.classify(err, "create")
	}
	s.flush(ctx, out)
	s.metrics.AppointmentCreated()
	return created, nil
}

// -- Update --

// Update applies a partial change. The conflict check re-runs when the
// interval or professional moves, excluding the appointment itself.
func (s *Service) Update(ctx context.Context, caller auth.Identity, id uuid.UUID, in UpdateInput) (updated *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "scheduling.Update", id)
	defer func() { endSpan(span, err) }()

	var newStatus *Status
	if in.Status != nil {
		st, err := ParseStatus(*in.Status)
		if err != nil {
			return nil, err
		}
		newStatus = &st
	}
	if in.ChargedAmount != nil && in.ChargedAmount.IsNegative() {
		return nil, apperr.Validation("charged_amount cannot be negative")
	}

	var (
		from Status
		out  []pendingEvent
	)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !auth.CanActFor(caller, a.ClientUserID) {
			return apperr.Permission("you cannot modify this appointment")
		}
		if a.Status.Terminal() {
			return apperr.Validation("a %s appointment cannot be modified", a.Status)
		}
		from = a.Status
		prevProfessional, prevStart, prevEnd := a.ProfessionalID, a.StartTime, a.EndTime

		if in.StartTime != nil {
			if a.StartTime, err = s.times.Parse(*in.StartTime); err != nil {
				return err
			}
		}
		if in.EndTime != nil {
			if a.EndTime, err = s.times.Parse(*in.EndTime); err != nil {
				return err
			}
		}
		if !a.EndTime.After(a.StartTime) {
			return apperr.Validation("end time must be after start time")
		}

		if in.ProcedureID != nil && *in.ProcedureID != a.ProcedureID {
			if err := s.refs.ActiveProcedure(ctx, *in.ProcedureID); err != nil {
				return err
			}
			a.ProcedureID = *in.ProcedureID
		}
		if in.ProfessionalID.Set && !sameID(in.ProfessionalID.Value, a.ProfessionalID) {
			if in.ProfessionalID.Value != nil {
				if err := s.refs.ActiveProfessional(ctx, *in.ProfessionalID.Value); err != nil {
					return err
				}
			}
			a.ProfessionalID = in.ProfessionalID.Value
		}
		if in.InsurancePlanID.Set && !sameID(in.InsurancePlanID.Value, a.InsurancePlanID) {
			if in.InsurancePlanID.Value != nil {
				if err := s.refs.ActivePlan(ctx, *in.InsurancePlanID.Value); err != nil {
					return err
				}
			}
			a.InsurancePlanID = in.InsurancePlanID.Value
		}
		if in.ChargedAmount != nil {
			a.ChargedAmount = in.ChargedAmount.Round(2)
		}
		if in.Notes != nil {
			a.Notes = trimmed(in.Notes)
		}
		if newStatus != nil && *newStatus != a.Status {
			if !caller.IsAdmin() && *newStatus != StatusCancelled {
				return apperr.Permission("only administrators can change the status to %s", *newStatus)
			}
			if err := checkTransition(a.Status, *newStatus); err != nil {
				return err
			}
			a.Status = *newStatus
		}

		moved := !sameID(prevProfessional, a.ProfessionalID) ||
			!prevStart.Equal(a.StartTime) || !prevEnd.Equal(a.EndTime)
		if a.Status != StatusCancelled && moved {
			if err := s.ensureFree(ctx, a, &a.ID); err != nil {
				return err
			}
		}

		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		if updated, err = s.repo.GetByID(ctx, a.ID); err != nil {
			return err
		}
		return s.record(ctx, &out, events.AppointmentUpdated, updated, nil, prevProfessional)
	})
	if err != nil {
		return nil, s.classify(err, "update")
	}
	s.flush(ctx, out)
	s.statusChanged(from, updated.Status)
	return updated, nil
}

func (s *Service) statusChanged(from, to Status) {
	if from == to {
		return
	}
	s.metrics.StatusTransition(string(from), string(to))
	if to == StatusCancelled {
		s.metrics.AppointmentCancelled()
	}
}

// -- Cancel --

// Cancel soft-deletes an appointment. Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, caller auth.Identity, id uuid.UUID) (cancelled *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "scheduling.Cancel", id)
	defer func() { endSpan(span, err) }()

	var (
		from Status
		out  []pendingEvent
	)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !auth.CanActFor(caller, a.ClientUserID) {
			return apperr.Permission("you cannot cancel this appointment")
		}
		from = a.Status
		if a.Status == StatusCancelled {
			cancelled = a
			return nil
		}
		if a.Status == StatusCompleted {
			return apperr.Validation("a completed appointment cannot be cancelled")
		}
		if err := checkTransition(a.Status, StatusCancelled); err != nil {
			return err
		}
		a.Status = StatusCancelled
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		cancelled = a
		return s.record(ctx, &out, events.AppointmentCancelled, a, nil)
	})
	if err != nil {
		return nil, s.classify(err, "cancel")
	}
	s.flush(ctx, out)
	s.statusChanged(from, cancelled.Status)
	return cancelled, nil
}

// -- Status --

type statusChange struct {
	Appointment *Appointment `json:"appointment"`
	From        Status       `json:"from"`
	To          Status       `json:"to"`
}

// UpdateStatus moves an appointment along the transition table.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (updated *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "scheduling.UpdateStatus", id)
	defer func() { endSpan(span, err) }()

	to, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("appointment.status", string(to)))

	var (
		from Status
		out  []pendingEvent
	)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		from = a.Status
		updated = a
		if a.Status == to {
			return nil
		}
		if err := checkTransition(a.Status, to); err != nil {
			return err
		}
		a.Status = to
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		return s.record(ctx, &out, events.AppointmentStatusChanged, a, statusChange{Appointment: a, From: from, To: to})
	})
	if err != nil {
		return nil, s.classify(err, "status")
	}
	s.flush(ctx, out)
	s.statusChanged(from, to)
	return updated, nil
}

// -- Queries --

func (s *Service) Get(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.CanActFor(caller, a.ClientUserID) {
		return nil, apperr.Permission("you do not have access to this appointment")
	}
	return a, nil
}

// WindowQuery selects a listing window either by day or by explicit bounds.
type WindowQuery struct {
	Date           string
	Start          string
	End            string
	ProfessionalID *uuid.UUID
}

// ListByWindow lists non-cancelled appointments starting inside the window,
// ordered by start time. Non-administrators only see their own clients.
func (s *Service) ListByWindow(ctx context.Context, caller auth.Identity, q WindowQuery, limit, offset int) ([]*Appointment, int, error) {
	from, to, err := s.times.Window(q.Date, q.Start, q.End)
	if err != nil {
		return nil, 0, err
	}
	f := WindowFilter{From: from, To: to, ProfessionalID: q.ProfessionalID}
	if !caller.IsAdmin() {
		owner := caller.UserID
		f.OwnerUserID = &owner
	}
	return s.repo.ListByWindow(ctx, f, limit, offset)
}

// ListMine lists the caller's appointments. Without includePast only those
// that have not ended yet are returned.
func (s *Service) ListMine(ctx context.Context, caller auth.Identity, includePast bool, limit, offset int) ([]*Appointment, int, error) {
	var from *time.Time
	if !includePast {
		now := s.now()
		from = &now
	}
	return s.repo.ListByOwner(ctx, caller.UserID, from, limit, offset)
}

// AvailabilityQuery is the raw input of an availability lookup.
type AvailabilityQuery struct {
	ProfessionalID *uuid.UUID
	Start          string
	End            string
	ExcludeID      *uuid.UUID
}

// Availability reports whether the interval is free in the professional's
// scope.
func (s *Service) Availability(ctx context.Context, q AvailabilityQuery) (*ConflictResult, error) {
	if strings.TrimSpace(q.Start) == "" || strings.TrimSpace(q.End) == "" {
		return nil, apperr.Validation("start and end are required")
	}
	start, err := s.times.Parse(q.Start)
	if err != nil {
		return nil, err
	}
	end, err := s.times.Parse(q.End)
	if err != nil {
		return nil, err
	}
	return s.checker.CheckConflict(ctx, q.ProfessionalID, start, end, q.ExcludeID)
}
