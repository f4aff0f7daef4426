package scheduling

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/apperr"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusNoShow     Status = "NO_SHOW"
)

// transitions lists the states reachable from each state. COMPLETED and
// CANCELLED are terminal.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusNoShow:     {StatusConfirmed, StatusCompleted, StatusCancelled},
	StatusCompleted:  nil,
	StatusCancelled:  nil,
}

// ParseStatus accepts any casing of a known status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := transitions[st]; !ok {
		return "", apperr.Validation("invalid status: %q", s)
	}
	return st, nil
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from may move to to. Staying put is always
// allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return apperr.Validation("cannot transition from %s to %s", from, to)
	}
	return nil
}

// Appointment is a booked interval [StartTime, EndTime) for a client.
// ProfessionalID nil places it in the unassigned bucket.
type Appointment struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	ClientID        uuid.UUID       `db:"client_id" json:"client_id"`
	ProfessionalID  *uuid.UUID      `db:"professional_id" json:"professional_id"`
	ProcedureID     uuid.UUID       `db:"procedure_id" json:"procedure_id"`
	InsurancePlanID *uuid.UUID      `db:"insurance_plan_id" json:"insurance_plan_id"`
	ChargedAmount   decimal.Decimal `db:"charged_amount" json:"charged_amount"`
	StartTime       time.Time       `db:"start_time" json:"start_time"`
	EndTime         time.Time       `db:"end_time" json:"end_time"`
	Status          Status          `db:"status" json:"status"`
	Notes           *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`

	// Read-only, joined from the referenced records.
	ClientName        string    `db:"client_name" json:"client_name,omitempty"`
	ClientUserID      uuid.UUID `db:"client_user_id" json:"-"`
	ProfessionalName  *string   `db:"professional_name" json:"professional_name,omitempty"`
	ProcedureName     string    `db:"procedure_name" json:"procedure_name,omitempty"`
	InsurancePlanName *string   `db:"insurance_plan_name" json:"insurance_plan_name,omitempty"`
}

// CreateInput is the body of a booking request. Times accept any format the
// clinic normalizer understands.
type CreateInput struct {
	ClientID        *uuid.UUID       `json:"client_id"`
	ProfessionalID  *uuid.UUID       `json:"professional_id"`
	ProcedureID     *uuid.UUID       `json:"procedure_id"`
	InsurancePlanID *uuid.UUID       `json:"insurance_plan_id"`
	ChargedAmount   *decimal.Decimal `json:"charged_amount"`
	StartTime       string           `json:"start_time"`
	EndTime         string           `json:"end_time"`
	Notes           *string          `json:"notes"`
}

// bodyAliases maps the camelCase request keys onto the snake_case ones.
// When both spellings are sent the snake_case value wins.
var bodyAliases = map[string]string{
	"clientId":        "client_id",
	"professionalId":  "professional_id",
	"procedureId":     "procedure_id",
	"insurancePlanId": "insurance_plan_id",
	"chargedAmount":   "charged_amount",
	"startTime":       "start_time",
	"endTime":         "end_time",
}

func snakeKeys(b []byte) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return b, nil
	}
	for camel, snake := range bodyAliases {
		v, ok := raw[camel]
		if !ok {
			continue
		}
		delete(raw, camel)
		if _, taken := raw[snake]; !taken {
			raw[snake] = v
		}
	}
	return json.Marshal(raw)
}

func (in *CreateInput) UnmarshalJSON(b []byte) error {
	b, err := snakeKeys(b)
	if err != nil {
		return err
	}
	type plain CreateInput
	return json.Unmarshal(b, (*plain)(in))
}

// OptionalID distinguishes an absent field from an explicit null.
type OptionalID struct {
	Set   bool
	Value *uuid.UUID
}

func (o *OptionalID) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var id uuid.UUID
	if err := json.Unmarshal(b, &id); err != nil {
		return err
	}
	o.Value = &id
	return nil
}

// UpdateInput is a partial update. Nil pointers leave fields untouched.
type UpdateInput struct {
	ProfessionalID  OptionalID       `json:"professional_id"`
	ProcedureID     *uuid.UUID       `json:"procedure_id"`
	InsurancePlanID OptionalID       `json:"insurance_plan_id"`
	ChargedAmount   *decimal.Decimal `json:"charged_amount"`
	StartTime       *string          `json:"start_time"`
	EndTime         *string          `json:"end_time"`
	Notes           *string          `json:"notes"`
	Status          *string          `json:"status"`
}

func (in *UpdateInput) UnmarshalJSON(b []byte) error {
	b, err := snakeKeys(b)
	if err != nil {
		return err
	}
	type plain UpdateInput
	return json.Unmarshal(b, (*plain)(in))
}

// ConflictResult is the outcome of an availability check.
type ConflictResult struct {
	HasConflict bool           `json:"has_conflict"`
	Conflicts   []*Appointment `json:"conflicts"`
}

// WindowFilter selects non-cancelled appointments starting in [From, To].
type WindowFilter struct {
	From           time.Time
	To             time.Time
	ProfessionalID *uuid.UUID
	OwnerUserID    *uuid.UUID
}

// conflictView is the compact form of a conflicting appointment returned in
// 409 bodies.
type conflictView struct {
	ID             uuid.UUID  `json:"id"`
	ProfessionalID *uuid.UUID `json:"professional_id"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	Status         Status     `json:"status"`
}

func conflictViews(appts []*Appointment) []conflictView {
	out := make([]conflictView, 0, len(appts))
	for _, a := range appts {
		out = append(out, conflictView{
			ID: a.ID, ProfessionalID: a.ProfessionalID,
			StartTime: a.StartTime, EndTime: a.EndTime, Status: a.Status,
		})
	}
	return out
}
