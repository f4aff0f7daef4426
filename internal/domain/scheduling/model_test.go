package scheduling

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/apperr"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"SCHEDULED", StatusScheduled, false},
		{"confirmed", StatusConfirmed, false},
		{" no_show ", StatusNoShow, false},
		{"IN_PROGRESS", StatusInProgress, false},
		{"DONE", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				if !apperr.Is(err, apperr.KindValidation) {
					t.Errorf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseStatus(%q) = %q, %v", tt.in, got, err)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusScheduled, StatusConfirmed, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusNoShow, true},
		{StatusConfirmed, StatusInProgress, true},
		{StatusConfirmed, StatusScheduled, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusNoShow, false},
		{StatusNoShow, StatusConfirmed, true},
		{StatusCompleted, StatusScheduled, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusScheduled, false},
		{StatusCancelled, StatusCancelled, true},
		{StatusCompleted, StatusCompleted, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for st := range transitions {
		want := st == StatusCompleted || st == StatusCancelled
		if st.Terminal() != want {
			t.Errorf("%s terminal = %v, want %v", st, st.Terminal(), want)
		}
	}
}

func TestCheckTransition_Message(t *testing.T) {
	err := checkTransition(StatusCompleted, StatusScheduled)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if want := "cannot transition from COMPLETED to SCHEDULED"; err.(*apperr.Error).Message != want {
		t.Errorf("unexpected message %q", err.(*apperr.Error).Message)
	}
}

func TestUpdateInput_OptionalID(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name    string
		body    string
		wantSet bool
		wantNil bool
	}{
		{"absent", `{}`, false, true},
		{"explicit null", `{"professional_id":null}`, true, true},
		{"value", `{"professional_id":"` + id.String() + `"}`, true, false},
		{"camel null", `{"professionalId":null}`, true, true},
		{"camel value", `{"professionalId":"` + id.String() + `"}`, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in UpdateInput
			if err := json.Unmarshal([]byte(tt.body), &in); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if in.ProfessionalID.Set != tt.wantSet {
				t.Errorf("Set = %v, want %v", in.ProfessionalID.Set, tt.wantSet)
			}
			if (in.ProfessionalID.Value == nil) != tt.wantNil {
				t.Errorf("Value = %v", in.ProfessionalID.Value)
			}
			if !tt.wantNil && *in.ProfessionalID.Value != id {
				t.Errorf("unexpected id %v", in.ProfessionalID.Value)
			}
		})
	}

	var in UpdateInput
	if err := json.Unmarshal([]byte(`{"professional_id":"nope"}`), &in); err == nil {
		t.Error("expected error for malformed id")
	}
}

func TestCreateInput_AcceptsBothKeySpellings(t *testing.T) {
	client, proc := uuid.New(), uuid.New()
	bodies := map[string]string{
		"snake": `{"client_id":"` + client.String() + `","procedure_id":"` + proc.String() +
			`","charged_amount":"80.5","start_time":"2030-01-15T09:00:00Z","end_time":"2030-01-15T09:30:00Z","notes":"x"}`,
		"camel": `{"clientId":"` + client.String() + `","procedureId":"` + proc.String() +
			`","chargedAmount":"80.5","startTime":"2030-01-15T09:00:00Z","endTime":"2030-01-15T09:30:00Z","notes":"x"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			var in CreateInput
			if err := json.Unmarshal([]byte(body), &in); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if in.ClientID == nil || *in.ClientID != client || in.ProcedureID == nil || *in.ProcedureID != proc {
				t.Errorf("ids not decoded: %+v", in)
			}
			if in.StartTime != "2030-01-15T09:00:00Z" || in.EndTime != "2030-01-15T09:30:00Z" {
				t.Errorf("times not decoded: %q %q", in.StartTime, in.EndTime)
			}
			if in.ChargedAmount == nil || in.ChargedAmount.String() != "80.5" {
				t.Errorf("charged amount = %v", in.ChargedAmount)
			}
			if in.ProfessionalID != nil || in.InsurancePlanID != nil {
				t.Error("absent optional ids must stay nil")
			}
		})
	}
}

func TestCreateInput_SnakeCaseWins(t *testing.T) {
	var in CreateInput
	body := `{"start_time":"2030-01-15T10:00:00Z","startTime":"2030-01-15T09:00:00Z"}`
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		t.Fatal(err)
	}
	if in.StartTime != "2030-01-15T10:00:00Z" {
		t.Errorf("StartTime = %q", in.StartTime)
	}

	if err := json.Unmarshal([]byte(`[1,2]`), &in); err == nil {
		t.Error("expected error for non-object body")
	}
}
