package scheduling

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/migrations"
)

// pgFixture is a migrated throwaway schema with one client, two
// professionals and one procedure.
type pgFixture struct {
	pool      *pgxpool.Pool
	repo      Repository
	client    uuid.UUID
	profA     uuid.UUID
	profB     uuid.UUID
	procedure uuid.UUID
}

// setupPG connects to DATABASE_URL, creates a private schema, applies the
// embedded migrations into it and drops it when the test ends.
func setupPG(t *testing.T) *pgFixture {
	t.Helper()
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres repository tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := "sched_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	admin, err := pgx.Connect(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer admin.Close(ctx)
	if _, err := admin.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS btree_gist`); err != nil {
		t.Fatalf("create btree_gist: %v", err)
	}
	if _, err := admin.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema)); err != nil {
		t.Fatalf("create schema %s: %v", schema, err)
	}

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("parse DATABASE_URL: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema + ",public"
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		cleanupCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		conn, err := pgx.Connect(cleanupCtx, connStr)
		if err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
			return
		}
		defer conn.Close(cleanupCtx)
		if _, err := conn.Exec(cleanupCtx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
	})

	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &pgFixture{
		pool:      pool,
		repo:      NewRepoPG(pool),
		client:    uuid.New(),
		profA:     uuid.New(),
		profB:     uuid.New(),
		procedure: uuid.New(),
	}
	user := uuid.New()
	seed := []struct {
		sql  string
		args []interface{}
	}{
		{`INSERT INTO users (id, name, email, password_hash) VALUES ($1, 'Owner', 'owner@example.com', 'x')`, []interface{}{user}},
		{`INSERT INTO clients (id, user_id, name, email) VALUES ($1, $2, 'Ana Souza', 'ana@example.com')`, []interface{}{f.client, user}},
		{`INSERT INTO professionals (id, name) VALUES ($1, 'Dr. A'), ($2, 'Dr. B')`, []interface{}{f.profA, f.profB}},
		{`INSERT INTO procedures (id, name, duration_mins, default_price) VALUES ($1, 'Cleaning', 30, 150)`, []interface{}{f.procedure}},
	}
	for _, s := range seed {
		if _, err := pool.Exec(ctx, s.sql, s.args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return f
}

func at(hhmm string) time.Time {
	t, err := time.Parse(time.RFC3339, "2030-01-15T"+hhmm+":00Z")
	if err != nil {
		panic(err)
	}
	return t
}

func (f *pgFixture) insert(professional *uuid.UUID, start, end string) (*Appointment, error) {
	a := &Appointment{
		ClientID:       f.client,
		ProfessionalID: professional,
		ProcedureID:    f.procedure,
		ChargedAmount:  decimal.RequireFromString("150"),
		StartTime:      at(start),
		EndTime:        at(end),
		Status:         StatusScheduled,
	}
	return a, f.repo.Create(context.Background(), a)
}

func (f *pgFixture) mustInsert(t *testing.T, professional *uuid.UUID, start, end string) *Appointment {
	t.Helper()
	a, err := f.insert(professional, start, end)
	if err != nil {
		t.Fatalf("insert %s-%s: %v", start, end, err)
	}
	return a
}

func (f *pgFixture) conflicts(t *testing.T, professional *uuid.UUID, start, end string, exclude *uuid.UUID) []*Appointment {
	t.Helper()
	found, err := f.repo.FindConflicts(context.Background(), professional, at(start), at(end), exclude)
	if err != nil {
		t.Fatalf("FindConflicts %s-%s: %v", start, end, err)
	}
	return found
}

func (f *pgFixture) cancel(t *testing.T, a *Appointment) {
	t.Helper()
	a.Status = StatusCancelled
	if err := f.repo.Update(context.Background(), a); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestRepoPG_AvailabilityScenario(t *testing.T) {
	f := setupPG(t)
	booked := f.mustInsert(t, &f.profA, "09:00", "09:30")

	found := f.conflicts(t, &f.profA, "09:15", "09:45", nil)
	if len(found) != 1 || found[0].ID != booked.ID {
		t.Fatalf("09:15-09:45 should conflict with the booking, got %d", len(found))
	}
	if found[0].ClientName != "Ana Souza" || found[0].ProcedureName != "Cleaning" {
		t.Errorf("conflict row missing joined names: %+v", found[0])
	}
	if found := f.conflicts(t, &f.profA, "09:30", "10:00", nil); len(found) != 0 {
		t.Errorf("back-to-back slot should be free, got %d", len(found))
	}
	if found := f.conflicts(t, &f.profA, "09:00", "09:30", &booked.ID); len(found) != 0 {
		t.Errorf("excluded booking must not conflict with itself, got %d", len(found))
	}

	f.cancel(t, booked)
	if found := f.conflicts(t, &f.profA, "09:15", "09:45", nil); len(found) != 0 {
		t.Errorf("cancelled booking must not conflict, got %d", len(found))
	}
}

func TestRepoPG_FindConflicts_Intervals(t *testing.T) {
	f := setupPG(t)
	f.mustInsert(t, &f.profA, "09:00", "09:30")

	tests := []struct {
		name       string
		start, end string
		conflict   bool
	}{
		{"starts during", "09:15", "09:45", true},
		{"ends during", "08:45", "09:15", true},
		{"contains", "08:00", "10:00", true},
		{"contained", "09:10", "09:20", true},
		{"identical", "09:00", "09:30", true},
		{"back to back after", "09:30", "10:00", false},
		{"back to back before", "08:30", "09:00", false},
		{"disjoint", "11:00", "12:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found := f.conflicts(t, &f.profA, tt.start, tt.end, nil)
			if (len(found) > 0) != tt.conflict {
				t.Errorf("conflict = %v, want %v", len(found) > 0, tt.conflict)
			}
		})
	}
}

func TestRepoPG_FindConflicts_ProfessionalScopes(t *testing.T) {
	f := setupPG(t)
	f.mustInsert(t, &f.profA, "09:00", "10:00")
	unassigned := f.mustInsert(t, nil, "13:00", "14:00")

	if found := f.conflicts(t, &f.profB, "09:30", "10:30", nil); len(found) != 0 {
		t.Errorf("another professional's booking must not conflict, got %d", len(found))
	}
	if found := f.conflicts(t, nil, "09:30", "10:30", nil); len(found) != 0 {
		t.Errorf("assigned booking must not block the unassigned scope, got %d", len(found))
	}
	found := f.conflicts(t, nil, "13:30", "14:30", nil)
	if len(found) != 1 || found[0].ID != unassigned.ID || found[0].ProfessionalID != nil {
		t.Fatalf("unassigned bookings should conflict with each other, got %d", len(found))
	}
	if found := f.conflicts(t, &f.profA, "13:30", "14:30", nil); len(found) != 0 {
		t.Errorf("unassigned booking must not block a professional, got %d", len(found))
	}
}

func TestRepoPG_OverlapConstraint(t *testing.T) {
	f := setupPG(t)
	first := f.mustInsert(t, &f.profA, "09:00", "09:30")

	_, err := f.insert(&f.profA, "09:15", "09:45")
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("overlapping insert: expected conflict, got %v", err)
	}
	if err.(*apperr.Error).Message != msgSlotTaken {
		t.Errorf("message = %q", err.(*apperr.Error).Message)
	}
	if code := apperr.ToHTTP(err).Code; code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}

	f.mustInsert(t, &f.profA, "09:30", "10:00")
	f.mustInsert(t, &f.profB, "09:15", "09:45")

	f.mustInsert(t, nil, "09:00", "09:30")
	if _, err := f.insert(nil, "09:10", "09:20"); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("overlapping unassigned insert: expected conflict, got %v", err)
	}

	f.cancel(t, first)
	f.mustInsert(t, &f.profA, "09:00", "09:30")
}

func TestRepoPG_UpdateIntoOverlapRejected(t *testing.T) {
	f := setupPG(t)
	f.mustInsert(t, &f.profA, "09:00", "09:30")
	moving := f.mustInsert(t, &f.profB, "09:00", "09:30")

	moving.ProfessionalID = &f.profA
	if err := f.repo.Update(context.Background(), moving); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("moving onto a taken slot: expected conflict, got %v", err)
	}

	moving.StartTime, moving.EndTime = at("10:00"), at("10:30")
	if err := f.repo.Update(context.Background(), moving); err != nil {
		t.Fatalf("moving to a free slot: %v", err)
	}
	got, err := f.repo.GetByID(context.Background(), moving.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProfessionalID == nil || *got.ProfessionalID != f.profA || !got.StartTime.Equal(at("10:00")) {
		t.Errorf("update not persisted: %+v", got)
	}
}

func TestRepoPG_InvalidIntervalRejected(t *testing.T) {
	f := setupPG(t)
	if _, err := f.insert(&f.profA, "10:00", "09:00"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("end before start: expected validation error, got %v", err)
	}
}
