package account

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
)

type mockUserRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{store: make(map[uuid.UUID]*User)}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.store[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.store {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("user not found")
}

func (m *mockUserRepo) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[u.ID]; !ok {
		return apperr.NotFound("user not found")
	}
	cp := *u
	m.store[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return apperr.NotFound("user not found")
	}
	delete(m.store, id)
	return nil
}

func (m *mockUserRepo) List(_ context.Context, search string, limit, offset int) ([]*User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*User
	for _, u := range m.store {
		if search == "" || strings.Contains(strings.ToLower(u.Name+u.Email), strings.ToLower(search)) {
			all = append(all, u)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func newTestService() (*Service, *mockUserRepo, *auth.Tokens) {
	repo := newMockUserRepo()
	tokens := auth.NewTokens(auth.JWTConfig{SigningKey: []byte("test-secret"), Issuer: "clinic-test", TTL: time.Hour})
	return NewService(repo, tokens), repo, tokens
}

func TestRegister_CreatesUserAndSession(t *testing.T) {
	svc, repo, tokens := newTestService()

	sess, err := svc.Register(context.Background(), RegisterInput{
		Name: "Ana Souza", Email: "  Ana@Example.com ", Password: "s3cret-pass",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.User.Role != auth.RoleUser {
		t.Errorf("expected USER role, got %s", sess.User.Role)
	}
	if sess.User.Email != "ana@example.com" {
		t.Errorf("expected normalized email, got %q", sess.User.Email)
	}
	stored := repo.store[sess.User.ID]
	if stored.PasswordHash == "" || stored.PasswordHash == "s3cret-pass" {
		t.Error("password must be stored hashed")
	}
	id, err := tokens.Parse(sess.Token)
	if err != nil {
		t.Fatalf("token does not parse: %v", err)
	}
	if id.UserID != sess.User.ID {
		t.Errorf("token subject mismatch")
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"missing name", RegisterInput{Email: "a@b.com", Password: "longenough"}},
		{"bad email", RegisterInput{Name: "A", Email: "not-an-email", Password: "longenough"}},
		{"display name email", RegisterInput{Name: "A", Email: "A <a@b.com>", Password: "longenough"}},
		{"short password", RegisterInput{Name: "A", Email: "a@b.com", Password: "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.in)
			if !apperr.Is(err, apperr.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "dup@example.com", Password: "longenough"}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Register(ctx, RegisterInput{Name: "B", Email: "DUP@example.com", Password: "longenough"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for duplicate email, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	reg, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "login@example.com", Password: "right-password"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Login(ctx, LoginInput{Email: "LOGIN@example.com", Password: "right-password"}); err != nil {
		t.Errorf("expected login to succeed, got %v", err)
	}
	if _, err := svc.Login(ctx, LoginInput{Email: "login@example.com", Password: "wrong-password"}); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Errorf("expected unauthorized for wrong password, got %v", err)
	}
	if _, err := svc.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "whatever1"}); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Errorf("expected unauthorized for unknown email, got %v", err)
	}
	if _, err := svc.Login(ctx, LoginInput{}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for empty input, got %v", err)
	}

	repo.store[reg.User.ID].Active = false
	if _, err := svc.Login(ctx, LoginInput{Email: "login@example.com", Password: "right-password"}); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Errorf("expected deactivated account to be rejected, got %v", err)
	}
}

func TestMe(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	u := &User{Name: "A", Email: "me@example.com", Role: auth.RoleUser, Active: true}
	repo.Create(ctx, u)

	got, err := svc.Me(ctx, u.ID)
	if err != nil || got.ID != u.ID {
		t.Fatalf("expected user, got %v %v", got, err)
	}
	if _, err := svc.Me(ctx, uuid.New()); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Errorf("expected unauthorized for missing user, got %v", err)
	}
}

func TestCreateUser_AdminRole(t *testing.T) {
	svc, _, _ := newTestService()
	u, err := svc.CreateUser(context.Background(), CreateUserInput{
		Name: "Root", Email: "root@example.com", Password: "longenough", Role: "admin",
	})
	if err != nil {
		t.Fatal(err)
	}
	if u.Role != auth.RoleAdmin {
		t.Errorf("expected ADMIN, got %s", u.Role)
	}

	_, err = svc.CreateUser(context.Background(), CreateUserInput{
		Name: "X", Email: "x@example.com", Password: "longenough", Role: "superuser",
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected invalid role error, got %v", err)
	}
}

func TestUpdateUser_SelfProtection(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	admin := &User{Name: "Admin", Email: "admin@example.com", Role: auth.RoleAdmin, Active: true}
	repo.Create(ctx, admin)
	caller := auth.Identity{UserID: admin.ID, Role: auth.RoleAdmin}

	demote := auth.RoleUser
	if _, err := svc.UpdateUser(ctx, caller, admin.ID, UpdateUserInput{Role: &demote}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected self-demotion to fail, got %v", err)
	}
	inactive := false
	if _, err := svc.UpdateUser(ctx, caller, admin.ID, UpdateUserInput{Active: &inactive}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected self-deactivation to fail, got %v", err)
	}
	name := "Renamed"
	u, err := svc.UpdateUser(ctx, caller, admin.ID, UpdateUserInput{Name: &name})
	if err != nil || u.Name != "Renamed" {
		t.Errorf("expected rename to work, got %v %v", u, err)
	}
	if err := svc.DeleteUser(ctx, caller, admin.ID); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected self-delete to fail, got %v", err)
	}
}
