package account

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
)

// ErrInvalidCredentials is returned for unknown emails and wrong passwords
// alike.
var ErrInvalidCredentials = apperr.Unauthorized("invalid email or password")

type Service struct {
	users  UserRepository
	tokens *auth.Tokens
}

func NewService(users UserRepository, tokens *auth.Tokens) *Service {
	return &Service{users: users, tokens: tokens}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperr.Validation("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Validation("email %q is not valid", email)
	}
	return email, nil
}

func hashPassword(plain string) (string, error) {
	hash, err := auth.HashPassword(plain)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		return "", apperr.Validation("password must have at least %d characters", auth.MinPasswordLength)
	}
	if err != nil {
		return "", apperr.Store(err, "hashing password")
	}
	return hash, nil
}

// Register creates a USER account and signs it in. Administrators are created
// through CreateUser.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	u, err := s.CreateUser(ctx, CreateUserInput{
		Name:     in.Name,
		Email:    in.Email,
		Password: in.Password,
		Role:     auth.RoleUser,
	})
	if err != nil {
		return nil, err
	}
	return s.session(u)
}

func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return nil, apperr.Validation("email and password are required")
	}
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(in.Email))
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !u.Active || !auth.CheckPassword(u.PasswordHash, in.Password) {
		return nil, ErrInvalidCredentials
	}
	return s.session(u)
}

func (s *Service) session(u *User) (*Session, error) {
	token, exp, err := s.tokens.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		return nil, apperr.Store(err, "issuing token")
	}
	return &Session{Token: token, ExpiresAt: exp, User: u}, nil
}

// Me returns the signed-in user. Deactivated accounts are rejected even while
// their token is still valid.
func (s *Service) Me(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.Unauthorized("account no longer exists")
		}
		return nil, err
	}
	if !u.Active {
		return nil, apperr.Unauthorized("account is deactivated")
	}
	return u, nil
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	role := strings.ToUpper(strings.TrimSpace(in.Role))
	if role == "" {
		role = auth.RoleUser
	}
	if !auth.ValidRole(role) {
		return nil, apperr.Validation("invalid role: %s", in.Role)
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperr.Validation("a user with this email already exists")
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}

	u := &User{Name: name, Email: email, PasswordHash: hash, Role: role, Active: true}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, search string, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, search, limit, offset)
}

// UpdateUser applies in to the user. An administrator cannot demote or
// deactivate their own account.
func (s *Service) UpdateUser(ctx context.Context, caller auth.Identity, id uuid.UUID, in UpdateUserInput) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Validation("name is required")
		}
		u.Name = name
	}
	if in.Email != nil {
		email, err := normalizeEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		u.Email = email
	}
	if in.Password != nil {
		hash, err := hashPassword(*in.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}
	if in.Role != nil {
		role := strings.ToUpper(strings.TrimSpace(*in.Role))
		if !auth.ValidRole(role) {
			return nil, apperr.Validation("invalid role: %s", *in.Role)
		}
		u.Role = role
	}
	if in.Active != nil {
		u.Active = *in.Active
	}
	if u.ID == caller.UserID && (u.Role != auth.RoleAdmin || !u.Active) {
		return nil, apperr.Validation("you cannot demote or deactivate your own account")
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) DeleteUser(ctx context.Context, caller auth.Identity, id uuid.UUID) error {
	if id == caller.UserID {
		return apperr.Validation("you cannot delete your own account")
	}
	return s.users.Delete(ctx, id)
}
