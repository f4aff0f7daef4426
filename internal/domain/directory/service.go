package directory

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/datetime"
)

type Service struct {
	clients       ClientRepository
	professionals ProfessionalRepository
	guard         AppointmentGuard
	now           func() time.Time
}

func NewService(clients ClientRepository, professionals ProfessionalRepository, guard AppointmentGuard) *Service {
	return &Service{clients: clients, professionals: professionals, guard: guard, now: time.Now}
}

var validClientStatuses = map[string]bool{
	ClientActive:   true,
	ClientInactive: true,
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Validation("email %q is not valid", email)
	}
	return email, nil
}

// trimmed turns blank optional strings into nil.
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

// -- Clients --

func (s *Service) applyClientInput(c *Client, in ClientInput) error {
	c.Name = strings.TrimSpace(in.Name)
	if c.Name == "" {
		return apperr.Validation("name is required")
	}
	if strings.TrimSpace(in.Email) == "" {
		return apperr.Validation("email is required")
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return err
	}
	c.Email = email

	c.BirthDate = nil
	if bd := trimmed(in.BirthDate); bd != nil {
		t, err := time.Parse(datetime.DateLayout, *bd)
		if err != nil {
			return apperr.Validation("birth_date must be YYYY-MM-DD")
		}
		if t.After(s.now()) {
			return apperr.Validation("birth_date cannot be in the future")
		}
		c.BirthDate = &t
	}

	if in.Status != "" {
		status := strings.ToUpper(in.Status)
		if !validClientStatuses[status] {
			return apperr.Validation("invalid client status: %s", in.Status)
		}
		c.Status = status
	}
	if c.Status == "" {
		c.Status = ClientActive
	}

	c.Phone = trimmed(in.Phone)
	c.Document = trimmed(in.Document)
	c.Street = trimmed(in.Street)
	c.Number = trimmed(in.Number)
	c.Complement = trimmed(in.Complement)
	c.District = trimmed(in.District)
	c.City = trimmed(in.City)
	c.State = trimmed(in.State)
	c.PostalCode = trimmed(in.PostalCode)
	c.Notes = trimmed(in.Notes)
	return nil
}

// CreateClient registers a client owned by the caller. Administrators may
// assign another owner through UserID.
func (s *Service) CreateClient(ctx context.Context, caller auth.Identity, in ClientInput) (*Client, error) {
	c := &Client{UserID: caller.UserID}
	if in.UserID != nil && *in.UserID != caller.UserID {
		if !caller.IsAdmin() {
			return nil, apperr.Permission("only administrators can register clients for other users")
		}
		c.UserID = *in.UserID
	}
	if err := s.applyClientInput(c, in); err != nil {
		return nil, err
	}
	if err := s.ensureClientEmailFree(ctx, c.Email, uuid.Nil); err != nil {
		return nil, err
	}
	if err := s.clients.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ensureClientEmailFree(ctx context.Context, email string, self uuid.UUID) error {
	existing, err := s.clients.GetByEmail(ctx, email)
	switch {
	case err == nil && existing.ID != self:
		return apperr.Validation("a client with this email already exists")
	case err != nil && !apperr.Is(err, apperr.KindNotFound):
		return err
	}
	return nil
}

func (s *Service) GetClient(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Client, error) {
	c, err := s.clients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.CanActFor(caller, c.UserID) {
		return nil, apperr.Permission("you do not have access to this client")
	}
	return c, nil
}

// ListClients returns every client for administrators and the caller's own
// clients otherwise.
func (s *Service) ListClients(ctx context.Context, caller auth.Identity, f ClientFilter, limit, offset int) ([]*Client, int, error) {
	if !caller.IsAdmin() {
		owner := caller.UserID
		f.OwnerID = &owner
	}
	if f.Status != "" {
		f.Status = strings.ToUpper(f.Status)
		if !validClientStatuses[f.Status] {
			return nil, 0, apperr.Validation("invalid client status: %s", f.Status)
		}
	}
	return s.clients.List(ctx, f, limit, offset)
}

func (s *Service) UpdateClient(ctx context.Context, caller auth.Identity, id uuid.UUID, in ClientInput) (*Client, error) {
	c, err := s.GetClient(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if in.UserID != nil && *in.UserID != c.UserID {
		if !caller.IsAdmin() {
			return nil, apperr.Permission("only administrators can transfer clients")
		}
		c.UserID = *in.UserID
	}
	if err := s.applyClientInput(c, in); err != nil {
		return nil, err
	}
	if err := s.ensureClientEmailFree(ctx, c.Email, c.ID); err != nil {
		return nil, err
	}
	if err := s.clients.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteClient removes a client with no upcoming appointments.
func (s *Service) DeleteClient(ctx context.Context, caller auth.Identity, id uuid.UUID) error {
	c, err := s.GetClient(ctx, caller, id)
	if err != nil {
		return err
	}
	future, err := s.guard.ClientHasFutureAppointments(ctx, c.ID, s.now())
	if err != nil {
		return err
	}
	if future {
		return apperr.Validation("cannot remove a client with future appointments")
	}
	return s.clients.Delete(ctx, c.ID)
}

// -- Professionals --

func applyProfessionalInput(p *Professional, in ProfessionalInput) error {
	p.Name = strings.TrimSpace(in.Name)
	if p.Name == "" {
		return apperr.Validation("name is required")
	}
	p.Email = nil
	if e := trimmed(in.Email); e != nil {
		email, err := normalizeEmail(*e)
		if err != nil {
			return err
		}
		p.Email = &email
	}
	p.Phone = trimmed(in.Phone)
	p.Specialty = trimmed(in.Specialty)
	p.Registration = trimmed(in.Registration)
	if in.Active != nil {
		p.Active = *in.Active
	}
	return nil
}

func (s *Service) ensureProfessionalEmailFree(ctx context.Context, email *string, self uuid.UUID) error {
	if email == nil {
		return nil
	}
	existing, err := s.professionals.GetByEmail(ctx, *email)
	switch {
	case err == nil && existing.ID != self:
		return apperr.Validation("a professional with this email already exists")
	case err != nil && !apperr.Is(err, apperr.KindNotFound):
		return err
	}
	return nil
}

func (s *Service) CreateProfessional(ctx context.Context, in ProfessionalInput) (*Professional, error) {
	p := &Professional{Active: true}
	if err := applyProfessionalInput(p, in); err != nil {
		return nil, err
	}
	if err := s.ensureProfessionalEmailFree(ctx, p.Email, uuid.Nil); err != nil {
		return nil, err
	}
	if err := s.professionals.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetProfessional(ctx context.Context, id uuid.UUID) (*Professional, error) {
	return s.professionals.GetByID(ctx, id)
}

func (s *Service) ListProfessionals(ctx context.Context, activeOnly bool, search string, limit, offset int) ([]*Professional, int, error) {
	return s.professionals.List(ctx, activeOnly, search, limit, offset)
}

// UpdateProfessional refuses to deactivate a professional who still has
// upcoming appointments.
func (s *Service) UpdateProfessional(ctx context.Context, id uuid.UUID, in ProfessionalInput) (*Professional, error) {
	p, err := s.professionals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	wasActive := p.Active
	if err := applyProfessionalInput(p, in); err != nil {
		return nil, err
	}
	if wasActive && !p.Active {
		future, err := s.guard.ProfessionalHasFutureAppointments(ctx, p.ID, s.now())
		if err != nil {
			return nil, err
		}
		if future {
			return nil, apperr.Validation("professional has future appointments; cancel or reassign them before deactivating")
		}
	}
	if err := s.ensureProfessionalEmailFree(ctx, p.Email, p.ID); err != nil {
		return nil, err
	}
	if err := s.professionals.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) DeleteProfessional(ctx context.Context, id uuid.UUID) error {
	if _, err := s.professionals.GetByID(ctx, id); err != nil {
		return err
	}
	future, err := s.guard.ProfessionalHasFutureAppointments(ctx, id, s.now())
	if err != nil {
		return err
	}
	if future {
		return apperr.Validation("cannot remove a professional with future appointments")
	}
	return s.professionals.Delete(ctx, id)
}
