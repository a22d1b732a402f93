// Package guest implements guest self-registration, admin approval and the
// time-bounded access request workflow.
package guest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/auth"
	"github.com/esp32-access-manager/backend/internal/lib/sl"
	"github.com/esp32-access-manager/backend/internal/pin"
	"github.com/esp32-access-manager/backend/internal/scan"
	"github.com/esp32-access-manager/backend/internal/storage"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// Review actions.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Toggle actions reported in approval updates.
const (
	ActionActivate   = "activate"
	ActionDeactivate = "deactivate"
)

// Notifier receives change signals for connected clients.
type Notifier interface {
	NewUserRegistration(g models.Guest)
	UserApprovalUpdate(username, action, approvedBy string)
	UserDeleted(username, deletedBy string)
	NewNFCRequest(req models.AccessRequest)
	NFCRequestResponded(req models.AccessRequest)
	NFCDetected(nfcID, requestID string)
}

// Dependencies wires the service.
type Dependencies struct {
	Guests    *storage.GuestRepository
	Requests  *storage.AccessRequestRepository
	Checker   *pin.ConflictChecker
	Generator *pin.Generator
	Scans     *scan.Coordinator
	Notifier  Notifier
	Log       *slog.Logger

	DefaultDuration time.Duration
	MaxDuration     time.Duration
}

// Service runs the guest workflows.
type Service struct {
	guests    *storage.GuestRepository
	requests  *storage.AccessRequestRepository
	checker   *pin.ConflictChecker
	generator *pin.Generator
	scans     *scan.Coordinator
	notifier  Notifier
	log       *slog.Logger

	defaultDuration time.Duration
	maxDuration     time.Duration
	now             func() time.Time
}

// NewService creates a guest service.
func NewService(deps Dependencies) *Service {
	if deps.DefaultDuration <= 0 {
		deps.DefaultDuration = 24 * time.Hour
	}
	if deps.Generator == nil {
		deps.Generator = pin.NewGenerator()
	}
	return &Service{
		guests:          deps.Guests,
		requests:        deps.Requests,
		checker:         deps.Checker,
		generator:       deps.Generator,
		scans:           deps.Scans,
		notifier:        deps.Notifier,
		log:             deps.Log.With(sl.Module("guest")),
		defaultDuration: deps.DefaultDuration,
		maxDuration:     deps.MaxDuration,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// ── Accounts ────────────────────────────────────────────────

// RegisterInput is a self-registration.
type RegisterInput struct {
	Username string
	Password string
	FullName string
	Email    string
	Phone    string
}

// Register creates a pending guest. It never signs the guest in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Guest, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.FullName = strings.TrimSpace(in.FullName)
	if in.Username == "" {
		return nil, apperr.Validation("username is required")
	}
	if in.FullName == "" {
		return nil, apperr.Validation("full_name is required")
	}
	if len(in.Password) < auth.MinPasswordLength {
		return nil, apperr.Validation("password must be at least %d characters", auth.MinPasswordLength)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	g := &models.Guest{
		Username:       in.Username,
		PasswordHash:   hash,
		FullName:       in.FullName,
		CreatedAt:      s.now(),
		ApprovalStatus: models.ApprovalPending,
	}
	if in.Email != "" {
		g.Email = &in.Email
	}
	if in.Phone != "" {
		g.Phone = &in.Phone
	}

	if err := s.guests.Create(ctx, g); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Conflict("username %s is already taken", in.Username)
		}
		return nil, fmt.Errorf("creating guest: %w", err)
	}

	s.log.Info("guest registered", slog.String("username", g.Username))
	s.notify(func(n Notifier) { n.NewUserRegistration(*g) })
	return g, nil
}

// ListGuests returns every guest account.
func (s *Service) ListGuests(ctx context.Context) ([]models.Guest, error) {
	guests, err := s.guests.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing guests: %w", err)
	}
	return guests, nil
}

// ListPending returns guests awaiting review.
func (s *Service) ListPending(ctx context.Context) ([]models.Guest, error) {
	guests, err := s.guests.ListByStatus(ctx, models.ApprovalPending)
	if err != nil {
		return nil, fmt.Errorf("listing pending guests: %w", err)
	}
	return guests, nil
}

// Review approves or rejects a pending guest.
func (s *Service) Review(ctx context.Context, id, action, reviewer string) (*models.Guest, error) {
	var status string
	switch action {
	case ActionApprove:
		status = models.ApprovalApproved
	case ActionReject:
		status = models.ApprovalRejected
	default:
		return nil, apperr.Validation("action must be approve or reject")
	}

	g, err := s.mustGuest(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.guests.Review(ctx, id, status, reviewer, s.now())
	if err != nil {
		return nil, fmt.Errorf("reviewing guest: %w", err)
	}
	if !ok {
		return nil, apperr.Conflict("guest %s is not pending", g.Username)
	}

	s.log.Info("guest reviewed", slog.String("username", g.Username), slog.String("status", status), slog.String("by", reviewer))
	s.notify(func(n Notifier) { n.UserApprovalUpdate(g.Username, action, reviewer) })
	return s.guests.GetByID(ctx, id)
}

// ToggleActive flips an approved guest's active flag.
func (s *Service) ToggleActive(ctx context.Context, id, by string) (*models.Guest, error) {
	g, err := s.mustGuest(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.guests.ToggleActive(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("toggling guest: %w", err)
	}
	if !ok {
		return nil, apperr.Conflict("guest %s is not approved", g.Username)
	}

	action := ActionDeactivate
	if !g.IsActive {
		action = ActionActivate
	}
	s.log.Info("guest toggled", slog.String("username", g.Username), slog.String("action", action))
	s.notify(func(n Notifier) { n.UserApprovalUpdate(g.Username, action, by) })
	return s.guests.GetByID(ctx, id)
}

// Delete removes a guest and its requests.
func (s *Service) Delete(ctx context.Context, id, by string) error {
	g, err := s.mustGuest(ctx, id)
	if err != nil {
		return err
	}
	ok, err := s.guests.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting guest: %w", err)
	}
	if !ok {
		return apperr.NotFound("guest not found")
	}

	s.log.Info("guest deleted", slog.String("username", g.Username), slog.String("by", by))
	s.notify(func(n Notifier) { n.UserDeleted(g.Username, by) })
	return nil
}

// AssignPIN sets the guest's personal PIN, generating one when code is
// empty. The PIN must not be held by any other active credential.
func (s *Service) AssignPIN(ctx context.Context, id, code string) (*models.Guest, error) {
	g, err := s.mustGuest(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if code == "" {
		code, err = s.checker.GenerateUnique(ctx, s.generator, now, 0)
		if err != nil {
			return nil, err
		}
	} else {
		if err := pin.ValidateCode(code); err != nil {
			return nil, err
		}
		holders, err := s.checker.CheckConflicts(ctx, code, now)
		if err != nil {
			return nil, err
		}
		for _, h := range holders {
			if h.Kind != models.HolderGuestPIN || h.ID != id {
				return nil, apperr.Conflict("PIN is already in use")
			}
		}
	}

	if _, err := s.guests.SetPIN(ctx, id, &code); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Conflict("PIN is already in use")
		}
		return nil, fmt.Errorf("assigning PIN: %w", err)
	}

	s.log.Info("guest PIN assigned", slog.String("username", g.Username))
	g.PINCode = &code
	return g, nil
}

// ClearPIN removes the guest's personal PIN.
func (s *Service) ClearPIN(ctx context.Context, id string) error {
	if _, err := s.mustGuest(ctx, id); err != nil {
		return err
	}
	if _, err := s.guests.SetPIN(ctx, id, nil); err != nil {
		return fmt.Errorf("clearing PIN: %w", err)
	}
	return nil
}

func (s *Service) mustGuest(ctx context.Context, id string) (*models.Guest, error) {
	g, err := s.guests.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading guest: %w", err)
	}
	if g == nil {
		return nil, apperr.NotFound("guest not found")
	}
	return g, nil
}

func (s *Service) notify(fn func(Notifier)) {
	if s.notifier != nil {
		fn(s.notifier)
	}
}
