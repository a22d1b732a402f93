// Package auth implements login, token verification, refresh and logout
// for admin and guest accounts.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/lib/sl"
	"github.com/esp32-access-manager/backend/internal/storage"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// Session is a successful login.
type Session struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

// Service authenticates accounts and manages token lifecycle.
type Service struct {
	admins *storage.AdminRepository
	guests *storage.GuestRepository
	tokens *storage.TokenRepository
	issuer *Issuer
	log    *slog.Logger
	now    func() time.Time
}

// NewService creates an auth service.
func NewService(
	admins *storage.AdminRepository,
	guests *storage.GuestRepository,
	tokens *storage.TokenRepository,
	issuer *Issuer,
	log *slog.Logger,
) *Service {
	return &Service{
		admins: admins,
		guests: guests,
		tokens: tokens,
		issuer: issuer,
		log:    log.With(sl.Module("auth")),
		now:    time.Now,
	}
}

// Login checks credentials for role and issues a token. Guests must be
// approved and active.
func (s *Service) Login(ctx context.Context, username, password, role string) (*Session, error) {
	if username == "" || password == "" {
		return nil, apperr.Validation("username and password are required")
	}
	if role != models.RoleAdmin && role != models.RoleGuest {
		return nil, apperr.Validation("role must be admin or guest")
	}

	acct, err := s.lookup(ctx, username, role)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		_, _ = CheckPassword(string(dummyHash), password)
		return nil, s.loginFailed(username, role, "unknown user")
	}

	ok, err := CheckPassword(acct.hash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.loginFailed(username, role, "bad password")
	}

	// Status is only revealed to callers who know the password.
	if g := acct.guest; g != nil {
		switch {
		case g.ApprovalStatus == models.ApprovalPending:
			return nil, apperr.Auth("account is pending approval")
		case g.ApprovalStatus == models.ApprovalRejected:
			return nil, apperr.Auth("account registration was rejected")
		case !g.IsActive:
			return nil, apperr.Auth("account is disabled")
		}
	}

	return s.issue(acct.user)
}

type account struct {
	user  models.User
	hash  string
	guest *models.Guest
}

func (s *Service) lookup(ctx context.Context, username, role string) (*account, error) {
	if role == models.RoleAdmin {
		a, err := s.admins.GetByUsername(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("loading admin: %w", err)
		}
		if a == nil {
			return nil, nil
		}
		return &account{user: a.User(), hash: a.PasswordHash}, nil
	}

	g, err := s.guests.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("loading guest: %w", err)
	}
	if g == nil {
		return nil, nil
	}
	return &account{user: g.User(), hash: g.PasswordHash, guest: g}, nil
}

func (s *Service) loginFailed(username, role, reason string) error {
	s.log.Info("login failed",
		slog.String("username", username),
		slog.String("role", role),
		slog.String("reason", reason),
	)
	return apperr.Auth("invalid username or password")
}

func (s *Service) issue(user models.User) (*Session, error) {
	token, _, err := s.issuer.Issue(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Token: token}, nil
}

// Verify validates token and returns the current account behind it.
func (s *Service) Verify(ctx context.Context, token string) (*Principal, *models.User, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return nil, nil, apperr.Auth("invalid or expired token")
	}

	revoked, err := s.tokens.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("checking revocation: %w", err)
	}
	if revoked {
		return nil, nil, apperr.Auth("token has been revoked")
	}

	var user models.User
	switch claims.Role {
	case models.RoleAdmin:
		a, err := s.admins.GetByID(ctx, claims.Subject)
		if err != nil {
			return nil, nil, fmt.Errorf("loading admin: %w", err)
		}
		if a == nil {
			return nil, nil, apperr.Auth("account no longer exists")
		}
		user = a.User()
	case models.RoleGuest:
		g, err := s.guests.GetByID(ctx, claims.Subject)
		if err != nil {
			return nil, nil, fmt.Errorf("loading guest: %w", err)
		}
		if g == nil {
			return nil, nil, apperr.Auth("account no longer exists")
		}
		if !g.CanAuthenticate() {
			return nil, nil, apperr.Auth("account is not active")
		}
		user = g.User()
	default:
		return nil, nil, apperr.Auth("invalid or expired token")
	}

	p := &Principal{ID: user.ID, Username: user.Username, Role: user.Role, TokenID: claims.ID}
	return p, &user, nil
}

// Refresh issues a new token for a valid one and revokes the old.
func (s *Service) Refresh(ctx context.Context, token string) (string, error) {
	_, user, err := s.Verify(ctx, token)
	if err != nil {
		return "", err
	}

	session, err := s.issue(*user)
	if err != nil {
		return "", err
	}
	if err := s.revoke(ctx, token); err != nil {
		return "", err
	}
	return session.Token, nil
}

// Logout revokes token. Tokens that no longer parse need no revocation.
func (s *Service) Logout(ctx context.Context, token string) error {
	if _, err := s.issuer.Parse(token); err != nil {
		return nil
	}
	return s.revoke(ctx, token)
}

func (s *Service) revoke(ctx context.Context, token string) error {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return apperr.Auth("invalid or expired token")
	}
	if err := s.tokens.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// EnsureAdmin creates the bootstrap admin when no admin account exists.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	n, err := s.admins.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting admins: %w", err)
	}
	if n > 0 {
		return nil
	}
	if username == "" || password == "" {
		s.log.Warn("no admin account exists and no bootstrap credentials are configured")
		return nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	admin := &models.Admin{
		ID:           storage.GenerateID(),
		Username:     username,
		PasswordHash: hash,
		FullName:     "Administrator",
		CreatedAt:    s.now().UTC(),
	}
	if err := s.admins.Create(ctx, admin); err != nil {
		return fmt.Errorf("creating bootstrap admin: %w", err)
	}
	s.log.Info("bootstrap admin created", slog.String("username", username))
	return nil
}

// PurgeRevoked drops revocations for tokens past their own expiry.
func (s *Service) PurgeRevoked(ctx context.Context) (int64, error) {
	return s.tokens.PurgeExpired(ctx, s.now())
}
