package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	mw "github.com/esp32-access-manager/backend/internal/api/middleware"
	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/auth"
	"github.com/esp32-access-manager/backend/internal/guest"
	"github.com/esp32-access-manager/backend/internal/lib/validate"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// AuthService issues and checks bearer tokens.
type AuthService interface {
	Login(ctx context.Context, username, password, role string) (*auth.Session, error)
	Verify(ctx context.Context, token string) (*auth.Principal, *models.User, error)
	Refresh(ctx context.Context, token string) (string, error)
	Logout(ctx context.Context, token string) error
}

// Registrar creates pending guest accounts.
type Registrar interface {
	Register(ctx context.Context, in guest.RegisterInput) (*models.Guest, error)
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (l *loginRequest) Bind(*http.Request) error { return validate.Struct(l) }

type sessionResponse struct {
	Success bool         `json:"success"`
	User    *models.User `json:"user,omitempty"`
	Token   string       `json:"token,omitempty"`
	Valid   bool         `json:"valid,omitempty"`
}

// Login signs in an account of the given role.
func Login(log *slog.Logger, svc AuthService, role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.auth")

		var req loginRequest
		if !bind(w, r, &req) {
			return
		}
		session, err := svc.Login(r.Context(), req.Username, req.Password, role)
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		logger.Info("login", slog.String("username", session.User.Username), slog.String("role", role))
		respond(w, r, http.StatusOK, sessionResponse{Success: true, User: &session.User, Token: session.Token})
	}
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6"`
	FullName string `json:"full_name" validate:"required,max=100"`
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
}

func (reg *registerRequest) Bind(*http.Request) error { return validate.Struct(reg) }

type registerResponse struct {
	Success          bool   `json:"success"`
	RequiresApproval bool   `json:"requiresApproval"`
	Message          string `json:"message"`
}

// Register creates a pending guest. No token is issued.
func Register(log *slog.Logger, svc Registrar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.auth")

		var req registerRequest
		if !bind(w, r, &req) {
			return
		}
		_, err := svc.Register(r.Context(), guest.RegisterInput{
			Username: req.Username,
			Password: req.Password,
			FullName: req.FullName,
			Email:    req.Email,
			Phone:    req.Phone,
		})
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusCreated, registerResponse{
			Success:          true,
			RequiresApproval: true,
			Message:          "Registration received. Your account is pending admin approval.",
		})
	}
}

// Verify checks the bearer token and returns the current account.
func Verify(log *slog.Logger, svc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.auth")

		token := mw.BearerToken(r)
		if token == "" {
			mw.WriteAppError(w, r, logger, apperr.Auth("Authorization header not found"))
			return
		}
		_, user, err := svc.Verify(r.Context(), token)
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusOK, sessionResponse{Success: true, Valid: true, User: user})
	}
}

// Refresh rotates the bearer token.
func Refresh(log *slog.Logger, svc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.auth")

		token := mw.BearerToken(r)
		if token == "" {
			mw.WriteAppError(w, r, logger, apperr.Auth("Authorization header not found"))
			return
		}
		fresh, err := svc.Refresh(r.Context(), token)
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusOK, sessionResponse{Success: true, Token: fresh})
	}
}

// Logout revokes the bearer token. It succeeds without a token so clients
// can always complete a local sign-out.
func Logout(log *slog.Logger, svc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.auth")

		if token := mw.BearerToken(r); token != "" {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := svc.Logout(ctx, token); err != nil {
				mw.WriteAppError(w, r, logger, err)
				return
			}
		}
		respond(w, r, http.StatusOK, ok("Logged out"))
	}
}
