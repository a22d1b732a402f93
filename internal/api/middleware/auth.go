package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/auth"
	"github.com/esp32-access-manager/backend/internal/lib/sl"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// Authenticator resolves a bearer token to its principal.
type Authenticator interface {
	Verify(ctx context.Context, token string) (*auth.Principal, *models.User, error)
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireRole admits requests whose bearer token belongs to one of roles
// and stores the principal in the request context.
func RequireRole(log *slog.Logger, authn Authenticator, roles ...string) func(http.Handler) http.Handler {
	log = log.With(sl.Module("middleware.auth"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				WriteError(w, r, http.StatusUnauthorized, string(apperr.KindAuth), "Authorization header not found")
				return
			}

			p, _, err := authn.Verify(r.Context(), token)
			if err != nil {
				log.Debug("token rejected",
					sl.Secret("token", token),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					sl.Err(err),
				)
				WriteAppError(w, r, log, err)
				return
			}
			if !slices.Contains(roles, p.Role) {
				WriteError(w, r, http.StatusForbidden, string(apperr.KindForbidden), "insufficient role")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// DeviceKey admits requests carrying the configured X-Device-Key. An empty
// key disables the endpoint.
func DeviceKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Device-Key")
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				WriteError(w, r, http.StatusUnauthorized, string(apperr.KindAuth), "invalid device key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
