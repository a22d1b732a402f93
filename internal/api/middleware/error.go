// Package middleware provides HTTP middleware and error responses for the API.
package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/lib/sl"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes without an apperr kind.
const (
	ErrBadRequest    = "bad_request"
	ErrInternalError = "internal_error"
)

// WriteError writes a JSON error response with the given status code.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message, Code: code})
}

// StatusFor maps an error to its HTTP status and code. Unclassified
// errors are internal.
func StatusFor(err error) (int, string) {
	switch kind := apperr.KindOf(err); kind {
	case apperr.KindValidation:
		return http.StatusBadRequest, string(kind)
	case apperr.KindConflict:
		return http.StatusConflict, string(kind)
	case apperr.KindNotFound:
		return http.StatusNotFound, string(kind)
	case apperr.KindAuth:
		return http.StatusUnauthorized, string(kind)
	case apperr.KindForbidden:
		return http.StatusForbidden, string(kind)
	}
	return http.StatusInternalServerError, ErrInternalError
}

// WriteAppError writes err with its mapped status. Internal errors are
// logged and their details withheld from the client.
func WriteAppError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, code := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			sl.Err(err),
		)
		WriteError(w, r, status, code, "An unexpected error occurred")
		return
	}
	WriteError(w, r, status, code, apperr.Message(err))
}

// ErrorRecovery recovers from panics and returns a 500 error.
func ErrorRecovery(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic recovered",
						slog.Any("panic", rec),
						slog.String("stack", string(debug.Stack())),
						slog.String("request_id", middleware.GetReqID(r.Context())),
					)
					WriteError(w, r, http.StatusInternalServerError, ErrInternalError, "An unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
