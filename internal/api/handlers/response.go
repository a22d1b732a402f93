// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	mw "github.com/esp32-access-manager/backend/internal/api/middleware"
	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/auth"
	"github.com/esp32-access-manager/backend/internal/lib/sl"
)

// MessageResponse acknowledges a mutation.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func ok(message string) MessageResponse {
	return MessageResponse{Success: true, Message: message}
}

func requestLogger(log *slog.Logger, r *http.Request, module string) *slog.Logger {
	logger := log.With(
		sl.Module(module),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	if p := auth.PrincipalFrom(r.Context()); p != nil {
		logger = logger.With(slog.String("user", p.Username))
	}
	return logger
}

// bind decodes and validates the body, writing a 400 on failure.
func bind(w http.ResponseWriter, r *http.Request, v render.Binder) bool {
	if err := render.Bind(r, v); err != nil {
		mw.WriteError(w, r, http.StatusBadRequest, string(apperr.KindValidation), err.Error())
		return false
	}
	return true
}

func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// principal returns the authenticated caller. Routes behind RequireRole
// always have one.
func principal(r *http.Request) *auth.Principal {
	if p := auth.PrincipalFrom(r.Context()); p != nil {
		return p
	}
	return &auth.Principal{}
}
