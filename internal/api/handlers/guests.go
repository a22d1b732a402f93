package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	mw "github.com/esp32-access-manager/backend/internal/api/middleware"
	"github.com/esp32-access-manager/backend/internal/guest"
	"github.com/esp32-access-manager/backend/internal/lib/validate"
	"github.com/esp32-access-manager/backend/internal/scan"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// GuestService is the guest account and request workflow.
type GuestService interface {
	Registrar
	ListGuests(ctx context.Context) ([]models.Guest, error)
	ListPending(ctx context.Context) ([]models.Guest, error)
	Review(ctx context.Context, id, action, reviewer string) (*models.Guest, error)
	ToggleActive(ctx context.Context, id, by string) (*models.Guest, error)
	Delete(ctx context.Context, id, by string) error
	AssignPIN(ctx context.Context, id, code string) (*models.Guest, error)
	ClearPIN(ctx context.Context, id string) error

	SubmitRequest(ctx context.Context, guestID string, in guest.SubmitInput) (*models.AccessRequest, error)
	ListMine(ctx context.Context, guestID string) ([]models.AccessRequest, error)
	ListAll(ctx context.Context) ([]models.AccessRequest, error)
	Respond(ctx context.Context, id string, in guest.RespondInput, admin string) (*models.AccessRequest, error)
	ArmScan(ctx context.Context, requestID, by string) (scan.Session, error)
}

type guestResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Guest   *models.Guest `json:"guest,omitempty"`
}

func listGuests(log *slog.Logger, list func(context.Context) ([]models.Guest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		guests, err := list(r.Context())
		if err != nil {
			mw.WriteAppError(w, r, requestLogger(log, r, "http.handlers.guests"), err)
			return
		}
		if guests == nil {
			guests = []models.Guest{}
		}
		respond(w, r, http.StatusOK, guests)
	}
}

// ListGuests returns every guest account.
func ListGuests(log *slog.Logger, svc GuestService) http.HandlerFunc {
	return listGuests(log, svc.ListGuests)
}

// ListPendingGuests returns guests awaiting review.
func ListPendingGuests(log *slog.Logger, svc GuestService) http.HandlerFunc {
	return listGuests(log, svc.ListPending)
}

type reviewRequest struct {
	Action string `json:"action" validate:"oneof=approve reject"`
}

func (rv *reviewRequest) Bind(*http.Request) error {
	if rv.Action == "" {
		rv.Action = guest.ActionApprove
	}
	return validate.Struct(rv)
}

// ReviewGuest approves or rejects a pending guest. An empty body approves.
func ReviewGuest(log *slog.Logger, svc GuestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.guests")

		req := reviewRequest{Action: guest.ActionApprove}
		if r.ContentLength != 0 && !bind(w, r, &req) {
			return
		}
		g, err := svc.Review(r.Context(), mux.Vars(r)["id"], req.Action, principal(r).Username)
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusOK, guestResponse{Success: true, Message: "Guest " + g.Username + " " + g.ApprovalStatus, Guest: g})
	}
}

// ToggleGuest flips an approved guest's active flag.
func ToggleGuest(log *slog.Logger, svc GuestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.guests")

		g, err := svc.ToggleActive(r.Context(), mux.Vars(r)["id"], principal(r).Username)
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusOK, guestResponse{Success: true, Guest: g})
	}
}

// DeleteGuest removes a guest and its requests.
func DeleteGuest(log *slog.Logger, svc GuestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.guests")

		if err := svc.Delete(r.Context(), mux.Vars(r)["id"], principal(r).Username); err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusOK, ok("Guest deleted"))
	}
}

type assignPINRequest struct {
	PINCode string `json:"pin_code" validate:"omitempty,len=6,number"`
}

func (a *assignPINRequest) Bind(*http.Request) error { return validate.Struct(a) }

type assignPINResponse struct {
	Success bool   `json:"success"`
	PINCode string `json:"pin_code"`
}

// AssignPIN sets a guest's personal PIN, generating one when the body has none.
func AssignPIN(log *slog.Logger, svc GuestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.guests")

		var req assignPINRequest
		if r.ContentLength != 0 && !bind(w, r, &req) {
			return
		}
		g, err := svc.AssignPIN(r.Context(), mux.Vars(r)["id"], req.PINCode)
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusOK, assignPINResponse{Success: true, PINCode: *g.PINCode})
	}
}

// ClearPIN removes a guest's personal PIN.
func ClearPIN(log *slog.Logger, svc GuestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.guests")

		if err := svc.ClearPIN(r.Context(), mux.Vars(r)["id"]); err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusOK, ok("PIN cleared"))
	}
}
