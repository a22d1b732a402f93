package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	mw "github.com/esp32-access-manager/backend/internal/api/middleware"
	"github.com/esp32-access-manager/backend/internal/guest"
	"github.com/esp32-access-manager/backend/internal/lib/validate"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

type submitRequest struct {
	Reason        string     `json:"reason" validate:"required,max=500"`
	DurationHours float64    `json:"duration_hours" validate:"gte=0"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

func (s *submitRequest) Bind(*http.Request) error { return validate.Struct(s) }

type requestResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message,omitempty"`
	Request *models.AccessRequest `json:"request"`
}

// SubmitRequest files an access request for the calling guest.
func SubmitRequest(log *slog.Logger, svc GuestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.requests")

		var req submitRequest
		if !bind(w, r, &req) {
			return
		}
		created, err := svc.SubmitRequest(r.Context(), principal(r).ID, guest.SubmitInput{
			Reason:        req.Reason,
			DurationHours: req.DurationHours,
			ExpiresAt:     req.ExpiresAt,
		})
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusCreated, requestResponse{Success: true, Message: "Request submitted", Request: created})
	}
}

func requestList(reqs []models.AccessRequest) []models.AccessRequest {
	if reqs == nil {
		return []models.AccessRequest{}
	}
	return reqs
}

// MyRequests lists the calling guest's requests.
func MyRequests(log *slog.Logger, svc GuestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqs, err := svc.ListMine(r.Context(), principal(r).ID)
		if err != nil {
			mw.WriteAppError(w, r, requestLogger(log, r, "http.handlers.requests"), err)
			return
		}
		respond(w, r, http.StatusOK, requestList(reqs))
	}
}

// ListRequests lists every request for admins.
func ListRequests(log *slog.Logger, svc GuestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqs, err := svc.ListAll(r.Context())
		if err != nil {
			mw.WriteAppError(w, r, requestLogger(log, r, "http.handlers.requests"), err)
			return
		}
		respond(w, r, http.StatusOK, requestList(reqs))
	}
}

type respondRequest struct {
	Action     string `json:"action" validate:"required,oneof=approve reject"`
	AccessType string `json:"access_type" validate:"omitempty,oneof=pin nfc"`
	NFCCardID  string `json:"nfc_card_id" validate:"max=64"`
	AdminNotes string `json:"admin_notes" validate:"max=500"`
}

func (rr *respondRequest) Bind(*http.Request) error { return validate.Struct(rr) }

// RespondRequest approves or rejects a pending request.
func RespondRequest(log *slog.Logger, svc GuestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.requests")

		var req respondRequest
		if !bind(w, r, &req) {
			return
		}
		updated, err := svc.Respond(r.Context(), mux.Vars(r)["id"], guest.RespondInput{
			Action:     req.Action,
			AccessType: req.AccessType,
			NFCCardID:  req.NFCCardID,
			AdminNotes: req.AdminNotes,
		}, principal(r).Username)
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusOK, requestResponse{Success: true, Message: "Request " + updated.Status, Request: updated})
	}
}

type scanRequest struct {
	RequestID string `json:"request_id" validate:"required"`
}

func (s *scanRequest) Bind(*http.Request) error { return validate.Struct(s) }

// ScanForRequest arms the reader to capture a card for a pending request.
func ScanForRequest(log *slog.Logger, svc GuestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.requests")

		var req scanRequest
		if !bind(w, r, &req) {
			return
		}
		session, err := svc.ArmScan(r.Context(), req.RequestID, principal(r).Username)
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusAccepted, enrollResponse{
			Success:   true,
			Pending:   true,
			SessionID: session.ID,
			ExpiresIn: int(session.ExpiresIn(time.Now()).Seconds()),
			Message:   "Tap the card on the reader",
		})
	}
}
