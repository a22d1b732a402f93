package handlers

import (
	"log/slog"
	"net/http"
	"time"

	mw "github.com/esp32-access-manager/backend/internal/api/middleware"
	"github.com/esp32-access-manager/backend/internal/lib/validate"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

type enrollRequest struct {
	ID string `json:"id" validate:"omitempty,max=64"`
}

func (e *enrollRequest) Bind(*http.Request) error { return validate.Struct(e) }

type enrollResponse struct {
	Success   bool   `json:"success"`
	ID        string `json:"id,omitempty"`
	Message   string `json:"message"`
	Pending   bool   `json:"pending,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ExpiresIn int    `json:"expires_in,omitempty"`
}

// EnrollCard enrolls the given card id, or arms the reader when the body
// has none. The armed case answers 202; the card arrives as nfc-detected.
func EnrollCard(log *slog.Logger, svc AccessService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.cards")

		var req enrollRequest
		if r.ContentLength != 0 && !bind(w, r, &req) {
			return
		}

		res, err := svc.EnrollCard(r.Context(), req.ID, principal(r).Username)
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		if res.Pending {
			respond(w, r, http.StatusAccepted, enrollResponse{
				Success:   true,
				Message:   "Reader armed, tap the card to enroll",
				Pending:   true,
				SessionID: res.Session.ID,
				ExpiresIn: int(res.Session.ExpiresIn(time.Now()).Seconds()),
			})
			return
		}
		respond(w, r, http.StatusCreated, enrollResponse{
			Success: true,
			ID:      res.Card.ID,
			Message: "Card " + res.Card.ID + " enrolled",
		})
	}
}

type cardRequest struct {
	ID string `json:"id" validate:"required"`
}

func (c *cardRequest) Bind(*http.Request) error { return validate.Struct(c) }

// DisenrollCard removes an enrolled card.
func DisenrollCard(log *slog.Logger, svc AccessService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.cards")

		var req cardRequest
		if !bind(w, r, &req) {
			return
		}
		if err := svc.DisenrollCard(r.Context(), req.ID); err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusOK, ok("Card "+req.ID+" disenrolled"))
	}
}

// ListActiveCards returns every enrolled card.
func ListActiveCards(log *slog.Logger, svc AccessService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cards, err := svc.ListActiveCards(r.Context())
		if err != nil {
			mw.WriteAppError(w, r, requestLogger(log, r, "http.handlers.cards"), err)
			return
		}
		if cards == nil {
			cards = []models.NFCCard{}
		}
		respond(w, r, http.StatusOK, cards)
	}
}
