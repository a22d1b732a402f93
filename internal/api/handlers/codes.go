package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/esp32-access-manager/backend/internal/access"
	mw "github.com/esp32-access-manager/backend/internal/api/middleware"
	"github.com/esp32-access-manager/backend/internal/lib/validate"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// AccessService is the code, card and unlock surface used by the handlers.
type AccessService interface {
	CreateCode(ctx context.Context, in access.CreateCodeInput) (*models.AccessCode, error)
	DeleteCode(ctx context.Context, code string) error
	ListActiveCodes(ctx context.Context) ([]models.AccessCode, error)
	EnrollCard(ctx context.Context, id, by string) (*access.EnrollResult, error)
	DisenrollCard(ctx context.Context, id string) error
	ListActiveCards(ctx context.Context) ([]models.NFCCard, error)
	Unlock(ctx context.Context, code string, ch access.Channel) (*access.UnlockResult, error)
	ListLogs(ctx context.Context, q models.LogQuery) (*models.LogPage, error)
}

type createCodeRequest struct {
	Code       string `json:"code" validate:"required,len=6,number"`
	TTLSeconds int    `json:"ttlSeconds" validate:"gt=0"`
	Type       string `json:"type" validate:"required,oneof=otp static"`
}

func (c *createCodeRequest) Bind(*http.Request) error { return validate.Struct(c) }

type createCodeResponse struct {
	Success   bool      `json:"success"`
	Code      string    `json:"code"`
	Type      string    `json:"type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateCode registers a new access code.
func CreateCode(log *slog.Logger, svc AccessService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.codes")

		var req createCodeRequest
		if !bind(w, r, &req) {
			return
		}

		code, err := svc.CreateCode(r.Context(), access.CreateCodeInput{
			Code:       req.Code,
			TTLSeconds: req.TTLSeconds,
			Type:       req.Type,
			CreatedBy:  principal(r).Username,
		})
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusCreated, createCodeResponse{
			Success:   true,
			Code:      code.Code,
			Type:      code.Type,
			ExpiresAt: code.ExpiresAt,
		})
	}
}

type codeRequest struct {
	Code string `json:"code" validate:"required"`
}

func (c *codeRequest) Bind(*http.Request) error { return validate.Struct(c) }

// DeleteCode removes an active access code.
func DeleteCode(log *slog.Logger, svc AccessService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.codes")

		var req codeRequest
		if !bind(w, r, &req) {
			return
		}
		if err := svc.DeleteCode(r.Context(), req.Code); err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusOK, ok("Code "+req.Code+" deleted"))
	}
}

// ListActiveCodes returns every unexpired code.
func ListActiveCodes(log *slog.Logger, svc AccessService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		codes, err := svc.ListActiveCodes(r.Context())
		if err != nil {
			mw.WriteAppError(w, r, requestLogger(log, r, "http.handlers.codes"), err)
			return
		}
		if codes == nil {
			codes = []models.AccessCode{}
		}
		respond(w, r, http.StatusOK, codes)
	}
}

type unlockResponse struct {
	Success  bool    `json:"success"`
	Method   string  `json:"method"`
	UserName *string `json:"user_name,omitempty"`
}

// Unlock checks a PIN or card id from the dashboard and opens the door.
func Unlock(log *slog.Logger, svc AccessService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.unlock")

		var req codeRequest
		if !bind(w, r, &req) {
			return
		}
		res, err := svc.Unlock(r.Context(), req.Code, access.ChannelWeb)
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusOK, unlockResponse{Success: true, Method: res.Method, UserName: res.UserName})
	}
}
