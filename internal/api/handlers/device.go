package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	mw "github.com/esp32-access-manager/backend/internal/api/middleware"
	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/device"
)

// DeviceHandler processes door unit events.
type DeviceHandler interface {
	HandleEvent(ctx context.Context, ev device.Event) (*device.Result, error)
}

const maxEventBytes = 4 << 10

// DeviceEvent accepts a keypad or reader event from the door unit. A denied
// attempt is a 200 with granted false so the unit can show feedback.
func DeviceEvent(log *slog.Logger, h DeviceHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.device")

		body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
		if err != nil {
			mw.WriteAppError(w, r, logger, apperr.Validation("reading body: %v", err))
			return
		}
		ev, err := device.DecodeEvent(body)
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}

		res, err := h.HandleEvent(r.Context(), ev)
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		logger.Info("device event",
			slog.String("type", ev.Type),
			slog.String("device", ev.DeviceID),
			slog.Bool("granted", res.Granted),
			slog.String("captured", res.Captured),
		)
		respond(w, r, http.StatusOK, res)
	}
}
