package handlers

import (
	"log/slog"
	"net/http"

	"github.com/esp32-access-manager/backend/internal/access"
	mw "github.com/esp32-access-manager/backend/internal/api/middleware"
)

// ListLogs returns one filtered, sorted page of the audit log.
func ListLogs(log *slog.Logger, svc AccessService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.logs")

		q, err := access.ParseLogQuery(r.URL.Query())
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		page, err := svc.ListLogs(r.Context(), q)
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusOK, page)
	}
}

// MyLogs returns the calling guest's own unlock attempts.
func MyLogs(log *slog.Logger, svc AccessService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.logs")

		q, err := access.ParseLogQuery(r.URL.Query())
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		q.UserID = principal(r).ID
		page, err := svc.ListLogs(r.Context(), q)
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}
		respond(w, r, http.StatusOK, page)
	}
}
