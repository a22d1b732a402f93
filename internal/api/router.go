// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"

	"github.com/esp32-access-manager/backend/internal/api/handlers"
	mw "github.com/esp32-access-manager/backend/internal/api/middleware"
	"github.com/esp32-access-manager/backend/internal/storage/models"
	"github.com/esp32-access-manager/backend/internal/websocket"
)

// Services are the collaborators the routes dispatch to. MQTT and Influx
// may be nil when those integrations are disabled.
type Services struct {
	Auth   handlers.AuthService
	Access handlers.AccessService
	Guests handlers.GuestService
	Device handlers.DeviceHandler

	DB     handlers.Pinger
	MQTT   handlers.Checker
	Influx handlers.Checker
	Hub    *websocket.Hub

	DeviceKey      string
	WSBuffer       int
	WSPingInterval time.Duration
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(log *slog.Logger, s Services) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(mw.Logging(log))
	r.Use(mw.ErrorRecovery(log))

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", handlers.HealthCheck(s.DB, s.MQTT, s.Influx, s.Hub)).Methods(http.MethodGet)
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(log, s.Hub, s.Auth, s.WSBuffer, s.WSPingInterval)).Methods(http.MethodGet)

	// Unauthenticated: sign-in, registration and token bookkeeping
	api.HandleFunc("/auth/admin/login", handlers.Login(log, s.Auth, models.RoleAdmin)).Methods(http.MethodPost)
	api.HandleFunc("/auth/guest/login", handlers.Login(log, s.Auth, models.RoleGuest)).Methods(http.MethodPost)
	api.HandleFunc("/guest/login", handlers.Login(log, s.Auth, models.RoleGuest)).Methods(http.MethodPost)
	api.HandleFunc("/auth/guest/register", handlers.Register(log, s.Guests)).Methods(http.MethodPost)
	api.HandleFunc("/guest/register", handlers.Register(log, s.Guests)).Methods(http.MethodPost)
	api.HandleFunc("/auth/verify", handlers.Verify(log, s.Auth)).Methods(http.MethodPost, http.MethodGet)
	api.HandleFunc("/auth/refresh", handlers.Refresh(log, s.Auth)).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", handlers.Logout(log, s.Auth)).Methods(http.MethodPost)

	// Door unit
	dev := api.PathPrefix("/device").Subrouter()
	dev.Use(mw.DeviceKey(s.DeviceKey))
	dev.HandleFunc("/events", handlers.DeviceEvent(log, s.Device)).Methods(http.MethodPost)

	// Any signed-in account
	anyone := api.NewRoute().Subrouter()
	anyone.Use(mw.RequireRole(log, s.Auth, models.RoleAdmin, models.RoleGuest))
	anyone.HandleFunc("/unlock", handlers.Unlock(log, s.Access)).Methods(http.MethodPost)

	// Guests
	guest := api.PathPrefix("/guest").Subrouter()
	guest.Use(mw.RequireRole(log, s.Auth, models.RoleGuest))
	guest.HandleFunc("/request-nfc", handlers.SubmitRequest(log, s.Guests)).Methods(http.MethodPost)
	guest.HandleFunc("/my-requests", handlers.MyRequests(log, s.Guests)).Methods(http.MethodGet)
	guest.HandleFunc("/my-logs", handlers.MyLogs(log, s.Access)).Methods(http.MethodGet)

	// Admins
	admin := api.NewRoute().Subrouter()
	admin.Use(mw.RequireRole(log, s.Auth, models.RoleAdmin))
	admin.HandleFunc("/create-code", handlers.CreateCode(log, s.Access)).Methods(http.MethodPost)
	admin.HandleFunc("/delete-code", handlers.DeleteCode(log, s.Access)).Methods(http.MethodPost)
	admin.HandleFunc("/active-passwords", handlers.ListActiveCodes(log, s.Access)).Methods(http.MethodGet)
	admin.HandleFunc("/enroll", handlers.EnrollCard(log, s.Access)).Methods(http.MethodPost)
	admin.HandleFunc("/disenroll", handlers.DisenrollCard(log, s.Access)).Methods(http.MethodPost)
	admin.HandleFunc("/active-nfc-cards", handlers.ListActiveCards(log, s.Access)).Methods(http.MethodGet)
	admin.HandleFunc("/logs", handlers.ListLogs(log, s.Access)).Methods(http.MethodGet)

	admin.HandleFunc("/admin/guests", handlers.ListGuests(log, s.Guests)).Methods(http.MethodGet)
	admin.HandleFunc("/admin/guests/pending", handlers.ListPendingGuests(log, s.Guests)).Methods(http.MethodGet)
	admin.HandleFunc("/admin/guests/{id}/approve", handlers.ReviewGuest(log, s.Guests)).Methods(http.MethodPost)
	admin.HandleFunc("/admin/guests/{id}/toggle", handlers.ToggleGuest(log, s.Guests)).Methods(http.MethodPost)
	admin.HandleFunc("/admin/guests/{id}", handlers.DeleteGuest(log, s.Guests)).Methods(http.MethodDelete)
	admin.HandleFunc("/admin/guests/{id}/assign-pin", handlers.AssignPIN(log, s.Guests)).Methods(http.MethodPost)
	admin.HandleFunc("/admin/guests/{id}/pin", handlers.ClearPIN(log, s.Guests)).Methods(http.MethodDelete)
	admin.HandleFunc("/admin/nfc-requests", handlers.ListRequests(log, s.Guests)).Methods(http.MethodGet)
	admin.HandleFunc("/admin/nfc-request/{id}/respond", handlers.RespondRequest(log, s.Guests)).Methods(http.MethodPost)
	admin.HandleFunc("/admin/scan-nfc", handlers.ScanForRequest(log, s.Guests)).Methods(http.MethodPost)

	return r
}
