// Package main is the entry point for the ESP32 door access server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/esp32-access-manager/backend/internal/access"
	"github.com/esp32-access-manager/backend/internal/api"
	"github.com/esp32-access-manager/backend/internal/auth"
	"github.com/esp32-access-manager/backend/internal/config"
	"github.com/esp32-access-manager/backend/internal/device"
	"github.com/esp32-access-manager/backend/internal/guest"
	"github.com/esp32-access-manager/backend/internal/lib/logger"
	"github.com/esp32-access-manager/backend/internal/lib/sl"
	"github.com/esp32-access-manager/backend/internal/pin"
	"github.com/esp32-access-manager/backend/internal/scan"
	"github.com/esp32-access-manager/backend/internal/storage"
	"github.com/esp32-access-manager/backend/internal/telemetry"
	"github.com/esp32-access-manager/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	conf := config.MustLoad(*configPath)

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(conf.Listen.Port); err != nil {
			log.Fatalf("health check failed: %v", err)
		}
		os.Exit(0)
	}

	lg, err := logger.SetupLogger(conf.Env, conf.LogPath)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	lg.Info("starting access server",
		slog.String("version", version),
		slog.String("config", *configPath),
		slog.String("env", conf.Env),
	)

	if err := run(conf, lg); err != nil {
		lg.Error("server stopped with error", sl.Err(err))
		os.Exit(1)
	}
	lg.Info("server stopped")
}

func run(conf *config.Config, lg *slog.Logger) error {
	db, err := storage.NewDB(conf.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := storage.RunMigrations(db, lg); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	admins := storage.NewAdminRepository(db)
	guests := storage.NewGuestRepository(db)
	tokens := storage.NewTokenRepository(db)
	codes := storage.NewAccessCodeRepository(db)
	cards := storage.NewNFCCardRepository(db)
	logs := storage.NewUnlockLogRepository(db)
	requests := storage.NewAccessRequestRepository(db)
	checker := pin.NewConflictChecker(storage.NewCredentialRepository(db).FindPINHolders)
	scans := scan.NewCoordinator(conf.ScanTimeout())

	hub := websocket.NewHub(lg)
	go hub.Run()
	defer hub.Stop()
	events := websocket.NewEventBroadcaster(hub, lg)

	authSvc := auth.NewService(admins, guests, tokens, auth.NewIssuer(conf.Auth.JWTSecret, conf.TokenTTL()), lg)
	if err := authSvc.EnsureAdmin(context.Background(), conf.Auth.AdminUsername, conf.Auth.AdminPassword); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	influx, err := telemetry.Connect(conf.Influx, conf.Device.DoorID, lg)
	switch {
	case errors.Is(err, telemetry.ErrDisabled):
		lg.Info("influxdb telemetry disabled")
	case err != nil:
		lg.Warn("influxdb unavailable, telemetry disabled", sl.Err(err))
	}
	defer influx.Close()

	accessDeps := access.Dependencies{
		Codes:    codes,
		Cards:    cards,
		Logs:     logs,
		Guests:   guests,
		Requests: requests,
		Checker:  checker,
		Scans:    scans,
		Notifier: events,
		Log:      lg,
		MaxTTL:   conf.MaxCodeTTL(),
	}
	if influx != nil {
		accessDeps.Recorder = influx
	}
	accessSvc := access.NewService(accessDeps)

	guestSvc := guest.NewService(guest.Dependencies{
		Guests:          guests,
		Requests:        requests,
		Checker:         checker,
		Scans:           scans,
		Notifier:        events,
		Log:             lg,
		DefaultDuration: time.Duration(conf.Requests.DefaultDurationHours) * time.Hour,
		MaxDuration:     time.Duration(conf.Requests.MaxDurationHours) * time.Hour,
	})

	mgr := device.NewManager(accessSvc, guestSvc, scans, events, conf.Device.DoorID, lg)
	accessSvc.SetDoorOpener(mgr)

	var bridge *device.Bridge
	if conf.MQTT.Enabled {
		bridge, err = device.ConnectBridge(conf.MQTT, mgr.HandleEvent, lg)
		if err != nil {
			lg.Warn("mqtt bridge unavailable, door commands are logged only", sl.Err(err))
		} else {
			mgr.SetWriter(bridge)
			scans.OnArm(mgr.ArmReader)
			defer bridge.Close()
		}
	}

	sweeper := pin.NewExpiryScheduler(conf.Codes.SweepInterval, codes, requests, tokens, events, lg)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("starting expiry scheduler: %w", err)
	}
	defer sweeper.Stop()

	services := api.Services{
		Auth:           authSvc,
		Access:         accessSvc,
		Guests:         guestSvc,
		Device:         mgr,
		DB:             db,
		Hub:            hub,
		DeviceKey:      conf.Device.APIKey,
		WSBuffer:       conf.WebSocket.SendBuffer,
		WSPingInterval: time.Duration(conf.WebSocket.PingIntervalSeconds) * time.Second,
	}
	if bridge != nil {
		services.MQTT = bridge
	}
	if influx != nil {
		services.Influx = influx
	}
	if conf.Device.APIKey == "" {
		lg.Warn("device.api_key is empty, HTTP device events are disabled")
	}

	server := &http.Server{
		Addr:         conf.Addr(),
		Handler:      api.NewRouter(lg, services),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		lg.Info("listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		lg.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(port string) error {
	resp, err := http.Get("http://localhost:" + port + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
