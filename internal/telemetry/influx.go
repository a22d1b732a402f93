// Package telemetry exports unlock attempt metrics to InfluxDB.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/esp32-access-manager/backend/internal/config"
	"github.com/esp32-access-manager/backend/internal/lib/sl"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	measurementUnlock = "unlock_attempts"
)

var (
	// ErrDisabled is returned by Connect when telemetry is switched off.
	ErrDisabled = errors.New("influx telemetry disabled")
	// ErrConnectionFailed is returned when the server cannot be reached.
	ErrConnectionFailed = errors.New("influx connection failed")
)

// Writer batches unlock attempt points to InfluxDB. Writes never block the
// caller; failures are logged from the write API's error channel.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	doorID   string
	log      *slog.Logger

	mu        sync.RWMutex
	connected bool
}

// Connect pings the server and prepares the non-blocking write API.
func Connect(cfg config.Influx, doorID string, log *slog.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(50).SetFlushInterval(5000))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	w := &Writer{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		doorID:    doorID,
		log:       log.With(sl.Module("telemetry")),
		connected: true,
	}
	go w.drainErrors(w.writeAPI.Errors())
	return w, nil
}

func (w *Writer) drainErrors(errs <-chan error) {
	for err := range errs {
		w.log.Warn("influx write failed", sl.Err(err))
	}
}

// RecordUnlock queues one point per unlock attempt. Safe on a nil Writer.
func (w *Writer) RecordUnlock(entry models.UnlockLog) {
	if w == nil || !w.IsConnected() {
		return
	}
	w.writeAPI.WritePoint(unlockPoint(w.doorID, entry))
}

func unlockPoint(doorID string, entry models.UnlockLog) *write.Point {
	tags := map[string]string{
		"door":    doorID,
		"method":  entry.Method,
		"success": fmt.Sprintf("%t", entry.Success),
	}
	if entry.UserName != nil {
		tags["user"] = *entry.UserName
	}
	granted := 0
	if entry.Success {
		granted = 1
	}
	return write.NewPoint(measurementUnlock, tags, map[string]interface{}{
		"count":   1,
		"granted": granted,
	}, entry.Time)
}

// HealthCheck pings the server.
func (w *Writer) HealthCheck(ctx context.Context) error {
	if w == nil || !w.IsConnected() {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := w.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influx health check: %w", err)
	}
	if !healthy {
		return errors.New("influx health check: server not healthy")
	}
	return nil
}

func (w *Writer) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Close flushes pending points and closes the client.
func (w *Writer) Close() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if !w.connected {
		w.mu.Unlock()
		return
	}
	w.connected = false
	w.mu.Unlock()

	w.writeAPI.Flush()
	w.client.Close()
}
