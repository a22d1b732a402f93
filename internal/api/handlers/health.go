package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker is an optional integration health probe.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// ClientCounter reports live WebSocket connections.
type ClientCounter interface {
	ClientCount() int
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status          string `json:"status"`
	DBConnected     bool   `json:"db_connected"`
	MQTTConnected   bool   `json:"mqtt_connected"`
	InfluxConnected bool   `json:"influx_connected"`
	WSClients       int    `json:"ws_clients"`
}

// HealthCheck reports database and integration reachability. Only the
// database decides the status code; MQTT and InfluxDB are optional.
func HealthCheck(db Pinger, mqtt, influx Checker, hub ClientCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := HealthResponse{
			Status:          "healthy",
			DBConnected:     db.PingContext(ctx) == nil,
			MQTTConnected:   probe(ctx, mqtt),
			InfluxConnected: probe(ctx, influx),
		}
		if hub != nil {
			resp.WSClients = hub.ClientCount()
		}

		status := http.StatusOK
		if !resp.DBConnected {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		respond(w, r, status, resp)
	}
}

func probe(ctx context.Context, c Checker) bool {
	if c == nil {
		return false
	}
	return c.HealthCheck(ctx) == nil
}
