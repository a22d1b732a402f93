// Package device links the ESP32 door unit to the server: keypad and
// reader events come in, door and reader commands go out.
package device

import (
	"encoding/json"
	"time"

	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/lib/validate"
)

// Event types reported by the door unit.
const (
	EventPIN = "pin"
	EventNFC = "nfc"
)

// Event is one keypad entry or card tap.
type Event struct {
	Type     string `json:"type" validate:"required,oneof=pin nfc"`
	Value    string `json:"value" validate:"required,max=64"`
	DeviceID string `json:"device_id,omitempty"`
}

// Result is the server's answer to an event.
type Result struct {
	Granted   bool   `json:"granted"`
	Method    string `json:"method,omitempty"`
	Captured  string `json:"captured,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// DecodeEvent parses and validates a JSON event.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, apperr.Validation("malformed device event: %s", err)
	}
	if err := validate.Struct(ev); err != nil {
		return ev, apperr.Validation("%s", err)
	}
	return ev, nil
}

// Command actions sent to the door unit.
const (
	ActionOpen      = "open"
	ActionDeny      = "deny"
	ActionArmReader = "arm_reader"
)

// Command is an instruction for the door unit.
type Command struct {
	Action    string    `json:"action"`
	DoorID    string    `json:"door_id"`
	SessionID string    `json:"session_id,omitempty"`
	ExpiresIn int       `json:"expires_in,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}
