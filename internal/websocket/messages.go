package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client events
	TypePasswordUpdate      MessageType = "password-update"
	TypeNFCUpdate           MessageType = "nfc-update"
	TypeNewLog              MessageType = "new-log"
	TypeNFCDetected         MessageType = "nfc-detected"
	TypePINEntered          MessageType = "pin-entered"
	TypeNewUserRegistration MessageType = "new-user-registration"
	TypeUserApprovalUpdate  MessageType = "user-approval-update"
	TypeUserDeleted         MessageType = "user-deleted"
	TypeNewNFCRequest       MessageType = "new-nfc-request"
	TypeNFCRequestResponded MessageType = "nfc-request-responded"

	// Client -> Server commands
	TypePing MessageType = "ping"

	// Server -> Client responses
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) (Message, error) {
	msg := Message{Type: msgType, Timestamp: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Payload = raw
	}
	return msg, nil
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// NFCDetectedPayload is the payload for nfc-detected events.
type NFCDetectedPayload struct {
	NFCID     string `json:"nfcId"`
	RequestID string `json:"requestId,omitempty"`
}

// PINEnteredPayload is the payload for pin-entered events.
type PINEnteredPayload struct {
	PIN string `json:"pin"`
}

// RegistrationPayload summarizes a newly registered guest.
type RegistrationPayload struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ApprovalPayload is the payload for user-approval-update events.
type ApprovalPayload struct {
	Username   string `json:"username"`
	Action     string `json:"action"`
	ApprovedBy string `json:"approved_by"`
}

// UserDeletedPayload is the payload for user-deleted events.
type UserDeletedPayload struct {
	Username  string `json:"username"`
	DeletedBy string `json:"deleted_by"`
}

// NewRequestPayload is the payload for new-nfc-request events.
type NewRequestPayload struct {
	RequestID string `json:"requestId"`
	GuestName string `json:"guestName"`
}

// RequestRespondedPayload is the payload for nfc-request-responded events.
type RequestRespondedPayload struct {
	RequestID string `json:"requestId"`
	GuestName string `json:"guestName"`
	Status    string `json:"status"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
