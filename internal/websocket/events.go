package websocket

import (
	"log/slog"

	"github.com/esp32-access-manager/backend/internal/lib/sl"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// EventBroadcaster turns domain changes into push events.
// A nil *EventBroadcaster is valid and drops everything.
type EventBroadcaster struct {
	hub *Hub
	log *slog.Logger
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub, log *slog.Logger) *EventBroadcaster {
	return &EventBroadcaster{hub: hub, log: log.With(sl.Module("websocket.events"))}
}

func (b *EventBroadcaster) PasswordUpdate() {
	b.send(TypePasswordUpdate, nil, Audience{})
}

func (b *EventBroadcaster) NFCUpdate() {
	b.send(TypeNFCUpdate, nil, Audience{})
}

// NewLog also reaches the guest the attempt is attributed to.
func (b *EventBroadcaster) NewLog(entry models.UnlockLog) {
	a := Audience{}
	if entry.UserID != nil {
		a.UserID = *entry.UserID
	}
	b.send(TypeNewLog, entry, a)
}

func (b *EventBroadcaster) NFCDetected(nfcID, requestID string) {
	b.send(TypeNFCDetected, NFCDetectedPayload{NFCID: nfcID, RequestID: requestID}, Audience{})
}

func (b *EventBroadcaster) PINEntered(pin string) {
	b.send(TypePINEntered, PINEnteredPayload{PIN: pin}, Audience{})
}

func (b *EventBroadcaster) NewUserRegistration(g models.Guest) {
	b.send(TypeNewUserRegistration, RegistrationPayload{
		ID:        g.ID,
		Username:  g.Username,
		FullName:  g.FullName,
		Email:     g.Email,
		CreatedAt: g.CreatedAt,
	}, Audience{})
}

func (b *EventBroadcaster) UserApprovalUpdate(username, action, approvedBy string) {
	b.send(TypeUserApprovalUpdate, ApprovalPayload{Username: username, Action: action, ApprovedBy: approvedBy}, Audience{})
}

func (b *EventBroadcaster) UserDeleted(username, deletedBy string) {
	b.send(TypeUserDeleted, UserDeletedPayload{Username: username, DeletedBy: deletedBy}, Audience{})
}

func (b *EventBroadcaster) NewNFCRequest(req models.AccessRequest) {
	b.send(TypeNewNFCRequest, NewRequestPayload{RequestID: req.ID, GuestName: req.GuestName}, Audience{})
}

// NFCRequestResponded also reaches the guest who owns the request.
func (b *EventBroadcaster) NFCRequestResponded(req models.AccessRequest) {
	b.send(TypeNFCRequestResponded, RequestRespondedPayload{
		RequestID: req.ID,
		GuestName: req.GuestName,
		Status:    req.Status,
	}, Audience{UserID: req.GuestID})
}

func (b *EventBroadcaster) send(t MessageType, payload any, a Audience) {
	if b == nil || b.hub == nil {
		return
	}
	msg, err := NewMessage(t, payload)
	if err != nil {
		b.log.Error("encoding event payload", slog.String("type", string(t)), sl.Err(err))
		return
	}
	data, err := msg.JSON()
	if err != nil {
		b.log.Error("encoding event", slog.String("type", string(t)), sl.Err(err))
		return
	}
	b.hub.Broadcast(data, a)
}
