package models

import "time"

// Request states.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
	RequestExpired  = "expired"
)

// Granted credential types.
const (
	AccessTypePIN = "pin"
	AccessTypeNFC = "nfc"
)

// AccessRequest is a guest's request for a time-bounded PIN or NFC grant.
type AccessRequest struct {
	ID           string     `json:"id"`
	GuestID      string     `json:"guest_id"`
	GuestName    string     `json:"guest_name,omitempty"`
	Username     string     `json:"username,omitempty"`
	Reason       string     `json:"reason"`
	RequestedAt  time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Status       string     `json:"status"`
	AdminNotes   *string    `json:"admin_notes,omitempty"`
	ApprovedBy   *string    `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	AccessType   *string    `json:"access_type,omitempty"`
	NFCCardID    *string    `json:"nfc_card_id,omitempty"`
	PINCode      *string    `json:"pin_code,omitempty"`
	ScannedNFCID *string    `json:"scanned_nfc_id,omitempty"`
}

// EffectiveStatus reports the status as seen at now: a pending request
// past its window reads as expired even before the sweeper marks it.
func (r AccessRequest) EffectiveStatus(now time.Time) string {
	if r.Status == RequestPending && !r.ExpiresAt.After(now) {
		return RequestExpired
	}
	return r.Status
}

// RequestDecision is an admin's response to a pending request.
type RequestDecision struct {
	Status     string
	AdminNotes *string
	ApprovedBy string
	ApprovedAt time.Time
	AccessType *string
	NFCCardID  *string
	PINCode    *string
}
