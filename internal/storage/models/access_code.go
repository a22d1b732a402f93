// Package models defines the entities persisted by the storage layer.
package models

import "time"

// Access code types.
const (
	CodeTypeOTP    = "otp"    // valid for one successful unlock
	CodeTypeStatic = "static" // valid until deleted or expired
)

// AccessCode is an active 6-digit PIN credential.
type AccessCode struct {
	Code      string    `json:"code"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedBy *string   `json:"created_by,omitempty"`
}

// IsActive reports whether the code is still usable at now.
func (c AccessCode) IsActive(now time.Time) bool {
	return c.ExpiresAt.After(now)
}

// NFCCard is an enrolled card identifier.
type NFCCard struct {
	ID         string    `json:"id"`
	EnrolledAt time.Time `json:"enrolled_at"`
	EnrolledBy *string   `json:"enrolled_by,omitempty"`
}

// Credential holder kinds reported by conflict lookups.
const (
	HolderAccessCode = "access_code"
	HolderGuestPIN   = "guest_pin"
	HolderRequestPIN = "request_pin"
)

// CredentialHolder identifies an active credential that already uses a PIN value.
type CredentialHolder struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}
