package models

import "time"

// Account roles.
const (
	RoleAdmin = "admin"
	RoleGuest = "guest"
)

// Guest approval states.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Admin is an administrator account.
type Admin struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Email        *string   `json:"email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Guest is a self-registered account that needs approval before use.
type Guest struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	PasswordHash   string     `json:"-"`
	FullName       string     `json:"full_name"`
	Email          *string    `json:"email,omitempty"`
	Phone          *string    `json:"phone,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	IsActive       bool       `json:"is_active"`
	ApprovalStatus string     `json:"approval_status"`
	ApprovedBy     *string    `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	PINCode        *string    `json:"pin_code,omitempty"`
}

// CanAuthenticate reports whether the guest may log in and use credentials.
func (g Guest) CanAuthenticate() bool {
	return g.ApprovalStatus == ApprovalApproved && g.IsActive
}

// User is the account view returned by auth endpoints.
type User struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	FullName string  `json:"full_name"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Type     string  `json:"type"`
	Role     string  `json:"role"`
}

func (a Admin) User() User {
	return User{ID: a.ID, Username: a.Username, FullName: a.FullName, Email: a.Email, Type: RoleAdmin, Role: RoleAdmin}
}

func (g Guest) User() User {
	return User{ID: g.ID, Username: g.Username, FullName: g.FullName, Email: g.Email, Phone: g.Phone, Type: RoleGuest, Role: RoleGuest}
}
