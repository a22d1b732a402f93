// Package scan coordinates arming the single physical NFC reader.
//
// A scan is a short-lived session: an admin arms the reader for a purpose
// (enrolling a card or capturing one for an access request), and the next
// card the device reports is delivered to that session. Only one session
// can be armed at a time.
package scan

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/esp32-access-manager/backend/internal/apperr"
)

// Purpose says what a captured card is for.
type Purpose string

const (
	PurposeEnroll  Purpose = "enroll"
	PurposeRequest Purpose = "request"
)

// Session is one armed scan.
type Session struct {
	ID        string    `json:"id"`
	Purpose   Purpose   `json:"purpose"`
	RequestID string    `json:"request_id,omitempty"`
	ArmedBy   string    `json:"armed_by,omitempty"`
	ArmedAt   time.Time `json:"armed_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExpiresIn returns the remaining lifetime at now.
func (s Session) ExpiresIn(now time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Coordinator holds the currently armed session.
type Coordinator struct {
	mu      sync.Mutex
	current *Session
	ttl     time.Duration
	now     func() time.Time
	onArm   func(Session)
}

// NewCoordinator creates a coordinator whose sessions last ttl.
func NewCoordinator(ttl time.Duration) *Coordinator {
	return &Coordinator{ttl: ttl, now: time.Now}
}

// OnArm registers a hook called after every successful Arm, outside the lock.
func (c *Coordinator) OnArm(fn func(Session)) {
	c.mu.Lock()
	c.onArm = fn
	c.mu.Unlock()
}

// Arm starts a session. Arming while another session is live fails with
// a conflict; re-arming for the same request replaces the session.
func (c *Coordinator) Arm(purpose Purpose, requestID, armedBy string) (Session, error) {
	c.mu.Lock()
	now := c.now()
	if cur := c.current; cur != nil && cur.ExpiresAt.After(now) {
		sameRequest := purpose == PurposeRequest && cur.Purpose == PurposeRequest && cur.RequestID == requestID
		if !sameRequest {
			c.mu.Unlock()
			return Session{}, apperr.Conflict("reader already armed for another scan")
		}
	}

	s := Session{
		ID:        uuid.NewString(),
		Purpose:   purpose,
		RequestID: requestID,
		ArmedBy:   armedBy,
		ArmedAt:   now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.current = &s
	hook := c.onArm
	c.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	return s, nil
}

// Take consumes the live session, if any.
func (c *Coordinator) Take() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.current
	c.current = nil
	if cur == nil || !cur.ExpiresAt.After(c.now()) {
		return Session{}, false
	}
	return *cur, true
}

// Current returns the live session without consuming it.
func (c *Coordinator) Current() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || !c.current.ExpiresAt.After(c.now()) {
		return Session{}, false
	}
	return *c.current, true
}

// Cancel drops the session with the given id. It reports whether a session
// was dropped.
func (c *Coordinator) Cancel(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.ID != id {
		return false
	}
	c.current = nil
	return true
}

// TTL returns how long sessions stay armed.
func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}
