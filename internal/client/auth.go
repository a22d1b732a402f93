package client

import (
	"context"
	"net/http"

	"github.com/esp32-access-manager/backend/internal/storage/models"
)

type sessionResponse struct {
	Success bool         `json:"success"`
	User    *models.User `json:"user"`
	Token   string       `json:"token"`
	Valid   bool         `json:"valid"`
}

// Login signs in with role admin or guest.
func (c *Client) Login(ctx context.Context, username, password, role string) (*Session, error) {
	var resp sessionResponse
	err := c.do(ctx, http.MethodPost, "/auth/"+role+"/login", nil, map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	s := &Session{Token: resp.Token}
	if resp.User != nil {
		s.User = *resp.User
	}
	return s, nil
}

// RegisterInput is a guest self-registration.
type RegisterInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// RegisterResult acknowledges a registration. It never carries a token.
type RegisterResult struct {
	Success          bool   `json:"success"`
	RequiresApproval bool   `json:"requiresApproval"`
	Message          string `json:"message"`
}

// Register creates a pending guest account.
func (c *Client) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	var resp RegisterResult
	if err := c.do(ctx, http.MethodPost, "/auth/guest/register", nil, in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Verify checks the session token and returns the current account.
func (c *Client) Verify(ctx context.Context, sess *Session) (*models.User, error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/auth/verify", sess, nil, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Refresh exchanges the session token for a fresh one. The old token is
// revoked by the server.
func (c *Client) Refresh(ctx context.Context, sess *Session) (*Session, error) {
	if sess == nil {
		return nil, ErrNoSession
	}
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", sess, nil, &resp); err != nil {
		return nil, err
	}
	return &Session{Token: resp.Token, User: sess.User}, nil
}

// Logout revokes the session token on the server.
func (c *Client) Logout(ctx context.Context, sess *Session) error {
	if sess == nil {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/auth/logout", sess, nil, nil)
}
