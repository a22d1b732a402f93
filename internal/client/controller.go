package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/lib/sl"
)

const logoutTimeout = 3 * time.Second

// Controller owns the stored session: sign-in, bootstrap and sign-out.
type Controller struct {
	api   *Client
	store SessionStore
	log   *slog.Logger
}

// NewController creates a session controller.
func NewController(api *Client, store SessionStore, log *slog.Logger) *Controller {
	return &Controller{api: api, store: store, log: log.With(sl.Module("client.session"))}
}

// API returns the underlying REST client.
func (c *Controller) API() *Client {
	return c.api
}

// SignIn logs in and stores the session.
func (c *Controller) SignIn(ctx context.Context, username, password, role string) (*Session, error) {
	sess, err := c.api.Login(ctx, username, password, role)
	if err != nil {
		return nil, err
	}
	if err := c.store.Save(sess); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	c.log.Info("signed in", slog.String("username", sess.User.Username), slog.String("role", sess.User.Role))
	return sess, nil
}

// Bootstrap restores the stored session after checking it with the server.
// A rejected token clears the store and yields nil without an error. Any
// other failure keeps the store and returns the error.
func (c *Controller) Bootstrap(ctx context.Context) (*Session, error) {
	sess, err := c.store.Load()
	if err != nil {
		c.log.Warn("discarding unreadable session", sl.Err(err))
		c.clear()
		return nil, nil
	}
	if sess == nil {
		return nil, nil
	}

	user, err := c.api.Verify(ctx, sess)
	if err != nil {
		if IsUnauthorized(err) || IsKind(err, apperr.KindForbidden) {
			c.log.Info("stored session rejected", sl.Err(err))
			c.clear()
			return nil, nil
		}
		return nil, err
	}

	if user != nil {
		sess.User = *user
		if err := c.store.Save(sess); err != nil {
			c.log.Warn("updating stored session", sl.Err(err))
		}
	}
	return sess, nil
}

// SignOut revokes the token when the server is reachable within a short
// timeout. The stored session is always cleared.
func (c *Controller) SignOut(ctx context.Context, sess *Session) {
	if sess != nil {
		ctx, cancel := context.WithTimeout(ctx, logoutTimeout)
		defer cancel()
		if err := c.api.Logout(ctx, sess); err != nil {
			c.log.Warn("server logout failed, clearing local session anyway", sl.Err(err))
		}
	}
	c.clear()
}

// Refresh rotates the stored session's token.
func (c *Controller) Refresh(ctx context.Context, sess *Session) (*Session, error) {
	fresh, err := c.api.Refresh(ctx, sess)
	if err != nil {
		return nil, err
	}
	if err := c.store.Save(fresh); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	return fresh, nil
}

func (c *Controller) clear() {
	if err := c.store.Clear(); err != nil {
		c.log.Warn("clearing session", sl.Err(err))
	}
}
