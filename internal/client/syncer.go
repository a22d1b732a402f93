package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/esp32-access-manager/backend/internal/lib/sl"
	"github.com/esp32-access-manager/backend/internal/storage/models"
	ws "github.com/esp32-access-manager/backend/internal/websocket"
)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
	noticeBuffer      = 32
)

// Notice is a push event forwarded to the caller. Only nfc-detected and
// pin-entered carry data worth showing; the rest are change signals.
type Notice struct {
	Type      ws.MessageType
	Timestamp time.Time
	Payload   json.RawMessage
}

// Syncer keeps a Cache current by refetching collections when the server
// pushes change events. It never applies event payloads to collections;
// new-log entries go to the LogBuffer only.
type Syncer struct {
	api     *Client
	sess    *Session
	cache   *Cache
	logs    *LogBuffer
	tracked map[Resource]bool
	notices chan Notice
	dialer  *websocket.Dialer
	log     *slog.Logger

	mu       sync.Mutex
	logQuery models.LogQuery
}

// NewSyncer creates a syncer for sess that keeps resources current.
func NewSyncer(api *Client, sess *Session, log *slog.Logger, resources ...Resource) *Syncer {
	tracked := make(map[Resource]bool, len(resources))
	for _, r := range resources {
		tracked[r] = true
	}
	return &Syncer{
		api:     api,
		sess:    sess,
		cache:   NewCache(),
		logs:    NewLogBuffer(DefaultLogBufferSize),
		tracked: tracked,
		notices: make(chan Notice, noticeBuffer),
		dialer:  websocket.DefaultDialer,
		log:     log.With(sl.Module("client.sync")),
	}
}

// DefaultResources returns the collections a dashboard for sess shows.
func DefaultResources(sess *Session) []Resource {
	if sess.IsAdmin() {
		return []Resource{ResourceCodes, ResourceCards, ResourceLogs, ResourceGuests, ResourcePendingGuests, ResourceRequests}
	}
	return []Resource{ResourceMyRequests, ResourceLogs}
}

func (s *Syncer) Cache() *Cache {
	return s.cache
}

func (s *Syncer) Logs() *LogBuffer {
	return s.logs
}

// Notices delivers push events. Events are dropped when the reader falls
// behind.
func (s *Syncer) Notices() <-chan Notice {
	return s.notices
}

// SetLogQuery changes the log page parameters and refetches the page.
func (s *Syncer) SetLogQuery(ctx context.Context, q models.LogQuery) error {
	s.mu.Lock()
	s.logQuery = q
	s.mu.Unlock()
	return s.Fetch(ctx, ResourceLogs)
}

// Fetch refreshes one collection. A result that arrives after a newer
// fetch for the same collection was started is discarded. Failures are
// logged and returned; callers showing a dashboard may ignore them.
func (s *Syncer) Fetch(ctx context.Context, r Resource) error {
	ticket := s.cache.Begin(r)
	v, err := s.load(ctx, r)
	if err != nil {
		s.log.Warn("refetch failed", slog.String("resource", string(r)), sl.Err(err))
		return err
	}
	if !s.cache.Apply(r, ticket, v) {
		s.log.Debug("stale response discarded", slog.String("resource", string(r)), slog.Uint64("ticket", ticket))
	}
	return nil
}

// FetchAll refreshes every tracked collection.
func (s *Syncer) FetchAll(ctx context.Context) {
	for r := range s.tracked {
		_ = s.Fetch(ctx, r)
	}
}

func (s *Syncer) load(ctx context.Context, r Resource) (any, error) {
	switch r {
	case ResourceCodes:
		return s.api.ListCodes(ctx, s.sess)
	case ResourceCards:
		return s.api.ListCards(ctx, s.sess)
	case ResourceLogs:
		s.mu.Lock()
		q := s.logQuery
		s.mu.Unlock()
		if s.sess.IsAdmin() {
			return s.api.ListLogs(ctx, s.sess, q)
		}
		return s.api.MyLogs(ctx, s.sess, q)
	case ResourceGuests:
		return s.api.ListGuests(ctx, s.sess)
	case ResourcePendingGuests:
		return s.api.ListPendingGuests(ctx, s.sess)
	case ResourceRequests:
		return s.api.ListRequests(ctx, s.sess)
	case ResourceMyRequests:
		return s.api.MyRequests(ctx, s.sess)
	}
	return nil, fmt.Errorf("unknown resource %q", r)
}

// Handle applies one push message: new-log entries are buffered, mapped
// collections are refetched and the event is forwarded as a Notice.
func (s *Syncer) Handle(ctx context.Context, data []byte) {
	var msg ws.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("malformed push message", sl.Err(err))
		return
	}

	if msg.Type == ws.TypeNewLog {
		var entry models.UnlockLog
		if err := json.Unmarshal(msg.Payload, &entry); err != nil {
			s.log.Warn("malformed new-log payload", sl.Err(err))
		} else {
			s.logs.Push(entry)
		}
	}

	for _, r := range ResourcesFor(msg.Type) {
		if s.tracked[r] {
			_ = s.Fetch(ctx, r)
		}
	}

	if msg.Type == ws.TypePong {
		return
	}
	select {
	case s.notices <- Notice{Type: msg.Type, Timestamp: msg.Timestamp, Payload: msg.Payload}:
	default:
		if ephemeral[msg.Type] {
			s.log.Debug("notice dropped", slog.String("type", string(msg.Type)))
		}
	}
}

// Run keeps a push connection open until ctx ends, reconnecting with
// backoff. Every (re)connection refetches all tracked collections since
// events may have been missed. It returns nil when ctx is cancelled and an
// error when the server rejects the session.
func (s *Syncer) Run(ctx context.Context) error {
	delay := minReconnectDelay
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		var hs *handshakeError
		if errors.As(err, &hs) && hs.rejected() {
			return fmt.Errorf("push channel: %w", err)
		}
		if err == nil {
			delay = minReconnectDelay
		}
		s.log.Info("push channel disconnected", sl.Err(err), slog.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

type handshakeError struct {
	status int
	err    error
}

func (e *handshakeError) Error() string {
	return fmt.Sprintf("handshake status %d: %v", e.status, e.err)
}

func (e *handshakeError) Unwrap() error {
	return e.err
}

func (e *handshakeError) rejected() bool {
	return e.status == http.StatusUnauthorized || e.status == http.StatusForbidden
}

func (s *Syncer) runOnce(ctx context.Context) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.pushURL(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return &handshakeError{status: resp.StatusCode, err: &APIError{Status: resp.StatusCode, Code: codeForStatus(resp.StatusCode)}}
		}
		return fmt.Errorf("%w: dialing push channel: %w", ErrTransientNetwork, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.log.Debug("push channel connected")
	s.FetchAll(ctx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("%w: reading push channel: %w", ErrTransientNetwork, err)
		}
		s.Handle(ctx, data)
	}
}

// pushURL derives ws(s)://host/api/ws?token=... from the REST base URL.
func (s *Syncer) pushURL() string {
	base := s.api.BaseURL()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws?token=" + url.QueryEscape(s.sess.Token)
}
