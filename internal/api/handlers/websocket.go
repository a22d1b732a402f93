package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	mw "github.com/esp32-access-manager/backend/internal/api/middleware"
	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/lib/sl"
	ws "github.com/esp32-access-manager/backend/internal/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard and the door unit are served from other origins.
		return true
	},
}

// WebSocketUpgrade authenticates the ?token= query parameter and attaches
// the connection to the hub. Browsers cannot set headers on the upgrade.
func WebSocketUpgrade(log *slog.Logger, hub *ws.Hub, authn mw.Authenticator, buffer int, pingInterval time.Duration) http.HandlerFunc {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r, "http.handlers.websocket")

		token := r.URL.Query().Get("token")
		if token == "" {
			token = mw.BearerToken(r)
		}
		if token == "" {
			mw.WriteAppError(w, r, logger, apperr.Auth("token required"))
			return
		}
		p, _, err := authn.Verify(r.Context(), token)
		if err != nil {
			mw.WriteAppError(w, r, logger, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", sl.Err(err))
			return
		}

		client := ws.NewClient(hub, p.ID, p.Username, p.Role, buffer)
		hub.Register(client)

		logger = logger.With(slog.String("user", p.Username))
		go writePump(conn, client, pingInterval)
		go readPump(conn, client, hub, pingInterval, logger)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func writePump(conn *websocket.Conn, client *ws.Client, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client commands until the connection drops.
func readPump(conn *websocket.Conn, client *ws.Client, hub *ws.Hub, pingInterval time.Duration, log *slog.Logger) {
	defer func() {
		hub.Unregister(client)
		conn.Close()
	}()

	pongWait := 2 * pingInterval
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug("websocket read error", sl.Err(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if reply := handleClientMessage(message, log); reply != nil {
			hub.Reply(client, reply)
		}
	}
}

// handleClientMessage answers client commands. Only ping is understood.
func handleClientMessage(message []byte, log *slog.Logger) []byte {
	var msg ws.Message
	if err := json.Unmarshal(message, &msg); err != nil {
		return replyJSON(ws.TypeError, ws.ErrorPayload{Code: "bad_message", Message: "malformed message"}, log)
	}
	switch msg.Type {
	case ws.TypePing:
		return replyJSON(ws.TypePong, nil, log)
	default:
		return replyJSON(ws.TypeError, ws.ErrorPayload{Code: "unknown_type", Message: "unknown message type " + string(msg.Type)}, log)
	}
}

func replyJSON(t ws.MessageType, payload any, log *slog.Logger) []byte {
	msg, err := ws.NewMessage(t, payload)
	if err != nil {
		log.Warn("building reply", sl.Err(err))
		return nil
	}
	data, err := msg.JSON()
	if err != nil {
		log.Warn("encoding reply", sl.Err(err))
		return nil
	}
	return data
}
