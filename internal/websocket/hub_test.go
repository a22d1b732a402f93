package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/esp32-access-manager/backend/internal/lib/logger"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

func newRunningHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(logger.Discard())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case data, ok := <-c.Send():
		if !ok {
			return Message{}, false
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decoding message: %v", err)
		}
		return msg, true
	case <-time.After(200 * time.Millisecond):
		return Message{}, false
	}
}

func TestAudienceFiltering(t *testing.T) {
	hub := newRunningHub(t)
	admin := NewClient(hub, "a1", "admin", models.RoleAdmin, 8)
	alice := NewClient(hub, "g1", "alice", models.RoleGuest, 8)
	bob := NewClient(hub, "g2", "bob", models.RoleGuest, 8)
	hub.Register(admin)
	hub.Register(alice)
	hub.Register(bob)

	events := NewEventBroadcaster(hub, logger.Discard())
	events.NFCRequestResponded(models.AccessRequest{ID: "r1", GuestID: "g1", GuestName: "Alice", Status: models.RequestApproved})

	msg, ok := receive(t, admin)
	if !ok || msg.Type != TypeNFCRequestResponded {
		t.Fatalf("admin got %+v, %v", msg, ok)
	}
	msg, ok = receive(t, alice)
	if !ok || msg.Type != TypeNFCRequestResponded {
		t.Fatalf("owner got %+v, %v", msg, ok)
	}
	var payload RequestRespondedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.GuestName != "Alice" || payload.Status != "approved" {
		t.Fatalf("payload = %+v", payload)
	}
	if _, ok := receive(t, bob); ok {
		t.Fatal("unrelated guest received the event")
	}
}

func TestAdminOnlyEvents(t *testing.T) {
	hub := newRunningHub(t)
	admin := NewClient(hub, "a1", "admin", models.RoleAdmin, 8)
	guest := NewClient(hub, "g1", "alice", models.RoleGuest, 8)
	hub.Register(admin)
	hub.Register(guest)

	events := NewEventBroadcaster(hub, logger.Discard())
	events.PasswordUpdate()

	msg, ok := receive(t, admin)
	if !ok || msg.Type != TypePasswordUpdate || len(msg.Payload) != 0 {
		t.Fatalf("admin got %+v, %v", msg, ok)
	}
	if _, ok := receive(t, guest); ok {
		t.Fatal("guest received admin-only event")
	}
}

func TestSlowClientDropped(t *testing.T) {
	hub := newRunningHub(t)
	slow := NewClient(hub, "a1", "admin", models.RoleAdmin, 1)
	hub.Register(slow)

	events := NewEventBroadcaster(hub, logger.Discard())
	events.NFCUpdate()
	events.NFCUpdate()

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Fatal("slow client was not dropped")
	}
}

func TestNilBroadcasterIsSafe(t *testing.T) {
	var events *EventBroadcaster
	events.PasswordUpdate()
	events.NewLog(models.UnlockLog{Method: models.MethodWebPIN})
}

func TestReplyReachesOnlyRegisteredClients(t *testing.T) {
	hub := newRunningHub(t)
	live := NewClient(hub, "a1", "admin", models.RoleAdmin, 8)
	slow := NewClient(hub, "a2", "ops", models.RoleAdmin, 1)
	hub.Register(live)
	hub.Register(slow)

	events := NewEventBroadcaster(hub, logger.Discard())
	events.NFCUpdate()
	events.NFCUpdate()
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("clients = %d, want the slow one dropped", hub.ClientCount())
	}

	msg, err := NewMessage(TypePong, nil)
	if err != nil {
		t.Fatal(err)
	}
	pong, err := msg.JSON()
	if err != nil {
		t.Fatal(err)
	}
	// The slow client's send channel is closed; this must be a no-op.
	hub.Reply(slow, pong)
	hub.Reply(live, pong)

	var gotPong bool
	for i := 0; i < 3; i++ {
		m, ok := receive(t, live)
		if !ok {
			break
		}
		if m.Type == TypePong {
			gotPong = true
		}
	}
	if !gotPong {
		t.Fatal("live client did not receive its reply")
	}
}

func TestReplyAfterStop(t *testing.T) {
	hub := NewHub(logger.Discard())
	go hub.Run()
	c := NewClient(hub, "a1", "admin", models.RoleAdmin, 1)
	hub.Register(c)
	hub.Stop()

	done := make(chan struct{})
	go func() {
		hub.Reply(c, []byte(`{"type":"pong"}`))
		hub.Unregister(c)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Reply blocked after Stop")
	}
}
