package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/lib/logger"
	"github.com/esp32-access-manager/backend/internal/storage/models"
	ws "github.com/esp32-access-manager/backend/internal/websocket"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

func newFakeServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api", logger.Discard())
}

var adminSession = &Session{Token: "tok", User: models.User{ID: "a1", Username: "admin", Role: models.RoleAdmin}}

func TestLoginAndAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/admin/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "right" {
			writeErr(w, http.StatusUnauthorized, "unauthorized", "invalid username or password")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"token":   "jwt",
			"user":    map[string]string{"id": "a1", "username": body["username"], "role": "admin"},
		})
	})
	c := newFakeServer(t, mux)

	sess, err := c.Login(context.Background(), "admin", "right", models.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Token != "jwt" || !sess.IsAdmin() {
		t.Errorf("session = %+v", sess)
	}

	_, err = c.Login(context.Background(), "admin", "wrong", models.RoleAdmin)
	if !IsUnauthorized(err) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "invalid username or password" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestNonJSONErrorBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/active-passwords", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	c := newFakeServer(t, mux)

	_, err := c.ListCodes(context.Background(), adminSession)
	if !IsKind(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not_found", err)
	}
}

func TestTransientNetwork(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url+"/api", logger.Discard())
	_, err := c.Unlock(context.Background(), adminSession, "123456")
	if !errors.Is(err, ErrTransientNetwork) {
		t.Fatalf("err = %v, want ErrTransientNetwork", err)
	}
}

func TestBootstrap(t *testing.T) {
	var verifyStatus atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			writeErr(w, http.StatusUnauthorized, "unauthorized", "missing token")
			return
		}
		if s := int(verifyStatus.Load()); s != http.StatusOK {
			writeErr(w, s, "unauthorized", "token revoked")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true, "valid": true,
			"user": map[string]string{"id": "a1", "username": "admin", "full_name": "Renamed", "role": "admin"},
		})
	})
	c := newFakeServer(t, mux)
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		verifyStatus.Store(http.StatusOK)
		store := &MemoryStore{}
		_ = store.Save(adminSession)
		ctrl := NewController(c, store, logger.Discard())

		sess, err := ctrl.Bootstrap(ctx)
		if err != nil || sess == nil {
			t.Fatalf("Bootstrap = %v, %v", sess, err)
		}
		if sess.User.FullName != "Renamed" {
			t.Errorf("user not refreshed: %+v", sess.User)
		}
	})

	t.Run("rejected clears silently", func(t *testing.T) {
		verifyStatus.Store(http.StatusUnauthorized)
		store := &MemoryStore{}
		_ = store.Save(adminSession)
		ctrl := NewController(c, store, logger.Discard())

		sess, err := ctrl.Bootstrap(ctx)
		if err != nil || sess != nil {
			t.Fatalf("Bootstrap = %v, %v; want nil, nil", sess, err)
		}
		if stored, _ := store.Load(); stored != nil {
			t.Error("rejected session still stored")
		}
	})

	t.Run("empty store", func(t *testing.T) {
		ctrl := NewController(c, &MemoryStore{}, logger.Discard())
		if sess, err := ctrl.Bootstrap(ctx); sess != nil || err != nil {
			t.Errorf("Bootstrap = %v, %v", sess, err)
		}
	})

	t.Run("network failure keeps session", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		dead.Close()
		store := &MemoryStore{}
		_ = store.Save(adminSession)
		ctrl := NewController(New(dead.URL+"/api", logger.Discard()), store, logger.Discard())

		_, err := ctrl.Bootstrap(ctx)
		if !errors.Is(err, ErrTransientNetwork) {
			t.Fatalf("err = %v", err)
		}
		if stored, _ := store.Load(); stored == nil {
			t.Error("session cleared on network failure")
		}
	})
}

func TestSignOutAlwaysClears(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusInternalServerError, "internal_error", "boom")
	})
	c := newFakeServer(t, mux)

	store := &MemoryStore{}
	_ = store.Save(adminSession)
	NewController(c, store, logger.Discard()).SignOut(context.Background(), adminSession)
	if stored, _ := store.Load(); stored != nil {
		t.Error("session kept after failed server logout")
	}
}

func TestSignOutIsBounded(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	c := newFakeServer(t, mux)
	defer close(release)

	store := &MemoryStore{}
	_ = store.Save(adminSession)
	start := time.Now()
	NewController(c, store, logger.Discard()).SignOut(context.Background(), adminSession)
	if elapsed := time.Since(start); elapsed > logoutTimeout+2*time.Second {
		t.Errorf("SignOut took %v", elapsed)
	}
	if stored, _ := store.Load(); stored != nil {
		t.Error("session kept after timed-out logout")
	}
}

func TestFileStore(t *testing.T) {
	store := FileStore{Path: filepath.Join(t.TempDir(), "nested", "session.json")}

	if s, err := store.Load(); s != nil || err != nil {
		t.Fatalf("empty Load = %v, %v", s, err)
	}
	if err := store.Save(adminSession); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(store.Path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o", perm)
	}
	s, err := store.Load()
	if err != nil || s == nil || s.Token != "tok" || s.User.Username != "admin" {
		t.Fatalf("Load = %+v, %v", s, err)
	}
	if err := store.Clear(); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear(); err != nil {
		t.Errorf("second Clear = %v", err)
	}
}

func TestCacheStaleGuard(t *testing.T) {
	c := NewCache()

	first := c.Begin(ResourceCodes)
	second := c.Begin(ResourceCodes)

	newer := []models.AccessCode{{Code: "222222"}}
	if !c.Apply(ResourceCodes, second, newer) {
		t.Fatal("newest result rejected")
	}
	if c.Apply(ResourceCodes, first, []models.AccessCode{{Code: "111111"}}) {
		t.Error("stale result applied")
	}
	if got := c.Codes(); len(got) != 1 || got[0].Code != "222222" {
		t.Errorf("Codes = %v", got)
	}

	// A superseded fetch that resolves first is also discarded.
	old := c.Begin(ResourceCards)
	c.Begin(ResourceCards)
	if c.Apply(ResourceCards, old, []models.NFCCard{{ID: "A"}}) {
		t.Error("superseded result applied")
	}

	// Tickets are per resource.
	if !c.Apply(ResourceGuests, c.Begin(ResourceGuests), []models.Guest{{Username: "g"}}) {
		t.Error("independent resource rejected")
	}
}

func TestLogBuffer(t *testing.T) {
	b := NewLogBuffer(3)
	for i := int64(1); i <= 5; i++ {
		b.Push(models.UnlockLog{ID: i})
	}
	b.Push(models.UnlockLog{ID: 5})

	got := b.Entries()
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	for i, want := range []int64{5, 4, 3} {
		if got[i].ID != want {
			t.Errorf("entries[%d] = %d, want %d", i, got[i].ID, want)
		}
	}
	b.Clear()
	if b.Len() != 0 {
		t.Error("Clear kept entries")
	}
	if NewLogBuffer(0).size != DefaultLogBufferSize {
		t.Error("default size not applied")
	}
}

func TestRefetchTable(t *testing.T) {
	tests := []struct {
		event ws.MessageType
		want  []Resource
	}{
		{ws.TypePasswordUpdate, []Resource{ResourceCodes}},
		{ws.TypeNFCUpdate, []Resource{ResourceCards}},
		{ws.TypeNewUserRegistration, []Resource{ResourcePendingGuests}},
		{ws.TypeUserApprovalUpdate, []Resource{ResourceGuests, ResourcePendingGuests}},
		{ws.TypeUserDeleted, []Resource{ResourceGuests, ResourcePendingGuests}},
		{ws.TypeNewNFCRequest, []Resource{ResourceRequests}},
		{ws.TypeNFCRequestResponded, []Resource{ResourceRequests, ResourceMyRequests}},
		{ws.TypeNewLog, nil},
		{ws.TypeNFCDetected, nil},
		{ws.TypePINEntered, nil},
	}
	for _, tt := range tests {
		got := ResourcesFor(tt.event)
		if len(got) != len(tt.want) {
			t.Errorf("%s: %v, want %v", tt.event, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: %v, want %v", tt.event, got, tt.want)
			}
		}
	}
}

func TestLogQueryValues(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	v := LogQueryValues(models.LogQuery{
		Page: 2, Limit: 50, SortBy: "user_name", SortOrder: "asc",
		FilterBy: "success", FilterValue: "1", Start: &start,
	})
	want := map[string]string{
		"page": "2", "limit": "50", "sortBy": "user_name", "sortOrder": "asc",
		"filterBy": "success", "filterValue": "1", "startDate": "2026-03-01T00:00:00Z",
	}
	for k, w := range want {
		if got := v.Get(k); got != w {
			t.Errorf("%s = %q, want %q", k, got, w)
		}
	}
	if v.Has("endDate") {
		t.Error("endDate set without End")
	}
	if LogQueryValues(models.LogQuery{FilterBy: "method"}).Has("filterBy") {
		t.Error("filterBy sent without a value")
	}
}

// codeServer serves mutable code and card lists and counts list fetches.
type codeServer struct {
	mu        sync.Mutex
	codes     []string
	cards     []string
	lists     int
	cardLists int
	failOn    string
	goneOn    string
	upgrader  websocket.Upgrader
	push      chan []byte
}

func (s *codeServer) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/active-passwords", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lists++
		out := []models.AccessCode{}
		for _, c := range s.codes {
			out = append(out, models.AccessCode{Code: c, Type: "static"})
		}
		writeJSON(w, http.StatusOK, out)
	})
	mux.HandleFunc("POST /api/delete-code", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Code string `json:"code"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body.Code {
		case s.failOn:
			writeErr(w, http.StatusInternalServerError, "internal_error", "boom")
			return
		case s.goneOn:
			writeErr(w, http.StatusNotFound, "not_found", "code not found")
			return
		}
		s.mu.Lock()
		for i, c := range s.codes {
			if c == body.Code {
				s.codes = append(s.codes[:i], s.codes[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "deleted"})
	})
	mux.HandleFunc("GET /api/active-nfc-cards", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cardLists++
		out := []models.NFCCard{}
		for _, id := range s.cards {
			out = append(out, models.NFCCard{ID: id})
		}
		writeJSON(w, http.StatusOK, out)
	})
	mux.HandleFunc("POST /api/disenroll", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID string `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body.ID {
		case s.failOn:
			writeErr(w, http.StatusInternalServerError, "internal_error", "boom")
			return
		case s.goneOn:
			writeErr(w, http.StatusNotFound, "not_found", "card not enrolled")
			return
		}
		s.mu.Lock()
		for i, id := range s.cards {
			if id == body.ID {
				s.cards = append(s.cards[:i], s.cards[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "NFC card disenrolled"})
	})
	mux.HandleFunc("GET /api/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			writeErr(w, http.StatusUnauthorized, "unauthorized", "token required")
			return
		}
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for msg := range s.push {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	})
	return mux
}

func (s *codeServer) listCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

func (s *codeServer) cardListCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cardLists
}

func pushMessage(t *testing.T, typ ws.MessageType, payload any) []byte {
	t.Helper()
	msg, err := ws.NewMessage(typ, payload)
	if err != nil {
		t.Fatal(err)
	}
	data, err := msg.JSON()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestSyncerHandle(t *testing.T) {
	cs := &codeServer{codes: []string{"111111"}}
	c := newFakeServer(t, cs.mux())
	s := NewSyncer(c, adminSession, logger.Discard(), ResourceCodes)
	ctx := context.Background()

	s.Handle(ctx, pushMessage(t, ws.TypePasswordUpdate, nil))
	if cs.listCount() != 1 {
		t.Fatalf("lists = %d, want 1", cs.listCount())
	}
	if got := s.Cache().Codes(); len(got) != 1 || got[0].Code != "111111" {
		t.Errorf("Codes = %v", got)
	}

	// Untracked collections are not fetched.
	s.Handle(ctx, pushMessage(t, ws.TypeNFCUpdate, nil))

	s.Handle(ctx, pushMessage(t, ws.TypeNewLog, models.UnlockLog{ID: 7, Method: "password", Success: true}))
	if entries := s.Logs().Entries(); len(entries) != 1 || entries[0].ID != 7 {
		t.Errorf("log buffer = %v", entries)
	}

	s.Handle(ctx, pushMessage(t, ws.TypeNFCDetected, ws.NFCDetectedPayload{NFCID: "04AA"}))
	if cs.listCount() != 1 {
		t.Errorf("ephemeral event refetched: lists = %d", cs.listCount())
	}

	var types []ws.MessageType
	for len(s.Notices()) > 0 {
		types = append(types, (<-s.Notices()).Type)
	}
	want := []ws.MessageType{ws.TypePasswordUpdate, ws.TypeNFCUpdate, ws.TypeNewLog, ws.TypeNFCDetected}
	if len(types) != len(want) {
		t.Fatalf("notices = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("notice[%d] = %s, want %s", i, types[i], want[i])
		}
	}

	s.Handle(ctx, []byte("not json"))
}

func TestSyncerRun(t *testing.T) {
	cs := &codeServer{codes: []string{"111111"}, push: make(chan []byte, 4)}
	c := newFakeServer(t, cs.mux())
	s := NewSyncer(c, adminSession, logger.Discard(), ResourceCodes)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cs.push <- pushMessage(t, ws.TypePasswordUpdate, nil)

	select {
	case n := <-s.Notices():
		if n.Type != ws.TypePasswordUpdate {
			t.Errorf("notice = %s", n.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notice received")
	}
	// One fetch on connect and one for the event.
	if n := cs.listCount(); n != 2 {
		t.Errorf("lists = %d, want 2", n)
	}

	cancel()
	close(cs.push)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestSyncerRunRejectedSession(t *testing.T) {
	cs := &codeServer{push: make(chan []byte)}
	c := newFakeServer(t, cs.mux())
	bad := &Session{Token: "expired"}
	s := NewSyncer(c, bad, logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Run(ctx); !IsUnauthorized(err) {
		t.Errorf("Run = %v, want unauthorized", err)
	}
}

func TestDeleteAllCodes(t *testing.T) {
	cs := &codeServer{codes: []string{"111111", "222222", "333333"}, failOn: "222222", goneOn: "333333"}
	c := newFakeServer(t, cs.mux())
	s := NewSyncer(c, adminSession, logger.Discard(), ResourceCodes)

	failed := s.DeleteAllCodes(context.Background())
	if len(failed) != 1 || failed[0].ID != "222222" {
		t.Fatalf("failed = %+v", failed)
	}
	// Listed before and refetched after, whatever the failures.
	if cs.listCount() != 2 {
		t.Errorf("lists = %d, want 2", cs.listCount())
	}
	remaining := s.Cache().Codes()
	if len(remaining) != 2 {
		t.Errorf("remaining = %v", remaining)
	}
}

func TestDeleteAllCards(t *testing.T) {
	cs := &codeServer{cards: []string{"04A2B3C4", "04FFEE01", "04000001"}, failOn: "04FFEE01", goneOn: "04000001"}
	c := newFakeServer(t, cs.mux())
	s := NewSyncer(c, adminSession, logger.Discard(), ResourceCards)

	failed := s.DeleteAllCards(context.Background())
	if len(failed) != 1 || failed[0].ID != "04FFEE01" {
		t.Fatalf("failed = %+v", failed)
	}
	var apiErr *APIError
	if !errors.As(failed[0].Err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Errorf("failure err = %v", failed[0].Err)
	}
	if cs.cardListCount() != 2 {
		t.Errorf("card lists = %d, want 2", cs.cardListCount())
	}
	remaining := s.Cache().Cards()
	if len(remaining) != 2 {
		t.Fatalf("remaining = %v", remaining)
	}
	for _, card := range remaining {
		if card.ID == "04A2B3C4" {
			t.Errorf("deleted card still cached: %v", remaining)
		}
	}
	if cs.listCount() != 0 {
		t.Errorf("code list fetched during card batch: %d", cs.listCount())
	}
}

func TestPushURL(t *testing.T) {
	tests := []struct{ base, want string }{
		{"http://door.local:3000/api", "ws://door.local:3000/api/ws?token=a+b"},
		{"https://door.example/api/", "wss://door.example/api/ws?token=a+b"},
	}
	for _, tt := range tests {
		s := NewSyncer(New(tt.base, logger.Discard()), &Session{Token: "a b"}, logger.Discard())
		if got := s.pushURL(); got != tt.want {
			t.Errorf("pushURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
