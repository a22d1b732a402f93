package guest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/lib/logger"
	"github.com/esp32-access-manager/backend/internal/pin"
	"github.com/esp32-access-manager/backend/internal/scan"
	"github.com/esp32-access-manager/backend/internal/storage"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

type event struct {
	name   string
	detail string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingNotifier) add(name, detail string) {
	r.mu.Lock()
	r.events = append(r.events, event{name, detail})
	r.mu.Unlock()
}

func (r *recordingNotifier) NewUserRegistration(g models.Guest) { r.add("new-user-registration", g.Username) }
func (r *recordingNotifier) UserApprovalUpdate(u, action, _ string) {
	r.add("user-approval-update", u+":"+action)
}
func (r *recordingNotifier) UserDeleted(u, _ string)              { r.add("user-deleted", u) }
func (r *recordingNotifier) NewNFCRequest(req models.AccessRequest) { r.add("new-nfc-request", req.GuestName) }
func (r *recordingNotifier) NFCRequestResponded(req models.AccessRequest) {
	r.add("nfc-request-responded", req.ID+":"+req.Status)
}
func (r *recordingNotifier) NFCDetected(id, reqID string) { r.add("nfc-detected", id+":"+reqID) }

func (r *recordingNotifier) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.name
	}
	return out
}

func (r *recordingNotifier) last() event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type testEnv struct {
	svc      *Service
	notifier *recordingNotifier
	codes    *storage.AccessCodeRepository
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "guest.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.RunMigrations(db, logger.Discard()); err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		notifier: &recordingNotifier{},
		codes:    storage.NewAccessCodeRepository(db),
		now:      time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	env.svc = NewService(Dependencies{
		Guests:      storage.NewGuestRepository(db),
		Requests:    storage.NewAccessRequestRepository(db),
		Checker:     pin.NewConflictChecker(storage.NewCredentialRepository(db).FindPINHolders),
		Scans:       scan.NewCoordinator(time.Minute),
		Notifier:    env.notifier,
		Log:         logger.Discard(),
		MaxDuration: 7 * 24 * time.Hour,
	})
	env.svc.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) approvedGuest(t *testing.T, username string) *models.Guest {
	t.Helper()
	ctx := context.Background()
	g, err := e.svc.Register(ctx, RegisterInput{Username: username, Password: "secret-pass", FullName: "Guest " + username})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	g, err = e.svc.Review(ctx, g.ID, ActionApprove, "admin")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	return g
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if apperr.KindOf(err) != kind {
		t.Fatalf("err = %v, want kind %s", err, kind)
	}
}

// ── Accounts ────────────────────────────────────────────────

func TestRegisterStartsPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	g, err := env.svc.Register(ctx, RegisterInput{Username: "alice", Password: "secret-pass", FullName: "Alice"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if g.ApprovalStatus != models.ApprovalPending || g.IsActive || g.CanAuthenticate() {
		t.Fatalf("guest = %+v, want pending and inactive", g)
	}

	_, err = env.svc.Register(ctx, RegisterInput{Username: "alice", Password: "secret-pass", FullName: "Alice 2"})
	wantKind(t, err, apperr.KindConflict)
	_, err = env.svc.Register(ctx, RegisterInput{Username: "bob", Password: "123", FullName: "Bob"})
	wantKind(t, err, apperr.KindValidation)

	pending, err := env.svc.ListPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListPending = %v, %v", pending, err)
	}
	if names := env.notifier.names(); len(names) != 1 || names[0] != "new-user-registration" {
		t.Errorf("events = %v", names)
	}
}

func TestReviewOnlyFromPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	g := env.approvedGuest(t, "alice")
	if !g.IsActive || g.ApprovalStatus != models.ApprovalApproved {
		t.Fatalf("approved guest = %+v", g)
	}
	if got := env.notifier.last(); got.detail != "alice:approve" {
		t.Errorf("last event = %+v", got)
	}

	_, err := env.svc.Review(ctx, g.ID, ActionReject, "admin")
	wantKind(t, err, apperr.KindConflict)
	_, err = env.svc.Review(ctx, g.ID, "maybe", "admin")
	wantKind(t, err, apperr.KindValidation)
	_, err = env.svc.Review(ctx, "missing", ActionApprove, "admin")
	wantKind(t, err, apperr.KindNotFound)
}

func TestToggleRequiresApproval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending, err := env.svc.Register(ctx, RegisterInput{Username: "p", Password: "secret-pass", FullName: "P"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.svc.ToggleActive(ctx, pending.ID, "admin")
	wantKind(t, err, apperr.KindConflict)

	g := env.approvedGuest(t, "alice")
	g, err = env.svc.ToggleActive(ctx, g.ID, "admin")
	if err != nil {
		t.Fatalf("ToggleActive: %v", err)
	}
	if g.IsActive {
		t.Fatal("guest still active after toggle")
	}
	if got := env.notifier.last(); got.detail != "alice:deactivate" {
		t.Errorf("last event = %+v", got)
	}

	_, err = env.svc.SubmitRequest(ctx, g.ID, SubmitInput{Reason: "visit"})
	wantKind(t, err, apperr.KindAuth)
}

func TestDeleteCascadesRequests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	g := env.approvedGuest(t, "alice")
	if _, err := env.svc.SubmitRequest(ctx, g.ID, SubmitInput{Reason: "visit"}); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Delete(ctx, g.ID, "admin"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	wantKind(t, env.svc.Delete(ctx, g.ID, "admin"), apperr.KindNotFound)

	all, err := env.svc.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("requests after delete = %d, want 0", len(all))
	}
	if got := env.notifier.last(); got.name != "user-deleted" {
		t.Errorf("last event = %+v", got)
	}
}

func TestAssignPIN(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.approvedGuest(t, "alice")
	bob := env.approvedGuest(t, "bob")

	g, err := env.svc.AssignPIN(ctx, alice.ID, "246810")
	if err != nil {
		t.Fatalf("AssignPIN: %v", err)
	}
	if g.PINCode == nil || *g.PINCode != "246810" {
		t.Fatalf("PINCode = %v", g.PINCode)
	}
	// Reassigning the same PIN to its holder is not a conflict.
	if _, err := env.svc.AssignPIN(ctx, alice.ID, "246810"); err != nil {
		t.Fatalf("reassign own PIN: %v", err)
	}

	_, err = env.svc.AssignPIN(ctx, bob.ID, "246810")
	wantKind(t, err, apperr.KindConflict)

	code := &models.AccessCode{Code: "135790", Type: models.CodeTypeStatic, CreatedAt: env.now, ExpiresAt: env.now.Add(time.Hour)}
	if err := env.codes.Create(ctx, code, env.now); err != nil {
		t.Fatal(err)
	}
	_, err = env.svc.AssignPIN(ctx, bob.ID, "135790")
	wantKind(t, err, apperr.KindConflict)

	g, err = env.svc.AssignPIN(ctx, bob.ID, "")
	if err != nil {
		t.Fatalf("AssignPIN generated: %v", err)
	}
	if g.PINCode == nil || !pin.IsValidCode(*g.PINCode) || *g.PINCode == "246810" {
		t.Errorf("generated PIN = %v", g.PINCode)
	}

	if err := env.svc.ClearPIN(ctx, alice.ID); err != nil {
		t.Fatalf("ClearPIN: %v", err)
	}
	if _, err := env.svc.AssignPIN(ctx, bob.ID, "246810"); err != nil {
		t.Fatalf("AssignPIN after clear: %v", err)
	}
}

// ── Requests ────────────────────────────────────────────────

func TestSubmitRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	g := env.approvedGuest(t, "alice")

	_, err := env.svc.SubmitRequest(ctx, g.ID, SubmitInput{Reason: "   "})
	wantKind(t, err, apperr.KindValidation)
	_, err = env.svc.SubmitRequest(ctx, g.ID, SubmitInput{Reason: "visit", DurationHours: 24 * 30})
	wantKind(t, err, apperr.KindValidation)
	past := env.now.Add(-time.Minute)
	_, err = env.svc.SubmitRequest(ctx, g.ID, SubmitInput{Reason: "visit", ExpiresAt: &past})
	wantKind(t, err, apperr.KindValidation)

	req, err := env.svc.SubmitRequest(ctx, g.ID, SubmitInput{Reason: "visit"})
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}
	if want := env.now.Add(24 * time.Hour); !req.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", req.ExpiresAt, want)
	}
	if got := env.notifier.last(); got.name != "new-nfc-request" || got.detail != "Guest alice" {
		t.Errorf("last event = %+v", got)
	}
}

func TestRespondPINGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.approvedGuest(t, "alice")
	if _, err := env.svc.AssignPIN(ctx, alice.ID, "111222"); err != nil {
		t.Fatal(err)
	}
	req, err := env.svc.SubmitRequest(ctx, alice.ID, SubmitInput{Reason: "visit", DurationHours: 24})
	if err != nil {
		t.Fatal(err)
	}

	got, err := env.svc.Respond(ctx, req.ID, RespondInput{Action: ActionApprove, AccessType: models.AccessTypePIN}, "admin")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got.Status != models.RequestApproved || got.PINCode == nil || !pin.IsValidCode(*got.PINCode) {
		t.Fatalf("request = %+v", got)
	}
	if *got.PINCode == "111222" {
		t.Error("generated PIN collides with the guest PIN")
	}
	if got.ApprovedBy == nil || *got.ApprovedBy != "admin" {
		t.Errorf("ApprovedBy = %v", got.ApprovedBy)
	}
	if ev := env.notifier.last(); ev.detail != req.ID+":approved" {
		t.Errorf("last event = %+v", ev)
	}

	_, err = env.svc.Respond(ctx, req.ID, RespondInput{Action: ActionReject}, "admin")
	wantKind(t, err, apperr.KindConflict)
}

func TestRespondNFCGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.approvedGuest(t, "alice")
	first, _ := env.svc.SubmitRequest(ctx, alice.ID, SubmitInput{Reason: "one"})
	second, _ := env.svc.SubmitRequest(ctx, alice.ID, SubmitInput{Reason: "two"})

	_, err := env.svc.Respond(ctx, first.ID, RespondInput{Action: ActionApprove, AccessType: models.AccessTypeNFC}, "admin")
	wantKind(t, err, apperr.KindValidation)
	_, err = env.svc.Respond(ctx, first.ID, RespondInput{Action: ActionApprove, AccessType: "qr"}, "admin")
	wantKind(t, err, apperr.KindValidation)

	got, err := env.svc.Respond(ctx, first.ID, RespondInput{Action: ActionApprove, AccessType: models.AccessTypeNFC, NFCCardID: "CARD1"}, "admin")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got.NFCCardID == nil || *got.NFCCardID != "CARD1" || got.PINCode != nil {
		t.Fatalf("request = %+v", got)
	}

	_, err = env.svc.Respond(ctx, second.ID, RespondInput{Action: ActionApprove, AccessType: models.AccessTypeNFC, NFCCardID: "CARD1"}, "admin")
	wantKind(t, err, apperr.KindConflict)
}

func TestScanThenRespond(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.approvedGuest(t, "alice")
	req, err := env.svc.SubmitRequest(ctx, alice.ID, SubmitInput{Reason: "visit"})
	if err != nil {
		t.Fatal(err)
	}

	session, err := env.svc.ArmScan(ctx, req.ID, "admin")
	if err != nil {
		t.Fatalf("ArmScan: %v", err)
	}
	if session.Purpose != scan.PurposeRequest || session.RequestID != req.ID {
		t.Fatalf("session = %+v", session)
	}

	taken, ok := env.svc.scans.Take()
	if !ok {
		t.Fatal("no armed session")
	}
	updated, err := env.svc.AttachScannedCard(ctx, "SCANNED1", taken)
	if err != nil {
		t.Fatalf("AttachScannedCard: %v", err)
	}
	if updated.ScannedNFCID == nil || *updated.ScannedNFCID != "SCANNED1" || updated.Status != models.RequestPending {
		t.Fatalf("request after scan = %+v", updated)
	}
	if ev := env.notifier.last(); ev.name != "nfc-detected" || ev.detail != "SCANNED1:"+req.ID {
		t.Errorf("last event = %+v", ev)
	}

	got, err := env.svc.Respond(ctx, req.ID, RespondInput{Action: ActionApprove, AccessType: models.AccessTypeNFC}, "admin")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got.NFCCardID == nil || *got.NFCCardID != "SCANNED1" {
		t.Errorf("NFCCardID = %v", got.NFCCardID)
	}
}

func TestRespondToLapsedRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.approvedGuest(t, "alice")
	req, err := env.svc.SubmitRequest(ctx, alice.ID, SubmitInput{Reason: "visit", DurationHours: 1})
	if err != nil {
		t.Fatal(err)
	}
	env.now = env.now.Add(2 * time.Hour)

	mine, err := env.svc.ListMine(ctx, alice.ID)
	if err != nil || len(mine) != 1 || mine[0].Status != models.RequestExpired {
		t.Fatalf("ListMine = %+v, %v", mine, err)
	}

	_, err = env.svc.Respond(ctx, req.ID, RespondInput{Action: ActionReject}, "admin")
	wantKind(t, err, apperr.KindConflict)
	if ev := env.notifier.last(); ev.detail != req.ID+":expired" {
		t.Errorf("last event = %+v", ev)
	}

	_, err = env.svc.ArmScan(ctx, req.ID, "admin")
	wantKind(t, err, apperr.KindConflict)
}

func TestRespondConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.approvedGuest(t, "alice")
	req, err := env.svc.SubmitRequest(ctx, alice.ID, SubmitInput{Reason: "visit"})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Respond(ctx, req.ID, RespondInput{Action: ActionReject}, "admin")
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}
