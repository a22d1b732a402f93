package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/esp32-access-manager/backend/internal/lib/logger"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := RunMigrations(db, logger.Discard()); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	return db
}

func strp(s string) *string { return &s }

// ── Migrations ──────────────────────────────────────────────

func TestRunMigrationsIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	if err := RunMigrations(db, logger.Discard()); err != nil {
		t.Fatalf("second RunMigrations: %v", err)
	}
}

// ── Access codes ────────────────────────────────────────────

func TestAccessCodeCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewAccessCodeRepository(newTestDB(t))

	code := &models.AccessCode{Code: "123456", Type: models.CodeTypeStatic, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)}
	if err := repo.Create(ctx, code, t0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	dup := &models.AccessCode{Code: "123456", Type: models.CodeTypeOTP, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)}
	if err := repo.Create(ctx, dup, t0); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Create duplicate err = %v, want ErrDuplicate", err)
	}

	codes, err := repo.ListActive(ctx, t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(codes) != 1 || codes[0].Type != models.CodeTypeStatic {
		t.Fatalf("ListActive = %+v", codes)
	}
}

func TestAccessCodeCreateReplacesExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewAccessCodeRepository(newTestDB(t))

	old := &models.AccessCode{Code: "111111", Type: models.CodeTypeOTP, CreatedAt: t0, ExpiresAt: t0.Add(time.Minute)}
	if err := repo.Create(ctx, old, t0); err != nil {
		t.Fatal(err)
	}
	later := t0.Add(2 * time.Minute)
	fresh := &models.AccessCode{Code: "111111", Type: models.CodeTypeStatic, CreatedAt: later, ExpiresAt: later.Add(time.Hour)}
	if err := repo.Create(ctx, fresh, later); err != nil {
		t.Fatalf("Create over expired: %v", err)
	}
}

func TestAccessCodeConcurrentCreateSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewAccessCodeRepository(newTestDB(t))

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Create(ctx, &models.AccessCode{
				Code: "424242", Type: models.CodeTypeOTP, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour),
			}, t0)
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicate):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d creates succeeded, want 1", ok)
	}
}

func TestConsumeOTPOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewAccessCodeRepository(newTestDB(t))

	_ = repo.Create(ctx, &models.AccessCode{Code: "555555", Type: models.CodeTypeOTP, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)}, t0)
	_ = repo.Create(ctx, &models.AccessCode{Code: "666666", Type: models.CodeTypeStatic, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)}, t0)

	if ok, err := repo.ConsumeOTP(ctx, "555555", t0); err != nil || !ok {
		t.Fatalf("first ConsumeOTP = %v, %v", ok, err)
	}
	if ok, _ := repo.ConsumeOTP(ctx, "555555", t0); ok {
		t.Fatal("second ConsumeOTP succeeded")
	}
	if ok, _ := repo.ConsumeOTP(ctx, "666666", t0); ok {
		t.Fatal("ConsumeOTP consumed a static code")
	}
}

func TestPurgeExpiredCodes(t *testing.T) {
	ctx := context.Background()
	repo := NewAccessCodeRepository(newTestDB(t))

	_ = repo.Create(ctx, &models.AccessCode{Code: "100000", Type: models.CodeTypeOTP, CreatedAt: t0, ExpiresAt: t0.Add(time.Minute)}, t0)
	_ = repo.Create(ctx, &models.AccessCode{Code: "200000", Type: models.CodeTypeOTP, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)}, t0)

	n, err := repo.PurgeExpired(ctx, t0.Add(5*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpired = %d, %v", n, err)
	}
}

// ── NFC cards ───────────────────────────────────────────────

func TestNFCCardLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewNFCCardRepository(newTestDB(t))

	if err := repo.Create(ctx, &models.NFCCard{ID: "04A2B3C4", EnrolledAt: t0}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, &models.NFCCard{ID: "04A2B3C4", EnrolledAt: t0}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate enroll err = %v", err)
	}
	card, err := repo.GetByID(ctx, "04A2B3C4")
	if err != nil || card == nil || !card.EnrolledAt.Equal(t0) {
		t.Fatalf("GetByID = %+v, %v", card, err)
	}
	if ok, _ := repo.Delete(ctx, "04A2B3C4"); !ok {
		t.Fatal("Delete reported missing card")
	}
	if ok, _ := repo.Delete(ctx, "04A2B3C4"); ok {
		t.Fatal("Delete of missing card reported success")
	}
}

// ── Unlock logs ─────────────────────────────────────────────

func seedLogs(t *testing.T, repo *UnlockLogRepository) {
	t.Helper()
	entries := []models.UnlockLog{
		{Method: models.MethodWebPIN, Code: "123456", Time: t0, Success: true},
		{Method: models.MethodWebPIN, Code: "000000", Time: t0.Add(time.Minute), Success: false},
		{Method: models.MethodDeviceNFC, Code: "04A2", Time: t0.Add(time.Minute), Success: true, UserID: strp("g1"), UserName: strp("Alice")},
		{Method: models.MethodDevicePIN, Code: "999999", Time: t0.Add(24 * time.Hour), Success: false},
		{Method: models.MethodWebNFC, Code: "CAFE", Time: t0.Add(48 * time.Hour), Success: true, UserID: strp("g2"), UserName: strp("bob")},
	}
	for i := range entries {
		if err := repo.Append(context.Background(), &entries[i]); err != nil {
			t.Fatal(err)
		}
	}
}

func TestUnlockLogListFilteredTotal(t *testing.T) {
	ctx := context.Background()
	repo := NewUnlockLogRepository(newTestDB(t))
	seedLogs(t, repo)

	page, err := repo.List(ctx, models.LogQuery{SortBy: "time", FilterBy: "success", FilterValue: "1", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 {
		t.Errorf("Total = %d, want 3", page.Total)
	}
	if len(page.Logs) != 2 {
		t.Fatalf("len(Logs) = %d, want 2", len(page.Logs))
	}
	for _, l := range page.Logs {
		if !l.Success {
			t.Errorf("unsuccessful entry in success filter: %+v", l)
		}
	}
	if page.Logs[0].Code != "CAFE" {
		t.Errorf("first entry = %q, want newest", page.Logs[0].Code)
	}
}

func TestUnlockLogListStableTies(t *testing.T) {
	ctx := context.Background()
	repo := NewUnlockLogRepository(newTestDB(t))
	seedLogs(t, repo)

	q := models.LogQuery{SortBy: "success", SortOrder: "asc", Limit: 2, Page: 2}
	first, err := repo.List(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	second, err := repo.List(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Logs) != len(second.Logs) {
		t.Fatal("page length changed between fetches")
	}
	for i := range first.Logs {
		if first.Logs[i].ID != second.Logs[i].ID {
			t.Fatalf("entry %d differs: %d vs %d", i, first.Logs[i].ID, second.Logs[i].ID)
		}
	}
}

func TestUnlockLogListDateBoundsAndUser(t *testing.T) {
	ctx := context.Background()
	repo := NewUnlockLogRepository(newTestDB(t))
	seedLogs(t, repo)

	start := t0.Add(time.Minute)
	end := t0.Add(24 * time.Hour)
	page, err := repo.List(ctx, models.LogQuery{SortBy: "date", Start: &start, End: &end})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 {
		t.Errorf("inclusive date range Total = %d, want 3", page.Total)
	}

	page, err = repo.List(ctx, models.LogQuery{SortBy: "time", UserID: "g1"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Logs[0].UserName == nil || *page.Logs[0].UserName != "Alice" {
		t.Errorf("user-restricted page = %+v", page)
	}
}

func TestUnlockLogListUserNameFilterAndEmptyPage(t *testing.T) {
	ctx := context.Background()
	repo := NewUnlockLogRepository(newTestDB(t))
	seedLogs(t, repo)

	page, err := repo.List(ctx, models.LogQuery{SortBy: "user_name", FilterBy: "user_name", FilterValue: "ALI"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 {
		t.Errorf("user_name filter Total = %d, want 1", page.Total)
	}

	page, err = repo.List(ctx, models.LogQuery{SortBy: "time", Page: 10, Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Logs) != 0 || page.Total != 5 {
		t.Errorf("past-the-end page = %d logs, total %d", len(page.Logs), page.Total)
	}
}

func TestUnlockLogListRejectsUnknownKeys(t *testing.T) {
	repo := NewUnlockLogRepository(newTestDB(t))
	if _, err := repo.List(context.Background(), models.LogQuery{SortBy: "code"}); err == nil {
		t.Error("expected error for unknown sort")
	}
	if _, err := repo.List(context.Background(), models.LogQuery{SortBy: "time", FilterBy: "code"}); err == nil {
		t.Error("expected error for unknown filter")
	}
}

// ── Guests and requests ─────────────────────────────────────

func createGuest(t *testing.T, repo *GuestRepository, username string) *models.Guest {
	t.Helper()
	g := &models.Guest{
		Username:       username,
		PasswordHash:   "x",
		FullName:       username + " Example",
		CreatedAt:      t0,
		ApprovalStatus: models.ApprovalPending,
	}
	if err := repo.Create(context.Background(), g); err != nil {
		t.Fatal(err)
	}
	return g
}

func TestGuestReviewOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	repo := NewGuestRepository(newTestDB(t))
	g := createGuest(t, repo, "alice")

	if ok, _ := repo.ToggleActive(ctx, g.ID); ok {
		t.Fatal("toggle succeeded on pending guest")
	}
	if ok, err := repo.Review(ctx, g.ID, models.ApprovalApproved, "admin", t0); err != nil || !ok {
		t.Fatalf("Review = %v, %v", ok, err)
	}
	if ok, _ := repo.Review(ctx, g.ID, models.ApprovalRejected, "admin", t0); ok {
		t.Fatal("second review succeeded")
	}

	got, _ := repo.GetByID(ctx, g.ID)
	if !got.CanAuthenticate() {
		t.Fatalf("approved guest cannot authenticate: %+v", got)
	}
	if ok, _ := repo.ToggleActive(ctx, g.ID); !ok {
		t.Fatal("toggle failed on approved guest")
	}
	got, _ = repo.GetByID(ctx, g.ID)
	if got.IsActive {
		t.Fatal("toggle did not deactivate")
	}
}

func TestGuestDuplicateUsernameAndPIN(t *testing.T) {
	ctx := context.Background()
	repo := NewGuestRepository(newTestDB(t))
	a := createGuest(t, repo, "alice")
	b := createGuest(t, repo, "bob")

	dup := &models.Guest{Username: "ALICE", PasswordHash: "x", FullName: "A", CreatedAt: t0, ApprovalStatus: models.ApprovalPending}
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate username err = %v", err)
	}

	if _, err := repo.SetPIN(ctx, a.ID, strp("246810")); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.SetPIN(ctx, b.ID, strp("246810")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate PIN err = %v", err)
	}
}

func TestRequestDecideOnceAndCascade(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	guests := NewGuestRepository(db)
	requests := NewAccessRequestRepository(db)
	g := createGuest(t, guests, "carol")

	req := &models.AccessRequest{GuestID: g.ID, Reason: "visit", RequestedAt: t0, ExpiresAt: t0.Add(24 * time.Hour)}
	if err := requests.Create(ctx, req); err != nil {
		t.Fatal(err)
	}

	d := models.RequestDecision{Status: models.RequestApproved, ApprovedBy: "admin", ApprovedAt: t0.Add(time.Hour),
		AccessType: strp(models.AccessTypePIN), PINCode: strp("135790")}
	if ok, err := requests.Decide(ctx, req.ID, d); err != nil || !ok {
		t.Fatalf("first Decide = %v, %v", ok, err)
	}
	if ok, _ := requests.Decide(ctx, req.ID, d); ok {
		t.Fatal("second Decide succeeded")
	}

	got, _ := requests.GetByID(ctx, req.ID)
	if got.Status != models.RequestApproved || got.GuestName != "carol Example" || *got.PINCode != "135790" {
		t.Fatalf("GetByID = %+v", got)
	}

	if ok, _ := guests.Delete(ctx, g.ID); !ok {
		t.Fatal("guest delete failed")
	}
	if got, _ := requests.GetByID(ctx, req.ID); got != nil {
		t.Fatal("request survived guest deletion")
	}
}

func TestExpirePendingAndActiveGrant(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	guests := NewGuestRepository(db)
	requests := NewAccessRequestRepository(db)
	g := createGuest(t, guests, "dave")
	_, _ = guests.Review(ctx, g.ID, models.ApprovalApproved, "admin", t0)

	short := &models.AccessRequest{GuestID: g.ID, Reason: "short", RequestedAt: t0, ExpiresAt: t0.Add(time.Hour)}
	long := &models.AccessRequest{GuestID: g.ID, Reason: "long", RequestedAt: t0, ExpiresAt: t0.Add(48 * time.Hour)}
	_ = requests.Create(ctx, short)
	_ = requests.Create(ctx, long)

	_, _ = requests.Decide(ctx, long.ID, models.RequestDecision{Status: models.RequestApproved, ApprovedBy: "admin",
		ApprovedAt: t0, AccessType: strp(models.AccessTypeNFC), NFCCardID: strp("CARD01")})

	expired, err := requests.ExpirePending(ctx, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].ID != short.ID {
		t.Fatalf("ExpirePending = %+v", expired)
	}

	grant, err := requests.FindActiveGrant(ctx, models.AccessTypeNFC, "CARD01", t0.Add(2*time.Hour))
	if err != nil || grant == nil {
		t.Fatalf("FindActiveGrant = %v, %v", grant, err)
	}
	if grant, _ := requests.FindActiveGrant(ctx, models.AccessTypeNFC, "CARD01", t0.Add(49*time.Hour)); grant != nil {
		t.Fatal("grant usable after its window")
	}

	holder, _ := requests.NFCGrantHolder(ctx, "CARD01", "other", t0)
	if holder != long.ID {
		t.Fatalf("NFCGrantHolder = %q", holder)
	}
}

func TestFindPINHolders(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	codes := NewAccessCodeRepository(db)
	guests := NewGuestRepository(db)
	creds := NewCredentialRepository(db)

	_ = codes.Create(ctx, &models.AccessCode{Code: "777777", Type: models.CodeTypeStatic, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)}, t0)
	g := createGuest(t, guests, "erin")
	_, _ = guests.SetPIN(ctx, g.ID, strp("777777"))

	holders, err := creds.FindPINHolders(ctx, "777777", t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(holders) != 2 {
		t.Fatalf("holders = %+v", holders)
	}
	if holders, _ := creds.FindPINHolders(ctx, "888888", t0); len(holders) != 0 {
		t.Fatalf("unexpected holders %+v", holders)
	}
}

// ── Tokens ──────────────────────────────────────────────────

func TestTokenRevocation(t *testing.T) {
	ctx := context.Background()
	repo := NewTokenRepository(newTestDB(t))

	if err := repo.Revoke(ctx, "jti-1", t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := repo.Revoke(ctx, "jti-1", t0.Add(time.Hour)); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if revoked, _ := repo.IsRevoked(ctx, "jti-1"); !revoked {
		t.Fatal("jti-1 not revoked")
	}
	if n, _ := repo.PurgeExpired(ctx, t0.Add(2*time.Hour)); n != 1 {
		t.Fatalf("PurgeExpired = %d", n)
	}
}
