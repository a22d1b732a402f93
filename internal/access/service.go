// Package access implements the access code registry, NFC card enrollment
// and the unlock decision with its audit trail.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/lib/sl"
	"github.com/esp32-access-manager/backend/internal/pin"
	"github.com/esp32-access-manager/backend/internal/scan"
	"github.com/esp32-access-manager/backend/internal/storage"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// Notifier receives change signals for connected clients.
type Notifier interface {
	PasswordUpdate()
	NFCUpdate()
	NewLog(entry models.UnlockLog)
	NFCDetected(nfcID, requestID string)
}

// Recorder receives every unlock attempt for metrics.
type Recorder interface {
	RecordUnlock(entry models.UnlockLog)
}

// DoorOpener actuates the lock after a granted attempt.
type DoorOpener interface {
	Open(ctx context.Context, entry models.UnlockLog) error
}

// Dependencies wires the service.
type Dependencies struct {
	Codes    *storage.AccessCodeRepository
	Cards    *storage.NFCCardRepository
	Logs     *storage.UnlockLogRepository
	Guests   *storage.GuestRepository
	Requests *storage.AccessRequestRepository
	Checker  *pin.ConflictChecker
	Scans    *scan.Coordinator
	Notifier Notifier
	Recorder Recorder
	Log      *slog.Logger
	// MaxTTL bounds code lifetimes; zero means unbounded.
	MaxTTL time.Duration
}

// Service is the access code registry and unlock gate.
type Service struct {
	codes    *storage.AccessCodeRepository
	cards    *storage.NFCCardRepository
	logs     *storage.UnlockLogRepository
	guests   *storage.GuestRepository
	requests *storage.AccessRequestRepository
	checker  *pin.ConflictChecker
	scans    *scan.Coordinator
	notifier Notifier
	recorder Recorder
	opener   DoorOpener
	maxTTL   time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates an access service.
func NewService(deps Dependencies) *Service {
	return &Service{
		codes:    deps.Codes,
		cards:    deps.Cards,
		logs:     deps.Logs,
		guests:   deps.Guests,
		requests: deps.Requests,
		checker:  deps.Checker,
		scans:    deps.Scans,
		notifier: deps.Notifier,
		recorder: deps.Recorder,
		maxTTL:   deps.MaxTTL,
		log:      deps.Log.With(sl.Module("access")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetDoorOpener attaches the device link. Without one, granted attempts
// are only logged.
func (s *Service) SetDoorOpener(o DoorOpener) {
	s.opener = o
}

// ── Access codes ────────────────────────────────────────────

// CreateCodeInput describes a new access code.
type CreateCodeInput struct {
	Code       string
	TTLSeconds int
	Type       string
	CreatedBy  string
}

// CreateCode registers an active code.
func (s *Service) CreateCode(ctx context.Context, in CreateCodeInput) (*models.AccessCode, error) {
	if err := pin.ValidateCode(in.Code); err != nil {
		return nil, err
	}
	if in.Type != models.CodeTypeOTP && in.Type != models.CodeTypeStatic {
		return nil, apperr.Validation("type must be otp or static")
	}
	if in.TTLSeconds <= 0 {
		return nil, apperr.Validation("ttlSeconds must be positive")
	}
	ttl := time.Duration(in.TTLSeconds) * time.Second
	if s.maxTTL > 0 && ttl > s.maxTTL {
		return nil, apperr.Validation("ttlSeconds must be at most %d", int(s.maxTTL.Seconds()))
	}

	now := s.now()
	holders, err := s.checker.CheckConflicts(ctx, in.Code, now)
	if err != nil {
		return nil, err
	}
	for _, h := range holders {
		if h.Kind != models.HolderAccessCode {
			return nil, apperr.Conflict("code %s is already assigned to another credential", in.Code)
		}
	}

	code := &models.AccessCode{
		Code:      in.Code,
		Type:      in.Type,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if in.CreatedBy != "" {
		code.CreatedBy = &in.CreatedBy
	}

	if err := s.codes.Create(ctx, code, now); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Conflict("code %s is already active", in.Code)
		}
		return nil, fmt.Errorf("creating code: %w", err)
	}

	s.log.Info("code created",
		sl.Secret("code", in.Code),
		slog.String("type", in.Type),
		slog.Time("expires_at", code.ExpiresAt),
		slog.String("by", in.CreatedBy),
	)
	s.notify(func(n Notifier) { n.PasswordUpdate() })
	return code, nil
}

// DeleteCode removes an active code.
func (s *Service) DeleteCode(ctx context.Context, code string) error {
	if code == "" {
		return apperr.Validation("code is required")
	}
	ok, err := s.codes.Delete(ctx, code, s.now())
	if err != nil {
		return fmt.Errorf("deleting code: %w", err)
	}
	if !ok {
		return apperr.NotFound("code not found")
	}

	s.log.Info("code deleted", sl.Secret("code", code))
	s.notify(func(n Notifier) { n.PasswordUpdate() })
	return nil
}

// ListActiveCodes returns every unexpired code.
func (s *Service) ListActiveCodes(ctx context.Context) ([]models.AccessCode, error) {
	codes, err := s.codes.ListActive(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("listing codes: %w", err)
	}
	return codes, nil
}

// ── NFC cards ───────────────────────────────────────────────

// EnrollResult is either a synchronously enrolled card or an armed scan.
type EnrollResult struct {
	Card    *models.NFCCard
	Pending bool
	Session *scan.Session
}

// EnrollCard enrolls id, or arms the reader when id is empty. In the armed
// case the card arrives later through CompleteEnrollment.
func (s *Service) EnrollCard(ctx context.Context, id, by string) (*EnrollResult, error) {
	if id == "" {
		session, err := s.scans.Arm(scan.PurposeEnroll, "", by)
		if err != nil {
			return nil, err
		}
		s.log.Info("reader armed for enrollment", slog.String("session", session.ID), slog.String("by", by))
		return &EnrollResult{Pending: true, Session: &session}, nil
	}

	card, err := s.enroll(ctx, id, by)
	if err != nil {
		return nil, err
	}
	return &EnrollResult{Card: card}, nil
}

// CompleteEnrollment enrolls a card captured for an armed enroll session.
func (s *Service) CompleteEnrollment(ctx context.Context, cardID string, session scan.Session) (*models.NFCCard, error) {
	s.notify(func(n Notifier) { n.NFCDetected(cardID, "") })
	return s.enroll(ctx, cardID, session.ArmedBy)
}

func (s *Service) enroll(ctx context.Context, id, by string) (*models.NFCCard, error) {
	card := &models.NFCCard{ID: id, EnrolledAt: s.now()}
	if by != "" {
		card.EnrolledBy = &by
	}
	if err := s.cards.Create(ctx, card); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Conflict("card %s is already enrolled", id)
		}
		return nil, fmt.Errorf("enrolling card: %w", err)
	}

	s.log.Info("card enrolled", slog.String("card", id), slog.String("by", by))
	s.notify(func(n Notifier) { n.NFCUpdate() })
	return card, nil
}

// DisenrollCard removes an enrolled card.
func (s *Service) DisenrollCard(ctx context.Context, id string) error {
	if id == "" {
		return apperr.Validation("id is required")
	}
	ok, err := s.cards.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("disenrolling card: %w", err)
	}
	if !ok {
		return apperr.NotFound("card not found")
	}

	s.log.Info("card disenrolled", slog.String("card", id))
	s.notify(func(n Notifier) { n.NFCUpdate() })
	return nil
}

// ListActiveCards returns every enrolled card.
func (s *Service) ListActiveCards(ctx context.Context) ([]models.NFCCard, error) {
	cards, err := s.cards.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	return cards, nil
}

func (s *Service) notify(fn func(Notifier)) {
	if s.notifier != nil {
		fn(s.notifier)
	}
}
