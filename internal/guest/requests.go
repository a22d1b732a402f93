package guest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/lib/sl"
	"github.com/esp32-access-manager/backend/internal/scan"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// SubmitInput is a guest's access request. ExpiresAt wins over
// DurationHours when both are set.
type SubmitInput struct {
	Reason        string
	DurationHours float64
	ExpiresAt     *time.Time
}

// SubmitRequest files a pending request for guestID.
func (s *Service) SubmitRequest(ctx context.Context, guestID string, in SubmitInput) (*models.AccessRequest, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}

	g, err := s.guests.GetByID(ctx, guestID)
	if err != nil {
		return nil, fmt.Errorf("loading guest: %w", err)
	}
	if g == nil || !g.CanAuthenticate() {
		return nil, apperr.Auth("account is not approved and active")
	}

	now := s.now()
	var window time.Duration
	switch {
	case in.ExpiresAt != nil:
		if !in.ExpiresAt.After(now) {
			return nil, apperr.Validation("expires_at must be in the future")
		}
		window = in.ExpiresAt.Sub(now)
	case in.DurationHours < 0:
		return nil, apperr.Validation("duration_hours must be positive")
	case in.DurationHours > 0:
		window = time.Duration(in.DurationHours * float64(time.Hour))
	default:
		window = s.defaultDuration
	}
	if s.maxDuration > 0 && window > s.maxDuration {
		return nil, apperr.Validation("requested window exceeds %s", s.maxDuration)
	}

	req := &models.AccessRequest{
		GuestID:     g.ID,
		GuestName:   g.FullName,
		Username:    g.Username,
		Reason:      reason,
		RequestedAt: now,
		ExpiresAt:   now.Add(window),
		Status:      models.RequestPending,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	s.log.Info("access request submitted",
		slog.String("request", req.ID),
		slog.String("username", g.Username),
		slog.Time("expires_at", req.ExpiresAt),
	)
	s.notify(func(n Notifier) { n.NewNFCRequest(*req) })
	return req, nil
}

// ListMine returns guestID's requests, newest first.
func (s *Service) ListMine(ctx context.Context, guestID string) ([]models.AccessRequest, error) {
	reqs, err := s.requests.ListByGuest(ctx, guestID)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	return s.withEffectiveStatus(reqs), nil
}

// ListAll returns every request with its guest's name, newest first.
func (s *Service) ListAll(ctx context.Context) ([]models.AccessRequest, error) {
	reqs, err := s.requests.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	return s.withEffectiveStatus(reqs), nil
}

func (s *Service) withEffectiveStatus(reqs []models.AccessRequest) []models.AccessRequest {
	now := s.now()
	for i := range reqs {
		reqs[i].Status = reqs[i].EffectiveStatus(now)
	}
	return reqs
}

// RespondInput is an admin's decision on a request.
type RespondInput struct {
	Action     string
	AccessType string
	NFCCardID  string
	AdminNotes string
}

// Respond approves or rejects a pending request exactly once. Approving
// with an NFC grant uses NFCCardID or the card captured by a prior scan;
// approving with a PIN grant generates a PIN free across all credentials.
func (s *Service) Respond(ctx context.Context, id string, in RespondInput, admin string) (*models.AccessRequest, error) {
	if in.Action != ActionApprove && in.Action != ActionReject {
		return nil, apperr.Validation("action must be approve or reject")
	}

	req, err := s.mustRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.checkRespondable(ctx, req, now); err != nil {
		return nil, err
	}

	d := models.RequestDecision{
		Status:     models.RequestRejected,
		ApprovedBy: admin,
		ApprovedAt: now,
	}
	if in.AdminNotes != "" {
		d.AdminNotes = &in.AdminNotes
	}

	if in.Action == ActionApprove {
		d.Status = models.RequestApproved
		accessType := in.AccessType
		d.AccessType = &accessType

		switch accessType {
		case models.AccessTypeNFC:
			card := in.NFCCardID
			if card == "" && req.ScannedNFCID != nil {
				card = *req.ScannedNFCID
			}
			if card == "" {
				return nil, apperr.Validation("nfc_card_id is required for an nfc grant; scan a card first")
			}
			holder, err := s.requests.NFCGrantHolder(ctx, card, req.ID, now)
			if err != nil {
				return nil, fmt.Errorf("checking card grants: %w", err)
			}
			if holder != "" {
				return nil, apperr.Conflict("card %s is already granted to another request", card)
			}
			d.NFCCardID = &card
		case models.AccessTypePIN:
			code, err := s.checker.GenerateUnique(ctx, s.generator, now, 0)
			if err != nil {
				return nil, err
			}
			d.PINCode = &code
		default:
			return nil, apperr.Validation("access_type must be pin or nfc")
		}
	}

	ok, err := s.requests.Decide(ctx, id, d)
	if err != nil {
		return nil, fmt.Errorf("deciding request: %w", err)
	}
	if !ok {
		// Someone else decided first, or the window closed meanwhile.
		return nil, apperr.Conflict("request is no longer pending")
	}

	updated, err := s.mustRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("access request decided",
		slog.String("request", id),
		slog.String("status", updated.Status),
		slog.String("by", admin),
	)
	s.notify(func(n Notifier) { n.NFCRequestResponded(*updated) })
	return updated, nil
}

// ArmScan arms the reader to capture a card for a pending request.
func (s *Service) ArmScan(ctx context.Context, requestID, by string) (scan.Session, error) {
	req, err := s.mustRequest(ctx, requestID)
	if err != nil {
		return scan.Session{}, err
	}
	if err := s.checkRespondable(ctx, req, s.now()); err != nil {
		return scan.Session{}, err
	}

	session, err := s.scans.Arm(scan.PurposeRequest, requestID, by)
	if err != nil {
		return scan.Session{}, err
	}
	s.log.Info("reader armed for request", slog.String("request", requestID), slog.String("session", session.ID))
	return session, nil
}

// AttachScannedCard stores the card captured for session's request. The
// admin still has to Respond to grant it.
func (s *Service) AttachScannedCard(ctx context.Context, cardID string, session scan.Session) (*models.AccessRequest, error) {
	s.notify(func(n Notifier) { n.NFCDetected(cardID, session.RequestID) })

	ok, err := s.requests.SetScannedCard(ctx, session.RequestID, cardID, s.now())
	if err != nil {
		return nil, fmt.Errorf("storing scanned card: %w", err)
	}
	if !ok {
		return nil, apperr.Conflict("request is no longer pending")
	}
	return s.mustRequest(ctx, session.RequestID)
}

// ExpireLapsed marks pending requests past their window as expired and
// announces each one.
func (s *Service) ExpireLapsed(ctx context.Context) (int, error) {
	expired, err := s.requests.ExpirePending(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, req := range expired {
		s.notify(func(n Notifier) { n.NFCRequestResponded(req) })
	}
	return len(expired), nil
}

func (s *Service) checkRespondable(ctx context.Context, req *models.AccessRequest, now time.Time) error {
	if req.Status != models.RequestPending {
		return apperr.Conflict("request is already %s", req.Status)
	}
	if req.EffectiveStatus(now) == models.RequestExpired {
		if _, err := s.ExpireLapsed(ctx); err != nil {
			s.log.Warn("expiring lapsed requests", sl.Err(err))
		}
		return apperr.Conflict("request has expired")
	}
	return nil
}

func (s *Service) mustRequest(ctx context.Context, id string) (*models.AccessRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading request: %w", err)
	}
	if req == nil {
		return nil, apperr.NotFound("request not found")
	}
	return req, nil
}
