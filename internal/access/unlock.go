package access

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/lib/sl"
	"github.com/esp32-access-manager/backend/internal/pin"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// Channel is where an unlock attempt came from.
type Channel int

const (
	// ChannelWeb accepts a PIN or a card id in the same field.
	ChannelWeb Channel = iota
	// ChannelDevicePIN is a keypad entry on the door unit.
	ChannelDevicePIN
	// ChannelDeviceNFC is a card tap on the door unit.
	ChannelDeviceNFC
)

// Credential kinds reported to the caller.
const (
	KindPIN = "pin"
	KindNFC = "nfc"
)

// UnlockResult describes a granted attempt.
type UnlockResult struct {
	Method   string  `json:"method"`
	UserName *string `json:"user_name,omitempty"`
}

type match struct {
	kind     string
	userID   *string
	userName *string
	otp      bool
}

// Unlock checks code against every active credential and records the
// attempt whatever the outcome. Matching is exact; OTP codes are consumed
// atomically so concurrent attempts cannot both succeed.
func (s *Service) Unlock(ctx context.Context, code string, ch Channel) (*UnlockResult, error) {
	if code == "" {
		return nil, apperr.Validation("code is required")
	}
	now := s.now()

	m, err := s.match(ctx, code, ch, now)
	if err != nil {
		return nil, fmt.Errorf("matching credential: %w", err)
	}

	entry := models.UnlockLog{
		Method:  methodFor(ch, m, code),
		Code:    code,
		Time:    now,
		Success: m != nil,
	}
	if m != nil {
		entry.UserID = m.userID
		entry.UserName = m.userName
	}

	if err := s.logs.Append(ctx, &entry); err != nil {
		return nil, fmt.Errorf("recording unlock attempt: %w", err)
	}
	s.notify(func(n Notifier) { n.NewLog(entry) })
	if s.recorder != nil {
		s.recorder.RecordUnlock(entry)
	}

	if m == nil {
		s.log.Info("unlock denied", slog.String("method", entry.Method), sl.Secret("code", code))
		return nil, apperr.Auth("unlock failed")
	}

	if m.otp {
		s.notify(func(n Notifier) { n.PasswordUpdate() })
	}
	s.log.Info("unlock granted", slog.String("method", entry.Method), slog.Int64("log_id", entry.ID))

	if s.opener != nil {
		if err := s.opener.Open(ctx, entry); err != nil {
			s.log.Warn("door open command failed", sl.Err(err))
		}
	}

	return &UnlockResult{Method: m.kind, UserName: m.userName}, nil
}

func (s *Service) match(ctx context.Context, code string, ch Channel, now time.Time) (*match, error) {
	if ch == ChannelWeb || ch == ChannelDevicePIN {
		m, err := s.matchPIN(ctx, code, now)
		if m != nil || err != nil {
			return m, err
		}
	}
	if ch == ChannelWeb || ch == ChannelDeviceNFC {
		return s.matchCard(ctx, code, now)
	}
	return nil, nil
}

func (s *Service) matchPIN(ctx context.Context, code string, now time.Time) (*match, error) {
	ac, err := s.codes.FindActive(ctx, code, now)
	if err != nil {
		return nil, err
	}
	if ac != nil {
		if ac.Type == models.CodeTypeStatic {
			return &match{kind: KindPIN}, nil
		}
		consumed, err := s.codes.ConsumeOTP(ctx, code, now)
		if err != nil {
			return nil, err
		}
		if consumed {
			return &match{kind: KindPIN, otp: true}, nil
		}
		// Lost the race to another attempt with the same OTP.
		return nil, nil
	}

	g, err := s.guests.FindUsableByPIN(ctx, code)
	if err != nil {
		return nil, err
	}
	if g != nil {
		return &match{kind: KindPIN, userID: &g.ID, userName: &g.Username}, nil
	}

	req, err := s.requests.FindActiveGrant(ctx, models.AccessTypePIN, code, now)
	if err != nil {
		return nil, err
	}
	if req != nil {
		return &match{kind: KindPIN, userID: &req.GuestID, userName: &req.Username}, nil
	}
	return nil, nil
}

func (s *Service) matchCard(ctx context.Context, id string, now time.Time) (*match, error) {
	card, err := s.cards.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if card != nil {
		return &match{kind: KindNFC}, nil
	}

	req, err := s.requests.FindActiveGrant(ctx, models.AccessTypeNFC, id, now)
	if err != nil {
		return nil, err
	}
	if req != nil {
		return &match{kind: KindNFC, userID: &req.GuestID, userName: &req.Username}, nil
	}
	return nil, nil
}

func methodFor(ch Channel, m *match, code string) string {
	switch ch {
	case ChannelDevicePIN:
		return models.MethodDevicePIN
	case ChannelDeviceNFC:
		return models.MethodDeviceNFC
	}
	if m != nil {
		if m.kind == KindNFC {
			return models.MethodWebNFC
		}
		return models.MethodWebPIN
	}
	if pin.IsValidCode(code) {
		return models.MethodWebPIN
	}
	return models.MethodWebNFC
}
