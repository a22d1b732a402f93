package device

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/esp32-access-manager/backend/internal/access"
	"github.com/esp32-access-manager/backend/internal/apperr"
	"github.com/esp32-access-manager/backend/internal/guest"
	"github.com/esp32-access-manager/backend/internal/lib/sl"
	"github.com/esp32-access-manager/backend/internal/scan"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// Notifier receives keypad echoes for the admin dashboard.
type Notifier interface {
	PINEntered(pin string)
}

// CommandWriter delivers commands to the door unit.
type CommandWriter interface {
	Send(ctx context.Context, cmd Command) error
	Name() string
}

// logWriter is used when no transport is configured; commands are only
// logged and the door unit is expected to act on HTTP event responses.
type logWriter struct {
	log *slog.Logger
}

func (w logWriter) Send(_ context.Context, cmd Command) error {
	w.log.Debug("device command", slog.String("action", cmd.Action), slog.String("door", cmd.DoorID))
	return nil
}

func (w logWriter) Name() string {
	return "log"
}

// Manager routes device events to the access and guest services and
// sends commands back to the door.
type Manager struct {
	access   *access.Service
	guests   *guest.Service
	scans    *scan.Coordinator
	notifier Notifier
	writer   CommandWriter
	doorID   string
	log      *slog.Logger
	now      func() time.Time
}

// NewManager creates a device manager. Commands are logged until a writer
// is attached with SetWriter.
func NewManager(
	accessSvc *access.Service,
	guestSvc *guest.Service,
	scans *scan.Coordinator,
	notifier Notifier,
	doorID string,
	log *slog.Logger,
) *Manager {
	log = log.With(sl.Module("device"))
	return &Manager{
		access:   accessSvc,
		guests:   guestSvc,
		scans:    scans,
		notifier: notifier,
		writer:   logWriter{log: log},
		doorID:   doorID,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetWriter replaces the command transport.
func (m *Manager) SetWriter(w CommandWriter) {
	m.writer = w
	m.log.Info("device command transport set", slog.String("writer", w.Name()))
}

// HandleEvent processes one event. A card tap while the reader is armed is
// captured for the armed session instead of being treated as an unlock.
// A denied unlock is a Result with Granted false, not an error.
func (m *Manager) HandleEvent(ctx context.Context, ev Event) (*Result, error) {
	switch ev.Type {
	case EventPIN:
		if m.notifier != nil {
			m.notifier.PINEntered(ev.Value)
		}
		return m.unlock(ctx, ev.Value, access.ChannelDevicePIN)

	case EventNFC:
		if session, ok := m.scans.Take(); ok {
			return m.capture(ctx, ev.Value, session)
		}
		return m.unlock(ctx, ev.Value, access.ChannelDeviceNFC)
	}
	return nil, apperr.Validation("unknown event type %q", ev.Type)
}

func (m *Manager) capture(ctx context.Context, cardID string, session scan.Session) (*Result, error) {
	res := &Result{Captured: string(session.Purpose), RequestID: session.RequestID}
	m.log.Info("card captured", slog.String("purpose", string(session.Purpose)), slog.String("session", session.ID))

	var err error
	switch session.Purpose {
	case scan.PurposeEnroll:
		_, err = m.access.CompleteEnrollment(ctx, cardID, session)
	case scan.PurposeRequest:
		_, err = m.guests.AttachScannedCard(ctx, cardID, session)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *Manager) unlock(ctx context.Context, value string, ch access.Channel) (*Result, error) {
	granted, err := m.access.Unlock(ctx, value, ch)
	if err != nil {
		if errors.Is(err, apperr.ErrAuth) {
			m.send(ctx, Command{Action: ActionDeny})
			return &Result{Granted: false}, nil
		}
		return nil, err
	}
	return &Result{Granted: true, Method: granted.Method}, nil
}

// Open sends the open command after a granted attempt.
func (m *Manager) Open(ctx context.Context, entry models.UnlockLog) error {
	return m.writer.Send(ctx, m.stamp(Command{Action: ActionOpen}))
}

// ArmReader tells the door unit to expect a card for session.
func (m *Manager) ArmReader(session scan.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.send(ctx, Command{
		Action:    ActionArmReader,
		SessionID: session.ID,
		ExpiresIn: int(session.ExpiresIn(m.now()).Seconds()),
	})
}

func (m *Manager) send(ctx context.Context, cmd Command) {
	if err := m.writer.Send(ctx, m.stamp(cmd)); err != nil {
		m.log.Warn("device command failed", slog.String("action", cmd.Action), sl.Err(err))
	}
}

func (m *Manager) stamp(cmd Command) Command {
	cmd.DoorID = m.doorID
	cmd.IssuedAt = m.now()
	return cmd
}
