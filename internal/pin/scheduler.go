package pin

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/esp32-access-manager/backend/internal/lib/sl"
	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// Sweepers are the storage operations the scheduler drives.
type (
	CodePurger interface {
		PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	}
	RequestExpirer interface {
		ExpirePending(ctx context.Context, now time.Time) ([]models.AccessRequest, error)
	}
	TokenPurger interface {
		PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	}
)

// Notifier receives change signals for swept state.
type Notifier interface {
	PasswordUpdate()
	NFCRequestResponded(req models.AccessRequest)
}

// ExpiryScheduler deletes lapsed codes, marks lapsed pending requests
// expired and drops stale token revocations.
type ExpiryScheduler struct {
	cron     *cron.Cron
	spec     string
	codes    CodePurger
	requests RequestExpirer
	tokens   TokenPurger
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

// NewExpiryScheduler creates a scheduler that sweeps on spec
// (a cron expression such as "@every 1m").
func NewExpiryScheduler(
	spec string,
	codes CodePurger,
	requests RequestExpirer,
	tokens TokenPurger,
	notifier Notifier,
	log *slog.Logger,
) *ExpiryScheduler {
	return &ExpiryScheduler{
		cron:     cron.New(cron.WithSeconds()),
		spec:     spec,
		codes:    codes,
		requests: requests,
		tokens:   tokens,
		notifier: notifier,
		log:      log.With(sl.Module("pin.scheduler")),
		now:      time.Now,
	}
}

// Start runs one sweep immediately and then schedules it.
func (s *ExpiryScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.Sweep(context.Background()) }); err != nil {
		return err
	}
	s.Sweep(context.Background())
	s.cron.Start()
	s.log.Info("expiry scheduler started", slog.String("spec", s.spec))
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *ExpiryScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("expiry scheduler stopped")
}

// Sweep performs one pass over all expirable state.
func (s *ExpiryScheduler) Sweep(ctx context.Context) {
	now := s.now()

	if n, err := s.codes.PurgeExpired(ctx, now); err != nil {
		s.log.Error("purging expired codes", sl.Err(err))
	} else if n > 0 {
		s.log.Debug("expired codes purged", slog.Int64("count", n))
		if s.notifier != nil {
			s.notifier.PasswordUpdate()
		}
	}

	expired, err := s.requests.ExpirePending(ctx, now)
	if err != nil {
		s.log.Error("expiring requests", sl.Err(err))
	}
	for _, req := range expired {
		s.log.Info("request expired", slog.String("request_id", req.ID), slog.String("guest", req.Username))
		if s.notifier != nil {
			s.notifier.NFCRequestResponded(req)
		}
	}

	if n, err := s.tokens.PurgeExpired(ctx, now); err != nil {
		s.log.Error("purging revoked tokens", sl.Err(err))
	} else if n > 0 {
		s.log.Debug("revoked tokens purged", slog.Int64("count", n))
	}
}
