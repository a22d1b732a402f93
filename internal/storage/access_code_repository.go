package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// AccessCodeRepository handles database operations for PIN/OTP codes.
type AccessCodeRepository struct {
	db *DB
}

// NewAccessCodeRepository creates a new access code repository.
func NewAccessCodeRepository(db *DB) *AccessCodeRepository {
	return &AccessCodeRepository{db: db}
}

// Create inserts code. An expired row holding the same value is replaced;
// an active one makes the insert fail with ErrDuplicate. The primary key
// decides between concurrent creators.
func (r *AccessCodeRepository) Create(ctx context.Context, code *models.AccessCode, now time.Time) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM access_codes WHERE code = ? AND expires_at_ms <= ?",
			code.Code, toMillis(now),
		); err != nil {
			return fmt.Errorf("purging expired code: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO access_codes (code, type, created_at_ms, expires_at_ms, created_by)
			VALUES (?, ?, ?, ?, ?)
		`, code.Code, code.Type, toMillis(code.CreatedAt), toMillis(code.ExpiresAt), nullString(code.CreatedBy))
		if IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	})
}

// FindActive returns the active code with the given value, or nil.
func (r *AccessCodeRepository) FindActive(ctx context.Context, code string, now time.Time) (*models.AccessCode, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT code, type, created_at_ms, expires_at_ms, created_by
		FROM access_codes WHERE code = ? AND expires_at_ms > ?
	`, code, toMillis(now))

	c, err := scanAccessCode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListActive returns all unexpired codes, soonest expiry first.
func (r *AccessCodeRepository) ListActive(ctx context.Context, now time.Time) ([]models.AccessCode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, type, created_at_ms, expires_at_ms, created_by
		FROM access_codes WHERE expires_at_ms > ?
		ORDER BY expires_at_ms, code
	`, toMillis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	codes := []models.AccessCode{}
	for rows.Next() {
		c, err := scanAccessCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, *c)
	}
	return codes, rows.Err()
}

// Delete removes an active code. It reports false when no active code matched.
func (r *AccessCodeRepository) Delete(ctx context.Context, code string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM access_codes WHERE code = ? AND expires_at_ms > ?",
		code, toMillis(now),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ConsumeOTP deletes an active OTP code. Exactly one caller observes true
// for a given code, which is what makes an OTP single-use.
func (r *AccessCodeRepository) ConsumeOTP(ctx context.Context, code string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM access_codes WHERE code = ? AND type = ? AND expires_at_ms > ?",
		code, models.CodeTypeOTP, toMillis(now),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// PurgeExpired deletes every code whose TTL has lapsed.
func (r *AccessCodeRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM access_codes WHERE expires_at_ms <= ?", toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanAccessCode(s rowScanner) (*models.AccessCode, error) {
	var (
		c                  models.AccessCode
		createdAt, expires int64
		createdBy          sql.NullString
	)
	if err := s.Scan(&c.Code, &c.Type, &createdAt, &expires, &createdBy); err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(createdAt)
	c.ExpiresAt = fromMillis(expires)
	c.CreatedBy = fromNullString(createdBy)
	return &c, nil
}
