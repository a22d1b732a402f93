package storage

import (
	"context"
	"time"
)

// TokenRepository tracks revoked token ids.
type TokenRepository struct {
	db *DB
}

// NewTokenRepository creates a new token repository.
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Revoke records jti as unusable until expiresAt. Revoking twice is a no-op.
func (r *TokenRepository) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO revoked_tokens (jti, expires_at_ms) VALUES (?, ?)",
		jti, toMillis(expiresAt))
	return err
}

// IsRevoked reports whether jti has been revoked.
func (r *TokenRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?", jti).Scan(&n)
	return n > 0, err
}

// PurgeExpired drops revocations for tokens that have expired on their own.
func (r *TokenRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM revoked_tokens WHERE expires_at_ms <= ?", toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
