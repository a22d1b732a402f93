package storage

import (
	"context"
	"time"

	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// CredentialRepository answers cross-table questions about PIN values.
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new credential repository.
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// FindPINHolders lists every active credential currently using pin:
// unexpired access codes, guest PINs and unexpired approved request PINs.
func (r *CredentialRepository) FindPINHolders(ctx context.Context, pin string, now time.Time) ([]models.CredentialHolder, error) {
	ms := toMillis(now)
	rows, err := r.db.QueryContext(ctx, `
		SELECT 'access_code', code FROM access_codes WHERE code = ? AND expires_at_ms > ?
		UNION ALL
		SELECT 'guest_pin', id FROM guests WHERE pin_code = ?
		UNION ALL
		SELECT 'request_pin', id FROM access_requests
			WHERE pin_code = ? AND status = 'approved' AND expires_at_ms > ?
	`, pin, ms, pin, pin, ms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holders []models.CredentialHolder
	for rows.Next() {
		var h models.CredentialHolder
		if err := rows.Scan(&h.Kind, &h.ID); err != nil {
			return nil, err
		}
		holders = append(holders, h)
	}
	return holders, rows.Err()
}
