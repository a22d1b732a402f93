package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/esp32-access-manager/backend/internal/storage/models"
)

const requestSelect = `
	SELECT r.id, r.guest_id, g.full_name, g.username, r.reason, r.requested_at_ms, r.expires_at_ms,
		r.status, r.admin_notes, r.approved_by, r.approved_at_ms, r.access_type, r.nfc_card_id,
		r.pin_code, r.scanned_nfc_id
	FROM access_requests r
	JOIN guests g ON g.id = r.guest_id`

// AccessRequestRepository handles database operations for guest access requests.
type AccessRequestRepository struct {
	db *DB
}

// NewAccessRequestRepository creates a new access request repository.
func NewAccessRequestRepository(db *DB) *AccessRequestRepository {
	return &AccessRequestRepository{db: db}
}

// Create inserts a new pending request.
func (r *AccessRequestRepository) Create(ctx context.Context, req *models.AccessRequest) error {
	if req.ID == "" {
		req.ID = GenerateID()
	}
	if req.Status == "" {
		req.Status = models.RequestPending
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO access_requests (id, guest_id, reason, requested_at_ms, expires_at_ms, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, req.ID, req.GuestID, req.Reason, toMillis(req.RequestedAt), toMillis(req.ExpiresAt), req.Status)
	return err
}

// GetByID returns the request with its guest's names, or nil.
func (r *AccessRequestRepository) GetByID(ctx context.Context, id string) (*models.AccessRequest, error) {
	row := r.db.QueryRowContext(ctx, requestSelect+" WHERE r.id = ?", id)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return req, err
}

// ListByGuest returns a guest's requests, newest first.
func (r *AccessRequestRepository) ListByGuest(ctx context.Context, guestID string) ([]models.AccessRequest, error) {
	return r.list(ctx, " WHERE r.guest_id = ?", guestID)
}

// List returns every request, newest first.
func (r *AccessRequestRepository) List(ctx context.Context) ([]models.AccessRequest, error) {
	return r.list(ctx, "")
}

// Decide records the admin response. Only a pending request inside its
// window can be decided; false means the state precondition failed.
func (r *AccessRequestRepository) Decide(ctx context.Context, id string, d models.RequestDecision) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_requests SET
			status = ?, admin_notes = ?, approved_by = ?, approved_at_ms = ?,
			access_type = ?, nfc_card_id = ?, pin_code = ?
		WHERE id = ? AND status = 'pending' AND expires_at_ms > ?
	`, d.Status, nullString(d.AdminNotes), d.ApprovedBy, toMillis(d.ApprovedAt),
		nullString(d.AccessType), nullString(d.NFCCardID), nullString(d.PINCode),
		id, toMillis(d.ApprovedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetScannedCard stores the card read for a pending request.
func (r *AccessRequestRepository) SetScannedCard(ctx context.Context, id, cardID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_requests SET scanned_nfc_id = ?
		WHERE id = ? AND status = 'pending' AND expires_at_ms > ?
	`, cardID, id, toMillis(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ExpirePending marks every pending request past its window as expired
// and returns them.
func (r *AccessRequestRepository) ExpirePending(ctx context.Context, now time.Time) ([]models.AccessRequest, error) {
	var expired []models.AccessRequest

	err := r.db.Transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			requestSelect+" WHERE r.status = 'pending' AND r.expires_at_ms <= ?", toMillis(now))
		if err != nil {
			return err
		}
		for rows.Next() {
			req, err := scanRequest(rows)
			if err != nil {
				rows.Close()
				return err
			}
			req.Status = models.RequestExpired
			expired = append(expired, *req)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE access_requests SET status = 'expired' WHERE status = 'pending' AND expires_at_ms <= ?",
			toMillis(now))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("expiring requests: %w", err)
	}
	return expired, nil
}

// FindActiveGrant returns the approved, unexpired request whose granted
// credential of accessType equals value and whose guest may still
// authenticate, or nil.
func (r *AccessRequestRepository) FindActiveGrant(ctx context.Context, accessType, value string, now time.Time) (*models.AccessRequest, error) {
	column := "r.pin_code"
	if accessType == models.AccessTypeNFC {
		column = "r.nfc_card_id"
	}
	row := r.db.QueryRowContext(ctx, requestSelect+`
		WHERE r.status = 'approved' AND r.access_type = ? AND `+column+` = ?
			AND r.expires_at_ms > ? AND g.approval_status = 'approved' AND g.is_active = 1
		ORDER BY r.expires_at_ms DESC LIMIT 1
	`, accessType, value, toMillis(now))
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return req, err
}

// NFCGrantHolder returns the id of another approved, unexpired request
// already granted cardID, or "".
func (r *AccessRequestRepository) NFCGrantHolder(ctx context.Context, cardID, excludeID string, now time.Time) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM access_requests
		WHERE status = 'approved' AND access_type = 'nfc' AND nfc_card_id = ?
			AND expires_at_ms > ? AND id != ?
		LIMIT 1
	`, cardID, toMillis(now), excludeID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

func (r *AccessRequestRepository) list(ctx context.Context, where string, args ...any) ([]models.AccessRequest, error) {
	rows, err := r.db.QueryContext(ctx, requestSelect+where+" ORDER BY r.requested_at_ms DESC, r.id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reqs := []models.AccessRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

func scanRequest(s rowScanner) (*models.AccessRequest, error) {
	var (
		req                                     models.AccessRequest
		requestedAt, expiresAt                  int64
		notes, approvedBy, accessType, nfc, pin sql.NullString
		scanned                                 sql.NullString
		approvedAt                              sql.NullInt64
	)
	if err := s.Scan(&req.ID, &req.GuestID, &req.GuestName, &req.Username, &req.Reason,
		&requestedAt, &expiresAt, &req.Status, &notes, &approvedBy, &approvedAt,
		&accessType, &nfc, &pin, &scanned); err != nil {
		return nil, err
	}
	req.RequestedAt = fromMillis(requestedAt)
	req.ExpiresAt = fromMillis(expiresAt)
	req.AdminNotes = fromNullString(notes)
	req.ApprovedBy = fromNullString(approvedBy)
	req.ApprovedAt = fromNullMillis(approvedAt)
	req.AccessType = fromNullString(accessType)
	req.NFCCardID = fromNullString(nfc)
	req.PINCode = fromNullString(pin)
	req.ScannedNFCID = fromNullString(scanned)
	return &req, nil
}
