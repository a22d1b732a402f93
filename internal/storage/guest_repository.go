package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/esp32-access-manager/backend/internal/storage/models"
)

const guestColumns = `id, username, password_hash, full_name, email, phone, created_at_ms,
	is_active, approval_status, approved_by, approved_at_ms, pin_code`

// GuestRepository handles database operations for guest accounts.
type GuestRepository struct {
	db *DB
}

// NewGuestRepository creates a new guest repository.
func NewGuestRepository(db *DB) *GuestRepository {
	return &GuestRepository{db: db}
}

// Create inserts a guest. Returns ErrDuplicate when the username is taken.
func (r *GuestRepository) Create(ctx context.Context, g *models.Guest) error {
	if g.ID == "" {
		g.ID = GenerateID()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO guests (id, username, password_hash, full_name, email, phone, created_at_ms,
			is_active, approval_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.Username, g.PasswordHash, g.FullName, nullString(g.Email), nullString(g.Phone),
		toMillis(g.CreatedAt), g.IsActive, g.ApprovalStatus)
	if IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetByID returns the guest with the given id, or nil.
func (r *GuestRepository) GetByID(ctx context.Context, id string) (*models.Guest, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByUsername returns the guest with the given username, or nil.
func (r *GuestRepository) GetByUsername(ctx context.Context, username string) (*models.Guest, error) {
	return r.getOne(ctx, "username = ?", username)
}

// FindUsableByPIN returns the approved, active guest holding pin, or nil.
func (r *GuestRepository) FindUsableByPIN(ctx context.Context, pin string) (*models.Guest, error) {
	return r.getOne(ctx, "pin_code = ? AND approval_status = 'approved' AND is_active = 1", pin)
}

// List returns all guests, newest first.
func (r *GuestRepository) List(ctx context.Context) ([]models.Guest, error) {
	return r.list(ctx, "", nil)
}

// ListByStatus returns guests in the given approval state, newest first.
func (r *GuestRepository) ListByStatus(ctx context.Context, status string) ([]models.Guest, error) {
	return r.list(ctx, "WHERE approval_status = ?", []any{status})
}

// Review moves a pending guest to status. It reports false when the guest
// is missing or no longer pending.
func (r *GuestRepository) Review(ctx context.Context, id, status, reviewer string, at time.Time) (bool, error) {
	active := status == models.ApprovalApproved
	res, err := r.db.ExecContext(ctx, `
		UPDATE guests SET approval_status = ?, approved_by = ?, approved_at_ms = ?, is_active = ?
		WHERE id = ? AND approval_status = 'pending'
	`, status, reviewer, toMillis(at), active, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ToggleActive flips is_active for an approved guest. It reports false when
// the guest is missing or not approved.
func (r *GuestRepository) ToggleActive(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE guests SET is_active = 1 - is_active
		WHERE id = ? AND approval_status = 'approved'
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetPIN assigns or clears (nil) the guest's PIN. Returns ErrDuplicate when
// another guest holds the same PIN.
func (r *GuestRepository) SetPIN(ctx context.Context, id string, pin *string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "UPDATE guests SET pin_code = ? WHERE id = ?", nullString(pin), id)
	if IsUniqueViolation(err) {
		return false, ErrDuplicate
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Delete removes a guest; requests go with it through the foreign key.
func (r *GuestRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM guests WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *GuestRepository) getOne(ctx context.Context, cond string, args ...any) (*models.Guest, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+guestColumns+" FROM guests WHERE "+cond, args...)
	g, err := scanGuest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return g, err
}

func (r *GuestRepository) list(ctx context.Context, where string, args []any) ([]models.Guest, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+guestColumns+" FROM guests "+where+" ORDER BY created_at_ms DESC, id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	guests := []models.Guest{}
	for rows.Next() {
		g, err := scanGuest(rows)
		if err != nil {
			return nil, err
		}
		guests = append(guests, *g)
	}
	return guests, rows.Err()
}

func scanGuest(s rowScanner) (*models.Guest, error) {
	var (
		g                               models.Guest
		email, phone, approvedBy, pinCd sql.NullString
		createdAt                       int64
		approvedAt                      sql.NullInt64
	)
	if err := s.Scan(&g.ID, &g.Username, &g.PasswordHash, &g.FullName, &email, &phone, &createdAt,
		&g.IsActive, &g.ApprovalStatus, &approvedBy, &approvedAt, &pinCd); err != nil {
		return nil, err
	}
	g.Email = fromNullString(email)
	g.Phone = fromNullString(phone)
	g.CreatedAt = fromMillis(createdAt)
	g.ApprovedBy = fromNullString(approvedBy)
	g.ApprovedAt = fromNullMillis(approvedAt)
	g.PINCode = fromNullString(pinCd)
	return &g, nil
}
