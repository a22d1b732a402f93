package storage

import (
	"context"
	"database/sql"

	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// AdminRepository handles database operations for administrator accounts.
type AdminRepository struct {
	db *DB
}

// NewAdminRepository creates a new admin repository.
func NewAdminRepository(db *DB) *AdminRepository {
	return &AdminRepository{db: db}
}

// Create inserts an admin. Returns ErrDuplicate when the username is taken.
func (r *AdminRepository) Create(ctx context.Context, a *models.Admin) error {
	if a.ID == "" {
		a.ID = GenerateID()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admins (id, username, password_hash, full_name, email, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.Username, a.PasswordHash, a.FullName, nullString(a.Email), toMillis(a.CreatedAt))
	if IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetByUsername returns the admin with the given username, or nil.
func (r *AdminRepository) GetByUsername(ctx context.Context, username string) (*models.Admin, error) {
	return r.getOne(ctx, "username = ?", username)
}

// GetByID returns the admin with the given id, or nil.
func (r *AdminRepository) GetByID(ctx context.Context, id string) (*models.Admin, error) {
	return r.getOne(ctx, "id = ?", id)
}

// Count returns the number of admin accounts.
func (r *AdminRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM admins").Scan(&n)
	return n, err
}

func (r *AdminRepository) getOne(ctx context.Context, cond string, arg any) (*models.Admin, error) {
	var (
		a         models.Admin
		email     sql.NullString
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, full_name, email, created_at_ms
		FROM admins WHERE `+cond, arg,
	).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.FullName, &email, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Email = fromNullString(email)
	a.CreatedAt = fromMillis(createdAt)
	return &a, nil
}
