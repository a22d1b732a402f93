package storage

import (
	"context"
	"database/sql"

	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// NFCCardRepository handles database operations for enrolled NFC cards.
type NFCCardRepository struct {
	db *DB
}

// NewNFCCardRepository creates a new NFC card repository.
func NewNFCCardRepository(db *DB) *NFCCardRepository {
	return &NFCCardRepository{db: db}
}

// Create enrolls a card. Returns ErrDuplicate when the id is already enrolled.
func (r *NFCCardRepository) Create(ctx context.Context, card *models.NFCCard) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO nfc_cards (id, enrolled_at_ms, enrolled_by) VALUES (?, ?, ?)
	`, card.ID, toMillis(card.EnrolledAt), nullString(card.EnrolledBy))
	if IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetByID returns the enrolled card, or nil.
func (r *NFCCardRepository) GetByID(ctx context.Context, id string) (*models.NFCCard, error) {
	var (
		card       models.NFCCard
		enrolledAt int64
		enrolledBy sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT id, enrolled_at_ms, enrolled_by FROM nfc_cards WHERE id = ?", id,
	).Scan(&card.ID, &enrolledAt, &enrolledBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	card.EnrolledAt = fromMillis(enrolledAt)
	card.EnrolledBy = fromNullString(enrolledBy)
	return &card, nil
}

// List returns all enrolled cards in enrollment order.
func (r *NFCCardRepository) List(ctx context.Context) ([]models.NFCCard, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, enrolled_at_ms, enrolled_by FROM nfc_cards ORDER BY enrolled_at_ms, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cards := []models.NFCCard{}
	for rows.Next() {
		var (
			card       models.NFCCard
			enrolledAt int64
			enrolledBy sql.NullString
		)
		if err := rows.Scan(&card.ID, &enrolledAt, &enrolledBy); err != nil {
			return nil, err
		}
		card.EnrolledAt = fromMillis(enrolledAt)
		card.EnrolledBy = fromNullString(enrolledBy)
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// Delete disenrolls a card. It reports false when the id was not enrolled.
func (r *NFCCardRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM nfc_cards WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
