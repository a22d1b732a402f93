package pin

import (
	"context"
	"fmt"
	"time"

	"github.com/esp32-access-manager/backend/internal/storage/models"
)

// HolderFinder lists active credentials that already use a PIN value.
type HolderFinder func(ctx context.Context, pin string, now time.Time) ([]models.CredentialHolder, error)

// ConflictChecker detects PIN values already held by another active
// credential, so a keypad entry always resolves to one owner.
type ConflictChecker struct {
	findHolders HolderFinder
}

// NewConflictChecker creates a new conflict checker.
func NewConflictChecker(find HolderFinder) *ConflictChecker {
	return &ConflictChecker{findHolders: find}
}

// CheckConflicts returns the holders of pin at now.
func (c *ConflictChecker) CheckConflicts(ctx context.Context, pin string, now time.Time) ([]models.CredentialHolder, error) {
	holders, err := c.findHolders(ctx, pin, now)
	if err != nil {
		return nil, fmt.Errorf("checking conflicts: %w", err)
	}
	return holders, nil
}

// HasConflict returns true if any active credential uses pin.
func (c *ConflictChecker) HasConflict(ctx context.Context, pin string, now time.Time) (bool, error) {
	holders, err := c.CheckConflicts(ctx, pin, now)
	if err != nil {
		return false, err
	}
	return len(holders) > 0, nil
}

// GenerateUnique draws random codes until one is free.
func (c *ConflictChecker) GenerateUnique(ctx context.Context, gen *Generator, now time.Time, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = 20
	}

	for i := 0; i < maxAttempts; i++ {
		candidate, err := gen.Generate()
		if err != nil {
			return "", err
		}

		taken, err := c.HasConflict(ctx, candidate, now)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("could not find a free PIN after %d attempts", maxAttempts)
}
