package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("creating code: %w", Conflict("code %s already active", "123456"))

	if !errors.Is(err, ErrConflict) {
		t.Error("expected conflict")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("conflict must not match not_found")
	}
	if KindOf(err) != KindConflict {
		t.Errorf("KindOf = %q", KindOf(err))
	}
	if Message(err) != "code 123456 already active" {
		t.Errorf("Message = %q", Message(err))
	}
}

func TestKindOfInternal(t *testing.T) {
	if k := KindOf(errors.New("disk full")); k != "" {
		t.Errorf("KindOf = %q, want empty", k)
	}
}
