// Package pin provides PIN validation, generation and expiry sweeping.
package pin

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/esp32-access-manager/backend/internal/apperr"
)

// CodeLength is the number of digits in every PIN credential.
const CodeLength = 6

// IsValidCode reports whether code is exactly CodeLength ASCII digits.
func IsValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// ValidateCode returns a validation error when code is not a 6-digit PIN.
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return apperr.Validation("code must be exactly %d digits", CodeLength)
	}
	if !IsValidCode(code) {
		return apperr.Validation("code must contain only digits")
	}
	return nil
}

// Generator produces random PIN codes.
type Generator struct {
	length int
	rand   io.Reader
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{length: CodeLength, rand: rand.Reader}
}

// Generate returns a uniformly random code of CodeLength digits.
func (g *Generator) Generate() (string, error) {
	n, err := rand.Int(g.rand, big.NewInt(pow10(g.length)))
	if err != nil {
		return "", fmt.Errorf("generating PIN: %w", err)
	}
	return fmt.Sprintf("%0*d", g.length, n.Int64()), nil
}

// pow10 returns 10^n.
func pow10(n int) int64 {
	result := int64(1)
	for i := 0; i < n; i++ {
		result *= 10
	}
	return result
}
