package principal

import (
	"golang.org/x/crypto/bcrypt"

	"keyward.org/internal/apperr"
)

const DefaultPasswordMinLength = 8

// dummyHash is compared against when no principal matched, so that a miss
// costs the same as a wrong password.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoO5w9dW6p3aD9Zy0Qe2WqS1d0G3b5Xh1K")

// Hasher hashes and verifies raw passwords with bcrypt.
type Hasher struct {
	Cost      int
	MinLength int
}

// NewHasher returns a Hasher, substituting defaults for zero values.
func NewHasher(cost, minLength int) Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if minLength <= 0 {
		minLength = DefaultPasswordMinLength
	}
	return Hasher{Cost: cost, MinLength: minLength}
}

// Check returns the rule codes a raw password violates.
func (h Hasher) Check(password string) []apperr.Code {
	if password == "" {
		return []apperr.Code{apperr.PasswordRequired}
	}
	if len([]rune(password)) < h.MinLength {
		return []apperr.Code{apperr.PasswordTooShort}
	}
	return nil
}

// Hash validates and hashes a raw password.
func (h Hasher) Hash(password string) (string, error) {
	if codes := h.Check(password); len(codes) > 0 {
		return "", apperr.New(codes...)
	}
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", apperr.Wrap(apperr.Unexpected, err)
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. A nil or empty hash never
// matches but still pays the comparison cost.
func (h Hasher) Verify(hash *string, password string) bool {
	if hash == nil || *hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*hash), []byte(password)) == nil
}

// Burn performs a throwaway comparison for lookups that found nothing.
func (h Hasher) Burn(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
