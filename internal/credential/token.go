package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status of a stored token. DELETED is terminal.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusDeleted Status = "DELETED"
)

// Token is the server-side record of an issued credential. Only the hash of
// the credential is stored.
type Token struct {
	ID          int64
	Status      Status
	Hash        string
	PrincipalID *int64
	Subject     string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CreatedBy   *int64
	UpdatedBy   *int64
}

// Usable reports whether the token is active and unexpired at now.
func (t Token) Usable(now time.Time) bool {
	return t.Status == StatusActive && now.Before(t.ExpiresAt)
}

// Hash returns the lookup key stored for a credential.
func Hash(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// DefaultTTL is the lifetime of a credential when none is given.
const DefaultTTL = 24 * time.Hour

// ParseTTL accepts Go durations ("90m", "12h") and whole days ("1d", "7d").
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultTTL, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("credential: invalid ttl %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("credential: invalid ttl %q", s)
	}
	return d, nil
}
