package principal

import (
	"fmt"
	"strings"
	"time"
)

// Status is the principal lifecycle state.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusDeleted  Status = "DELETED"
)

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusActive, StatusInactive, StatusDeleted:
		return st, nil
	default:
		return "", fmt.Errorf("principal: unknown status %q", s)
	}
}

// Principal is an authenticatable identity. IDs are assigned by the caller.
type Principal struct {
	ID           int64   `validate:"gt=0"`
	Status       Status  `validate:"oneof=ACTIVE INACTIVE DELETED"`
	Username     string  `validate:"required,min=3,max=64,username"`
	Email        *string `validate:"omitempty,max=254,email"`
	PasswordHash *string
	PIN          *string `validate:"omitempty,len=4,numeric"`

	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy *int64
	UpdatedBy *int64
}

// Active reports whether the principal may authenticate.
func (p *Principal) Active() bool { return p.Status == StatusActive }

// View selects which columns a principal serializes to.
type View int

const (
	ViewInsert View = iota
	ViewUpdate
	ViewPublic
)

// Field is a single column/value pair.
type Field struct {
	Column string
	Value  any
}

// Fields returns the principal's columns for the given view, in column order.
func (p *Principal) Fields(v View) []Field {
	switch v {
	case ViewInsert:
		return []Field{
			{"id", p.ID},
			{"status", string(p.Status)},
			{"username", p.Username},
			{"email", p.Email},
			{"password_hash", p.PasswordHash},
			{"pin", p.PIN},
			{"created_by", p.CreatedBy},
			{"updated_by", p.UpdatedBy},
		}
	case ViewUpdate:
		return []Field{
			{"status", string(p.Status)},
			{"username", p.Username},
			{"email", p.Email},
			{"password_hash", p.PasswordHash},
			{"pin", p.PIN},
			{"updated_by", p.UpdatedBy},
		}
	case ViewPublic:
		return []Field{
			{"id", p.ID},
			{"status", string(p.Status)},
			{"username", p.Username},
			{"email", p.Email},
			{"created_at", p.CreatedAt},
			{"updated_at", p.UpdatedAt},
		}
	default:
		return nil
	}
}

// Public is the projection safe to hand to callers: no hash, no PIN.
type Public struct {
	ID        int64     `json:"id"`
	Status    Status    `json:"status"`
	Username  string    `json:"username"`
	Email     *string   `json:"email,omitempty"`
	HasPIN    bool      `json:"has_pin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Principal) Public() Public {
	return Public{
		ID:        p.ID,
		Status:    p.Status,
		Username:  p.Username,
		Email:     p.Email,
		HasPIN:    p.PIN != nil && *p.PIN != "",
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// Normalize trims identifiers and lowercases the email. Empty optional
// values become nil.
func (p *Principal) Normalize() {
	p.Username = strings.TrimSpace(p.Username)
	p.Email = trimmed(p.Email, true)
	p.PIN = trimmed(p.PIN, false)
	if p.PasswordHash != nil && *p.PasswordHash == "" {
		p.PasswordHash = nil
	}
}

func trimmed(v *string, lower bool) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	if lower {
		s = strings.ToLower(s)
	}
	return &s
}
