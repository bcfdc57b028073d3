package permission

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is the strength of a grant for one access type. Levels are totally
// ordered: NONE < OWN < ALL.
type Level int

const (
	LevelNone Level = 0
	LevelOwn  Level = 1
	LevelAll  Level = 2
)

func (l Level) Valid() bool { return l >= LevelNone && l <= LevelAll }

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelOwn:
		return "OWN"
	case LevelAll:
		return "ALL"
	default:
		return "Level(" + strconv.Itoa(int(l)) + ")"
	}
}

// ParseLevel accepts a level name or its numeric value.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE", "0":
		return LevelNone, nil
	case "OWN", "1":
		return LevelOwn, nil
	case "ALL", "2":
		return LevelAll, nil
	default:
		return 0, fmt.Errorf("permission: unknown level %q", s)
	}
}

// Ptr returns a pointer to l, for optional levels.
func (l Level) Ptr() *Level { return &l }

// AccessType names one of the three independently leveled operations.
type AccessType string

const (
	Read    AccessType = "read"
	Write   AccessType = "write"
	Execute AccessType = "execute"
)

func (t AccessType) Valid() bool {
	switch t {
	case Read, Write, Execute:
		return true
	default:
		return false
	}
}

func ParseAccessType(s string) (AccessType, error) {
	t := AccessType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("permission: unknown access type %q", s)
	}
	return t, nil
}

// Pass states the permission a caller needs. A nil Level means any
// non-NONE level is enough.
type Pass struct {
	Permission int64      `json:"permission"`
	Type       AccessType `json:"type"`
	Level      *Level     `json:"level,omitempty"`
}

// HasPermission reports whether a single held grant satisfies pass.
func HasPermission(held RolePermission, pass Pass) bool {
	if held.PermissionID != pass.Permission {
		return false
	}
	got := held.Level(pass.Type)
	if got == LevelNone {
		return false
	}
	return pass.Level == nil || *pass.Level <= got
}
