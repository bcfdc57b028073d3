package permission

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"keyward.org/internal/apperr"
)

// Status of a role or a role permission.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusDeleted Status = "DELETED"
)

// Role is a named bundle of permission grants.
type Role struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name" validate:"required,max=128"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy *int64    `json:"-"`
	UpdatedBy *int64    `json:"-"`
}

// RolePermission is a role's grant on one permission.
type RolePermission struct {
	RoleID       int64  `json:"role_id"`
	PermissionID int64  `json:"permission_id"`
	Name         string `json:"name"`
	Status       Status `json:"status"`
	Read         Level  `json:"read"`
	Write        Level  `json:"write"`
	Execute      Level  `json:"execute"`
}

// Level returns the grant level for one access type.
func (rp RolePermission) Level(t AccessType) Level {
	switch t {
	case Read:
		return rp.Read
	case Write:
		return rp.Write
	case Execute:
		return rp.Execute
	default:
		return LevelNone
	}
}

// Exists reports whether the row is an active grant.
func (rp RolePermission) Exists() bool {
	return rp.RoleID > 0 && rp.PermissionID > 0 && rp.Status != StatusDeleted
}

// Grant is a candidate role permission supplied by a caller. Levels are
// pointers so that a missing level can be told apart from NONE.
type Grant struct {
	PermissionID int64  `json:"permission_id" validate:"gt=0"`
	Name         string `json:"name" validate:"required,max=128"`
	Read         *Level `json:"read" validate:"required,min=0,max=2"`
	Write        *Level `json:"write" validate:"required,min=0,max=2"`
	Execute      *Level `json:"execute" validate:"required,min=0,max=2"`
}

// RolePermission builds the row a grant describes for roleID. Call only
// after Validate returned no codes.
func (g Grant) RolePermission(roleID int64) RolePermission {
	return RolePermission{
		RoleID:       roleID,
		PermissionID: g.PermissionID,
		Name:         strings.TrimSpace(g.Name),
		Status:       StatusActive,
		Read:         deref(g.Read),
		Write:        deref(g.Write),
		Execute:      deref(g.Execute),
	}
}

func deref(l *Level) Level {
	if l == nil {
		return LevelNone
	}
	return *l
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var fieldCodes = map[string]map[string]apperr.Code{
	"PermissionID": {"": apperr.PermissionRequired},
	"Name":         {"required": apperr.NameRequired, "": apperr.NameTooLong},
	"Read":         {"required": apperr.ReadLevelRequired, "": apperr.LevelInvalid},
	"Write":        {"required": apperr.WriteLevelRequired, "": apperr.LevelInvalid},
	"Execute":      {"required": apperr.ExecuteLevelRequired, "": apperr.LevelInvalid},
}

// Validate returns the codes of every rule g violates.
func (g Grant) Validate() []apperr.Code {
	g.Name = strings.TrimSpace(g.Name)
	return structCodes(g)
}

func validateRoleName(name string) []apperr.Code {
	return structCodes(Role{Name: strings.TrimSpace(name)})
}

func structCodes(v any) []apperr.Code {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []apperr.Code{apperr.Unexpected}
	}
	codes := make([]apperr.Code, 0, len(verrs))
	for _, fe := range verrs {
		byTag := fieldCodes[fe.StructField()]
		if c, ok := byTag[fe.Tag()]; ok {
			codes = append(codes, c)
		} else if c, ok := byTag[""]; ok {
			codes = append(codes, c)
		} else {
			codes = append(codes, apperr.Unexpected)
		}
	}
	return apperr.Merge(codes)
}

// ValidateGrants validates every grant and returns the union of their codes.
func ValidateGrants(grants []Grant) []apperr.Code {
	var all [][]apperr.Code
	for _, g := range grants {
		all = append(all, g.Validate())
	}
	return apperr.Merge(all...)
}
