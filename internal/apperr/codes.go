package apperr

import (
	"fmt"
	"strconv"
)

// Category groups codes by the kind of failure they signal.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryValidation
	CategoryBadRequest
	CategoryNotFound
	CategoryAuthentication
	CategorySystem
)

func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryBadRequest:
		return "bad_request"
	case CategoryNotFound:
		return "not_found"
	case CategoryAuthentication:
		return "authentication"
	case CategorySystem:
		return "system"
	default:
		return "unknown"
	}
}

// Code is a stable numeric error code returned to callers.
type Code int

// Validation: field-level rule violations.
const (
	IDRequired Code = 1001 + iota
	IDTaken
	UsernameRequired
	UsernameInvalid
	UsernameTaken
	EmailInvalid
	EmailTaken
	PasswordRequired
	PasswordTooShort
	PINInvalid
	PINTaken
	AuthFactorRequired
	StatusInvalid
	NameRequired
	NameTooLong
	RoleNameTaken
	PermissionRequired
	ReadLevelRequired
	WriteLevelRequired
	ExecuteLevelRequired
	LevelInvalid
	SubjectRequired
)

// BadRequest: missing call arguments or conflicts with existing state.
const (
	MissingArgument Code = 2001 + iota
	AlreadyGranted
	NotGranted
	PermissionExists
	AccessTypeInvalid
)

// ResourceNotFound.
const (
	PrincipalNotFound Code = 3001 + iota
	RoleNotFound
	RolePermissionNotFound
	TokenNotFound
)

// Authentication.
const (
	CredentialMissing Code = 4001 + iota
	CredentialInvalid
	NotAuthenticated
	PrincipalInactive
)

// System.
const (
	StoreFailure Code = 5001 + iota
	SigningFailure
	Unexpected
)

var names = map[Code]string{
	IDRequired:             "id_required",
	IDTaken:                "id_taken",
	UsernameRequired:       "username_required",
	UsernameInvalid:        "username_invalid",
	UsernameTaken:          "username_taken",
	EmailInvalid:           "email_invalid",
	EmailTaken:             "email_taken",
	PasswordRequired:       "password_required",
	PasswordTooShort:       "password_too_short",
	PINInvalid:             "pin_invalid",
	PINTaken:               "pin_taken",
	AuthFactorRequired:     "auth_factor_required",
	StatusInvalid:          "status_invalid",
	NameRequired:           "name_required",
	NameTooLong:            "name_too_long",
	RoleNameTaken:          "role_name_taken",
	PermissionRequired:     "permission_required",
	ReadLevelRequired:      "read_level_required",
	WriteLevelRequired:     "write_level_required",
	ExecuteLevelRequired:   "execute_level_required",
	LevelInvalid:           "level_invalid",
	SubjectRequired:        "subject_required",
	MissingArgument:        "missing_argument",
	AlreadyGranted:         "already_granted",
	NotGranted:             "not_granted",
	PermissionExists:       "permission_exists",
	AccessTypeInvalid:      "access_type_invalid",
	PrincipalNotFound:      "principal_not_found",
	RoleNotFound:           "role_not_found",
	RolePermissionNotFound: "role_permission_not_found",
	TokenNotFound:          "token_not_found",
	CredentialMissing:      "credential_missing",
	CredentialInvalid:      "credential_invalid",
	NotAuthenticated:       "not_authenticated",
	PrincipalInactive:      "principal_inactive",
	StoreFailure:           "store_failure",
	SigningFailure:         "signing_failure",
	Unexpected:             "unexpected",
}

// Category derives the category from the code's thousands range.
func (c Code) Category() Category {
	switch int(c) / 1000 {
	case 1:
		return CategoryValidation
	case 2:
		return CategoryBadRequest
	case 3:
		return CategoryNotFound
	case 4:
		return CategoryAuthentication
	case 5:
		return CategorySystem
	default:
		return CategoryUnknown
	}
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return strconv.Itoa(int(c))
}

// Error lets a bare Code travel through error returns.
func (c Code) Error() string {
	return fmt.Sprintf("%s: %s (%d)", c.Category(), c.String(), int(c))
}
