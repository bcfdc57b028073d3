package principal

import (
	"errors"
	"regexp"

	"github.com/go-playground/validator/v10"

	"keyward.org/internal/apperr"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(Principal)
		if p.ID <= 0 {
			return
		}
		if empty(p.PasswordHash) && empty(p.PIN) {
			sl.ReportError(p.PasswordHash, "PasswordHash", "PasswordHash", "authfactor", "")
		}
	}, Principal{})
	return v
}

func empty(s *string) bool { return s == nil || *s == "" }

// fieldCodes maps a failing (field, tag) pair to its code. A field entry
// keyed by "" applies to any tag not listed explicitly.
var fieldCodes = map[string]map[string]apperr.Code{
	"ID":           {"": apperr.IDRequired},
	"Status":       {"": apperr.StatusInvalid},
	"Username":     {"required": apperr.UsernameRequired, "": apperr.UsernameInvalid},
	"Email":        {"": apperr.EmailInvalid},
	"PIN":          {"": apperr.PINInvalid},
	"PasswordHash": {"authfactor": apperr.AuthFactorRequired},
}

// Validate checks the field rules and returns one code per violated rule,
// in field order. It does not consult the store; see Repository.Validate.
func (p *Principal) Validate() []apperr.Code {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []apperr.Code{apperr.Unexpected}
	}
	codes := make([]apperr.Code, 0, len(verrs))
	for _, fe := range verrs {
		codes = append(codes, codeFor(fe.StructField(), fe.Tag()))
	}
	return apperr.Merge(codes)
}

func codeFor(field, tag string) apperr.Code {
	byTag, ok := fieldCodes[field]
	if !ok {
		return apperr.Unexpected
	}
	if c, ok := byTag[tag]; ok {
		return c
	}
	if c, ok := byTag[""]; ok {
		return c
	}
	return apperr.Unexpected
}
