package identity

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Tag is the validator tag checking a field against the identity pattern.
const Tag = "presence_email"

var pattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterValidation(v); err != nil {
		panic(err)
	}
	return v
}

// RegisterValidation installs Tag on v.
func RegisterValidation(v *validator.Validate) error {
	return v.RegisterValidation(Tag, func(fl validator.FieldLevel) bool {
		return pattern.MatchString(fl.Field().String())
	})
}

// Valid reports whether s is an acceptable identity. Registration and
// certificate-derived identities go through this same check, so a
// registered name and its certificate counterpart compare as plain strings.
func Valid(s string) bool {
	return validate.Var(s, "required,"+Tag) == nil
}

// Validator returns the shared validator with Tag installed.
func Validator() *validator.Validate {
	return validate
}
