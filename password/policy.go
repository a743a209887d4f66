package password

import (
	"strings"
	"unicode"
)

const specialChars = `!@#$%^&*()-_=+[]{}|;:'",.<>/?`

// MinLength is the minimum accepted password length.
const MinLength = 8

// ValidateStrength checks the password against the account password policy:
// at least [MinLength] characters, one digit, one uppercase letter, one
// lowercase letter, and one special character. Rules are checked in that
// order and only the first failure is reported; nil means all rules passed.
func ValidateStrength(password string) error {
	if len(password) < MinLength {
		return &PolicyError{Rule: "length", Message: "password must be at least 8 characters long"}
	}

	var hasDigit, hasUpper, hasLower, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		}
		if strings.ContainsRune(specialChars, r) {
			hasSpecial = true
		}
	}

	switch {
	case !hasDigit:
		return &PolicyError{Rule: "digit", Message: "password must contain at least one number"}
	case !hasUpper:
		return &PolicyError{Rule: "uppercase", Message: "password must contain at least one uppercase letter"}
	case !hasLower:
		return &PolicyError{Rule: "lowercase", Message: "password must contain at least one lowercase letter"}
	case !hasSpecial:
		return &PolicyError{Rule: "special", Message: "password must contain at least one special character"}
	}

	return nil
}

// PolicyError identifies the first policy rule the password failed.
type PolicyError struct {
	Rule    string
	Message string
}

func (e *PolicyError) Error() string { return e.Message }
