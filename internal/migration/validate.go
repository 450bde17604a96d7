package migration

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ValidatorFunc checks a transformed value before load. A non-nil error is a
// per-field validation failure: the row is counted failed and never retried.
type ValidatorFunc func(string) error

var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// validators are the per-target-column checks, keyed by validator name.
var validators = map[string]ValidatorFunc{
	"required":  validateRequired,
	"iso_date":  validateISODate,
	"luhn_id":   validateLuhn,
	"email":     validateEmail,
	"code_len4": fixedLengthCode(4),
	"code_len6": fixedLengthCode(6),
}

// ValidateField runs the named validator against the value. An unknown
// validator name fails closed.
func ValidateField(validatorName, value string) error {
	if validatorName == "" {
		return nil
	}
	fn, ok := validators[validatorName]
	if !ok {
		return fmt.Errorf("unknown validator %q", validatorName)
	}
	return fn(value)
}

func validateRequired(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("required value is empty")
	}
	return nil
}

func validateISODate(s string) error {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return fmt.Errorf("not an ISO date: %q", s)
	}
	return nil
}

// validateLuhn checks an all-digit identifier's Luhn checksum.
func validateLuhn(s string) error {
	if s == "" {
		return fmt.Errorf("empty identifier")
	}
	sum := 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			return fmt.Errorf("identifier %q contains non-digits", s)
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	if sum%10 != 0 {
		return fmt.Errorf("identifier %q fails checksum", s)
	}
	return nil
}

func validateEmail(s string) error {
	if !emailShape.MatchString(s) {
		return fmt.Errorf("malformed email %q", s)
	}
	return nil
}

func fixedLengthCode(n int) ValidatorFunc {
	return func(s string) error {
		if len(s) != n {
			return fmt.Errorf("code %q is not %d characters", s, n)
		}
		return nil
	}
}
