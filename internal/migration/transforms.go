package migration

import (
	"fmt"
	"strings"
	"time"
)

// TransformFunc converts one source value into its target form.
type TransformFunc func(string) (string, error)

// transforms is the registry of named value transforms referenced by field
// mappings. An unknown transform id is a per-field validation error, not a
// crash.
var transforms = map[string]TransformFunc{
	"trim":            func(s string) (string, error) { return strings.TrimSpace(s), nil },
	"uppercase":       func(s string) (string, error) { return strings.ToUpper(s), nil },
	"lowercase":       func(s string) (string, error) { return strings.ToLower(s), nil },
	"titlecase":       titleCase,
	"normalize_date":  normalizeDate,
	"normalize_phone": normalizePhone,
	"normalize_email": normalizeEmail,
}

// ApplyTransform runs the named transform. An empty id is the identity.
func ApplyTransform(transformID, value string) (string, error) {
	if transformID == "" {
		return value, nil
	}
	fn, ok := transforms[transformID]
	if !ok {
		return "", fmt.Errorf("unknown transform %q", transformID)
	}
	return fn(value)
}

// dateLayouts are the source date shapes seen across legacy extracts, tried
// in order.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"02-Jan-2006",
	"January 2, 2006",
	"20060102",
}

// normalizeDate parses any accepted layout and renders ISO 8601.
func normalizeDate(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unparseable date %q", s)
}

// normalizePhone keeps digits only and strips a leading country code 1 from
// 11-digit numbers.
func normalizePhone(s string) (string, error) {
	var digits strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	out := digits.String()
	if len(out) == 11 && out[0] == '1' {
		out = out[1:]
	}
	if len(out) < 10 {
		return "", fmt.Errorf("phone %q has too few digits", s)
	}
	return out, nil
}

func normalizeEmail(s string) (string, error) {
	return strings.ToLower(strings.TrimSpace(s)), nil
}

// titleCase uppercases the first letter of each word, lowercasing the rest.
func titleCase(s string) (string, error) {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " "), nil
}
