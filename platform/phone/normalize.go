// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "US"

// NormalizeE164 formats a phone number to E.164. It returns "" when the
// input does not parse to a valid number, so callers never store a
// non-E.164 lead key by accident.
func NormalizeE164(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return ""
	}

	if !phonenumbers.IsValidNumber(number) {
		return ""
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// Last10 returns the last 10 digits of a number, used to match inbound
// sender numbers against stored leads regardless of formatting.
func Last10(input string) string {
	digits := make([]rune, 0, len(input))
	for _, r := range input {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 10 {
		return string(digits)
	}
	return string(digits[len(digits)-10:])
}
