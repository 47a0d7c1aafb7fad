package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// MinorUnits parses a major-unit decimal amount ("49", "49.5", "49.00") into
// minor units. Parsing stays in the decimal domain; float arithmetic would
// drift on amounts like 0.29.
func MinorUnits(amount string) (int64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" || strings.HasPrefix(amount, "+") {
		return 0, ErrInvalidAmount
	}

	negative := strings.HasPrefix(amount, "-")
	if negative {
		amount = amount[1:]
	}

	whole, frac, hasFrac := strings.Cut(amount, ".")
	if hasFrac && frac == "" {
		return 0, ErrInvalidAmount
	}
	if whole == "" {
		whole = "0"
	}
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || major < 0 {
		return 0, ErrInvalidAmount
	}

	switch len(frac) {
	case 0:
		frac = "00"
	case 1:
		frac += "0"
	case 2:
	default:
		return 0, ErrInvalidAmount
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || cents < 0 {
		return 0, ErrInvalidAmount
	}

	minor := major*100 + cents
	if negative {
		minor = -minor
	}
	return minor, nil
}

// FormatMinor renders minor units as a major-unit decimal string.
func FormatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

// ValidateAmount enforces the session-creation boundary: strictly positive.
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
