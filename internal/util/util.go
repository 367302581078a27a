// Package util provides shared date helpers for the portal's several date
// spellings: MM/DD/YYYY option text, M/D/YYYY free text, YYYYMMDD keys and
// ISO YYYY-MM-DD context dates.
package util

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	isoLayout   = "2006-01-02"
	slashLayout = "1/2/2006"
	keyLayout   = "20060102"
)

var eightDigits = regexp.MustCompile(`^\d{8}$`)

// ParseDate parses a YYYY-MM-DD string into a time.Time (UTC midnight).
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(isoLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate formats a time.Time as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(isoLayout)
}

// ParseSlashDate parses month/day/year with or without zero padding.
func ParseSlashDate(s string) (time.Time, error) {
	t, err := time.Parse(slashLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected M/D/YYYY", s)
	}
	return t, nil
}

// ParsePeriodDate accepts either MM/DD/YYYY or an 8-digit YYYYMMDD key.
func ParsePeriodDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if eightDigits.MatchString(s) {
		t, err := time.Parse(keyLayout, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date key %q: expected YYYYMMDD", s)
		}
		return t, nil
	}
	return ParseSlashDate(s)
}

// DatePtr returns a pointer to t, or nil for the zero time.
func DatePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
