package models

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"

	dErrors "patientsync/pkg/domain-errors"
)

// ParseDOB parses a date of birth. Values ending in a literal "Z" must be
// RFC 3339; anything else goes through the flexible parser. Values without a
// zone are read as UTC.
func ParseDOB(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "date of birth is required")
	}
	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return time.Time{}, dErrors.Wrap(err, dErrors.CodeValidation,
				"invalid date format, use ISO format like 1990-05-15T00:00:00.000Z")
		}
		return t, nil
	}
	t, err := dateparse.ParseIn(value, time.UTC)
	if err != nil {
		return time.Time{}, dErrors.Wrap(err, dErrors.CodeValidation,
			"invalid date format, use ISO format like 1990-05-15T00:00:00.000Z")
	}
	return t, nil
}
