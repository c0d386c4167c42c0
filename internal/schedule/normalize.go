// Package schedule implements the scheduling core of the pushpoint platform:
// time-of-day normalization, job-key derivation, and the reconciler that keeps
// the persisted schedule documents and the job engine's recurring entries in
// sync across register, delete, and snooze mutations.
package schedule

import (
	"fmt"
	"strconv"
	"strings"

	"pushpoint/internal/types"
)

// NormalizeTime parses a user-supplied 12-hour time-of-day string (e.g.
// "9:00 AM", "12:30 pm") into the canonical 24-hour "HH:MM" form.
//
// Leading/trailing whitespace is trimmed and internal whitespace runs
// (including non-breaking space variants) are collapsed before splitting into
// a time part and an AM/PM modifier. The minute token is passed through as
// given; the hour is converted to 24-hour form and zero-padded to two digits.
//
// On malformed input the original string is returned unchanged together with
// a validation_malformed_time AppError. Callers are expected to degrade (log
// and skip the slot) rather than abort a batch over one bad entry.
func NormalizeTime(raw string) (string, error) {
	// strings.Fields splits on all Unicode whitespace, which collapses
	// NBSP (U+00A0) and narrow NBSP (U+202F) runs along with ASCII spaces.
	tokens := strings.Fields(raw)
	if len(tokens) != 2 {
		return raw, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMalformedTime,
			"expected time in 'H:MM AM/PM' form",
			nil,
			map[string]any{"input": raw},
		)
	}

	timePart, modifier := tokens[0], strings.ToUpper(tokens[1])
	if modifier != "AM" && modifier != "PM" {
		return raw, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMalformedTime,
			"time modifier must be AM or PM",
			nil,
			map[string]any{"input": raw},
		)
	}

	hourStr, minuteStr, ok := strings.Cut(timePart, ":")
	if !ok {
		return raw, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMalformedTime,
			"time part must contain a ':' separator",
			nil,
			map[string]any{"input": raw},
		)
	}

	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 1 || hour > 12 {
		return raw, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMalformedTime,
			"hour must be a number between 1 and 12",
			err,
			map[string]any{"input": raw},
		)
	}

	// 12 AM is midnight; 12 PM stays noon; 1-11 PM shift into the afternoon.
	switch {
	case modifier == "AM" && hour == 12:
		hour = 0
	case modifier == "PM" && hour != 12:
		hour += 12
	}

	return fmt.Sprintf("%02d:%s", hour, minuteStr), nil
}
