package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// jobKeyPrefix namespaces recurring-notification job keys inside the job
// engine so they can coexist with unrelated job types.
const jobKeyPrefix = "notify"

// JobKey derives the stable identifier for the recurring job backing one
// (user, dayOfWeek, time) slot. The same logical notification must always
// map to the same key so that re-registration upserts in place and delete/
// snooze can cancel the exact job they mean to.
//
// The key is derived solely from the canonical normalized time. Deriving it
// from raw pre-normalization input or from a slot index would make the same
// logical notification produce a different key on every update, orphaning
// the previously registered job.
func JobKey(userID string, dayOfWeek int, normalizedTime string) string {
	return jobKeyPrefix + ":" + userID + ":" + strconv.Itoa(dayOfWeek) + ":" + normalizedTime
}

// CronSpec renders the five-field cron expression for a weekly recurrence at
// the given canonical "HH:MM" time on the given day of week (0=Sunday).
func CronSpec(dayOfWeek int, normalizedTime string) (string, error) {
	hh, mm, ok := strings.Cut(normalizedTime, ":")
	if !ok {
		return "", fmt.Errorf("schedule: %q is not a canonical HH:MM time", normalizedTime)
	}

	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("schedule: hour out of range in %q", normalizedTime)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("schedule: minute out of range in %q", normalizedTime)
	}

	return fmt.Sprintf("%d %d * * %d", minute, hour, dayOfWeek), nil
}

// ShiftTime adds delta minutes to a canonical "HH:MM" time, wrapping around
// midnight. Used by snooze to compute the shifted slot time.
func ShiftTime(normalizedTime string, deltaMinutes int) (string, error) {
	hh, mm, ok := strings.Cut(normalizedTime, ":")
	if !ok {
		return "", fmt.Errorf("schedule: %q is not a canonical HH:MM time", normalizedTime)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return "", fmt.Errorf("schedule: bad hour in %q", normalizedTime)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil {
		return "", fmt.Errorf("schedule: bad minute in %q", normalizedTime)
	}

	total := (hour*60 + minute + deltaMinutes) % (24 * 60)
	if total < 0 {
		total += 24 * 60
	}

	return fmt.Sprintf("%02d:%02d", total/60, total%60), nil
}
