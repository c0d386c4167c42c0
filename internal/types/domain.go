// Package types defines the shared domain model for the pushpoint platform:
// schedules, notification rules, push payloads, the standard AppError type,
// and context helpers used across layers.
package types

import "time"

// NotificationRule groups the reminder slots a user configured for a single
// day of the week. Times and Messages are parallel sequences: index i in
// Times corresponds to index i in Messages. Times hold canonical 24-hour
// "HH:MM" strings. A rule whose Times sequence is empty is considered
// deleted and must never be persisted.
//
// Day-of-week numbering is 0=Sunday through 6=Saturday, matching the
// day-of-week field of the cron expressions handed to the job engine.
type NotificationRule struct {
	DayOfWeek int      `json:"day_of_week"`
	Times     []string `json:"times"`
	Messages  []string `json:"messages"`
}

// SlotCount returns the number of (time, message) slots in the rule.
func (r NotificationRule) SlotCount() int {
	if len(r.Times) < len(r.Messages) {
		return len(r.Times)
	}
	return len(r.Messages)
}

// Schedule is the persisted per-user document: the user's registered push
// destinations and their notification rules. There is at most one Schedule
// row per user; UserID is the unique key.
type Schedule struct {
	UserID       string           `json:"user_id"`
	Destinations []string         `json:"destinations"`
	Rules        NotificationRules `json:"rules"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// HasDestination reports whether dest is already registered for the schedule.
func (s *Schedule) HasDestination(dest string) bool {
	for _, d := range s.Destinations {
		if d == dest {
			return true
		}
	}
	return false
}

// RuleForDay returns the first rule matching dayOfWeek, or nil.
// Multiple rules for the same day may exist in a stored sequence; callers
// that mutate slots address them as (dayOfWeek, timeIndex) across the
// matching rule, not by rule object identity.
func (s *Schedule) RuleForDay(dayOfWeek int) *NotificationRule {
	for i := range s.Rules {
		if s.Rules[i].DayOfWeek == dayOfWeek {
			return &s.Rules[i]
		}
	}
	return nil
}

// PushPayload is the message handed to the job engine at registration time
// and delivered back to the dispatcher on every firing.
type PushPayload struct {
	Destination string `json:"destination"`
	Title       string `json:"title"`
	Body        string `json:"body"`
}

// ValidDayOfWeek reports whether d is within the 0=Sunday..6=Saturday range.
func ValidDayOfWeek(d int) bool {
	return d >= 0 && d <= 6
}
