package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// These ensure the JSONB types implement both sql.Scanner and driver.Valuer,
// catching any method signature drift at compile time rather than at runtime.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*NotificationRules)(nil)
	_ driver.Valuer = NotificationRules(nil)
)

// NotificationRules is the ordered sequence of a user's notification rules,
// persisted as a JSONB column on the schedules table.
type NotificationRules []NotificationRule

// Scan implements sql.Scanner for reading the rules JSONB column.
func (r *NotificationRules) Scan(value interface{}) error {
	return scanJSONB(r, value)
}

// Value implements driver.Valuer for writing the rules JSONB column.
// A nil slice is stored as an empty JSON array rather than NULL so that
// reads never have to distinguish the two.
func (r NotificationRules) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return valueJSONB(r)
}

// scanJSONB is a generic helper that scans a JSONB database value into a Go pointer.
// It handles nil values, []byte, and string representations from different database drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// valueJSONB is a generic helper that converts a Go value to a JSONB-compatible driver.Value.
func valueJSONB(v interface{}) (driver.Value, error) {
	return json.Marshal(v)
}
