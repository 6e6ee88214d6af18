package utilities

import "time"

// Timestamp formatting functions

// MARK: FormatTimestamp
// Formats time as RFC3339 string
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

// MARK: CurrentTimestamp
// Returns current time formatted as RFC3339 string
func CurrentTimestamp() string {
	return FormatTimestamp(time.Now())
}
