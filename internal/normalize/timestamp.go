package normalize

import (
	"fmt"
	"strings"
	"time"
)

// DatetimeLayout is the MySQL DATETIME text form, second precision, UTC.
const DatetimeLayout = "2006-01-02 15:04:05"

// TimestampError reports a timestamp that is not a well-formed ISO-8601 instant.
type TimestampError struct {
	Raw string
	Err error
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("Invalid timestamp format: %s", e.Raw)
}

func (e *TimestampError) Unwrap() error { return e.Err }

// Timestamp converts "2025-12-24T10:57:07Z" into "2025-12-24 10:57:07".
// Instants carrying another offset are shifted to UTC. Sub-second precision
// is truncated.
func Timestamp(raw string) (string, error) {
	t, err := ParseTimestamp(raw)
	if err != nil {
		return "", err
	}
	return t.Format(DatetimeLayout), nil
}

// ParseTimestamp parses the wire timestamp into a UTC instant.
func ParseTimestamp(raw string) (time.Time, error) {
	value := strings.Replace(strings.TrimSpace(raw), "Z", "+00:00", 1)
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, &TimestampError{Raw: raw, Err: err}
	}
	return t.UTC(), nil
}
