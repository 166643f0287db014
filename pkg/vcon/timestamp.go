package vcon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// timestampLayouts are the ISO-8601 forms accepted on input, tried in order.
// Fractional seconds are accepted after the seconds field by time.Parse even
// though the layouts do not name them.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Timestamp is a point in time stored in UTC and encoded as RFC 3339 text.
// The zero Timestamp means "not set".
type Timestamp struct {
	t time.Time
}

// NewTimestamp converts a native time value to a canonical Timestamp.
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{t: t.UTC()}
}

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return NewTimestamp(time.Now())
}

// ParseTimestamp parses ISO-8601 text. Values without a zone offset are read
// as UTC.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimestamp(t), nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid ISO 8601 timestamp %q", s)
}

// MustParseTimestamp is ParseTimestamp for literals known to be valid.
func MustParseTimestamp(s string) Timestamp {
	ts, err := ParseTimestamp(s)
	if err != nil {
		panic(err)
	}
	return ts
}

// Time returns the underlying time in UTC.
func (ts Timestamp) Time() time.Time { return ts.t }

// IsZero reports whether the timestamp is unset.
func (ts Timestamp) IsZero() bool { return ts.t.IsZero() }

// Equal reports whether both timestamps denote the same instant.
func (ts Timestamp) Equal(other Timestamp) bool { return ts.t.Equal(other.t) }

// Canonical reports whether the timestamp can be rendered as ISO-8601 text.
func (ts Timestamp) Canonical() bool {
	y := ts.t.Year()
	return y >= 0 && y <= 9999
}

// String renders the timestamp as RFC 3339 with nanosecond precision.
func (ts Timestamp) String() string {
	if ts.IsZero() {
		return ""
	}
	return ts.t.Format(time.RFC3339Nano)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	if !ts.Canonical() {
		return nil, fmt.Errorf("timestamp year %d outside ISO 8601 range", ts.t.Year())
	}
	return json.Marshal(ts.String())
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*ts = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be ISO 8601 text: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}
