package registry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const timestampLayout = "20060102150405"

// Timestamp identifies a version. It is the decimal number yyyyMMddHHmmss in
// UTC, not a Unix epoch, so that it sorts and reads the same way in the
// registry file.
type Timestamp int64

func TimestampOf(t time.Time) Timestamp {
	v, _ := strconv.ParseInt(t.UTC().Format(timestampLayout), 10, 64)
	return Timestamp(v)
}

func ParseTimestamp(raw string) (Timestamp, error) {
	value := strings.TrimSpace(raw)
	if len(value) != len(timestampLayout) {
		return 0, fmt.Errorf("invalid timestamp %q (expected yyyyMMddHHmmss)", raw)
	}
	if _, err := time.Parse(timestampLayout, value); err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	return Timestamp(v), nil
}

func (ts Timestamp) String() string {
	return strconv.FormatInt(int64(ts), 10)
}

func (ts Timestamp) Time() (time.Time, error) {
	return time.Parse(timestampLayout, ts.String())
}

func (ts Timestamp) Valid() bool {
	_, err := ParseTimestamp(ts.String())
	return err == nil
}

// Next returns the timestamp for now, bumped past after when the clock has
// not moved beyond it.
func Next(after Timestamp, now time.Time) Timestamp {
	ts := TimestampOf(now)
	if ts > after {
		return ts
	}
	t, err := after.Time()
	if err != nil {
		return after + 1
	}
	return TimestampOf(t.Add(time.Second))
}
