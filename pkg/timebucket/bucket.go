// Package timebucket provides the 15-minute time-of-day grid used to tag
// and filter observations. A day tiles into exactly 96 contiguous,
// non-overlapping buckets; bucket membership of a time T is start <= T < end.
package timebucket

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// BucketMinutes is the width of a single bucket.
const BucketMinutes = 15

// ErrInvalidRange indicates a period whose bounds cannot be expanded into
// whole buckets. Periods are fixed at startup, so hitting this at runtime
// is a configuration error.
var ErrInvalidRange = errors.New("invalid time range")

// Clock is a time of day with second precision. The zero value is midnight.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// clockPattern accepts HH:MM with an optional seconds component.
var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)

// ParseClock parses "HH:MM" or "HH:MM:SS" into a Clock.
// "24:00" is accepted as the exclusive end of day.
func ParseClock(s string) (Clock, error) {
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return Clock{}, fmt.Errorf("%w: %q is not a valid clock time", ErrInvalidRange, s)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	second := 0
	if m[3] != "" {
		second, _ = strconv.Atoi(m[3])
	}
	if hour > 24 || minute > 59 || second > 59 || (hour == 24 && (minute != 0 || second != 0)) {
		return Clock{}, fmt.Errorf("%w: %q is out of range", ErrInvalidRange, s)
	}
	return Clock{Hour: hour, Minute: minute, Second: second}, nil
}

// Minutes returns the clock position as whole minutes since midnight.
// Seconds are truncated, which is what bucket membership needs.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// String formats the clock canonically as HH:MM:SS.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// Bucket is one 15-minute interval of the daily grid. Buckets are computed
// on demand and never persisted on their own; only Range() strings reach
// the index metadata.
type Bucket struct {
	start int // minutes since midnight, always a multiple of BucketMinutes
}

// Start returns the inclusive lower bound as HH:MM:SS.
func (b Bucket) Start() string {
	return minutesToClock(b.start)
}

// End returns the exclusive upper bound as HH:MM:SS. The last bucket of the
// day ends at "24:00:00".
func (b Bucket) End() string {
	return minutesToClock(b.start + BucketMinutes)
}

// Range returns the canonical "start-end" form used as index metadata.
func (b Bucket) Range() string {
	return b.Start() + "-" + b.End()
}

// Contains reports whether the clock time falls inside this bucket.
func (b Bucket) Contains(c Clock) bool {
	m := c.Minutes()
	return m >= b.start && m < b.start+BucketMinutes
}

func minutesToClock(m int) string {
	return fmt.Sprintf("%02d:%02d:00", m/60, m%60)
}

// Align returns the bucket containing the given time of day. It is total
// for any clock between 00:00 and 23:59.
func Align(c Clock) Bucket {
	return Bucket{start: (c.Minutes() / BucketMinutes) * BucketMinutes}
}

// Expand returns every bucket from start (inclusive) up to end, in
// ascending order. The final bucket's End equals end. A one-hour span
// yields exactly four buckets.
func Expand(start, end Clock) ([]Bucket, error) {
	s, e := start.Minutes(), end.Minutes()
	if e <= s {
		return nil, fmt.Errorf("%w: end %s is not after start %s", ErrInvalidRange, end, start)
	}
	if (e-s)%BucketMinutes != 0 || s%BucketMinutes != 0 {
		return nil, fmt.Errorf("%w: span %s-%s is not aligned to %d-minute buckets",
			ErrInvalidRange, start, end, BucketMinutes)
	}
	buckets := make([]Bucket, 0, (e-s)/BucketMinutes)
	for m := s; m < e; m += BucketMinutes {
		buckets = append(buckets, Bucket{start: m})
	}
	return buckets, nil
}
