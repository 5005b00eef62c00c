package granularity

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is a time-bucketing unit. The zero value is None and means the
// query or pre-aggregation carries no granularity.
type Granularity int

const (
	None Granularity = iota
	Second
	Minute
	Hour
	Day
	Week
	Month
	Quarter
	Year
)

// All lists every granularity from finest to coarsest.
var All = []Granularity{Second, Minute, Hour, Day, Week, Month, Quarter, Year}

var names = map[Granularity]string{
	None:    "",
	Second:  "second",
	Minute:  "minute",
	Hour:    "hour",
	Day:     "day",
	Week:    "week",
	Month:   "month",
	Quarter: "quarter",
	Year:    "year",
}

// divides[a][b] is true when every b boundary is also an a boundary.
// Weeks start on Monday, so they never line up with months, quarters or years.
var divides = func() map[Granularity]map[Granularity]bool {
	t := make(map[Granularity]map[Granularity]bool, len(All))
	fixed := []Granularity{Second, Minute, Hour, Day}
	calendar := []Granularity{Month, Quarter, Year}
	for _, g := range All {
		t[g] = map[Granularity]bool{g: true}
	}
	for i, a := range fixed {
		for _, b := range fixed[i:] {
			t[a][b] = true
		}
		t[a][Week] = true
		for _, b := range calendar {
			t[a][b] = true
		}
	}
	for i, a := range calendar {
		for _, b := range calendar[i:] {
			t[a][b] = true
		}
	}
	return t
}()

// Parse converts a granularity name into a Granularity. Matching is
// case-insensitive; the empty string yields None.
func Parse(s string) (Granularity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return None, nil
	}
	for g, name := range names {
		if g != None && name == s {
			return g, nil
		}
	}
	return None, fmt.Errorf("unknown granularity %q (must be one of second, minute, hour, day, week, month, quarter, year)", s)
}

// String returns the lowercase name of the granularity.
func (g Granularity) String() string {
	if name, ok := names[g]; ok {
		return name
	}
	return fmt.Sprintf("granularity(%d)", int(g))
}

// Valid reports whether g is one of the defined granularities (None excluded).
func (g Granularity) Valid() bool {
	return g >= Second && g <= Year
}

// Divides reports whether g evenly divides other, i.e. other-sized buckets
// can be assembled from whole g-sized buckets.
func (g Granularity) Divides(other Granularity) bool {
	return divides[g][other]
}

// Finer reports whether g is strictly finer than other in the total order.
func (g Granularity) Finer(other Granularity) bool {
	return g < other
}

// MarshalText implements encoding.TextMarshaler.
func (g Granularity) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *Granularity) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// BucketFor truncates t to the start of its g-sized bucket, in t's location.
// Example: BucketFor(2026-02-11 10:35:42, Hour) → 2026-02-11 10:00:00
func BucketFor(t time.Time, g Granularity) time.Time {
	year, month, day := t.Date()
	loc := t.Location()
	switch g {
	case Second:
		return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), 0, loc)
	case Minute:
		return time.Date(year, month, day, t.Hour(), t.Minute(), 0, 0, loc)
	case Hour:
		return time.Date(year, month, day, t.Hour(), 0, 0, 0, loc)
	case Day:
		return time.Date(year, month, day, 0, 0, 0, 0, loc)
	case Week:
		offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
		return time.Date(year, month, day-offset, 0, 0, 0, 0, loc)
	case Month:
		return time.Date(year, month, 1, 0, 0, 0, 0, loc)
	case Quarter:
		q := (int(month)-1)/3*3 + 1
		return time.Date(year, time.Month(q), 1, 0, 0, 0, 0, loc)
	case Year:
		return time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	default:
		return t
	}
}

// Next returns the start of the bucket following the one that starts at start.
func Next(start time.Time, g Granularity) time.Time {
	switch g {
	case Second:
		return start.Add(time.Second)
	case Minute:
		return start.Add(time.Minute)
	case Hour:
		return start.Add(time.Hour)
	case Day:
		return start.AddDate(0, 0, 1)
	case Week:
		return start.AddDate(0, 0, 7)
	case Month:
		return start.AddDate(0, 1, 0)
	case Quarter:
		return start.AddDate(0, 3, 0)
	case Year:
		return start.AddDate(1, 0, 0)
	default:
		return start
	}
}

// IsBoundary reports whether t sits exactly on the start of a g bucket.
func IsBoundary(t time.Time, g Granularity) bool {
	return BucketFor(t, g).Equal(t)
}
