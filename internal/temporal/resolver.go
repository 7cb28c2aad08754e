// Package temporal turns natural-language date and time expressions into
// absolute timestamps in a fixed location.
package temporal

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultHour is used when an expression names a day but no time of day.
const DefaultHour = 9

// ErrUnresolvable is returned when an expression matches none of the rules.
var ErrUnresolvable = errors.New("temporal: unresolvable expression")

var (
	isoLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}

	isoDateRe     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	inDaysRe      = regexp.MustCompile(`\bin\s+(\d+|a|an|one|two|three|four|five|six|seven)\s+(days?|weeks?)\b`)
	clock24Re     = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	meridiemRe    = regexp.MustCompile(`\b(\d{1,2})(?::([0-5]\d))?\s*(a\.?m\.?|p\.?m\.?|(?:in the )?morning|(?:in the )?afternoon|(?:in the )?evening|(?:at )?night|tonight)(?:\s|$|[.,!?])`)
	bareAtClockRe = regexp.MustCompile(`\bat\s+(\d{1,2})(?::([0-5]\d))?\b`)
)

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7,
}

// Resolver resolves expressions relative to a reference time in loc.
type Resolver struct {
	loc *time.Location
}

// New returns a Resolver bound to loc. A nil loc means UTC.
func New(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

// Location returns the timezone used for resolution.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Resolve resolves a free-text expression that names a day and optionally a
// time of day, e.g. "tomorrow at 10 in the morning" or "2025-03-11 08:00".
func (r *Resolver) Resolve(expr string, now time.Time) (time.Time, error) {
	return r.ResolveParts(expr, "", now)
}

// ResolveParts combines a date expression with a separate time expression.
// When clock is empty the time may be embedded in date; when neither carries
// a time of day the result falls on DefaultHour.
func (r *Resolver) ResolveParts(date, clock string, now time.Time) (time.Time, error) {
	date = normalize(date)
	clock = normalize(clock)

	if t, ok := r.parseISO(date); ok {
		return t, nil
	}

	day, err := r.ResolveDate(date, now)
	if err != nil {
		return time.Time{}, err
	}

	hour, minute := DefaultHour, 0
	switch {
	case clock != "":
		hour, minute, err = ResolveClock(clock)
		if err != nil {
			return time.Time{}, err
		}
	default:
		if h, m, err := ResolveClock(date); err == nil {
			hour, minute = h, m
		}
	}

	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, r.loc), nil
}

// ResolveDate returns local midnight of the day named by expr.
func (r *Resolver) ResolveDate(expr string, now time.Time) (time.Time, error) {
	expr = normalize(expr)
	if expr == "" {
		return time.Time{}, ErrUnresolvable
	}

	local := now.In(r.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)

	if m := isoDateRe.FindStringSubmatch(expr); m != nil {
		t, err := time.ParseInLocation("2006-01-02", m[0], r.loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrUnresolvable, err)
		}
		return t, nil
	}

	// Longest phrase first so "day after tomorrow" is not read as "tomorrow".
	switch {
	case strings.Contains(expr, "day after tomorrow"):
		return midnight.AddDate(0, 0, 2), nil
	case strings.Contains(expr, "tomorrow"):
		return midnight.AddDate(0, 0, 1), nil
	case strings.Contains(expr, "today"), strings.Contains(expr, "tonight"):
		return midnight, nil
	}

	if m := inDaysRe.FindStringSubmatch(expr); m != nil {
		n, ok := parseCount(m[1])
		if !ok {
			return time.Time{}, ErrUnresolvable
		}
		if strings.HasPrefix(m[2], "week") {
			n *= 7
		}
		return midnight.AddDate(0, 0, n), nil
	}

	return time.Time{}, ErrUnresolvable
}

// ResolveClock extracts an hour and minute from expr. It accepts 24-hour
// "HH:MM", "3pm", "10 in the morning", "3 in the afternoon" and "at 7".
// Twelve-hour values are normalised so "12 in the morning" is midnight.
func ResolveClock(expr string) (int, int, error) {
	expr = normalize(expr)
	if expr == "" {
		return 0, 0, ErrUnresolvable
	}

	switch {
	case strings.Contains(expr, "noon") || strings.Contains(expr, "midday"):
		return 12, 0, nil
	case strings.Contains(expr, "midnight"):
		return 0, 0, nil
	}

	if m := meridiemRe.FindStringSubmatch(expr + " "); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 {
			return 0, 0, ErrUnresolvable
		}
		pm := isAfternoon(m[3])
		switch {
		case pm && hour != 12:
			hour += 12
		case !pm && hour == 12:
			hour = 0
		}
		return hour, minute, nil
	}

	if m := clock24Re.FindStringSubmatch(expr); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		return hour, minute, nil
	}

	if m := bareAtClockRe.FindStringSubmatch(expr); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour > 23 {
			return 0, 0, ErrUnresolvable
		}
		return hour, minute, nil
	}

	return 0, 0, ErrUnresolvable
}

func (r *Resolver) parseISO(expr string) (time.Time, bool) {
	if expr == "" {
		return time.Time{}, false
	}
	// Input was lowercased by normalize; layouts expect "T" and "Z".
	expr = strings.ToUpper(expr)
	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return t, true
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, expr, r.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func isAfternoon(qualifier string) bool {
	q := strings.TrimPrefix(strings.ReplaceAll(qualifier, ".", ""), "in the ")
	q = strings.TrimPrefix(q, "at ")
	switch q {
	case "pm", "afternoon", "evening", "night", "tonight":
		return true
	}
	return false
}

func parseCount(s string) (int, bool) {
	if n, ok := numberWords[s]; ok {
		return n, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}
