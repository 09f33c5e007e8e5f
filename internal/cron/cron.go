// Package cron parses 5-field cron expressions
// ("minute hour day-of-month month day-of-week") and answers when they fire.
// Supported field syntax: "*", numbers, comma lists, ranges ("1-5"), and
// steps ("*/15", "0-30/10").
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// field is one parsed cron field.
type field struct {
	wildcard bool
	values   []int
}

// matches returns true if the given value matches this field.
func (f field) matches(val int) bool {
	if f.wildcard {
		return true
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// bounds holds the legal value range for one cron position.
type bounds struct {
	name string
	min  int
	max  int
}

var fieldBounds = [5]bounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Schedule is a parsed cron expression.
type Schedule struct {
	expr       string
	minute     field
	hour       field
	dayOfMonth field
	month      field
	dayOfWeek  field
}

// Parse parses a 5-field cron expression.
func Parse(expr string) (Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("cron: expression %q must have 5 fields, got %d", expr, len(fields))
	}

	parsed := [5]field{}
	for i, raw := range fields {
		f, err := parseField(raw, fieldBounds[i])
		if err != nil {
			return Schedule{}, fmt.Errorf("cron: parsing %s field: %w", fieldBounds[i].name, err)
		}
		parsed[i] = f
	}

	return Schedule{
		expr:       expr,
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

// String returns the original expression.
func (s Schedule) String() string { return s.expr }

// Matches returns true if the given time (at minute resolution) matches all
// five fields.
func (s Schedule) Matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dayOfMonth.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dayOfWeek.matches(int(t.Weekday()))
}

// Next calculates the first matching time strictly after 'after'. It searches
// minute-by-minute up to one year ahead.
func (s Schedule) Next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if s.Matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}

	return time.Time{}, fmt.Errorf("cron: no matching time found within one year for %q", s.expr)
}

// DueBetween reports whether any minute boundary in (from, to] matches. The
// scheduler calls this with its previous and current tick to decide whether
// a strategy's cadence boundary fell inside the window.
func (s Schedule) DueBetween(from, to time.Time) bool {
	if !to.After(from) {
		return false
	}
	candidate := from.Truncate(time.Minute).Add(time.Minute)
	for !candidate.After(to) {
		if s.Matches(candidate) {
			return true
		}
		candidate = candidate.Add(time.Minute)
	}
	return false
}

// parseField parses a single cron field (e.g. "0", "*", "1,15", "1-5",
// "*/10") against its bounds.
func parseField(raw string, b bounds) (field, error) {
	if raw == "*" {
		return field{wildcard: true}, nil
	}

	var values []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		vals, err := parsePart(part, b)
		if err != nil {
			return field{}, err
		}
		values = append(values, vals...)
	}
	return field{values: values}, nil
}

// parsePart expands one comma-separated part: a number, range, or stepped
// range.
func parsePart(part string, b bounds) ([]int, error) {
	step := 1
	if idx := strings.IndexByte(part, '/'); idx >= 0 {
		var err error
		step, err = strconv.Atoi(part[idx+1:])
		if err != nil || step < 1 {
			return nil, fmt.Errorf("invalid step in %q", part)
		}
		part = part[:idx]
	}

	lo, hi := b.min, b.max
	switch {
	case part == "*":
		// Full range with step.
	case strings.Contains(part, "-"):
		segs := strings.SplitN(part, "-", 2)
		var err1, err2 error
		lo, err1 = strconv.Atoi(segs[0])
		hi, err2 = strconv.Atoi(segs[1])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("invalid range %q", part)
		}
	default:
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", part)
		}
		lo, hi = v, v
	}

	if lo < b.min || hi > b.max || lo > hi {
		return nil, fmt.Errorf("value %q out of %s bounds [%d,%d]", part, b.name, b.min, b.max)
	}

	values := make([]int, 0, (hi-lo)/step+1)
	for v := lo; v <= hi; v += step {
		values = append(values, v)
	}
	return values, nil
}
