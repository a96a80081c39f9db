package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// searchHorizonYears bounds Next so impossible dates such as "0 0 30 2 *"
// terminate. Five years covers every leap-day expression.
const searchHorizonYears = 5

type cronField struct {
	name     string
	min, max int
	names    map[string]int
}

var (
	minuteField = cronField{name: "minute", min: 0, max: 59}
	hourField   = cronField{name: "hour", min: 0, max: 23}
	domField    = cronField{name: "day-of-month", min: 1, max: 31}
	monthField  = cronField{name: "month", min: 1, max: 12, names: map[string]int{
		"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	}}
	dowField = cronField{name: "day-of-week", min: 0, max: 6, names: map[string]int{
		"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
	}}
)

// Schedule is a parsed 5-field cron expression. All evaluation happens in UTC.
type Schedule struct {
	expr   string
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64

	// Wildcard day fields switch the day-of-month/day-of-week combination
	// from OR to AND.
	domStar bool
	dowStar bool
}

// ParseCron validates a 5-field cron expression (minute hour day-of-month month day-of-week).
func ParseCron(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, newError(KindInvalidSchedule,
			"invalid cron expression %q: expected 5 fields (minute hour day-of-month month day-of-week), got %d",
			expr, len(fields))
	}
	s := &Schedule{expr: strings.Join(fields, " ")}
	var err error
	if s.minute, _, err = parseField(fields[0], minuteField); err != nil {
		return nil, invalidCron(expr, err)
	}
	if s.hour, _, err = parseField(fields[1], hourField); err != nil {
		return nil, invalidCron(expr, err)
	}
	if s.dom, s.domStar, err = parseField(fields[2], domField); err != nil {
		return nil, invalidCron(expr, err)
	}
	if s.month, _, err = parseField(fields[3], monthField); err != nil {
		return nil, invalidCron(expr, err)
	}
	if s.dow, s.dowStar, err = parseField(fields[4], dowField); err != nil {
		return nil, invalidCron(expr, err)
	}
	return s, nil
}

func invalidCron(expr string, err error) error {
	return newError(KindInvalidSchedule, "invalid cron expression %q: %v", expr, err)
}

// String returns the normalized expression.
func (s *Schedule) String() string {
	return s.expr
}

// Next returns the first instant strictly after the given one that satisfies
// every field of the schedule.
func (s *Schedule) Next(after time.Time) (time.Time, error) {
	t := after.UTC().Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(searchHorizonYears, 0, 0)
	for t.Before(limit) {
		if s.month&(1<<uint(t.Month())) == 0 {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
			continue
		}
		if s.hour&(1<<uint(t.Hour())) == 0 {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, time.UTC)
			continue
		}
		if s.minute&(1<<uint(t.Minute())) == 0 {
			t = t.Add(time.Minute)
			continue
		}
		return t, nil
	}
	return time.Time{}, newError(KindUnsatisfiable,
		"cron expression %q never fires within %d years after %s",
		s.expr, searchHorizonYears, after.UTC().Format(time.RFC3339))
}

func (s *Schedule) dayMatches(t time.Time) bool {
	domMatch := s.dom&(1<<uint(t.Day())) != 0
	dowMatch := s.dow&(1<<uint(t.Weekday())) != 0
	if s.domStar || s.dowStar {
		return domMatch && dowMatch
	}
	return domMatch || dowMatch
}

// NextFire parses expr and returns its next fire instant after the given one.
func NextFire(expr string, after time.Time) (time.Time, error) {
	s, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(after)
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(schedule *Schedule, base time.Time, n int) ([]time.Time, error) {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		t, err := schedule.Next(next)
		if err != nil {
			return times, err
		}
		times = append(times, t)
		next = t
	}
	return times, nil
}

func parseField(raw string, f cronField) (uint64, bool, error) {
	var bits uint64
	star := false
	for _, part := range strings.Split(raw, ",") {
		b, st, err := parsePart(part, f)
		if err != nil {
			return 0, false, err
		}
		bits |= b
		star = star || st
	}
	return bits, star, nil
}

// parsePart handles one list element: "*", "*/n", "a", "a-b" or "a-b/n".
func parsePart(part string, f cronField) (uint64, bool, error) {
	if part == "" {
		return 0, false, fmt.Errorf("%s: empty list element", f.name)
	}
	rangePart, stepPart, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		n, err := parseNumber(stepPart)
		if err != nil || n < 1 {
			return 0, false, fmt.Errorf("%s: invalid step %q", f.name, stepPart)
		}
		step = n
	}

	var lo, hi int
	star := false
	switch {
	case rangePart == "*":
		lo, hi = f.min, f.max
		star = step == 1
	case strings.Contains(rangePart, "-"):
		a, b, _ := strings.Cut(rangePart, "-")
		var err error
		if lo, err = f.value(a); err != nil {
			return 0, false, err
		}
		if hi, err = f.value(b); err != nil {
			return 0, false, err
		}
		if lo > hi {
			return 0, false, fmt.Errorf("%s: range start %d is after end %d", f.name, lo, hi)
		}
	default:
		if hasStep {
			return 0, false, fmt.Errorf("%s: step %q needs '*' or a range", f.name, part)
		}
		v, err := f.value(rangePart)
		if err != nil {
			return 0, false, err
		}
		lo, hi = v, v
	}

	var bits uint64
	for v := lo; v <= hi; v += step {
		bits |= 1 << uint(v)
	}
	return bits, star, nil
}

func (f cronField) value(s string) (int, error) {
	if n, ok := f.names[strings.ToLower(s)]; ok {
		return n, nil
	}
	n, err := parseNumber(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid value %q", f.name, s)
	}
	if n < f.min || n > f.max {
		return 0, fmt.Errorf("%s: value %d out of range [%d-%d]", f.name, n, f.min, f.max)
	}
	return n, nil
}

func parseNumber(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not a number: %q", s)
		}
	}
	return strconv.Atoi(s)
}
