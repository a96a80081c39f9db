package core

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

func utc(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func TestNextFire(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		expr  string
		after time.Time
		want  time.Time
	}{
		{name: "step before boundary", expr: "*/5 * * * *", after: utc(2024, 3, 4, 10, 3), want: utc(2024, 3, 4, 10, 5)},
		{name: "step on boundary is strict", expr: "*/5 * * * *", after: utc(2024, 3, 4, 10, 5), want: utc(2024, 3, 4, 10, 10)},
		{name: "seconds are dropped", expr: "*/5 * * * *", after: utc(2024, 3, 4, 10, 4).Add(59 * time.Second), want: utc(2024, 3, 4, 10, 5)},
		{name: "weekly from tuesday", expr: "0 9 * * 1", after: utc(2024, 1, 2, 12, 0), want: utc(2024, 1, 8, 9, 0)},
		{name: "hour rollover", expr: "0 * * * *", after: utc(2024, 1, 1, 23, 30), want: utc(2024, 1, 2, 0, 0)},
		{name: "year rollover", expr: "0 0 1 1 *", after: utc(2024, 6, 1, 0, 0), want: utc(2025, 1, 1, 0, 0)},
		{name: "leap day", expr: "0 0 29 2 *", after: utc(2024, 3, 1, 0, 0), want: utc(2028, 2, 29, 0, 0)},
		{name: "dom or dow picks weekday", expr: "0 0 13 * 5", after: utc(2024, 1, 1, 0, 0), want: utc(2024, 1, 5, 0, 0)},
		{name: "dom or dow picks date", expr: "0 0 13 * 5", after: utc(2024, 1, 12, 0, 0), want: utc(2024, 1, 13, 0, 0)},
		{name: "dow star ands with dom", expr: "0 0 13 * *", after: utc(2024, 1, 1, 0, 0), want: utc(2024, 1, 13, 0, 0)},
		{name: "dow names", expr: "30 6 * * sun", after: utc(2024, 1, 1, 0, 0), want: utc(2024, 1, 7, 6, 30)},
		{name: "month names", expr: "0 0 1 JUL,dec *", after: utc(2024, 7, 2, 0, 0), want: utc(2024, 12, 1, 0, 0)},
		{name: "range with step", expr: "10-40/15 * * * *", after: utc(2024, 1, 1, 0, 26), want: utc(2024, 1, 1, 0, 40)},
		{name: "list", expr: "0 8,17 * * *", after: utc(2024, 1, 1, 9, 0), want: utc(2024, 1, 1, 17, 0)},
		{name: "extra whitespace", expr: "  0   9 * *  1 ", after: utc(2024, 1, 2, 12, 0), want: utc(2024, 1, 8, 9, 0)},
		{name: "non utc input", expr: "0 12 * * *", after: time.Date(2024, 1, 1, 13, 0, 0, 0, time.FixedZone("X", 2*3600)), want: utc(2024, 1, 1, 12, 0)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NextFire(tt.expr, tt.after)
			if err != nil {
				t.Fatalf("NextFire(%q) error: %v", tt.expr, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("NextFire(%q, %s) = %s, want %s", tt.expr, tt.after, got, tt.want)
			}
			if got.Location() != time.UTC {
				t.Fatalf("location = %v, want UTC", got.Location())
			}
		})
	}
}

func TestParseCronInvalid(t *testing.T) {
	t.Parallel()
	exprs := []string{
		"",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * 32 * *",
		"* * * 13 *",
		"* * * 0 *",
		"* * * * 7",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"1,,2 * * * *",
		"5/10 * * * *",
		"-1 * * * *",
		"* * * foo *",
		"1-2-3 * * * *",
	}
	for _, expr := range exprs {
		_, err := ParseCron(expr)
		if err == nil {
			t.Errorf("ParseCron(%q) expected error", expr)
			continue
		}
		if !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("ParseCron(%q) error = %v, want kind %s", expr, err, KindInvalidSchedule)
		}
	}
}

func TestNextUnsatisfiable(t *testing.T) {
	t.Parallel()
	_, err := NextFire("0 0 30 2 *", utc(2024, 1, 1, 0, 0))
	if !errors.Is(err, ErrUnsatisfiable) {
		t.Fatalf("error = %v, want kind %s", err, KindUnsatisfiable)
	}
}

func TestScheduleString(t *testing.T) {
	t.Parallel()
	s, err := ParseCron(" 0  9 * *\t1 ")
	if err != nil {
		t.Fatalf("ParseCron error: %v", err)
	}
	if s.String() != "0 9 * * 1" {
		t.Fatalf("String() = %q", s.String())
	}
}

func TestNextOccurrences(t *testing.T) {
	t.Parallel()
	s, err := ParseCron("0 */6 * * *")
	if err != nil {
		t.Fatalf("ParseCron error: %v", err)
	}
	got, err := NextOccurrences(s, utc(2024, 1, 1, 1, 0), 3)
	if err != nil {
		t.Fatalf("NextOccurrences error: %v", err)
	}
	want := []time.Time{utc(2024, 1, 1, 6, 0), utc(2024, 1, 1, 12, 0), utc(2024, 1, 1, 18, 0)}
	if len(got) != len(want) {
		t.Fatalf("got %d times, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("occurrence %d = %s, want %s", i, got[i], want[i])
		}
	}
}

// TestNextMatchesRobfig compares randomized expressions against an
// independent cron implementation.
func TestNextMatchesRobfig(t *testing.T) {
	t.Parallel()
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	rng := rand.New(rand.NewPCG(20240101, 42))
	base := utc(2020, 1, 1, 0, 0)

	for i := 0; i < 2000; i++ {
		expr := strings.Join([]string{
			randomField(rng, 0, 59),
			randomField(rng, 0, 23),
			randomField(rng, 1, 31),
			randomField(rng, 1, 12),
			randomField(rng, 0, 6),
		}, " ")
		after := base.Add(time.Duration(rng.Int64N(int64(10 * 365 * 24 * time.Hour))))

		oracle, err := parser.Parse(expr)
		if err != nil {
			t.Fatalf("oracle rejected %q: %v", expr, err)
		}
		want := oracle.Next(after)
		got, err := NextFire(expr, after)
		if want.IsZero() {
			continue
		}
		if err != nil {
			t.Fatalf("NextFire(%q, %s) error: %v, oracle says %s", expr, after, err, want)
		}
		if !got.After(after) {
			t.Fatalf("NextFire(%q, %s) = %s, not after reference", expr, after, got)
		}
		if !got.Equal(want) {
			t.Fatalf("NextFire(%q, %s) = %s, oracle says %s", expr, after, got, want)
		}
	}
}

func randomField(rng *rand.Rand, lo, hi int) string {
	pick := func() int { return lo + rng.IntN(hi-lo+1) }
	switch rng.IntN(6) {
	case 0:
		return "*"
	case 1:
		return fmt.Sprintf("*/%d", 1+rng.IntN(hi-lo+1))
	case 2:
		return fmt.Sprint(pick())
	case 3:
		a, b := pick(), pick()
		if a > b {
			a, b = b, a
		}
		return fmt.Sprintf("%d-%d", a, b)
	case 4:
		a, b := pick(), pick()
		if a > b {
			a, b = b, a
		}
		return fmt.Sprintf("%d-%d/%d", a, b, 1+rng.IntN(5))
	default:
		return fmt.Sprintf("%d,%d", pick(), pick())
	}
}
