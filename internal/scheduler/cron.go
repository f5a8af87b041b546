package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed "@every <duration>" or named (@hourly, @daily,
// @weekly, @monthly, @yearly) expression. Five-field cron syntax is not
// accepted.
type Schedule struct {
	expr  string
	every time.Duration
	next  func(time.Time) time.Time
}

// Parse validates expr and returns its schedule.
func Parse(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	s := Schedule{expr: expr}

	switch expr {
	case "@yearly", "@annually":
		s.next = nextYear
	case "@monthly":
		s.next = nextMonth
	case "@weekly":
		s.next = nextWeek
	case "@daily", "@midnight":
		s.next = nextDay
	case "@hourly":
		s.next = nextHour
	default:
		raw, ok := strings.CutPrefix(expr, "@every ")
		if !ok {
			if strings.Count(expr, " ") >= 4 {
				return Schedule{}, fmt.Errorf("five-field cron expressions are not supported, use @every or a named schedule: %q", expr)
			}
			return Schedule{}, fmt.Errorf("invalid schedule expression %q", expr)
		}
		d, err := parseEveryDuration(strings.TrimSpace(raw))
		if err != nil {
			return Schedule{}, err
		}
		s.every = d
	}
	return s, nil
}

// String returns the expression the schedule was parsed from.
func (s Schedule) String() string { return s.expr }

// Next returns the first run time strictly after t.
func (s Schedule) Next(t time.Time) time.Time {
	if s.every > 0 {
		return t.Add(s.every)
	}
	return s.next(t)
}

// parseEveryDuration accepts time.ParseDuration syntax plus whole days ("7d").
func parseEveryDuration(duration string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(duration, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid duration: %s", duration)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(duration)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %s", duration)
	}
	if d < time.Minute {
		return 0, fmt.Errorf("duration %s is below the one minute minimum", duration)
	}
	return d, nil
}

func nextYear(t time.Time) time.Time {
	return time.Date(t.Year()+1, 1, 1, 0, 0, 0, 0, t.Location())
}

func nextMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
}

// nextWeek is the next Sunday midnight.
func nextWeek(t time.Time) time.Time {
	daysUntilSunday := (7 - int(t.Weekday())) % 7
	if daysUntilSunday == 0 {
		daysUntilSunday = 7
	}
	return time.Date(t.Year(), t.Month(), t.Day()+daysUntilSunday, 0, 0, 0, 0, t.Location())
}

func nextDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}

func nextHour(t time.Time) time.Time {
	return t.Add(time.Hour).Truncate(time.Hour)
}
