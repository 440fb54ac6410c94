package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clofast/clofast/internal/apperr"
	"github.com/clofast/clofast/internal/recurrence"
)

var weekdayNames = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// CronParser wraps robfig/cron for five-field expressions whose weekday
// field counts from Monday=0.
type CronParser struct {
	parser cron.Parser
}

// NewCronParser creates a parser accepting five fields and @descriptors.
func NewCronParser() *CronParser {
	return &CronParser{
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
}

// Parse parses an expression and returns a schedule.
func (p *CronParser) Parse(expression string) (cron.Schedule, error) {
	translated, weekdays, err := translateExpression(expression)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidTrigger, "scheduler.parse", err)
	}

	schedule, err := p.parser.Parse(translated)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidTrigger, "scheduler.parse",
			fmt.Errorf("parsing cron expression %q: %w", expression, err))
	}
	if weekdays != nil {
		return &weekdaySchedule{inner: schedule, days: *weekdays}, nil
	}
	return schedule, nil
}

// weekdaySearchYears bounds the walk for a day-of-month that must also fall
// on one of the listed weekdays. Every date/weekday pairing recurs within
// the 28-year calendar cycle.
const weekdaySearchYears = 28

// weekdaySchedule matches only when both the day-of-month and the
// day-of-week match. robfig/cron accepts either one when both fields are
// restricted, so the inner schedule carries the day-of-month alone and the
// weekday set is applied here.
type weekdaySchedule struct {
	inner cron.Schedule
	days  [7]bool // indexed by time.Weekday
}

// Next returns the zero time when no match exists within the search window.
func (s *weekdaySchedule) Next(t time.Time) time.Time {
	limit := t.AddDate(weekdaySearchYears, 0, 0)
	next := s.inner.Next(t)
	for !next.IsZero() && next.Before(limit) {
		if s.days[next.Weekday()] {
			return next
		}
		// Skip the rest of a day on the wrong weekday.
		y, m, d := next.Date()
		endOfDay := time.Date(y, m, d+1, 0, 0, 0, 0, next.Location()).Add(-time.Nanosecond)
		next = s.inner.Next(endOfDay)
	}
	return time.Time{}
}

// NextRun returns the first instant strictly after after that matches
// expression, evaluated in timezone. An expression with no future match
// (e.g. the 30th of February) is an invalid trigger.
func (p *CronParser) NextRun(expression, timezone string, after time.Time) (time.Time, error) {
	schedule, err := p.Parse(expression)
	if err != nil {
		return time.Time{}, err
	}

	loc, err := recurrence.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.KindInvalidTrigger, "scheduler.next_run", err)
	}

	next := schedule.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, apperr.New(apperr.KindInvalidTrigger, "scheduler.next_run",
			"expression %q never fires", expression)
	}

	return next, nil
}

// translateExpression rewrites the weekday field into robfig's Sunday=0
// numbering. Descriptors and an optional TZ= prefix pass through. When both
// day fields are restricted the weekday field is replaced by a star and the
// weekday set, indexed by time.Weekday, is returned for separate matching.
func translateExpression(expression string) (string, *[7]bool, error) {
	fields := strings.Fields(expression)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty expression")
	}

	var prefix string
	if strings.HasPrefix(fields[0], "TZ=") || strings.HasPrefix(fields[0], "CRON_TZ=") {
		prefix = fields[0] + " "
		fields = fields[1:]
	}

	if len(fields) > 0 && strings.HasPrefix(fields[0], "@") {
		return prefix + strings.Join(fields, " "), nil, nil
	}

	if len(fields) != 5 {
		return "", nil, fmt.Errorf("expected 5 fields (minute hour day-of-month month day-of-week), found %d", len(fields))
	}

	dow, err := translateWeekdays(fields[4])
	if err != nil {
		return "", nil, err
	}
	fields[4] = dow

	var weekdays *[7]bool
	if dow != "*" && !hasWildcard(fields[2]) {
		weekdays = new([7]bool)
		for _, part := range strings.Split(dow, ",") {
			d, _ := strconv.Atoi(part)
			weekdays[d] = true
		}
		fields[4] = "*"
	}

	return prefix + strings.Join(fields, " "), weekdays, nil
}

// hasWildcard reports whether any part of a field is an unstepped star,
// which makes robfig intersect the two day fields on its own.
func hasWildcard(field string) bool {
	for _, part := range strings.Split(field, ",") {
		rng, step, hasStep := strings.Cut(part, "/")
		if rng != "*" && rng != "?" {
			continue
		}
		if !hasStep || step == "1" {
			return true
		}
	}
	return false
}

func translateWeekdays(field string) (string, error) {
	switch field {
	case "*", "?", "*/1":
		// robfig treats a bare star specially when matching day-of-month
		// against day-of-week, so it must stay a star.
		return "*", nil
	}

	var days [7]bool
	for _, part := range strings.Split(field, ",") {
		rng, stepStr, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return "", fmt.Errorf("invalid step %q in day-of-week field", stepStr)
			}
			step = n
		}

		var lo, hi int
		switch {
		case rng == "*" || rng == "?":
			lo, hi = 0, 6
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if lo, err = parseWeekday(a); err != nil {
				return "", err
			}
			if hi, err = parseWeekday(b); err != nil {
				return "", err
			}
			if lo > hi {
				return "", fmt.Errorf("day-of-week range %q runs backwards", rng)
			}
		default:
			var err error
			if lo, err = parseWeekday(rng); err != nil {
				return "", err
			}
			hi = lo
			if hasStep {
				hi = 6
			}
		}

		for d := lo; d <= hi; d += step {
			days[d] = true
		}
	}

	if days == [7]bool{true, true, true, true, true, true, true} {
		return "*", nil
	}

	var out []int
	for d, on := range days {
		if on {
			out = append(out, (d+1)%7)
		}
	}
	sort.Ints(out)

	parts := make([]string, len(out))
	for i, d := range out {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ","), nil
}

func parseWeekday(s string) (int, error) {
	lower := strings.ToLower(s)
	for i, name := range weekdayNames {
		if lower == name {
			return i, nil
		}
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 6 {
		return 0, fmt.Errorf("invalid day-of-week %q (use 0-6 for Monday-Sunday, or mon-sun)", s)
	}
	return n, nil
}
