// Package recurrence turns a human-facing recurrence description (a reference
// timestamp plus a frequency class) into a five-field trigger expression.
//
// Day-of-week values use Monday=0 through Sunday=6.
package recurrence

import (
	"strconv"
	"strings"
	"time"

	"github.com/clofast/clofast/internal/apperr"
)

// Frequency is a named recurrence shorthand.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyIntraday Frequency = "intraday"
	FrequencyCustom   Frequency = "custom"
)

// Frequencies lists every recognised class in display order.
var Frequencies = []Frequency{
	FrequencyDaily,
	FrequencyWeekly,
	FrequencyMonthly,
	FrequencyIntraday,
	FrequencyCustom,
}

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyIntraday, FrequencyCustom:
		return true
	}
	return false
}

// ParseFrequency validates a frequency class string.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(s)
	if !f.Valid() {
		return "", apperr.New(apperr.KindInvalidFrequency, "recurrence.parse_frequency",
			"unsupported frequency %q (use daily, weekly, monthly, intraday or custom)", s)
	}
	return f, nil
}

// Any marks a wildcarded field.
const Any = -1

// Expression is a compiled trigger: minute, hour, day-of-month, month and
// weekday, each either a fixed value or Any.
type Expression struct {
	Minute     int
	Hour       int
	DayOfMonth int
	Month      int
	Weekday    int
}

// String renders the expression in crontab field order.
func (e Expression) String() string {
	fields := []int{e.Minute, e.Hour, e.DayOfMonth, e.Month, e.Weekday}
	parts := make([]string, len(fields))
	for i, v := range fields {
		if v == Any {
			parts[i] = "*"
		} else {
			parts[i] = strconv.Itoa(v)
		}
	}
	return strings.Join(parts, " ")
}

// ParseTimestamp parses a reference timestamp. A date, a time and an offset
// are all required.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperr.New(apperr.KindInvalidTimestamp, "recurrence.parse_timestamp",
			"%q is not an ISO 8601 timestamp with offset (e.g. 2025-02-28T14:30:00Z)", s)
	}
	return t, nil
}

// Compile derives the trigger expression for a reference timestamp and a
// frequency class. Custom expressions are not compiled; use Resolve.
func Compile(dateStr, frequency string) (Expression, error) {
	f, err := ParseFrequency(frequency)
	if err != nil {
		return Expression{}, err
	}
	if f == FrequencyCustom {
		return Expression{}, apperr.New(apperr.KindInvalidFrequency, "recurrence.compile",
			"custom expressions are supplied verbatim, not compiled")
	}

	ref, err := ParseTimestamp(dateStr)
	if err != nil {
		return Expression{}, err
	}

	return FromTime(ref, f), nil
}

// FromTime derives the expression from the wall-clock fields of t in its own
// location. frequency must be a compilable class.
func FromTime(t time.Time, frequency Frequency) Expression {
	expr := Expression{
		Minute:     t.Minute(),
		Hour:       Any,
		DayOfMonth: Any,
		Month:      Any,
		Weekday:    Any,
	}

	switch frequency {
	case FrequencyDaily:
		expr.Hour = t.Hour()
	case FrequencyWeekly:
		expr.Hour = t.Hour()
		expr.Weekday = MondayIndex(t.Weekday())
	case FrequencyMonthly:
		expr.Hour = t.Hour()
		expr.DayOfMonth = t.Day()
	}

	return expr
}

// MondayIndex converts a time.Weekday to the Monday=0 numbering.
func MondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// Config is a client's recurrence configuration.
type Config struct {
	Frequency      string `json:"frequency" yaml:"frequency"`
	DateStr        string `json:"date_str,omitempty" yaml:"date_str,omitempty"`
	CronExpression string `json:"cron_expression,omitempty" yaml:"cron_expression,omitempty"`
	Timezone       string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Frequency  Frequency
	Expression string
	// Timezone the expression should be evaluated in; empty means the
	// scheduler default.
	Timezone string
}

// Resolve compiles cfg, or passes its raw expression through for the custom
// class. Only presence is checked for custom expressions; the scheduler
// validates their syntax.
func Resolve(cfg Config) (Resolution, error) {
	frequency, err := ParseFrequency(cfg.Frequency)
	if err != nil {
		return Resolution{}, err
	}

	if frequency == FrequencyCustom {
		expr := strings.TrimSpace(cfg.CronExpression)
		if expr == "" {
			return Resolution{}, apperr.New(apperr.KindInvalidTrigger, "recurrence.resolve",
				"cron_expression is required when frequency is custom")
		}
		return Resolution{
			Frequency:  frequency,
			Expression: cfg.CronExpression,
			Timezone:   cfg.Timezone,
		}, nil
	}

	if strings.TrimSpace(cfg.DateStr) == "" {
		return Resolution{}, apperr.New(apperr.KindInvalidTimestamp, "recurrence.resolve",
			"date_str is required when frequency is %s", frequency)
	}

	ref, err := ParseTimestamp(cfg.DateStr)
	if err != nil {
		return Resolution{}, err
	}

	tz := cfg.Timezone
	if tz == "" {
		tz = OffsetName(ref)
	} else {
		loc, err := LoadLocation(tz)
		if err != nil {
			return Resolution{}, apperr.Wrap(apperr.KindInvalidTrigger, "recurrence.resolve", err)
		}
		ref = ref.In(loc)
	}

	return Resolution{
		Frequency:  frequency,
		Expression: FromTime(ref, frequency).String(),
		Timezone:   tz,
	}, nil
}
