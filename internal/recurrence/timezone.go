package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LoadLocation resolves an IANA zone name, "UTC"/"Z", or a fixed offset
// written as ±HH:MM. An empty name is UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	switch name {
	case "", "UTC", "Z", "utc":
		return time.UTC, nil
	}

	if name[0] == '+' || name[0] == '-' {
		return parseOffset(name)
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", name, err)
	}
	return loc, nil
}

func parseOffset(name string) (*time.Location, error) {
	hh, mm, ok := strings.Cut(name[1:], ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return nil, fmt.Errorf("invalid offset %q (use ±HH:MM)", name)
	}

	hours, err := strconv.Atoi(hh)
	if err != nil || hours > 14 {
		return nil, fmt.Errorf("invalid offset hours in %q", name)
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil || minutes > 59 {
		return nil, fmt.Errorf("invalid offset minutes in %q", name)
	}

	secs := hours*3600 + minutes*60
	if name[0] == '-' {
		secs = -secs
	}
	if secs == 0 {
		return time.UTC, nil
	}
	return time.FixedZone(name, secs), nil
}

// OffsetName names the fixed offset of t in a form LoadLocation accepts.
func OffsetName(t time.Time) string {
	_, secs := t.Zone()
	if secs == 0 {
		return "UTC"
	}

	sign := '+'
	if secs < 0 {
		sign = '-'
		secs = -secs
	}
	return fmt.Sprintf("%c%02d:%02d", sign, secs/3600, (secs%3600)/60)
}
