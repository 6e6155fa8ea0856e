package domain

import (
	"fmt"
	"time"
)

// ClockTime is a wall-clock time of day in minutes since midnight.
type ClockTime int

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// ActiveHours is the daily window during which Auto Sync ticks may run.
// A zero value (Start == End) means always active.
type ActiveHours struct {
	Start    ClockTime
	End      ClockTime
	Location *time.Location
}

// NewActiveHours builds a window from "HH:MM" strings.
func NewActiveHours(start, end string, loc *time.Location) (ActiveHours, error) {
	if start == "" && end == "" {
		return ActiveHours{Location: loc}, nil
	}
	s, err := ParseClockTime(start)
	if err != nil {
		return ActiveHours{}, err
	}
	e, err := ParseClockTime(end)
	if err != nil {
		return ActiveHours{}, err
	}
	return ActiveHours{Start: s, End: e, Location: loc}, nil
}

// Contains reports whether t falls in the window, bounds inclusive.
// Windows crossing midnight (start > end) are supported.
func (h ActiveHours) Contains(t time.Time) bool {
	if h.Start == h.End {
		return true
	}
	if h.Location != nil {
		t = t.In(h.Location)
	}
	now := ClockTime(t.Hour()*60 + t.Minute())
	if h.Start < h.End {
		return now >= h.Start && now <= h.End
	}
	return now >= h.Start || now <= h.End
}

func (h ActiveHours) String() string {
	if h.Start == h.End {
		return "always"
	}
	return fmt.Sprintf("%s-%s", h.Start, h.End)
}
