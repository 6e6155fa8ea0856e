package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCalendar(t *testing.T) *Calendar {
	t.Helper()
	c, err := New()
	require.NoError(t, err)
	return c
}

func TestHolidays2026(t *testing.T) {
	want := map[string]string{
		"2026-01-01": "New Year's Day",
		"2026-01-19": "Martin Luther King Jr. Day",
		"2026-02-16": "Presidents Day",
		"2026-04-03": "Good Friday",
		"2026-05-25": "Memorial Day",
		"2026-06-19": "Juneteenth",
		"2026-07-03": "Independence Day",
		"2026-09-07": "Labor Day",
		"2026-11-26": "Thanksgiving Day",
		"2026-12-25": "Christmas Day",
	}

	got := make(map[string]string)
	for _, h := range Holidays(2026) {
		got[h.Date.Format("2006-01-02")] = h.Name
	}
	assert.Equal(t, want, got)
}

func TestEarlyCloses(t *testing.T) {
	dates := func(year int) []string {
		var out []string
		for _, c := range EarlyCloses(year) {
			out = append(out, c.Date.Format("2006-01-02"))
		}
		return out
	}

	// July 4th 2026 is a Saturday: no early close on the observed Friday
	assert.Equal(t, []string{"2026-11-27", "2026-12-24"}, dates(2026))
	assert.Equal(t, []string{"2025-07-03", "2025-11-28", "2025-12-24"}, dates(2025))
}

func TestEasterBasedGoodFriday(t *testing.T) {
	assert.Equal(t, date(2024, time.March, 29), Holidays(2024)[3].Date)
	assert.Equal(t, date(2025, time.April, 18), Holidays(2025)[3].Date)
}

func TestObservedNewYearFallsInPreviousYear(t *testing.T) {
	c := newCalendar(t)
	loc := c.Location()

	name, ok := c.Holiday(time.Date(2021, time.December, 31, 12, 0, 0, 0, loc))
	assert.True(t, ok)
	assert.Equal(t, "New Year's Day", name)
	assert.False(t, c.IsTradingDay(time.Date(2021, time.December, 31, 12, 0, 0, 0, loc)))
}

func TestStatus(t *testing.T) {
	c := newCalendar(t)
	loc := c.Location()
	at := func(y int, m time.Month, d, h, min int) time.Time {
		return time.Date(y, m, d, h, min, 0, 0, loc)
	}

	tests := []struct {
		name   string
		at     time.Time
		status Status
		open   bool
	}{
		{"regular session", at(2026, time.March, 10, 10, 0), StatusOpen, true},
		{"open bound", at(2026, time.March, 10, 9, 30), StatusOpen, true},
		{"close bound", at(2026, time.March, 10, 16, 0), StatusOpen, true},
		{"pre-market", at(2026, time.March, 10, 9, 29), StatusPreMarket, false},
		{"after hours", at(2026, time.March, 10, 16, 1), StatusAfterHours, false},
		{"saturday", at(2026, time.March, 14, 11, 0), StatusWeekend, false},
		{"holiday", at(2026, time.November, 26, 11, 0), StatusHoliday, false},
		{"early close session", at(2026, time.November, 27, 12, 59), StatusOpen, true},
		{"after early close", at(2026, time.November, 27, 13, 30), StatusAfterHours, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := c.Status(tt.at)
			assert.Equal(t, tt.status, st.Status)
			assert.Equal(t, tt.open, st.Open)
			assert.Equal(t, tt.open, c.IsOpen(tt.at))
		})
	}
}

func TestStatusConvertsToExchangeZone(t *testing.T) {
	c := newCalendar(t)
	// 15:00 UTC on 2026-03-10 is 11:00 in New York (EDT)
	assert.True(t, c.IsOpen(time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)))
	// 02:00 UTC is the previous evening in New York
	assert.False(t, c.IsOpen(time.Date(2026, time.March, 10, 2, 0, 0, 0, time.UTC)))
}

func TestNextOpen(t *testing.T) {
	c := newCalendar(t)
	loc := c.Location()

	// Thursday evening before Good Friday -> Monday
	next := c.NextOpen(time.Date(2026, time.April, 2, 17, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2026, time.April, 6, 9, 30, 0, 0, loc), next)

	// pre-market -> same day
	next = c.NextOpen(time.Date(2026, time.March, 10, 8, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2026, time.March, 10, 9, 30, 0, 0, loc), next)

	st := c.Status(time.Date(2026, time.March, 14, 11, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2026, time.March, 16, 9, 30, 0, 0, loc), st.NextOpen)
}
