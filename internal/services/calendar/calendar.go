// Package calendar answers whether the US equity market (NYSE) is open at a given instant.
package calendar

import (
	"fmt"
	"sync"
	"time"
	// bundled zone database so America/New_York resolves on hosts without tzdata
	_ "time/tzdata"

	"github.com/pkg/errors"
)

// Status is the market phase reported by Status.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusPreMarket  Status = "PRE_MARKET"
	StatusAfterHours Status = "AFTER_HOURS"
	StatusHoliday    Status = "HOLIDAY"
	StatusWeekend    Status = "WEEKEND"
)

const (
	defaultZone = "America/New_York"
	openMinute  = 9*60 + 30
	closeMinute = 16 * 60
	earlyMinute = 13 * 60
)

// MarketStatus describes the market at one instant.
type MarketStatus struct {
	Open   bool
	Status Status
	// Reason names the holiday or early close, if any.
	Reason string
	// CloseAt is the session close for the day, zero when there is no session.
	CloseAt time.Time
	// NextOpen is the next session open strictly after the instant when closed.
	NextOpen time.Time
}

type day struct {
	year  int
	month time.Month
	dom   int
}

func dayOf(t time.Time) day {
	return day{t.Year(), t.Month(), t.Day()}
}

type yearTable struct {
	holidays   map[day]string
	earlyClose map[day]string
}

// Calendar implements the NYSE trading calendar: weekends, rule-based holidays
// and 13:00 early closes. Safe for concurrent use.
type Calendar struct {
	loc *time.Location

	mu     sync.Mutex
	tables map[int]yearTable
}

// New creates a calendar in the America/New_York zone.
func New() (*Calendar, error) {
	loc, err := time.LoadLocation(defaultZone)
	if err != nil {
		return nil, errors.Wrapf(err, "load location %s", defaultZone)
	}
	return NewInLocation(loc), nil
}

// NewInLocation creates a calendar whose session times are interpreted in loc.
func NewInLocation(loc *time.Location) *Calendar {
	return &Calendar{loc: loc, tables: make(map[int]yearTable)}
}

// Location returns the exchange time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsOpen reports whether the market is in its regular session at t.
func (c *Calendar) IsOpen(t time.Time) bool {
	return c.Status(t).Open
}

// Holiday returns the holiday name when the exchange-local date of t is a full-day closure.
func (c *Calendar) Holiday(t time.Time) (string, bool) {
	t = t.In(c.loc)
	name, ok := c.table(t.Year()).holidays[dayOf(t)]
	return name, ok
}

// EarlyClose returns the reason when the exchange-local date of t closes at 13:00.
func (c *Calendar) EarlyClose(t time.Time) (string, bool) {
	t = t.In(c.loc)
	name, ok := c.table(t.Year()).earlyClose[dayOf(t)]
	return name, ok
}

// IsTradingDay reports whether the exchange-local date of t has a session.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	t = t.In(c.loc)
	if isWeekend(t.Weekday()) {
		return false
	}
	_, holiday := c.Holiday(t)
	return !holiday
}

// Status reports the market phase at t. Session bounds are inclusive.
func (c *Calendar) Status(t time.Time) MarketStatus {
	local := t.In(c.loc)

	if isWeekend(local.Weekday()) {
		return MarketStatus{Status: StatusWeekend, NextOpen: c.NextOpen(t)}
	}
	if name, ok := c.Holiday(local); ok {
		return MarketStatus{Status: StatusHoliday, Reason: name, NextOpen: c.NextOpen(t)}
	}

	open, closeAt := c.session(local)
	st := MarketStatus{CloseAt: closeAt}
	if reason, ok := c.EarlyClose(local); ok {
		st.Reason = reason
	}

	switch {
	case local.Before(open):
		st.Status = StatusPreMarket
		st.NextOpen = open
	case local.After(closeAt):
		st.Status = StatusAfterHours
		st.NextOpen = c.NextOpen(t)
	default:
		st.Open = true
		st.Status = StatusOpen
	}
	return st
}

// NextOpen returns the first session open strictly after t.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	d := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	// a full year of closures never spans more than a few days
	for i := 0; i < 14; i++ {
		if c.IsTradingDay(d) {
			open, _ := c.session(d)
			if open.After(local) {
				return open
			}
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Time{}
}

func (c *Calendar) session(local time.Time) (time.Time, time.Time) {
	base := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	closeAt := closeMinute
	if _, ok := c.EarlyClose(local); ok {
		closeAt = earlyMinute
	}
	return base.Add(openMinute * time.Minute), base.Add(time.Duration(closeAt) * time.Minute)
}

// table returns the closures falling in year. Rules of year+1 are folded in
// because an observed New Year's Day may land on December 31.
func (c *Calendar) table(year int) yearTable {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.tables[year]; ok {
		return t
	}

	t := yearTable{holidays: make(map[day]string), earlyClose: make(map[day]string)}
	for _, y := range []int{year, year + 1} {
		for _, h := range Holidays(y) {
			if h.Date.Year() == year {
				t.holidays[dayOf(h.Date)] = h.Name
			}
		}
	}
	for _, h := range EarlyCloses(year) {
		t.earlyClose[dayOf(h.Date)] = h.Name
	}
	c.tables[year] = t
	return t
}

// Closure is a named exchange date.
type Closure struct {
	Date time.Time
	Name string
}

func (c Closure) String() string {
	return fmt.Sprintf("%s %s", c.Date.Format("2006-01-02"), c.Name)
}

// Holidays lists the NYSE full-day holidays generated for year, in date order.
// Fixed-date holidays falling on Saturday are observed on Friday, on Sunday on Monday.
func Holidays(year int) []Closure {
	easter := easterSunday(year)
	return []Closure{
		{observed(date(year, time.January, 1)), "New Year's Day"},
		{nthWeekday(year, time.January, time.Monday, 3), "Martin Luther King Jr. Day"},
		{nthWeekday(year, time.February, time.Monday, 3), "Presidents Day"},
		{easter.AddDate(0, 0, -2), "Good Friday"},
		{nthWeekday(year, time.May, time.Monday, -1), "Memorial Day"},
		{observed(date(year, time.June, 19)), "Juneteenth"},
		{observed(date(year, time.July, 4)), "Independence Day"},
		{nthWeekday(year, time.September, time.Monday, 1), "Labor Day"},
		{nthWeekday(year, time.November, time.Thursday, 4), "Thanksgiving Day"},
		{observed(date(year, time.December, 25)), "Christmas Day"},
	}
}

// EarlyCloses lists the 13:00 closes for year.
func EarlyCloses(year int) []Closure {
	var out []Closure

	july4 := date(year, time.July, 4)
	july3 := july4.AddDate(0, 0, -1)
	if !isWeekend(july3.Weekday()) && july4.Weekday() != time.Saturday {
		out = append(out, Closure{july3, "Day before Independence Day"})
	}

	thanksgiving := nthWeekday(year, time.November, time.Thursday, 4)
	out = append(out, Closure{thanksgiving.AddDate(0, 0, 1), "Day after Thanksgiving"})

	eve := date(year, time.December, 24)
	if !isWeekend(eve.Weekday()) {
		out = append(out, Closure{eve, "Christmas Eve"})
	}
	return out
}

func date(year int, month time.Month, dom int) time.Time {
	return time.Date(year, month, dom, 0, 0, 0, 0, time.UTC)
}

func isWeekend(wd time.Weekday) bool {
	return wd == time.Saturday || wd == time.Sunday
}

func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

// nthWeekday returns the n-th weekday of the month; n = -1 selects the last one.
func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	if n > 0 {
		first := date(year, month, 1)
		ahead := (int(wd) - int(first.Weekday()) + 7) % 7
		return first.AddDate(0, 0, ahead+7*(n-1))
	}
	last := date(year, month+1, 1).AddDate(0, 0, -1)
	back := (int(last.Weekday()) - int(wd) + 7) % 7
	return last.AddDate(0, 0, -back)
}

// easterSunday uses the anonymous Gregorian algorithm.
func easterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	dom := (h+l-7*m+114)%31 + 1
	return date(year, time.Month(month), dom)
}
