// Package calendar implements the FX/metal weekend closure rule, an
// optional holiday table, and both the instant and range forms the engine
// needs.
package calendar

import (
	"time"

	"marketdata/internal/domain"
)

// Decision is the Market Calendar's answer for a single instant.
type Decision struct {
	Open   bool
	Reason string
}

// Calendar decides whether a given instrument class is open at an instant,
// or over a range.
type Calendar interface {
	Open(class domain.InstrumentClass, at time.Time) Decision
	OpenRange(class domain.InstrumentClass, from, to time.Time) Decision
}

// Holiday is a full-day closure override, independent of the weekend rule.
type Holiday struct {
	Class domain.InstrumentClass
	Date  time.Time // truncated to a UTC calendar day
	Name  string
}

// ForexMetalCalendar implements the standard FX weekend (closed from Friday
// 22:00 UTC through Sunday 22:00 UTC) shared by forex and metal instruments,
// plus an optional holiday table. Range decisions default to midpoint
// sampling; StrictRange integrates open-minutes across the range instead.
type ForexMetalCalendar struct {
	holidays map[string]bool // "class|YYYY-MM-DD" -> true
}

func NewForexMetalCalendar(holidays []Holiday) *ForexMetalCalendar {
	h := make(map[string]bool, len(holidays))
	for _, hol := range holidays {
		h[holidayKey(hol.Class, hol.Date)] = true
	}
	return &ForexMetalCalendar{holidays: h}
}

func holidayKey(class domain.InstrumentClass, at time.Time) string {
	return string(class) + "|" + at.UTC().Format("2006-01-02")
}

// Open reports whether the market for class is open at the given UTC instant.
func (c *ForexMetalCalendar) Open(class domain.InstrumentClass, at time.Time) Decision {
	at = at.UTC()

	if c.holidays[holidayKey(class, at)] {
		return Decision{Open: false, Reason: "holiday"}
	}

	if isWeekendClosed(at) {
		return Decision{Open: false, Reason: "weekend"}
	}

	return Decision{Open: true}
}

// isWeekendClosed reports whether t falls in the standard FX weekend
// closure: Friday 22:00 UTC through Sunday 22:00 UTC.
func isWeekendClosed(t time.Time) bool {
	wd := t.Weekday()
	hour := t.Hour()
	switch wd {
	case time.Friday:
		return hour >= 22
	case time.Saturday:
		return true
	case time.Sunday:
		return hour < 22
	default:
		return false
	}
}

// OpenRange decides openness for [from,to) by sampling the midpoint — the
// default mode the Gap Detector uses.
func (c *ForexMetalCalendar) OpenRange(class domain.InstrumentClass, from, to time.Time) Decision {
	if !to.After(from) {
		return Decision{Open: false, Reason: "empty range"}
	}
	mid := from.Add(to.Sub(from) / 2)
	return c.Open(class, mid)
}

// Expected counts the slots in [from,to) at timeframe tf for which the
// calendar reports the instrument class open.
func Expected(cal Calendar, class domain.InstrumentClass, tf domain.Timeframe, from, to time.Time) int {
	count := 0
	for _, slot := range domain.Slots(from, to, tf) {
		if cal.Open(class, slot).Open {
			count++
		}
	}
	return count
}

// StrictRange integrates open-minutes across [from,to) at one-minute
// resolution and reports open iff any minute within the range is open, an
// alternative to midpoint sampling for callers that cannot tolerate a
// closed-market false negative at the range's midpoint (e.g. a short range
// spanning the Friday close boundary).
func (c *ForexMetalCalendar) StrictRange(class domain.InstrumentClass, from, to time.Time) Decision {
	if !to.After(from) {
		return Decision{Open: false, Reason: "empty range"}
	}
	for t := from; t.Before(to); t = t.Add(time.Minute) {
		if d := c.Open(class, t); d.Open {
			return Decision{Open: true}
		}
	}
	return Decision{Open: false, Reason: "closed throughout range"}
}
