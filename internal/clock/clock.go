// Package clock owns wall time and the exchange calendar. Every other
// component receives time values from here instead of calling time.Now,
// which keeps session logic in one place and makes the rest of the
// system testable against a fake clock.
package clock

import (
	"fmt"
	"time"
)

// Session classifies a moment of exchange time.
type Session string

const (
	SessionWeekend    Session = "weekend"
	SessionClosed     Session = "closed"
	SessionPreMarket  Session = "pre_market"
	SessionOpen       Session = "open"
	SessionAfterHours Session = "after_hours"
)

// Clock is the minimal time source components depend on.
type Clock interface {
	Now() time.Time
}

// MarketClock resolves sessions against the US equities calendar.
// All classification happens in exchange time (America/New_York)
// regardless of the host timezone.
type MarketClock struct {
	loc          *time.Location
	tradingStart dayMinute // intraday entry window inside the open session
	tradingEnd   dayMinute
}

type dayMinute struct {
	hour, min int
}

func (d dayMinute) minutes() int { return d.hour*60 + d.min }

var (
	preMarketStart = dayMinute{4, 0}
	marketOpen     = dayMinute{9, 30}
	marketClose    = dayMinute{16, 0}
	earlyClose     = dayMinute{13, 0}
	afterHoursEnd  = dayMinute{20, 0}
)

// New builds a MarketClock. start/end bound the intraday trading window
// in "HH:MM" exchange time; empty strings fall back to the full session.
func New(start, end string) (*MarketClock, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("load market timezone: %w", err)
	}
	mc := &MarketClock{loc: loc, tradingStart: marketOpen, tradingEnd: marketClose}
	if start != "" {
		if mc.tradingStart, err = parseDayMinute(start); err != nil {
			return nil, fmt.Errorf("trading start time: %w", err)
		}
	}
	if end != "" {
		if mc.tradingEnd, err = parseDayMinute(end); err != nil {
			return nil, fmt.Errorf("trading end time: %w", err)
		}
	}
	if mc.tradingEnd.minutes() <= mc.tradingStart.minutes() {
		return nil, fmt.Errorf("trading window %s-%s is empty", start, end)
	}
	return mc, nil
}

func parseDayMinute(s string) (dayMinute, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return dayMinute{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return dayMinute{}, fmt.Errorf("time %q out of range", s)
	}
	return dayMinute{h, m}, nil
}

// Now returns the current moment in exchange time.
func (mc *MarketClock) Now() time.Time {
	return time.Now().In(mc.loc)
}

// Location returns the exchange timezone.
func (mc *MarketClock) Location() *time.Location { return mc.loc }

// Valid reports whether the host clock is plausible. A clock reading
// before the year 2000 means the host never synced; trading decisions
// must not be made against it.
func (mc *MarketClock) Valid(t time.Time) bool {
	return t.Year() >= 2000
}

// Session classifies t into an exchange session.
func (mc *MarketClock) Session(t time.Time) Session {
	et := t.In(mc.loc)
	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return SessionWeekend
	}
	if isHoliday(et) {
		return SessionClosed
	}

	closeAt := marketClose
	if isEarlyClose(et) {
		closeAt = earlyClose
	}

	m := et.Hour()*60 + et.Minute()
	switch {
	case m < preMarketStart.minutes():
		return SessionClosed
	case m < marketOpen.minutes():
		return SessionPreMarket
	case m < closeAt.minutes():
		return SessionOpen
	case m < afterHoursEnd.minutes():
		return SessionAfterHours
	default:
		return SessionClosed
	}
}

// IsOpen reports whether the regular session is in progress at t.
func (mc *MarketClock) IsOpen(t time.Time) bool {
	return mc.Session(t) == SessionOpen
}

// WithinTradingWindow reports whether t falls inside the configured
// intraday entry window. The window can only narrow the open session,
// never extend it.
func (mc *MarketClock) WithinTradingWindow(t time.Time) bool {
	if mc.Session(t) != SessionOpen {
		return false
	}
	et := t.In(mc.loc)
	m := et.Hour()*60 + et.Minute()
	return m >= mc.tradingStart.minutes() && m < mc.tradingEnd.minutes()
}

// NextOpen returns the next 9:30 ET on a trading day strictly after the
// session containing t has started (if t is before today's open on a
// trading day, today's open is returned).
func (mc *MarketClock) NextOpen(t time.Time) time.Time {
	et := t.In(mc.loc)
	day := time.Date(et.Year(), et.Month(), et.Day(), marketOpen.hour, marketOpen.min, 0, 0, mc.loc)
	for i := 0; i < 366; i++ {
		if day.After(et) && isTradingDay(day) {
			return day
		}
		day = day.AddDate(0, 0, 1)
	}
	return day
}

// NextClose returns the close of the current session when t is inside
// one, otherwise the close of the next trading day. Early-close days
// close at 13:00 ET.
func (mc *MarketClock) NextClose(t time.Time) time.Time {
	et := t.In(mc.loc)
	day := time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, mc.loc)
	for i := 0; i < 366; i++ {
		if isTradingDay(day) {
			c := closeFor(day)
			if c.After(et) {
				return c
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return closeFor(day)
}

// SessionDate returns the trading date t belongs to, as YYYY-MM-DD in
// exchange time.
func (mc *MarketClock) SessionDate(t time.Time) string {
	return t.In(mc.loc).Format("2006-01-02")
}

func closeFor(day time.Time) time.Time {
	c := marketClose
	if isEarlyClose(day) {
		c = earlyClose
	}
	return time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.min, 0, 0, day.Location())
}

func isTradingDay(day time.Time) bool {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !isHoliday(day)
}
