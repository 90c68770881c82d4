// Package temporal turns bare time-of-day labels, visited newest to oldest,
// into absolute timestamps.
//
// The feed never shows a date. A pass starts from the calendar date of
// "now" and walks backwards; every time the walk has to cross a midnight the
// assumed date moves one day into the past. The reconstruction is best
// effort: labels without AM/PM are taken as 24-hour values, and nothing
// carries over between passes unless the caller keeps the State.
package temporal

import "time"

// DefaultSkewTolerance absorbs small label inversions caused by messages
// that were composed offline and delivered late.
const DefaultSkewTolerance = 2 * time.Minute

// State is the per-pass resolver memory.
type State struct {
	CurrentDate  time.Time
	LastHour     int
	LastMinute   int
	LastMeridiem Meridiem
	HasLast      bool
	Now          time.Time
}

// Resolver holds the settings shared by every pass.
type Resolver struct {
	Location *time.Location
	// SkewTolerance is how far a label may run ahead of the previous (newer)
	// one without being read as a midnight crossing. Zero means any strictly
	// later label rolls the date back.
	SkewTolerance time.Duration
}

// New builds a Resolver. A nil location means UTC.
func New(loc *time.Location, skew time.Duration) Resolver {
	if loc == nil {
		loc = time.UTC
	}
	if skew < 0 {
		skew = 0
	}
	return Resolver{Location: loc, SkewTolerance: skew}
}

func (r Resolver) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// NewState starts a pass anchored at now.
func (r Resolver) NewState(now time.Time) State {
	n := now.In(r.location())
	return State{
		CurrentDate: time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, r.location()),
		Now:         n,
	}
}

// Resolve dates label relative to st and returns the UTC timestamp together
// with the advanced state. On error st is returned unchanged.
func (r Resolver) Resolve(label string, st State) (time.Time, State, error) {
	c, err := ParseLabel(label)
	if err != nil {
		return time.Time{}, st, err
	}
	hour := c.Hour24()
	date := st.CurrentDate

	switch {
	case !st.HasLast && c.Meridiem == AM && st.Now.Hour() >= 12:
		// newest message of an afternoon pass is still in the morning
		date = date.AddDate(0, 0, -1)
	case st.HasLast && st.LastMeridiem == PM && c.Meridiem == AM:
		date = date.AddDate(0, 0, -1)
	case st.HasLast && r.rolledOver(st.LastHour, st.LastMinute, hour, c.Minute):
		date = date.AddDate(0, 0, -1)
	}

	loc := r.location()
	ts := time.Date(date.Year(), date.Month(), date.Day(), hour, c.Minute, 0, 0, loc)
	if !st.HasLast && !st.Now.IsZero() && ts.After(st.Now.Add(r.SkewTolerance)) {
		// newest message of the pass cannot be later than the pass start
		date = date.AddDate(0, 0, -1)
		ts = time.Date(date.Year(), date.Month(), date.Day(), hour, c.Minute, 0, 0, loc)
	}

	next := st
	next.CurrentDate = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	next.LastHour = hour
	next.LastMinute = c.Minute
	next.LastMeridiem = c.Meridiem
	next.HasLast = true
	return ts.UTC(), next, nil
}

func (r Resolver) rolledOver(lastHour, lastMinute, hour, minute int) bool {
	ahead := (hour*60 + minute) - (lastHour*60 + lastMinute)
	if ahead <= 0 {
		return false
	}
	return time.Duration(ahead)*time.Minute > r.SkewTolerance
}
