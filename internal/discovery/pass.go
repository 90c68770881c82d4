package discovery

import (
	"time"

	"github.com/google/uuid"

	"beer_counter/internal/feed"
	"beer_counter/internal/ledger"
	"beer_counter/internal/quantity"
	"beer_counter/internal/temporal"
)

// SkipReason explains why a visible message produced no event.
type SkipReason string

const (
	SkipMissingID  SkipReason = "missing-id"
	SkipRevisited  SkipReason = "revisited"
	SkipNoTime     SkipReason = "no-time"
	SkipParseError SkipReason = "parse-error"
	SkipDuplicate  SkipReason = "duplicate"
	SkipNoQuantity SkipReason = "no-quantity"
)

// marksSeen reports whether a skipped id is remembered so later scans do not
// count it as new again.
func (r SkipReason) marksSeen() bool {
	switch r {
	case SkipNoTime, SkipParseError, SkipNoQuantity:
		return true
	}
	return false
}

// Outcome is the verdict for one visible message.
type Outcome struct {
	MessageID string
	Event     *ledger.Event
	Skip      SkipReason
	Err       error
	// New is true when the id was not in the dedup index before this scan.
	New bool
	// State is the resolver state after this message.
	State temporal.State
}

// Pass is one logical walk from the newest visible message backwards.
// Every id advances the resolver at most once per pass.
type Pass struct {
	ID       string
	Resolver temporal.Resolver
	State    temporal.State
	visited  map[string]struct{}
}

func NewPass(r temporal.Resolver, now time.Time) *Pass {
	return &Pass{
		ID:       uuid.NewString(),
		Resolver: r,
		State:    r.NewState(now),
		visited:  make(map[string]struct{}),
	}
}

// Visited reports whether id was already committed in this pass.
func (p *Pass) Visited(id string) bool {
	_, ok := p.visited[id]
	return ok
}

// Commit applies o to the pass. Callers commit only after the outcome's side
// effects succeeded, so a failed write leaves the pass where it was.
func (p *Pass) Commit(o Outcome) {
	if o.MessageID == "" || o.Skip == SkipRevisited {
		return
	}
	p.State = o.State
	p.visited[o.MessageID] = struct{}{}
}

// Resolve maps window (newest first) to outcomes without touching p or the
// index; seen is only read.
func Resolve(p *Pass, window []feed.Message, seen func(string) bool) []Outcome {
	out := make([]Outcome, 0, len(window))
	st := p.State
	local := make(map[string]struct{}, len(window))
	for _, m := range window {
		o := Outcome{MessageID: m.ID, State: st}
		if m.ID == "" {
			o.Skip = SkipMissingID
			out = append(out, o)
			continue
		}
		if _, dup := local[m.ID]; dup || p.Visited(m.ID) {
			o.Skip = SkipRevisited
			out = append(out, o)
			continue
		}
		local[m.ID] = struct{}{}
		known := seen(m.ID)
		o.New = !known

		label, ok := temporal.FindLabel(m.TimeLabel)
		if !ok {
			o.Skip = SkipNoTime
			out = append(out, o)
			continue
		}
		ts, next, err := p.Resolver.Resolve(label, st)
		if err != nil {
			o.Skip = SkipParseError
			o.Err = err
			out = append(out, o)
			continue
		}
		st = next
		o.State = st

		if known {
			o.Skip = SkipDuplicate
			out = append(out, o)
			continue
		}
		n, ok := quantity.Extract(m.Payload)
		if !ok {
			o.Skip = SkipNoQuantity
			out = append(out, o)
			continue
		}
		o.Event = &ledger.Event{
			ID:        m.ID,
			Author:    feed.NormalizeAuthor(m.AuthorLabel),
			Timestamp: ts,
			Quantity:  n,
		}
		out = append(out, o)
	}
	return out
}
