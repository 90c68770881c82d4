// Package report aggregates events for the dashboard views: the grand total,
// a user ranking, per-day totals and per-user-per-day totals. Days are
// calendar days in the configured location.
package report

import (
	"context"
	"sort"
	"time"

	"beer_counter/internal/ledger"
	"beer_counter/internal/remote"
)

const dayLayout = "2006-01-02"

type UserTotal struct {
	User  string `json:"user"`
	Total int    `json:"total"`
}

type DayTotal struct {
	Day   string `json:"day"`
	Total int    `json:"total"`
}

type UserDayTotal struct {
	User  string `json:"user"`
	Day   string `json:"day"`
	Total int    `json:"total"`
}

type Report struct {
	Events        int            `json:"events"`
	TotalItems    int            `json:"total_items"`
	Ranking       []UserTotal    `json:"ranking"`
	PerDay        []DayTotal     `json:"per_day"`
	PerUserPerDay []UserDayTotal `json:"per_user_per_day"`
}

// LedgerReader is satisfied by *ledger.Store.
type LedgerReader interface {
	All(ctx context.Context) ([]ledger.Record, error)
}

// RemoteReader is satisfied by *remote.Client.
type RemoteReader interface {
	FetchAll(ctx context.Context) ([]remote.Row, error)
}

func FromLedger(ctx context.Context, st LedgerReader) ([]ledger.Event, error) {
	recs, err := st.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Event, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Event)
	}
	return out, nil
}

func FromRemote(ctx context.Context, c RemoteReader) ([]ledger.Event, error) {
	rows, err := c.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Event())
	}
	return out, nil
}

// Build computes every view over events.
func Build(events []ledger.Event, loc *time.Location) Report {
	if loc == nil {
		loc = time.UTC
	}
	rep := Report{Events: len(events)}
	users := map[string]int{}
	days := map[string]int{}
	userDays := map[[2]string]int{}
	for _, ev := range events {
		day := ev.Timestamp.In(loc).Format(dayLayout)
		rep.TotalItems += ev.Quantity
		users[ev.Author] += ev.Quantity
		days[day] += ev.Quantity
		userDays[[2]string{ev.Author, day}] += ev.Quantity
	}
	for u, n := range users {
		rep.Ranking = append(rep.Ranking, UserTotal{User: u, Total: n})
	}
	sort.Slice(rep.Ranking, func(i, j int) bool {
		if rep.Ranking[i].Total != rep.Ranking[j].Total {
			return rep.Ranking[i].Total > rep.Ranking[j].Total
		}
		return rep.Ranking[i].User < rep.Ranking[j].User
	})
	rep.PerDay = sortedDays(days)
	for k, n := range userDays {
		rep.PerUserPerDay = append(rep.PerUserPerDay, UserDayTotal{User: k[0], Day: k[1], Total: n})
	}
	sort.Slice(rep.PerUserPerDay, func(i, j int) bool {
		a, b := rep.PerUserPerDay[i], rep.PerUserPerDay[j]
		if a.User != b.User {
			return a.User < b.User
		}
		return a.Day < b.Day
	})
	return rep
}

// UserDays lists the days on which user has any events, oldest first.
func UserDays(events []ledger.Event, user string, loc *time.Location) []DayTotal {
	if loc == nil {
		loc = time.UTC
	}
	days := map[string]int{}
	for _, ev := range events {
		if ev.Author != user {
			continue
		}
		days[ev.Timestamp.In(loc).Format(dayLayout)] += ev.Quantity
	}
	return sortedDays(days)
}

func sortedDays(days map[string]int) []DayTotal {
	out := make([]DayTotal, 0, len(days))
	for d, n := range days {
		out = append(out, DayTotal{Day: d, Total: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}
