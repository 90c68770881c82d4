// Package feed describes the observed message feed and the sources that can
// expose it one screenful at a time.
package feed

import (
	"context"
	"strings"

	"beer_counter/internal/quantity"
)

// Message is one item as rendered in the current window. TimeLabel holds the
// raw metadata text the time-of-day label is searched in.
type Message struct {
	ID          string           `json:"id"`
	TimeLabel   string           `json:"time_label"`
	AuthorLabel string           `json:"author"`
	Payload     quantity.Payload `json:"payload"`
}

// Source exposes a reverse-chronological, virtualized feed.
//
// ListVisible returns the messages currently rendered, newest first.
// RevealOlder asks the source to render the next older screenful; it does not
// guarantee new items appear. ScrollToLatest returns to the newest items.
type Source interface {
	ListVisible(ctx context.Context) ([]Message, error)
	RevealOlder(ctx context.Context) error
	ScrollToLatest(ctx context.Context) error
}

const unknownAuthor = "unknown"

// NormalizeAuthor strips the "Maybe " marker the feed puts in front of
// unsaved contacts and falls back to "unknown".
func NormalizeAuthor(raw string) string {
	name := strings.TrimLeft(raw, " \t")
	name = strings.TrimSpace(strings.TrimPrefix(name, "Maybe "))
	if name == "" {
		return unknownAuthor
	}
	return name
}
