package responder

import (
	"context"
	"errors"
	"testing"

	"beer_counter/internal/feed"
	"beer_counter/internal/notify"
	"beer_counter/internal/quantity"
)

type fixedTotal int

func (f fixedTotal) Total(ctx context.Context) (int, error) { return int(f), nil }

type capture struct {
	texts []string
	err   error
}

func (c *capture) Post(ctx context.Context, msg notify.Message) error {
	if c.err != nil {
		return c.err
	}
	c.texts = append(c.texts, msg.Text)
	return nil
}

func text(id, body string) feed.Message {
	return feed.Message{ID: id, TimeLabel: "9:00 PM", Payload: quantity.Payload{Text: body}}
}

func TestIsQuery(t *testing.T) {
	r := New(Config{}, fixedTotal(0), &capture{}, nil)
	cases := map[string]bool{
		"@PivoBot koliko piva?":      true,
		"@pivobot KOLIKO PIVA danas": true,
		"koliko piva":                false,
		"@PivoBot hello":             false,
	}
	for in, want := range cases {
		if got := r.IsQuery(in); got != want {
			t.Errorf("IsQuery(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOneReplyPerWindowAndNoRepeats(t *testing.T) {
	out := &capture{}
	r := New(Config{InitialTotal: 73}, fixedTotal(4), out, nil)
	window := []feed.Message{
		text("q2", "@PivoBot koliko piva"),
		text("x", "cheers"),
		text("q1", "@PivoBot koliko piva?"),
	}
	r.ObserveLatest(context.Background(), window)
	if len(out.texts) != 1 || out.texts[0] != "Piva popijenih do sad: 77" {
		t.Fatalf("unexpected replies %v", out.texts)
	}
	r.ObserveLatest(context.Background(), window)
	if len(out.texts) != 1 {
		t.Fatalf("answered the same queries twice: %v", out.texts)
	}
}

func TestFailedPostRetriesNextWindow(t *testing.T) {
	out := &capture{err: errors.New("offline")}
	r := New(Config{Reply: "total %d"}, fixedTotal(2), out, nil)
	window := []feed.Message{text("q", "@PivoBot koliko piva")}
	r.ObserveLatest(context.Background(), window)
	out.err = nil
	r.ObserveLatest(context.Background(), window)
	if len(out.texts) != 1 || out.texts[0] != "total 2" {
		t.Fatalf("expected a retry, got %v", out.texts)
	}
}
