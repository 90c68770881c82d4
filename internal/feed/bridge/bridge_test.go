package bridge

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"beer_counter/internal/feed"
	"beer_counter/internal/feed/spool"
)

func startAgent(t *testing.T, token string) (string, *spool.Source) {
	t.Helper()
	dir := t.TempDir()
	pages := [][]feed.Message{
		{{ID: "m4", TimeLabel: "10:04 AM", AuthorLabel: "Ana"}, {ID: "m3", TimeLabel: "10:03 AM", AuthorLabel: "Ana"}},
		{{ID: "m2", TimeLabel: "10:02 AM", AuthorLabel: "Bruno"}},
	}
	for i, p := range pages {
		if err := spool.WritePage(dir, i, p); err != nil {
			t.Fatal(err)
		}
	}
	src := spool.New(dir, nil)
	srv := httptest.NewServer(NewHandler(src, token, nil))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), src
}

func TestClientDrivesAgent(t *testing.T) {
	url, src := startAgent(t, "secret")
	c := NewClient(url, "secret", 5*time.Second, nil)
	defer c.Close()
	ctx := context.Background()

	got, err := c.ListVisible(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "m4" {
		t.Fatalf("unexpected window %+v", got)
	}
	if err := c.RevealOlder(ctx); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	got, err = c.ListVisible(ctx)
	if err != nil || len(got) != 1 || got[0].ID != "m2" {
		t.Fatalf("older window = %+v, %v", got, err)
	}
	if err := c.ScrollToLatest(ctx); err != nil {
		t.Fatalf("scroll: %v", err)
	}
	if src.Page() != 0 {
		t.Fatalf("agent still on page %d", src.Page())
	}
}

func TestClientRejectedWithoutToken(t *testing.T) {
	url, _ := startAgent(t, "secret")
	c := NewClient(url, "", time.Second, nil)
	if _, err := c.ListVisible(context.Background()); err == nil {
		t.Fatalf("expected dial to fail without token")
	}
}

func TestUnknownOpIsAgentError(t *testing.T) {
	url, _ := startAgent(t, "")
	c := NewClient(url, "", 5*time.Second, nil)
	defer c.Close()
	_, err := c.call(context.Background(), "dance")
	if !errors.Is(err, ErrAgent) {
		t.Fatalf("expected ErrAgent, got %v", err)
	}
	if _, err := c.ListVisible(context.Background()); err != nil {
		t.Fatalf("connection should survive an agent error: %v", err)
	}
}
