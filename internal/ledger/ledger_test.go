package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func ev(id string, ts time.Time, qty int) Event {
	return Event{ID: id, Author: "Ana", Timestamp: ts, Quantity: qty}
}

func TestInsertIfAbsentIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, time.March, 10, 10, 51, 0, 0, time.UTC)

	inserted, err := st.InsertIfAbsent(ctx, ev("m1", ts, 2))
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}
	inserted, err = st.InsertIfAbsent(ctx, ev("m1", ts.Add(time.Hour), 5))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Fatalf("duplicate id should not insert")
	}
	all, err := st.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Quantity != 2 || !all[0].Timestamp.Equal(ts) {
		t.Fatalf("unexpected rows: %+v", all)
	}
	if all[0].Synced {
		t.Fatalf("new rows must start unsynced")
	}
}

func TestInsertRejectsInvalidEvents(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if _, err := st.InsertIfAbsent(ctx, ev("", time.Now(), 1)); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for empty id, got %v", err)
	}
	if _, err := st.InsertIfAbsent(ctx, ev("x", time.Now(), -1)); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for negative quantity, got %v", err)
	}
}

func TestListUnsyncedOrderingAndMarkSynced(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	for _, e := range []Event{
		ev("c", base.Add(2*time.Minute), 1),
		ev("b", base, 1),
		ev("a", base, 3),
		ev("d", base.Add(time.Minute), 0),
	} {
		if _, err := st.InsertIfAbsent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := st.ListUnsynced(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	got := []string{}
	for _, r := range pending {
		got = append(got, r.ID)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "d" {
		t.Fatalf("unexpected order %v", got)
	}

	if err := st.MarkSynced(ctx, []string{"a", "b", "missing"}); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	pending, err = st.ListUnsynced(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != "d" || pending[1].ID != "c" {
		t.Fatalf("unexpected pending after mark: %+v", pending)
	}

	c, err := st.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.Records != 4 || c.Pending != 2 || c.Total != 5 {
		t.Fatalf("unexpected counts %+v", c)
	}
}

func TestMarkSyncedIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if _, err := st.InsertIfAbsent(ctx, ev("m1", time.Now(), 1)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := st.MarkSynced(ctx, []string{"m1"}); err != nil {
			t.Fatalf("mark %d: %v", i, err)
		}
	}
	if err := st.MarkSynced(ctx, nil); err != nil {
		t.Fatalf("empty mark: %v", err)
	}
	all, _ := st.All(ctx)
	if !all[0].Synced || all[0].SyncedAt == nil {
		t.Fatalf("expected synced row, got %+v", all[0])
	}
}

func TestTotalRecentAndIDs(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	total, err := st.Total(ctx)
	if err != nil || total != 0 {
		t.Fatalf("empty total = %d, %v", total, err)
	}
	base := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"x", "y", "z"} {
		if _, err := st.InsertIfAbsent(ctx, ev(id, base.Add(time.Duration(i)*time.Hour), i+1)); err != nil {
			t.Fatal(err)
		}
	}
	total, err = st.Total(ctx)
	if err != nil || total != 6 {
		t.Fatalf("total = %d, %v", total, err)
	}
	recent, err := st.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != "z" || recent[1].ID != "y" {
		t.Fatalf("unexpected recent %+v", recent)
	}
	ids, err := st.IDs(ctx)
	if err != nil || len(ids) != 3 {
		t.Fatalf("ids = %v, %v", ids, err)
	}
	if err := st.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestLedgerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	ctx := context.Background()
	st, err := Open("sqlite://" + path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.InsertIfAbsent(ctx, ev("keep", time.Now(), 1)); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	st, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ids, err := st.IDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "keep" {
		t.Fatalf("ids after reopen = %v, %v", ids, err)
	}
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	if _, err := Open("mysql://root@localhost/db"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	if _, err := Open("  "); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestRebind(t *testing.T) {
	s := &Store{postgres: true}
	got := s.rebind(`SELECT * FROM events WHERE id = ? AND synced = ?`)
	if got != `SELECT * FROM events WHERE id = $1 AND synced = $2` {
		t.Fatalf("rebind = %q", got)
	}
	s.postgres = false
	if got := s.rebind(`a = ?`); got != `a = ?` {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
}
