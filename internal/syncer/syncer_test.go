package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"beer_counter/internal/ledger"
	"beer_counter/internal/remote"
)

// fakeRemote merges rows by id like the real store.
type fakeRemote struct {
	mu    sync.Mutex
	rows  map[string]remote.Row
	calls int
	err   error
}

func newFakeRemote() *fakeRemote { return &fakeRemote{rows: map[string]remote.Row{}} }

func (f *fakeRemote) Upsert(ctx context.Context, rows []remote.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	for _, r := range rows {
		f.rows[r.ID] = r
	}
	return nil
}

func seededLedger(t *testing.T, n int) *ledger.Store {
	t.Helper()
	st, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	base := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		ev := ledger.Event{ID: fmt.Sprintf("m%d", i), Author: "Ana", Timestamp: base.Add(time.Duration(i) * time.Minute), Quantity: 1}
		if _, err := st.InsertIfAbsent(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func TestRunOncePushesAndFlags(t *testing.T) {
	st := seededLedger(t, 3)
	rem := newFakeRemote()
	a := New(st, rem, Config{BatchSize: 10}, nil)
	ctx := context.Background()

	res, err := a.RunOnce(ctx)
	if err != nil || res.Pushed != 3 {
		t.Fatalf("first run = %+v, %v", res, err)
	}
	pending, _ := st.ListUnsynced(ctx, 0)
	if len(pending) != 0 || len(rem.rows) != 3 {
		t.Fatalf("pending=%d remote=%d", len(pending), len(rem.rows))
	}
	res, err = a.RunOnce(ctx)
	if err != nil || res.Pending != 0 || rem.calls != 1 {
		t.Fatalf("second run should not call remote: %+v calls=%d err=%v", res, rem.calls, err)
	}
}

func TestRemoteFailureKeepsRecordsPending(t *testing.T) {
	st := seededLedger(t, 2)
	rem := newFakeRemote()
	rem.err = &remote.HTTPError{StatusCode: 503, Message: "unavailable"}
	a := New(st, rem, Config{BatchSize: 10}, nil)
	ctx := context.Background()

	_, err := a.RunOnce(ctx)
	if !errors.Is(err, ErrSync) {
		t.Fatalf("expected ErrSync, got %v", err)
	}
	var httpErr *remote.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 503 {
		t.Fatalf("expected wrapped HTTPError, got %v", err)
	}
	pending, _ := st.ListUnsynced(ctx, 0)
	if len(pending) != 2 {
		t.Fatalf("records must stay pending, got %d", len(pending))
	}

	rem.err = nil
	if res, err := a.RunOnce(ctx); err != nil || res.Pushed != 2 {
		t.Fatalf("retry = %+v, %v", res, err)
	}
}

type flakyOutbox struct {
	*ledger.Store
	failMark bool
}

func (f *flakyOutbox) MarkSynced(ctx context.Context, ids []string) error {
	if f.failMark {
		return fmt.Errorf("%w: locked", ledger.ErrPersistence)
	}
	return f.Store.MarkSynced(ctx, ids)
}

func TestResendAfterLostAckIsIdempotent(t *testing.T) {
	st := seededLedger(t, 3)
	out := &flakyOutbox{Store: st, failMark: true}
	rem := newFakeRemote()
	a := New(out, rem, Config{BatchSize: 10}, nil)
	ctx := context.Background()

	if _, err := a.RunOnce(ctx); !errors.Is(err, ledger.ErrPersistence) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	out.failMark = false
	if _, err := a.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if rem.calls != 2 || len(rem.rows) != 3 {
		t.Fatalf("expected the batch resent and merged: calls=%d rows=%d", rem.calls, len(rem.rows))
	}
	pending, _ := st.ListUnsynced(ctx, 0)
	if len(pending) != 0 {
		t.Fatalf("pending = %d", len(pending))
	}
}

func TestDrainPushesEveryBatch(t *testing.T) {
	st := seededLedger(t, 5)
	rem := newFakeRemote()
	a := New(st, rem, Config{BatchSize: 2}, nil)
	res, err := a.Drain(context.Background())
	if err != nil || res.Pushed != 5 {
		t.Fatalf("drain = %+v, %v", res, err)
	}
	if rem.calls != 3 {
		t.Fatalf("expected 3 batches, got %d", rem.calls)
	}
}

func TestDisabledAgentIsNoop(t *testing.T) {
	a := New(seededLedger(t, 1), nil, Config{}, nil)
	if a.Enabled() {
		t.Fatalf("agent without remote should be disabled")
	}
	if res, err := a.RunOnce(context.Background()); err != nil || res.Pushed != 0 {
		t.Fatalf("disabled run = %+v, %v", res, err)
	}
}
