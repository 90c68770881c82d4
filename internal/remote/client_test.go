package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"beer_counter/internal/ledger"
)

func TestUpsertSendsBatchWithHeaders(t *testing.T) {
	var got []Row
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		header = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "k3y", nil)
	ts := time.Date(2024, time.March, 10, 10, 51, 0, 0, time.FixedZone("CET", 3600))
	rows := []Row{RowFromEvent(ledger.Event{ID: "m1", Author: "Ana", Timestamp: ts, Quantity: 2})}
	if err := c.Upsert(context.Background(), rows); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(got) != 1 || got[0].Timestamp != "2024-03-10T09:51:00Z" || got[0].BeerCount != 2 || got[0].UserName != "Ana" {
		t.Fatalf("unexpected body %+v", got)
	}
	if header.Get("apikey") != "k3y" || header.Get("Authorization") != "Bearer k3y" {
		t.Fatalf("missing auth headers: %v", header)
	}
	if header.Get("Prefer") != "resolution=merge-duplicates" || header.Get("X-Correlation-Id") == "" {
		t.Fatalf("missing upsert headers: %v", header)
	}
}

func TestUpsertReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"PGRST301","message":"JWT expired"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "", "k", nil).Upsert(context.Background(), []Row{{ID: "m1"}})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusUnauthorized || httpErr.Code != "PGRST301" {
		t.Fatalf("unexpected error %+v", httpErr)
	}
}

func TestFetchAllUsesReadEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/messages" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"m1","user_name":"Ana","timestamp":"2024-03-10T09:51:00","beer_count":3}]`))
	}))
	defer srv.Close()

	rows, err := NewClient(srv.URL, "", "k", nil).FetchAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("unexpected rows %+v", rows)
	}
	ev := rows[0].Event()
	if ev.Quantity != 3 || !ev.Timestamp.Equal(time.Date(2024, time.March, 10, 9, 51, 0, 0, time.UTC)) {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestClientEnabled(t *testing.T) {
	if NewClient("", "", "", nil).Enabled() {
		t.Fatalf("empty url should disable the client")
	}
	if err := NewClient("", "", "", nil).Upsert(context.Background(), nil); err != nil {
		t.Fatalf("empty batch should be a no-op: %v", err)
	}
}
