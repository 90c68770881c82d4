// Package remote is the client for the aggregation store, a PostgREST style
// endpoint that upserts rows keyed by id.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"beer_counter/internal/ledger"
)

const defaultReadPath = "/rest/v1/messages"

// Row is the remote table shape.
type Row struct {
	ID        string `json:"id"`
	UserName  string `json:"user_name"`
	Timestamp string `json:"timestamp"`
	BeerCount int    `json:"beer_count"`
}

func RowFromEvent(ev ledger.Event) Row {
	return Row{
		ID:        ev.ID,
		UserName:  ev.Author,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
		BeerCount: ev.Quantity,
	}
}

// Event converts a fetched row back. Rows with an unreadable timestamp keep
// the zero time.
func (r Row) Event() ledger.Event {
	ts, err := time.Parse(time.RFC3339, r.Timestamp)
	if err != nil {
		ts, _ = time.Parse("2006-01-02T15:04:05", r.Timestamp)
	}
	return ledger.Event{ID: r.ID, Author: r.UserName, Timestamp: ts.UTC(), Quantity: r.BeerCount}
}

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	upsertURL  string
	readURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient posts upserts to upsertURL and reads from readURL, which
// defaults to upsertURL + /rest/v1/messages.
func NewClient(upsertURL, readURL, apiKey string, httpClient *http.Client) *Client {
	upsertURL = strings.TrimRight(strings.TrimSpace(upsertURL), "/")
	readURL = strings.TrimSpace(readURL)
	if readURL == "" && upsertURL != "" {
		readURL = upsertURL + defaultReadPath
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{upsertURL: upsertURL, readURL: readURL, apiKey: strings.TrimSpace(apiKey), httpClient: httpClient}
}

// Enabled reports whether an upsert endpoint is configured.
func (c *Client) Enabled() bool { return c.upsertURL != "" }

// Upsert sends rows as one batch. The store merges duplicates by id, so a
// repeated batch is harmless.
func (c *Client) Upsert(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	headers := map[string]string{"Prefer": "resolution=merge-duplicates"}
	return c.doJSON(ctx, http.MethodPost, c.upsertURL, headers, rows, nil)
}

// FetchAll returns every row of the read endpoint.
func (c *Client) FetchAll(ctx context.Context) ([]Row, error) {
	var rows []Row
	if err := c.doJSON(ctx, http.MethodGet, c.readURL, nil, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	if url == "" {
		return fmt.Errorf("remote endpoint not configured")
	}
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Correlation-Id", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		return json.Unmarshal(payload, out)
	}
	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	if errPayload.Message == "" {
		errPayload.Message = strings.TrimSpace(string(payload))
	}
	return &HTTPError{StatusCode: resp.StatusCode, Code: errPayload.Code, Message: errPayload.Message}
}
