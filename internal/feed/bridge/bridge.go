// Package bridge talks to an external UI automation agent over a websocket.
// The agent owns the browser; this side only asks it to list, reveal older
// items or scroll back to the newest ones.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"beer_counter/internal/feed"
)

const (
	OpList         = "list"
	OpRevealOlder  = "reveal_older"
	OpScrollLatest = "scroll_latest"

	readLimit = 4 << 20
)

// ErrAgent is returned when the agent answers a call with ok=false.
var ErrAgent = errors.New("bridge agent error")

type request struct {
	ID string `json:"id"`
	Op string `json:"op"`
}

type response struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Window json.RawMessage `json:"window,omitempty"`
}

// Client implements feed.Source against a bridge agent. Calls are serialised
// and the connection is re-dialled after any failure.
type Client struct {
	url     string
	token   string
	timeout time.Duration
	log     *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ feed.Source = (*Client)(nil)

func NewClient(url, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{url: url, token: token, timeout: timeout, log: logger}
}

func (c *Client) ListVisible(ctx context.Context) ([]feed.Message, error) {
	raw, err := c.call(ctx, OpList)
	if err != nil {
		return nil, err
	}
	return feed.DecodeWindow(raw)
}

func (c *Client) RevealOlder(ctx context.Context) error {
	_, err := c.call(ctx, OpRevealOlder)
	return err
}

func (c *Client) ScrollToLatest(ctx context.Context) error {
	_, err := c.call(ctx, OpScrollLatest)
	return err
}

// Close drops the agent connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	return err
}

func (c *Client) call(ctx context.Context, op string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("bridge dial: %w", err)
	}
	id := uuid.NewString()
	if err := wsjson.Write(ctx, conn, request{ID: id, Op: op}); err != nil {
		c.drop()
		return nil, fmt.Errorf("bridge %s: %w", op, err)
	}
	for {
		var resp response
		if err := wsjson.Read(ctx, conn, &resp); err != nil {
			c.drop()
			return nil, fmt.Errorf("bridge %s: %w", op, err)
		}
		if resp.ID != id {
			c.log.Debug("bridge dropped stale response", "id", resp.ID, "want", id)
			continue
		}
		if !resp.OK {
			return nil, fmt.Errorf("%w: %s: %s", ErrAgent, op, resp.Error)
		}
		return resp.Window, nil
	}
}

// connect must be called with mu held.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	c.conn = conn
	c.log.Info("bridge connected", "url", c.url)
	return conn, nil
}

func (c *Client) drop() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close(websocket.StatusGoingAway, "call failed")
	c.conn = nil
}
