package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Message is one outbound chat post.
type Message struct {
	Text string `json:"text"`
}

// Poster posts messages to a GroupMe style bot endpoint.
type Poster struct {
	url        string
	botID      string
	httpClient *http.Client
}

func NewPoster(url, botID string, httpClient *http.Client) *Poster {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Poster{url: strings.TrimSpace(url), botID: strings.TrimSpace(botID), httpClient: httpClient}
}

func (p *Poster) Enabled() bool { return p != nil && p.url != "" }

// Post sends msg. It is a no-op when no endpoint is configured.
func (p *Poster) Post(ctx context.Context, msg Message) error {
	if !p.Enabled() {
		return nil
	}
	payload := map[string]string{"text": msg.Text}
	if p.botID != "" {
		payload["bot_id"] = p.botID
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify status %d", resp.StatusCode)
	}
	return nil
}
