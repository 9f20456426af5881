package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type AuthStyle int

const (
	AuthBearer     AuthStyle = iota // Authorization: Bearer <key>
	AuthGoogAPIKey                  // x-goog-api-key: <key>
)

var (
	ErrMissingAPIKey = errors.New("api key not configured")
	// ErrRateLimited marks an HTTP 429 or an exhausted quota upstream.
	ErrRateLimited = errors.New("rate limited")
)

// Upstream is an HTTP completion endpoint.
type Upstream struct {
	Name      string
	BaseURL   string // e.g. "https://api.groq.com/openai"
	AuthStyle AuthStyle
	APIKey    string
}

// SetAuthHeader sets the appropriate auth header on an outgoing request.
func (u Upstream) SetAuthHeader(req *http.Request) {
	switch u.AuthStyle {
	case AuthGoogAPIKey:
		req.Header.Set("x-goog-api-key", u.APIKey)
	default:
		req.Header.Set("Authorization", "Bearer "+u.APIKey)
	}
}

var defaultHTTPClient = &http.Client{Timeout: 60 * time.Second}

const maxErrorBody = 512

// postJSON sends body to the upstream path and decodes a 2xx JSON response
// into out.
func postJSON(ctx context.Context, client *http.Client, u Upstream, path string, body, out interface{}) error {
	if u.APIKey == "" {
		return fmt.Errorf("%s: %w", u.Name, ErrMissingAPIKey)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	url := strings.TrimRight(u.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	u.SetAuthHeader(req)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", u.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		text := strings.TrimSpace(string(msg))
		if resp.StatusCode == http.StatusTooManyRequests || strings.Contains(text, "Quota exceeded") {
			return fmt.Errorf("%s: HTTP %d: %w: %s", u.Name, resp.StatusCode, ErrRateLimited, text)
		}
		return fmt.Errorf("%s: HTTP %d: %s", u.Name, resp.StatusCode, text)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", u.Name, err)
	}
	return nil
}
