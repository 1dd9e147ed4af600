// Package catalog queries the public script catalog and resolves game names
// from universe IDs.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL  = "https://scriptblox.com"
	DefaultGamesURL = "https://games.roblox.com"

	maxResponseBytes = 8 << 20
)

var (
	// ErrGameNotFound indicates the games API knows no game for the ID.
	ErrGameNotFound = errors.New("game not found")
	// ErrMissingID indicates an empty universe ID.
	ErrMissingID = errors.New("missing universe id")
)

// APIError captures non-success HTTP responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("catalog api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("catalog api error: status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Client talks to the catalog and games APIs.
type Client struct {
	baseURL    string
	gamesURL   string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	sleep      func(time.Duration)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithBaseURL overrides the catalog API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(baseURL) != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithGamesURL overrides the games API root.
func WithGamesURL(gamesURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(gamesURL) != "" {
			c.gamesURL = strings.TrimRight(gamesURL, "/")
		}
	}
}

// WithRetry configures retries for transient failures.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if baseDelay > 0 {
			c.baseDelay = baseDelay
		}
	}
}

// WithSleepFn overrides the sleep function (useful for tests).
func WithSleepFn(sleepFn func(time.Duration)) Option {
	return func(c *Client) {
		if sleepFn != nil {
			c.sleep = sleepFn
		}
	}
}

// NewClient constructs a catalog client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		gamesURL:   DefaultGamesURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		maxRetries: 2,
		baseDelay:  250 * time.Millisecond,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search returns the catalog's raw JSON for query. An empty query fetches
// the default listing.
func (c *Client) Search(ctx context.Context, query string) (json.RawMessage, error) {
	u := c.baseURL + "/api/script/fetch"
	if q := strings.TrimSpace(query); q != "" {
		u = c.baseURL + "/api/script/search?q=" + url.QueryEscape(q)
	}
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, errors.New("decode catalog response: invalid JSON")
	}
	return json.RawMessage(body), nil
}

// GameName resolves a universe ID to the game's display name.
func (c *Client) GameName(ctx context.Context, universeID string) (string, error) {
	universeID = strings.TrimSpace(universeID)
	if universeID == "" {
		return "", ErrMissingID
	}
	body, err := c.get(ctx, c.gamesURL+"/v1/games?universeIds="+url.QueryEscape(universeID))
	if err != nil {
		return "", err
	}

	var resp struct {
		Data []struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode games response: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].Name == "" {
		return "", fmt.Errorf("universe %s: %w", universeID, ErrGameNotFound)
	}
	return resp.Data[0].Name, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries && isTransientError(err) {
				c.sleep(backoffDelay(c.baseDelay, attempt))
				continue
			}
			return nil, err
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		closeErr := resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		if closeErr != nil {
			return nil, closeErr
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		apiErr := APIError{StatusCode: resp.StatusCode, Body: string(body)}
		lastErr = apiErr
		if attempt < c.maxRetries && isTransientStatus(resp.StatusCode) {
			c.sleep(backoffDelay(c.baseDelay, attempt))
			continue
		}
		return nil, apiErr
	}

	if lastErr == nil {
		lastErr = errors.New("request failed")
	}
	return nil, lastErr
}

func isTransientError(err error) bool {
	return !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled)
}

func isTransientStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	default:
		return status >= 500
	}
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > 4*time.Second {
			return 4 * time.Second
		}
	}
	return delay
}
