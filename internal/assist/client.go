// Package assist asks a remote generation service for Lua code from a
// natural-language prompt.
package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultURL     = "https://nitrobot.vercel.app/generate"
	DefaultTimeout = 60 * time.Second

	maxResponseBytes = 1 << 20
)

// User-facing failure messages.
const (
	MsgRateLimited = "Rate limit exceeded. Please wait a moment before trying again."
	MsgUnreachable = "AI service endpoint could not be reached."
	MsgUnavailable = "AI service is currently unavailable. Please try again later."
	MsgConnection  = "Connection error. Please check your internet connection."
	MsgTimeout     = "Request timed out. Please try again."
)

// ErrEmptyPrompt is returned before any request is made.
var ErrEmptyPrompt = errors.New("empty prompt")

// APIError captures non-success HTTP responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("assist api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("assist api error: status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// ServiceError is an error the service reported inside a 200 response.
type ServiceError struct {
	Message string
}

func (e ServiceError) Error() string { return e.Message }

// Suggestion is generated code with its explanation, both trimmed.
type Suggestion struct {
	Code        string `json:"code"`
	Explanation string `json:"explanation"`
}

type request struct {
	Prompt    string  `json:"prompt"`
	Context   string  `json:"context"`
	Timestamp float64 `json:"timestamp"` // unix seconds
}

// Client talks to the generation endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	sleep      func(time.Duration)
	now        func() time.Time
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

// WithURL overrides the generation endpoint.
func WithURL(u string) Option {
	return func(c *Client) {
		if strings.TrimSpace(u) != "" {
			c.url = strings.TrimSpace(u)
		}
	}
}

// WithRetry configures retries for server errors and dropped connections.
// Rate limiting is never retried.
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

// WithClock overrides the request timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient constructs an assist client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		url:        DefaultURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		maxRetries: 1,
		baseDelay:  time.Second,
		sleep:      time.Sleep,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate sends prompt with the current editor content as context.
func (c *Client) Generate(ctx context.Context, prompt, editor string) (Suggestion, error) {
	if strings.TrimSpace(prompt) == "" {
		return Suggestion{}, ErrEmptyPrompt
	}
	payload, err := json.Marshal(request{
		Prompt:    prompt,
		Context:   editor,
		Timestamp: float64(c.now().UnixNano()) / 1e9,
	})
	if err != nil {
		return Suggestion{}, err
	}

	body, err := c.post(ctx, payload)
	if err != nil {
		return Suggestion{}, err
	}

	var resp struct {
		Code        string          `json:"code"`
		Explanation string          `json:"explanation"`
		Error       json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Suggestion{}, fmt.Errorf("decode assist response: %w", err)
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return Suggestion{}, ServiceError{Message: errorText(resp.Error)}
	}
	return Suggestion{
		Code:        strings.TrimSpace(resp.Code),
		Explanation: strings.TrimSpace(resp.Explanation),
	}, nil
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries && !isTimeout(err) && ctx.Err() == nil {
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

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		apiErr := APIError{StatusCode: resp.StatusCode, Body: string(body)}
		lastErr = apiErr
		if attempt < c.maxRetries && resp.StatusCode >= 500 {
			c.sleep(backoffDelay(c.baseDelay, attempt))
			continue
		}
		return nil, apiErr
	}
	return nil, lastErr
}

// Describe turns a Generate error into the message shown to the user.
func Describe(err error) string {
	var apiErr APIError
	var svcErr ServiceError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyPrompt):
		return "Prompt is empty."
	case errors.As(err, &svcErr):
		return svcErr.Message
	case errors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return MsgRateLimited
		case apiErr.StatusCode == http.StatusNotFound:
			return MsgUnreachable
		case apiErr.StatusCode >= 500:
			return MsgUnavailable
		default:
			return fmt.Sprintf("HTTP Error %d: %s", apiErr.StatusCode, http.StatusText(apiErr.StatusCode))
		}
	case isTimeout(err):
		return MsgTimeout
	case isConnection(err):
		return MsgConnection
	default:
		return "Error making request: " + err.Error()
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnection(err error) bool {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	return errors.As(err, &opErr) || errors.As(err, &dnsErr)
}

// errorText accepts both "error": "msg" and structured error values.
func errorText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > 8*time.Second {
			return 8 * time.Second
		}
	}
	return delay
}
