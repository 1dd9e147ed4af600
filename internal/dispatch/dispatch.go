// Package dispatch forwards script bodies to the local execution service.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"scriptdeck/internal/probe"
)

// Kind classifies a failed dispatch.
type Kind string

const (
	KindNone               Kind = ""
	KindServiceUnavailable Kind = "service_unavailable"
	KindRemoteRejected     Kind = "remote_rejected"
	KindTransportError     Kind = "transport_error"
)

// ExecutePath is the service endpoint that accepts script bodies.
const ExecutePath = "/execute"

// UnavailableMessage is shown when no port in range answered the challenge.
const UnavailableMessage = "Execution service not detected: make sure the target process is running and the companion service is installed"

// maxResponseBody bounds how much of a rejection body is kept.
const maxResponseBody = 64 << 10

// Locator finds the execution service. *probe.Prober implements it.
type Locator interface {
	Locate(ctx context.Context) (probe.Service, error)
}

// Result is the outcome of one dispatch attempt.
type Result struct {
	OK       bool   `json:"ok"`
	Kind     Kind   `json:"kind,omitempty"`
	Port     int    `json:"port,omitempty"`
	Status   int    `json:"status,omitempty"`
	Body     string `json:"body,omitempty"`
	Message  string `json:"message"`
	Duration string `json:"duration"`

	Elapsed time.Duration `json:"-"`
}

// Err converts a failed result into an error, nil when OK.
func (r *Result) Err() error {
	if r.OK {
		return nil
	}
	return &Error{Kind: r.Kind, Status: r.Status, Message: r.Message}
}

// Error is the error form of a failed Result.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the client used for the execute POST.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// Dispatcher locates the service and POSTs scripts to it. Each Dispatch call
// makes at most one POST; nothing is retried or deduplicated.
type Dispatcher struct {
	locator Locator
	client  *http.Client
	logger  *slog.Logger
}

// New creates a Dispatcher.
func New(locator Locator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		locator: locator,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatch")
	return d
}

// Dispatch sends body to the execution service. It never returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, body string) *Result {
	start := time.Now()
	res := d.dispatch(ctx, body)
	res.Elapsed = time.Since(start)
	res.Duration = res.Elapsed.String()
	if res.OK {
		d.logger.Info("script dispatched", "port", res.Port, "bytes", len(body), "duration", res.Duration)
	} else {
		d.logger.Warn("script dispatch failed", "kind", res.Kind, "port", res.Port, "status", res.Status, "msg", res.Message)
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, body string) *Result {
	svc, err := d.locator.Locate(ctx)
	if err != nil {
		if errors.Is(err, probe.ErrNotFound) {
			return &Result{Kind: KindServiceUnavailable, Message: UnavailableMessage}
		}
		// Cancelled while probing, or a bad range; the service state is unknown.
		return &Result{Kind: KindTransportError, Message: "probe: " + err.Error()}
	}

	res := &Result{Port: svc.Port}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.BaseURL()+ExecutePath, strings.NewReader(body))
	if err != nil {
		res.Kind = KindTransportError
		res.Message = fmt.Sprintf("build request: %v", err)
		return res
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := d.client.Do(req)
	if err != nil {
		// The service answered the probe moments ago but may have stopped since.
		res.Kind = KindTransportError
		res.Message = fmt.Sprintf("Script execution failed: %v", err)
		return res
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	if resp.StatusCode == http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		res.OK = true
		res.Message = "Script executed successfully"
		return res
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		d.logger.Debug("read rejection body", "err", err)
	}
	res.Kind = KindRemoteRejected
	res.Body = string(data)
	res.Message = fmt.Sprintf("Script execution failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(res.Body))
	return res
}
