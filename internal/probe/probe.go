// Package probe locates the local execution service by scanning a port range
// for a listener that answers a fixed challenge.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Defaults for the execution service challenge.
const (
	DefaultHost           = "127.0.0.1"
	DefaultStartPort      = 6969
	DefaultEndPort        = 7069
	DefaultChallengePath  = "/secret"
	DefaultChallengeValue = "0xdeadbeef"
	DefaultTimeout        = 250 * time.Millisecond
)

// ErrNotFound is returned by Locate when no port in range answered the
// challenge. It is the normal outcome when the target process is not running.
var ErrNotFound = errors.New("execution service not found")

// Config describes the port range and challenge to probe.
type Config struct {
	Host           string
	StartPort      int
	EndPort        int
	ChallengePath  string
	ChallengeValue string
	Timeout        time.Duration // per port
}

// DefaultConfig returns the standard 6969-7069 challenge configuration.
func DefaultConfig() Config {
	return Config{
		Host:           DefaultHost,
		StartPort:      DefaultStartPort,
		EndPort:        DefaultEndPort,
		ChallengePath:  DefaultChallengePath,
		ChallengeValue: DefaultChallengeValue,
		Timeout:        DefaultTimeout,
	}
}

func (c *Config) fillDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.StartPort == 0 && c.EndPort == 0 {
		c.StartPort, c.EndPort = DefaultStartPort, DefaultEndPort
	}
	if c.ChallengePath == "" {
		c.ChallengePath = DefaultChallengePath
	}
	if c.ChallengeValue == "" {
		c.ChallengeValue = DefaultChallengeValue
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Validate checks the port range.
func (c Config) Validate() error {
	if c.StartPort < 1 || c.EndPort > 65535 {
		return fmt.Errorf("probe port range %d-%d outside 1-65535", c.StartPort, c.EndPort)
	}
	if c.StartPort > c.EndPort {
		return fmt.Errorf("probe start port %d is after end port %d", c.StartPort, c.EndPort)
	}
	return nil
}

// Service is a discovered execution service. It is never cached: the remote
// port may change between runs.
type Service struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// BaseURL returns the service root, e.g. http://127.0.0.1:6969.
func (s Service) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// Candidate is the outcome of probing a single port.
type Candidate struct {
	Port   int    `json:"port"`
	Match  bool   `json:"match"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Option configures a Prober.
type Option func(*Prober)

// WithHTTPClient overrides the HTTP client used for challenge requests. The
// client's own Timeout is left alone; the per-port timeout is applied through
// the request context.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) {
		if c != nil {
			p.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.logger = l
		}
	}
}

// Prober scans the configured range for the execution service.
type Prober struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a Prober. Zero-valued config fields take the defaults.
func New(cfg Config, opts ...Option) *Prober {
	cfg.fillDefaults()
	p := &Prober{
		cfg: cfg,
		client: &http.Client{
			// Never follow redirects off the probed port.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "probe")
	return p
}

// Config returns the effective configuration.
func (p *Prober) Config() Config {
	return p.cfg
}

// Locate scans the range in ascending order and returns the first port whose
// challenge response is status 200 with the exact challenge body. Each port is
// tried once. ErrNotFound is returned after the whole range is exhausted; an
// invalid range is reported without probing.
func (p *Prober) Locate(ctx context.Context) (Service, error) {
	if err := p.cfg.Validate(); err != nil {
		return Service{}, err
	}
	for port := p.cfg.StartPort; port <= p.cfg.EndPort; port++ {
		if err := ctx.Err(); err != nil {
			return Service{}, err
		}
		c := p.check(ctx, port)
		if c.Match {
			p.logger.Debug("execution service found", "port", port)
			return Service{Host: p.cfg.Host, Port: port}, nil
		}
	}
	p.logger.Debug("execution service not found", "start", p.cfg.StartPort, "end", p.cfg.EndPort)
	return Service{}, ErrNotFound
}

// Scan probes every port in range and reports each outcome. Used for
// diagnostics; dispatch goes through Locate. An inverted range yields nothing.
func (p *Prober) Scan(ctx context.Context) []Candidate {
	out := make([]Candidate, 0, max(0, p.cfg.EndPort-p.cfg.StartPort+1))
	for port := p.cfg.StartPort; port <= p.cfg.EndPort; port++ {
		if ctx.Err() != nil {
			break
		}
		out = append(out, p.check(ctx, port))
	}
	return out
}

func (p *Prober) check(ctx context.Context, port int) Candidate {
	c := Candidate{Port: port}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d%s", p.cfg.Host, port, p.cfg.ChallengePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.Error = err.Error()
		return c
	}
	resp, err := p.client.Do(req)
	if err != nil {
		c.Error = err.Error()
		return c
	}
	defer resp.Body.Close()

	c.Status = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		return c
	}
	// Read one byte past the challenge so a longer body cannot match.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(len(p.cfg.ChallengeValue))+1))
	if err != nil {
		c.Error = err.Error()
		return c
	}
	c.Match = string(body) == p.cfg.ChallengeValue
	return c
}
