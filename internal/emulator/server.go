// Package emulator is a local stand-in for the execution service. It answers
// the discovery challenge, runs posted scripts in a sandboxed Lua VM and
// appends their output to a log file, so probing, dispatch and log tailing
// can be exercised without the real target.
package emulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"scriptdeck/internal/dispatch"
	"scriptdeck/internal/probe"
)

const (
	DefaultPort    = probe.DefaultStartPort
	DefaultTimeout = 5 * time.Second

	maxScriptBytes = 4 << 20
)

// Config controls an emulator Server.
type Config struct {
	Host    string
	Port    int
	LogDir  string
	Timeout time.Duration
}

// Server serves the challenge and execute endpoints.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	log     *logFile
	sandbox *Sandbox
	mux     *http.ServeMux
	now     func() time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithClock replaces the clock used for log file names and line stamps.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New opens a fresh log file in cfg.LogDir and returns a ready Server.
func New(cfg Config, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = probe.DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LogDir == "" {
		return nil, errors.New("emulator: log dir is required")
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "emulator"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	lf, err := openLogFile(cfg.LogDir, s.now)
	if err != nil {
		return nil, err
	}
	s.log = lf
	s.sandbox = newSandbox(cfg.Timeout, s.logger, lf.WriteLine)

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET "+probe.DefaultChallengePath, s.handleSecret)
	s.mux.HandleFunc("POST "+dispatch.ExecutePath, s.handleExecute)
	return s, nil
}

// LogPath returns the file this session writes to.
func (s *Server) LogPath() string { return s.log.Path() }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("emulator listening", "addr", addr, "log", s.log.Path())
		s.log.WriteLine("[INFO] Execution service emulator started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.log.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.log.Close()
		return err
	}
}

// Close releases the log file.
func (s *Server) Close() error {
	return s.log.Close()
}

func (s *Server) handleSecret(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, probe.DefaultChallengeValue)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxScriptBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty script", http.StatusBadRequest)
		return
	}

	res := s.sandbox.Run(r.Context(), string(body))
	w.Header().Set("Content-Type", "text/plain")
	switch {
	case res.OK:
		s.logger.Info("script executed", "bytes", len(body), "lines", len(res.Logs), "duration", res.Duration)
		io.WriteString(w, "OK")
	case res.Compile:
		s.log.WriteLine("[ERROR] " + res.Error)
		http.Error(w, fmt.Sprintf("compile error: %s", res.Error), http.StatusBadRequest)
	default:
		s.log.WriteLine("[ERROR] " + res.Error)
		http.Error(w, fmt.Sprintf("runtime error: %s", res.Error), http.StatusInternalServerError)
	}
}
