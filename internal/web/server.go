// Package web serves the JSON API and the websocket console stream used by
// the browser front end.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"scriptdeck/internal/assist"
	"scriptdeck/internal/deck"
	"scriptdeck/internal/events"
)

// maxScriptBytes bounds request bodies that carry script source.
const maxScriptBytes = 4 << 20

// Catalog looks up remote scripts and game names. *catalog.Client implements it.
type Catalog interface {
	Search(ctx context.Context, query string) (json.RawMessage, error)
	GameName(ctx context.Context, universeID string) (string, error)
}

// Assistant turns a prompt into Lua code. *assist.Client implements it.
type Assistant interface {
	Generate(ctx context.Context, prompt, editor string) (assist.Suggestion, error)
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed origin patterns for mutating requests and
// WebSocket upgrades.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithCatalog enables the catalog search and game lookup endpoints.
func WithCatalog(c Catalog) ServerOption {
	return func(s *Server) {
		s.catalog = c
	}
}

// WithAssistant enables the code generation endpoint.
func WithAssistant(a Assistant) ServerOption {
	return func(s *Server) {
		s.assistant = a
	}
}

// WithVersion sets the application version string.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server for the front end.
type Server struct {
	deck           *deck.Deck
	catalog        Catalog
	assistant      Assistant
	wsHub          *consoleHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates the server and starts its websocket hub.
func NewServer(d *deck.Deck, logger *slog.Logger, opts ...ServerOption) *Server {
	logger = logger.With("component", "web")
	s := &Server{
		deck:   d,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = newConsoleHub(logger, s.snapshot)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.run()
	}()

	// Every bus event goes to every console client.
	s.unsubEvents = d.Bus().OnAll(s.wsHub.publish)

	s.routes()
	return s
}

// Stop detaches from the bus, closes console clients and waits for the hub.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	// Scripts
	s.mux.HandleFunc("GET /api/scripts", s.handleAPIListScripts)
	s.mux.HandleFunc("POST /api/scripts", s.handleAPISaveScript)
	s.mux.HandleFunc("POST /api/scripts/check", s.handleAPICheckScript)
	s.mux.HandleFunc("GET /api/scripts/{name}", s.handleAPIGetScript)
	s.mux.HandleFunc("DELETE /api/scripts/{name}", s.handleAPIDeleteScript)
	s.mux.HandleFunc("POST /api/scripts/{name}/rename", s.handleAPIRenameScript)
	s.mux.HandleFunc("POST /api/scripts/{name}/autoexec", s.handleAPISetAutoExec)
	s.mux.HandleFunc("POST /api/scripts/{name}/run", s.handleAPIRunScript)
	s.mux.HandleFunc("GET /api/quickrun", s.handleAPIQuickRun)

	// Execution
	s.mux.HandleFunc("POST /api/execute", s.handleAPIExecute)

	// Log tail
	s.mux.HandleFunc("GET /api/tail", s.handleAPITailState)
	s.mux.HandleFunc("POST /api/tail/start", s.handleAPITailStart)
	s.mux.HandleFunc("POST /api/tail/stop", s.handleAPITailStop)
	s.mux.HandleFunc("PUT /api/tail/rate", s.handleAPITailRate)

	// History
	s.mux.HandleFunc("GET /api/history", s.handleAPIListHistory)
	s.mux.HandleFunc("GET /api/history/{id}", s.handleAPIGetHistory)
	s.mux.HandleFunc("DELETE /api/history", s.handleAPIClearHistory)

	// Catalog
	s.mux.HandleFunc("GET /api/catalog", s.handleAPICatalogSearch)
	s.mux.HandleFunc("GET /api/games/{id}", s.handleAPIGameName)

	// Assistant
	s.mux.HandleFunc("POST /api/assist", s.handleAPIAssist)

	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if s.apiKey != "" {
		// Browsers cannot send custom headers on a WS upgrade, so only /api/
		// is key-protected; /ws relies on the origin check.
		if strings.HasPrefix(r.URL.Path, "/api/") {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// snapshot is sent to each console client as it connects.
func (s *Server) snapshot() []events.Event {
	return []events.Event{{Type: events.TailState, Data: s.deck.TailState()}}
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
