package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"scriptdeck/internal/events"
)

const (
	consoleQueue    = 256 // encoded events waiting for fan-out
	clientQueue     = 128 // per client
	wsWriteTimeout  = 10 * time.Second
	wsPingInterval  = 30 * time.Second
	wsCloseEvicted  = "console too slow"
	wsCloseShutdown = "server shutdown"
)

// consoleHub fans bus events out to websocket console clients. Each event is
// encoded once. A client whose queue is full is dropped so it cannot hold
// up the rest.
type consoleHub struct {
	logger   *slog.Logger
	snapshot func() []events.Event

	mu      sync.Mutex
	clients map[*consoleClient]struct{}
	closed  bool

	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

type consoleClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *consoleClient) offer(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func newConsoleHub(logger *slog.Logger, snapshot func() []events.Event) *consoleHub {
	return &consoleHub{
		logger:   logger,
		snapshot: snapshot,
		clients:  make(map[*consoleClient]struct{}),
		queue:    make(chan []byte, consoleQueue),
		done:     make(chan struct{}),
	}
}

// run delivers queued events until stop.
func (h *consoleHub) run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return
		case msg := <-h.queue:
			h.fanout(msg)
		}
	}
}

func (h *consoleHub) stop() {
	h.once.Do(func() { close(h.done) })
}

// publish encodes ev and queues it without blocking. Events are dropped
// while the queue is full.
func (h *consoleHub) publish(ev events.Event) {
	msg, ok := h.encode(ev)
	if !ok {
		return
	}
	select {
	case h.queue <- msg:
	default:
		h.logger.Warn("console queue full, dropping event", "type", ev.Type)
	}
}

// join adds c and queues the snapshot ahead of any later event. It reports
// false once the hub has stopped.
func (h *consoleHub) join(c *consoleClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.snapshot != nil {
		for _, ev := range h.snapshot() {
			if msg, ok := h.encode(ev); ok && !c.offer(msg) {
				break
			}
		}
	}
	h.logger.Debug("console client connected", "total", len(h.clients))
	return true
}

func (h *consoleHub) leave(c *consoleClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Debug("console client disconnected", "total", len(h.clients))
}

func (h *consoleHub) fanout(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.offer(msg) {
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("console client evicted", "reason", wsCloseEvicted)
		}
	}
}

func (h *consoleHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *consoleHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *consoleHub) encode(ev events.Event) ([]byte, bool) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode console event", "type", ev.Type, "err", err)
		return nil, false
	}
	return msg, true
}

// handleWS streams console events to the client. The stream is one-way;
// a data frame from the client closes the connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	defer conn.CloseNow()

	c := &consoleClient{conn: conn, send: make(chan []byte, clientQueue)}
	if !s.wsHub.join(c) {
		conn.Close(websocket.StatusGoingAway, wsCloseShutdown)
		return
	}
	defer s.wsHub.leave(c)

	s.streamConsole(conn.CloseRead(context.Background()), c)
}

func (s *Server) streamConsole(ctx context.Context, c *consoleClient) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				select {
				case <-s.wsHub.done:
					c.conn.Close(websocket.StatusGoingAway, wsCloseShutdown)
				default:
					c.conn.Close(websocket.StatusTryAgainLater, wsCloseEvicted)
				}
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				s.logger.Debug("console ping failed", "err", err)
				return
			}
		}
	}
}
