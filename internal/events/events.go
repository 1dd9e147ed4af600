// Package events fans application events out to the console stream, the MQTT
// bridge and anything else that subscribes.
package events

import (
	"log/slog"
	"sort"
	"sync"
)

// Event types
const (
	ConsoleInfo    = "console_info"
	ConsoleBatch   = "console_batch"
	DispatchResult = "dispatch_result"
	ScriptsChanged = "scripts_changed"
	TailState      = "tail_state"
)

// Event is a typed payload broadcast on the bus.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// InfoData is the payload of ConsoleInfo.
type InfoData struct {
	Message string `json:"message"`
}

// BatchData is the payload of ConsoleBatch. Lines are already escaped.
type BatchData struct {
	Lines []string `json:"lines"`
}

// DispatchData is the payload of DispatchResult.
type DispatchData struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	Script     string `json:"script,omitempty"`
	OK         bool   `json:"ok"`
	Kind       string `json:"kind,omitempty"`
	Port       int    `json:"port,omitempty"`
	Status     int    `json:"status,omitempty"`
	Message    string `json:"message"`
	DurationMS int64  `json:"duration_ms"`
}

// ScriptsData is the payload of ScriptsChanged.
type ScriptsData struct {
	Action string `json:"action"` // saved, deleted, renamed, autoexec
	Name   string `json:"name"`
	From   string `json:"from,omitempty"`
}

// TailData is the payload of TailState.
type TailData struct {
	Running     bool    `json:"running"`
	RefreshRate float64 `json:"refresh_rate"`
	Dir         string  `json:"dir"`
	Error       string  `json:"error,omitempty"`
}

// Handler is a callback for events.
type Handler func(Event)

// Bus provides pub/sub for application events.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]Handler
	allHandlers map[uint64]Handler
	nextID      uint64
	logger      *slog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers:    make(map[string]map[uint64]Handler),
		allHandlers: make(map[uint64]Handler),
		logger:      logger.With("component", "events"),
	}
}

// On registers a handler for one event type and returns its unsubscribe func.
func (b *Bus) On(eventType string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[uint64]Handler)
	}
	b.handlers[eventType][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// OnAll registers a handler that receives every event.
func (b *Bus) OnAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.allHandlers[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.allHandlers, id)
	}
}

type entry struct {
	id uint64
	h  Handler
}

// Emit calls matching handlers synchronously in subscription order. A
// panicking handler is recovered and the rest still run.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	list := make([]entry, 0, len(b.handlers[ev.Type])+len(b.allHandlers))
	for id, h := range b.handlers[ev.Type] {
		list = append(list, entry{id, h})
	}
	for id, h := range b.allHandlers {
		list = append(list, entry{id, h})
	}
	b.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })

	for _, e := range list {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic", "type", ev.Type, "panic", r)
				}
			}()
			e.h(ev)
		}()
	}
}
