// Package history keeps a bounded log of dispatched scripts.
package history

import (
	"errors"
	"time"
)

// Sources of a dispatch.
const (
	SourceAPI      = "api"
	SourceCLI      = "cli"
	SourceMQTT     = "mqtt"
	SourceQuickRun = "quickrun"
)

// DefaultMaxEntries caps the store when no limit is configured.
const DefaultMaxEntries = 200

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("history entry not found")

// Entry records one dispatch attempt and its outcome.
type Entry struct {
	ID       string        `json:"id"`
	At       time.Time     `json:"at"`
	Source   string        `json:"source"`
	Script   string        `json:"script,omitempty"` // empty for ad-hoc bodies
	Bytes    int           `json:"bytes"`
	OK       bool          `json:"ok"`
	Kind     string        `json:"kind,omitempty"`
	Port     int           `json:"port,omitempty"`
	Status   int           `json:"status,omitempty"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration"`
}

// Store defines the persistence interface.
type Store interface {
	// Append stores e, assigning ID and At when empty, and prunes the oldest
	// entries beyond the configured cap.
	Append(e *Entry) error
	// Recent returns up to limit entries, newest first. limit <= 0 means all.
	Recent(limit int) ([]Entry, error)
	Get(id string) (*Entry, error)
	Clear() error
	Close() error
}
