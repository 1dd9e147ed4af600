// Package scripts stores named Lua scripts in a primary directory and keeps an
// optional copy of each in an auto-execute directory that an external process
// runs at its own startup.
package scripts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store handles saving, listing and mirroring scripts on disk.
type Store struct {
	dir    string
	mirror string
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewStore creates a store rooted at dir with auto-execute copies in mirror.
// The primary directory is created if missing; the mirror directory is
// created on first use.
func NewStore(dir, mirror string, logger *slog.Logger) (*Store, error) {
	if dir == "" || mirror == "" {
		return nil, errors.New("scripts: directory and mirror directory are required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Store{
		dir:    dir,
		mirror: mirror,
		logger: logger.With("component", "scripts"),
	}, nil
}

// Dir returns the primary directory.
func (s *Store) Dir() string { return s.dir }

// MirrorDir returns the auto-execute directory.
func (s *Store) MirrorDir() string { return s.mirror }

// Save writes content under name. With autoExec an identical copy goes to the
// mirror directory; without it any stale mirror copy is removed.
func (s *Store) Save(name, content string, autoExec bool) (Record, error) {
	name, err := Sanitize(name)
	if err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.primaryPath(name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Record{}, fmt.Errorf("write script: %w", err)
	}
	if autoExec {
		if err := s.writeMirror(name, content); err != nil {
			return Record{}, err
		}
	} else if err := s.removeMirror(name); err != nil {
		return Record{}, err
	}

	s.logger.Debug("script saved", "name", name, "bytes", len(content), "auto_exec", autoExec)
	return Record{Name: name, Path: path, Content: content, AutoExec: autoExec}, nil
}

// List reads every .lua file in the primary directory, sorted by name.
// Unreadable files are skipped.
func (s *Store) List() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := s.namesLocked()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(names))
	for _, name := range names {
		rec, err := s.readLocked(name)
		if err != nil {
			s.logger.Warn("skip unreadable script", "name", name, "err", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Names returns the sorted names of stored scripts without reading them.
func (s *Store) Names() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.namesLocked()
}

// Get returns a single script by name.
func (s *Store) Get(name string) (Record, error) {
	name, err := Sanitize(name)
	if err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(name)
}

// Delete removes the primary file and its mirror copy if present.
func (s *Store) Delete(name string) error {
	name, err := Sanitize(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.primaryPath(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("delete script: %w", err)
	}
	if err := s.removeMirror(name); err != nil {
		return err
	}
	s.logger.Debug("script deleted", "name", name)
	return nil
}

// Rename moves a script to a new name and returns the sanitized new name. A
// mirror copy is rewritten under the new name from the primary content and the
// old copy removed.
func (s *Store) Rename(oldName, newName string) (string, error) {
	oldName, err := Sanitize(oldName)
	if err != nil {
		return "", err
	}
	newName, err = Sanitize(newName)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	oldPath, newPath := s.primaryPath(oldName), s.primaryPath(newName)
	content, err := os.ReadFile(oldPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("rename %s: %w", oldName, ErrNotFound)
		}
		return "", fmt.Errorf("read script: %w", err)
	}
	if oldName == newName {
		return newName, nil
	}
	if _, err := os.Stat(newPath); err == nil {
		return "", fmt.Errorf("rename to %s: %w", newName, ErrConflict)
	}

	if err := os.Rename(oldPath, newPath); err != nil {
		return "", fmt.Errorf("rename script: %w", err)
	}
	if s.mirrored(oldName) {
		if err := s.writeMirror(newName, string(content)); err != nil {
			return "", err
		}
		if err := s.removeMirror(oldName); err != nil {
			return "", err
		}
	}
	s.logger.Debug("script renamed", "from", oldName, "to", newName)
	return newName, nil
}

// SetAutoExec copies the current primary content into the mirror directory or
// removes the mirror copy. The primary file is never modified.
func (s *Store) SetAutoExec(name string, enabled bool) error {
	name, err := Sanitize(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.primaryPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("auto-execute %s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("read script: %w", err)
	}
	if enabled {
		return s.writeMirror(name, string(content))
	}
	return s.removeMirror(name)
}

// Orphans lists mirror files with no matching primary script. They are
// reported only; nothing is removed.
func (s *Store) Orphans() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.mirror)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read mirror dir: %w", err)
	}
	var orphans []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		if _, err := os.Stat(s.primaryPath(e.Name())); errors.Is(err, fs.ErrNotExist) {
			orphans = append(orphans, e.Name())
		}
	}
	return orphans, nil
}

func (s *Store) namesLocked() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) readLocked(name string) (Record, error) {
	path := s.primaryPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, fmt.Errorf("read %s: %w", name, ErrNotFound)
		}
		return Record{}, fmt.Errorf("read script: %w", err)
	}
	return Record{Name: name, Path: path, Content: string(data), AutoExec: s.mirrored(name)}, nil
}

func (s *Store) primaryPath(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) mirrorPath(name string) string { return filepath.Join(s.mirror, name) }

func (s *Store) mirrored(name string) bool {
	info, err := os.Stat(s.mirrorPath(name))
	return err == nil && info.Mode().IsRegular()
}

func (s *Store) writeMirror(name, content string) error {
	if err := os.MkdirAll(s.mirror, 0o755); err != nil {
		return fmt.Errorf("create auto-execute dir: %w", err)
	}
	if err := os.WriteFile(s.mirrorPath(name), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write auto-execute copy: %w", err)
	}
	return nil
}

func (s *Store) removeMirror(name string) error {
	if err := os.Remove(s.mirrorPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove auto-execute copy: %w", err)
	}
	return nil
}
