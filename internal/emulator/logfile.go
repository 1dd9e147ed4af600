package emulator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// logFile appends script output to one file per emulator session.
type logFile struct {
	mu   sync.Mutex
	f    *os.File
	path string
	now  func() time.Time
}

func openLogFile(dir string, now func() time.Time) (*logFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := "scriptdeck_" + now().Format("2006-01-02_15-04-05") + "_last.log"
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &logFile{f: f, path: path, now: now}, nil
}

func (l *logFile) WriteLine(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	fmt.Fprintf(l.f, "%s %s\n", l.now().Format("2006-01-02T15:04:05.000Z07:00"), line)
}

func (l *logFile) Path() string { return l.path }

func (l *logFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
