// Package tail follows the most recently modified file in a log directory and
// delivers new lines to a sink in throttled batches.
package tail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultRefreshRate   = 0.5 // seconds
	MinRefreshRate       = 0.1
	MaxRefreshRate       = 5.0
	DefaultScanInterval  = 5 * time.Second
	DefaultFlushInterval = 300 * time.Millisecond
	DefaultChunkSize     = 1 << 20
	DefaultMaxBatch      = 100

	// StopTimeout bounds how long Stop waits for the loop to exit.
	StopTimeout = time.Second

	scanErrorBackoff = 2 * time.Second
	maxPendingSleep  = 100 * time.Millisecond
	timestampLayout  = "15:04:05"
)

// ErrDirectoryMissing ends a run when the watched directory does not exist.
// The directory belongs to the external log producer; it is never created here.
var ErrDirectoryMissing = errors.New("log directory not found")

// Sink receives console output. Both methods are called from the tailer
// goroutine and must not block for long.
type Sink interface {
	// Info delivers a single informational message.
	Info(msg string)
	// Batch delivers already-escaped log lines, oldest first.
	Batch(lines []string)
}

// SinkFuncs adapts a pair of functions to Sink. Nil fields are skipped.
type SinkFuncs struct {
	InfoFunc  func(string)
	BatchFunc func([]string)
}

func (s SinkFuncs) Info(msg string) {
	if s.InfoFunc != nil {
		s.InfoFunc(msg)
	}
}

func (s SinkFuncs) Batch(lines []string) {
	if s.BatchFunc != nil {
		s.BatchFunc(lines)
	}
}

// Config controls a Tailer. Zero values take the defaults.
type Config struct {
	Dir           string
	RefreshRate   float64 // seconds, clamped to [MinRefreshRate, MaxRefreshRate]
	ScanInterval  time.Duration
	FlushInterval time.Duration
	ChunkSize     int64
	MaxBatch      int
	// Notify wakes the loop early on filesystem write events. Polling still
	// drives scanning and the flush throttle.
	Notify bool
}

func (c *Config) fillDefaults() {
	if c.RefreshRate == 0 {
		c.RefreshRate = DefaultRefreshRate
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
}

// Option configures a Tailer.
type Option func(*Tailer)

// WithClock replaces the wall clock used for throttling and timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tailer) {
		if now != nil {
			t.now = now
		}
	}
}

// Tailer is a restartable background log follower. At most one loop runs at a
// time; Start while running is a no-op.
type Tailer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	refresh atomic.Int64 // time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// New creates a stopped Tailer.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Tailer {
	cfg.fillDefaults()
	t := &Tailer{
		cfg:    cfg,
		logger: logger.With("component", "tail"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.SetRefreshRate(cfg.RefreshRate)
	return t
}

// Dir returns the watched directory.
func (t *Tailer) Dir() string {
	return t.cfg.Dir
}

// Start begins following the directory in a new goroutine. It returns false
// without doing anything if a loop is already running.
func (t *Tailer) Start(sink Sink) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runningLocked() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.lastErr = nil

	go func() {
		defer close(done)
		defer cancel()
		err := t.run(ctx, sink)
		t.mu.Lock()
		t.lastErr = err
		t.mu.Unlock()
	}()

	t.logger.Info("log monitoring started", "dir", t.cfg.Dir)
	return true
}

// Stop cancels the loop and waits up to StopTimeout for it to exit. It
// reports whether the loop has exited.
func (t *Tailer) Stop() bool {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if done == nil {
		return true
	}
	cancel()
	select {
	case <-done:
		t.logger.Info("log monitoring stopped")
		return true
	case <-time.After(StopTimeout):
		t.logger.Warn("log monitoring did not stop in time", "timeout", StopTimeout)
		return false
	}
}

// Running reports whether the loop is active.
func (t *Tailer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runningLocked()
}

func (t *Tailer) runningLocked() bool {
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Done returns a channel closed when the current run exits. It is already
// closed when no run was ever started.
func (t *Tailer) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return t.done
}

// Err returns the error that ended the last run, if any.
func (t *Tailer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// SetRefreshRate clamps seconds to [MinRefreshRate, MaxRefreshRate] and
// applies it to the running loop from its next sleep. It returns the rate in
// effect. NaN leaves the rate unchanged.
func (t *Tailer) SetRefreshRate(seconds float64) float64 {
	if math.IsNaN(seconds) {
		return t.RefreshRate()
	}
	seconds = min(max(seconds, MinRefreshRate), MaxRefreshRate)
	t.refresh.Store(int64(seconds * float64(time.Second)))
	return seconds
}

// RefreshRate returns the polling interval in seconds.
func (t *Tailer) RefreshRate() float64 {
	return time.Duration(t.refresh.Load()).Seconds()
}

func (t *Tailer) refreshInterval() time.Duration {
	return time.Duration(t.refresh.Load())
}

// state is owned by a single run.
type state struct {
	active    string
	offset    int64
	remainder []byte
	pending   []string
	scanned   bool
	lastScan  time.Time
	lastFlush time.Time
}

func (t *Tailer) newState() *state {
	return &state{lastFlush: t.now()}
}

func (t *Tailer) run(ctx context.Context, sink Sink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("log monitoring panic", "panic", r)
			t.lastWord(sink, fmt.Sprintf("Log monitoring error: %v", r))
			err = fmt.Errorf("log monitoring: %v", r)
		}
	}()

	if _, statErr := os.Stat(t.cfg.Dir); errors.Is(statErr, fs.ErrNotExist) {
		t.logger.Warn("log directory not found", "dir", t.cfg.Dir)
		deliverInfo(sink, "Log directory not found: "+t.cfg.Dir)
		return ErrDirectoryMissing
	}

	deliverInfo(sink, "Starting log monitoring...")

	wake := t.watch(ctx)
	st := t.newState()
	for ctx.Err() == nil {
		delay, err := t.step(st, sink)
		if err != nil {
			return err
		}
		if !sleep(ctx, delay, wake) {
			break
		}
	}
	return nil
}

// step runs one iteration: throttled scan, incremental read, flush. It
// returns how long to sleep before the next iteration, or a fatal error.
func (t *Tailer) step(st *state, sink Sink) (time.Duration, error) {
	now := t.now()

	if !st.scanned || now.Sub(st.lastScan) >= t.cfg.ScanInterval {
		st.scanned = true
		st.lastScan = now
		if err := t.scan(st, sink); err != nil {
			if errors.Is(err, ErrDirectoryMissing) {
				t.logger.Warn("log directory disappeared", "dir", t.cfg.Dir)
				deliverInfo(sink, "Log directory not found: "+t.cfg.Dir)
				return 0, err
			}
			t.logger.Warn("scan log directory", "dir", t.cfg.Dir, "err", err)
			st.pending = append(st.pending, "Error checking log files: "+err.Error())
			return scanErrorBackoff, nil
		}
	}

	if st.active != "" {
		if err := t.read(st, now); err != nil {
			t.logger.Warn("read log file", "file", st.active, "err", err)
			st.pending = append(st.pending, "Error reading log file: "+err.Error())
		}
	}

	if len(st.pending) > 0 && now.Sub(st.lastFlush) >= t.cfg.FlushInterval {
		t.flush(st, sink, now)
	}

	refresh := t.refreshInterval()
	if len(st.pending) == 0 {
		return refresh, nil
	}
	return min(maxPendingSleep, refresh/2), nil
}

// scan switches to the most recently modified regular file. A new file is
// followed from its current size; existing content is never replayed.
func (t *Tailer) scan(st *state, sink Sink) error {
	entries, err := os.ReadDir(t.cfg.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrDirectoryMissing
		}
		return err
	}

	var (
		latestName string
		latestInfo fs.FileInfo
	)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue // removed since ReadDir
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if latestInfo == nil || info.ModTime().After(latestInfo.ModTime()) ||
			(info.ModTime().Equal(latestInfo.ModTime()) && e.Name() > latestName) {
			latestName, latestInfo = e.Name(), info
		}
	}
	if latestInfo == nil {
		return nil
	}

	path := filepath.Join(t.cfg.Dir, latestName)
	if path == st.active {
		return nil
	}
	st.active = path
	st.offset = latestInfo.Size()
	st.remainder = nil
	t.logger.Info("following log file", "file", path, "offset", st.offset)
	deliverInfo(sink, "Monitoring new logs from: "+latestName)
	return nil
}

// read consumes at most one chunk of newly appended bytes.
func (t *Tailer) read(st *state, now time.Time) error {
	info, err := os.Stat(st.active)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil // rotated away; the next scan picks the replacement
		}
		return err
	}
	size := info.Size()
	if size < st.offset {
		// Truncated in place: follow from the new end.
		st.offset = size
		st.remainder = nil
		return nil
	}
	if size == st.offset {
		return nil
	}

	n := min(size-st.offset, t.cfg.ChunkSize)
	f, err := os.Open(st.active)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, n)
	got, err := f.ReadAt(buf, st.offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	buf = buf[:got]
	st.offset += int64(got)

	// Keep the offset within what the file reports now.
	more := false
	if info, err := f.Stat(); err == nil {
		if info.Size() < st.offset {
			st.offset = info.Size()
		}
		more = info.Size() > st.offset
	}

	data := buf
	if len(st.remainder) > 0 {
		data = append(st.remainder, buf...)
		st.remainder = nil
	}
	// A line cut by the chunk limit waits for the rest of its bytes.
	if more && int64(len(data)) < 4*t.cfg.ChunkSize {
		if i := bytes.LastIndexByte(data, '\n'); i < len(data)-1 {
			st.remainder = append([]byte(nil), data[i+1:]...)
			data = data[:i+1]
		}
	}

	stamp := "[" + now.Format(timestampLayout) + "] "
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		st.pending = append(st.pending, stamp+strings.ToValidUTF8(line, "\uFFFD"))
	}
	return nil
}

// flush delivers the newest MaxBatch pending lines; older ones are dropped.
func (t *Tailer) flush(st *state, sink Sink, now time.Time) {
	batch := st.pending
	if dropped := len(batch) - t.cfg.MaxBatch; dropped > 0 {
		t.logger.Debug("dropping buffered log lines", "count", dropped)
		batch = batch[dropped:]
	}
	out := make([]string, len(batch))
	for i, line := range batch {
		out[i] = Escape(line)
	}
	st.pending = nil
	st.lastFlush = now

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("console update failed", "panic", r)
		}
	}()
	sink.Batch(out)
}

// watch returns a channel that receives when the directory sees a write or
// create, or nil when notifications are disabled or unavailable.
func (t *Tailer) watch(ctx context.Context) <-chan struct{} {
	if !t.cfg.Notify {
		return nil
	}
	return notifyDir(ctx, t.cfg.Dir, t.logger)
}

func sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-wake:
		return true
	}
}

var escaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `'`, `\'`)

// Escape backslash-escapes backslashes and both quote characters so a line
// can be embedded in a quoted string on the receiving side.
func Escape(s string) string {
	return escaper.Replace(s)
}

func deliverInfo(sink Sink, msg string) {
	sink.Info(Escape(msg))
}

// lastWord delivers a final message to a sink that may already be broken.
func (t *Tailer) lastWord(sink Sink, msg string) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("console unreachable", "panic", r)
		}
	}()
	deliverInfo(sink, msg)
}
