// Package deck wires the script store, dispatcher, log tailer, event bus and
// dispatch history into the single context object every front end uses.
package deck

import (
	"context"
	"log/slog"

	"scriptdeck/internal/dispatch"
	"scriptdeck/internal/events"
	"scriptdeck/internal/history"
	"scriptdeck/internal/luacheck"
	"scriptdeck/internal/scripts"
	"scriptdeck/internal/tail"
)

// NoScriptsLabel is the single disabled quick-run entry shown when the
// store is empty.
const NoScriptsLabel = "No scripts found"

// Dispatcher sends a script body to the execution service.
type Dispatcher interface {
	Dispatch(ctx context.Context, body string) *dispatch.Result
}

// MenuItem is one quick-run entry.
type MenuItem struct {
	Title    string `json:"title"`
	Script   string `json:"script,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Option configures a Deck.
type Option func(*Deck)

// WithHistory records every dispatch in h.
func WithHistory(h history.Store) Option {
	return func(d *Deck) { d.history = h }
}

// WithSyntaxCheck enables advisory Lua syntax warnings on save and execute.
func WithSyntaxCheck(enabled bool) Option {
	return func(d *Deck) { d.syntaxCheck = enabled }
}

// Deck is the application context. It is safe for concurrent use.
type Deck struct {
	store      *scripts.Store
	dispatcher Dispatcher
	tailer     *tail.Tailer
	bus        *events.Bus
	history    history.Store
	logger     *slog.Logger

	syntaxCheck bool
}

// New assembles a Deck. history may be added with WithHistory.
func New(store *scripts.Store, dispatcher Dispatcher, tailer *tail.Tailer, bus *events.Bus, logger *slog.Logger, opts ...Option) *Deck {
	d := &Deck{
		store:       store,
		dispatcher:  dispatcher,
		tailer:      tailer,
		bus:         bus,
		logger:      logger.With("component", "deck"),
		syntaxCheck: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Deck) Scripts() *scripts.Store { return d.store }
func (d *Deck) Bus() *events.Bus        { return d.bus }

// History returns the dispatch history, or nil when none is configured.
func (d *Deck) History() history.Store { return d.history }

// Execute dispatches an ad-hoc script body.
func (d *Deck) Execute(ctx context.Context, source, body string) *dispatch.Result {
	return d.execute(ctx, source, "", body)
}

// RunScript dispatches a stored script by name.
func (d *Deck) RunScript(ctx context.Context, source, name string) (*dispatch.Result, error) {
	rec, err := d.store.Get(name)
	if err != nil {
		return nil, err
	}
	return d.execute(ctx, source, rec.Name, rec.Content), nil
}

func (d *Deck) execute(ctx context.Context, source, name, body string) *dispatch.Result {
	label := name
	if label == "" {
		label = "script"
	}
	d.warnSyntax(label, body)

	res := d.dispatcher.Dispatch(ctx, body)

	entry := &history.Entry{
		Source:   source,
		Script:   name,
		Bytes:    len(body),
		OK:       res.OK,
		Kind:     string(res.Kind),
		Port:     res.Port,
		Status:   res.Status,
		Message:  res.Message,
		Duration: res.Elapsed,
	}
	if d.history != nil {
		if err := d.history.Append(entry); err != nil {
			d.logger.Warn("record dispatch", "err", err)
		}
	}

	d.bus.Emit(events.Event{Type: events.DispatchResult, Data: events.DispatchData{
		ID:         entry.ID,
		Source:     source,
		Script:     name,
		OK:         res.OK,
		Kind:       string(res.Kind),
		Port:       res.Port,
		Status:     res.Status,
		Message:    res.Message,
		DurationMS: res.Elapsed.Milliseconds(),
	}})
	return res
}

// SaveScript stores a script and returns any advisory syntax diagnostics.
func (d *Deck) SaveScript(name, content string, autoExec bool) (scripts.Record, []luacheck.Diagnostic, error) {
	rec, err := d.store.Save(name, content, autoExec)
	if err != nil {
		return scripts.Record{}, nil, err
	}
	diags := d.warnSyntax(rec.Name, content)
	d.scriptsChanged("saved", rec.Name, "")
	return rec, diags, nil
}

// DeleteScript removes a script and its auto-execute copy.
func (d *Deck) DeleteScript(name string) error {
	clean, err := scripts.Sanitize(name)
	if err != nil {
		return err
	}
	if err := d.store.Delete(clean); err != nil {
		return err
	}
	d.scriptsChanged("deleted", clean, "")
	return nil
}

// RenameScript renames a script and returns its new name.
func (d *Deck) RenameScript(oldName, newName string) (string, error) {
	from, err := scripts.Sanitize(oldName)
	if err != nil {
		return "", err
	}
	to, err := d.store.Rename(from, newName)
	if err != nil {
		return "", err
	}
	d.scriptsChanged("renamed", to, from)
	return to, nil
}

// SetAutoExec toggles the auto-execute copy of a script.
func (d *Deck) SetAutoExec(name string, enabled bool) error {
	clean, err := scripts.Sanitize(name)
	if err != nil {
		return err
	}
	if err := d.store.SetAutoExec(clean, enabled); err != nil {
		return err
	}
	d.scriptsChanged("autoexec", clean, "")
	return nil
}

// QuickRunList returns the entries of the quick-run menu, one per stored
// script, or a single disabled placeholder when there are none.
func (d *Deck) QuickRunList() ([]MenuItem, error) {
	names, err := d.store.Names()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []MenuItem{{Title: NoScriptsLabel, Disabled: true}}, nil
	}
	items := make([]MenuItem, len(names))
	for i, n := range names {
		items[i] = MenuItem{Title: n, Script: n}
	}
	return items, nil
}

// StartTail starts the log tailer; false means it was already running.
func (d *Deck) StartTail() bool {
	started := d.tailer.Start(consoleSink{bus: d.bus})
	d.emitTailState()
	return started
}

// StopTail stops the log tailer and reports whether it exited in time.
func (d *Deck) StopTail() bool {
	stopped := d.tailer.Stop()
	d.emitTailState()
	return stopped
}

// SetTailRate changes the tail refresh rate and returns the clamped value.
func (d *Deck) SetTailRate(seconds float64) float64 {
	rate := d.tailer.SetRefreshRate(seconds)
	d.emitTailState()
	return rate
}

// TailState describes the tailer.
func (d *Deck) TailState() events.TailData {
	st := events.TailData{
		Running:     d.tailer.Running(),
		RefreshRate: d.tailer.RefreshRate(),
		Dir:         d.tailer.Dir(),
	}
	if err := d.tailer.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// Close stops the tailer and closes the history store.
func (d *Deck) Close() error {
	if d.tailer.Running() {
		d.tailer.Stop()
	}
	if d.history != nil {
		return d.history.Close()
	}
	return nil
}

func (d *Deck) emitTailState() {
	d.bus.Emit(events.Event{Type: events.TailState, Data: d.TailState()})
}

func (d *Deck) scriptsChanged(action, name, from string) {
	d.bus.Emit(events.Event{Type: events.ScriptsChanged, Data: events.ScriptsData{Action: action, Name: name, From: from}})
}

func (d *Deck) warnSyntax(name, src string) []luacheck.Diagnostic {
	if !d.syntaxCheck {
		return nil
	}
	diags := luacheck.Check(name, src)
	if msg := luacheck.Summary(name, diags); msg != "" {
		d.logger.Debug("lua syntax warning", "script", name, "diagnostics", len(diags))
		d.info(msg)
	}
	return diags
}

func (d *Deck) info(msg string) {
	d.bus.Emit(events.Event{Type: events.ConsoleInfo, Data: events.InfoData{Message: tail.Escape(msg)}})
}

// consoleSink publishes tailer output on the bus.
type consoleSink struct {
	bus *events.Bus
}

func (s consoleSink) Info(msg string) {
	s.bus.Emit(events.Event{Type: events.ConsoleInfo, Data: events.InfoData{Message: msg}})
}

func (s consoleSink) Batch(lines []string) {
	s.bus.Emit(events.Event{Type: events.ConsoleBatch, Data: events.BatchData{Lines: lines}})
}

var _ tail.Sink = consoleSink{}

var _ Dispatcher = (*dispatch.Dispatcher)(nil)
