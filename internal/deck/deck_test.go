package deck

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"scriptdeck/internal/dispatch"
	"scriptdeck/internal/events"
	"scriptdeck/internal/history"
	"scriptdeck/internal/scripts"
	"scriptdeck/internal/tail"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubDispatcher struct {
	mu     sync.Mutex
	bodies []string
	result dispatch.Result
}

func (s *stubDispatcher) Dispatch(ctx context.Context, body string) *dispatch.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies = append(s.bodies, body)
	res := s.result
	return &res
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(typ string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	deck    *Deck
	disp    *stubDispatcher
	rec     *recorder
	logDir  string
	history *history.BoltStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	logger := testLogger()

	store, err := scripts.NewStore(filepath.Join(root, "scripts"), filepath.Join(root, "autoexec"), logger)
	if err != nil {
		t.Fatal(err)
	}
	hist, err := history.NewBoltStore(filepath.Join(root, "history.db"), 50)
	if err != nil {
		t.Fatal(err)
	}
	logDir := filepath.Join(root, "logs")
	if err := os.Mkdir(logDir, 0o755); err != nil {
		t.Fatal(err)
	}

	bus := events.NewBus(logger)
	rec := &recorder{}
	bus.OnAll(rec.handle)

	disp := &stubDispatcher{result: dispatch.Result{OK: true, Port: 6970, Status: 200, Message: "Script executed successfully", Elapsed: 3 * time.Millisecond}}
	tailer := tail.New(tail.Config{Dir: logDir, RefreshRate: 0.1, FlushInterval: 10 * time.Millisecond}, logger)

	d := New(store, disp, tailer, bus, logger, WithHistory(hist))
	t.Cleanup(func() { d.Close() })
	return &fixture{deck: d, disp: disp, rec: rec, logDir: logDir, history: hist}
}

func TestExecuteRecordsHistoryAndEmits(t *testing.T) {
	f := newFixture(t)

	res := f.deck.Execute(context.Background(), history.SourceAPI, `print("hi")`)
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if len(f.disp.bodies) != 1 || f.disp.bodies[0] != `print("hi")` {
		t.Errorf("dispatched bodies = %q", f.disp.bodies)
	}

	entries, err := f.history.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Source != history.SourceAPI || e.Script != "" || e.Bytes != len(`print("hi")`) || !e.OK || e.Port != 6970 || e.Duration != 3*time.Millisecond {
		t.Errorf("entry = %+v", e)
	}

	evs := f.rec.ofType(events.DispatchResult)
	if len(evs) != 1 {
		t.Fatalf("dispatch events = %d, want 1", len(evs))
	}
	data := evs[0].Data.(events.DispatchData)
	if data.ID != e.ID || !data.OK || data.DurationMS != 3 {
		t.Errorf("event data = %+v", data)
	}
}

func TestExecuteFailureStillRecorded(t *testing.T) {
	f := newFixture(t)
	f.disp.result = dispatch.Result{Kind: dispatch.KindServiceUnavailable, Message: dispatch.UnavailableMessage}

	res := f.deck.Execute(context.Background(), history.SourceCLI, "x()")
	if res.OK || res.Kind != dispatch.KindServiceUnavailable {
		t.Fatalf("result = %+v", res)
	}
	entries, _ := f.history.Recent(0)
	if len(entries) != 1 || entries[0].OK || entries[0].Kind != string(dispatch.KindServiceUnavailable) {
		t.Errorf("entries = %+v", entries)
	}
}

func TestExecuteWarnsOnSyntaxButStillDispatches(t *testing.T) {
	f := newFixture(t)

	f.deck.Execute(context.Background(), history.SourceAPI, "local x += 1")
	if len(f.disp.bodies) != 1 {
		t.Fatal("syntax warning blocked dispatch")
	}
	infos := f.rec.ofType(events.ConsoleInfo)
	if len(infos) != 1 || !strings.Contains(infos[0].Data.(events.InfoData).Message, "Lua syntax warning") {
		t.Errorf("infos = %+v", infos)
	}
}

func TestRunScript(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.deck.SaveScript("hello", `print("stored")`, false); err != nil {
		t.Fatal(err)
	}

	res, err := f.deck.RunScript(context.Background(), history.SourceQuickRun, "hello.lua")
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || f.disp.bodies[0] != `print("stored")` {
		t.Errorf("res = %+v, bodies = %q", res, f.disp.bodies)
	}
	entries, _ := f.history.Recent(1)
	if entries[0].Script != "hello.lua" || entries[0].Source != history.SourceQuickRun {
		t.Errorf("entry = %+v", entries[0])
	}

	if _, err := f.deck.RunScript(context.Background(), history.SourceQuickRun, "missing"); !errors.Is(err, scripts.ErrNotFound) {
		t.Errorf("missing err = %v, want ErrNotFound", err)
	}
	if len(f.disp.bodies) != 1 {
		t.Error("missing script was dispatched")
	}
}

func TestScriptMutationsEmitEvents(t *testing.T) {
	f := newFixture(t)
	d := f.deck

	if _, _, err := d.SaveScript("a", "print(1)", false); err != nil {
		t.Fatal(err)
	}
	if err := d.SetAutoExec("a", true); err != nil {
		t.Fatal(err)
	}
	if _, err := d.RenameScript("a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := d.DeleteScript("b"); err != nil {
		t.Fatal(err)
	}

	evs := f.rec.ofType(events.ScriptsChanged)
	var got []string
	for _, e := range evs {
		sd := e.Data.(events.ScriptsData)
		got = append(got, sd.Action+":"+sd.Name+":"+sd.From)
	}
	want := "saved:a.lua:|autoexec:a.lua:|renamed:b.lua:a.lua|deleted:b.lua:"
	if strings.Join(got, "|") != want {
		t.Errorf("events = %q, want %q", strings.Join(got, "|"), want)
	}

	if err := d.DeleteScript("b"); !errors.Is(err, scripts.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
	if len(f.rec.ofType(events.ScriptsChanged)) != 4 {
		t.Error("failed delete emitted an event")
	}
}

func TestQuickRunList(t *testing.T) {
	f := newFixture(t)

	items, err := f.deck.QuickRunList()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Title != NoScriptsLabel || !items[0].Disabled {
		t.Errorf("empty list = %+v", items)
	}

	for _, n := range []string{"b", "a"} {
		if _, _, err := f.deck.SaveScript(n, "--", false); err != nil {
			t.Fatal(err)
		}
	}
	items, err = f.deck.QuickRunList()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Script != "a.lua" || items[1].Script != "b.lua" || items[0].Disabled {
		t.Errorf("items = %+v", items)
	}
}

func TestTailLifecycleStreamsToBus(t *testing.T) {
	f := newFixture(t)
	logFile := filepath.Join(f.logDir, "session.log")
	if err := os.WriteFile(logFile, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	batches := make(chan []string, 16)
	infos := make(chan string, 16)
	f.deck.Bus().On(events.ConsoleBatch, func(e events.Event) {
		batches <- e.Data.(events.BatchData).Lines
	})
	f.deck.Bus().On(events.ConsoleInfo, func(e events.Event) {
		infos <- e.Data.(events.InfoData).Message
	})

	if !f.deck.StartTail() {
		t.Fatal("StartTail returned false")
	}
	if f.deck.StartTail() {
		t.Error("second StartTail returned true")
	}

	deadline := time.After(3 * time.Second)
	for picked := false; !picked; {
		select {
		case msg := <-infos:
			picked = strings.HasPrefix(msg, "Monitoring new logs from")
		case <-deadline:
			t.Fatal("tailer never picked up the log file")
		}
	}

	fh, err := os.OpenFile(logFile, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	fh.WriteString("it's live\n")
	fh.Close()

	select {
	case lines := <-batches:
		if len(lines) != 1 || !strings.HasSuffix(lines[0], `it\'s live`) {
			t.Errorf("lines = %q", lines)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no console batch")
	}

	if rate := f.deck.SetTailRate(9); rate != tail.MaxRefreshRate {
		t.Errorf("rate = %v, want %v", rate, tail.MaxRefreshRate)
	}
	if !f.deck.StopTail() {
		t.Error("StopTail did not finish")
	}
	st := f.deck.TailState()
	if st.Running || st.RefreshRate != tail.MaxRefreshRate || st.Dir != f.logDir {
		t.Errorf("state = %+v", st)
	}

	states := f.rec.ofType(events.TailState)
	if len(states) != 4 {
		t.Errorf("tail_state events = %d, want 4", len(states))
	}
}
