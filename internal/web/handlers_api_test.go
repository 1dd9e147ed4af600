package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"scriptdeck/internal/assist"
	"scriptdeck/internal/catalog"
	"scriptdeck/internal/deck"
	"scriptdeck/internal/dispatch"
	"scriptdeck/internal/events"
	"scriptdeck/internal/history"
	"scriptdeck/internal/scripts"
	"scriptdeck/internal/tail"
)

type stubDispatcher struct {
	mu     sync.Mutex
	bodies []string
	result dispatch.Result
}

func (s *stubDispatcher) Dispatch(_ context.Context, body string) *dispatch.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies = append(s.bodies, body)
	res := s.result
	return &res
}

func (s *stubDispatcher) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies...)
}

type stubCatalog struct {
	search    json.RawMessage
	searchErr error
	games     map[string]string
	lastQuery string
}

func (c *stubCatalog) Search(_ context.Context, q string) (json.RawMessage, error) {
	c.lastQuery = q
	return c.search, c.searchErr
}

func (c *stubCatalog) GameName(_ context.Context, id string) (string, error) {
	name, ok := c.games[id]
	if !ok {
		return "", catalog.ErrGameNotFound
	}
	return name, nil
}

type testEnv struct {
	srv   *Server
	store *scripts.Store
	disp  *stubDispatcher
	cat   *stubCatalog
	hist  *history.BoltStore
}

func setupTestServer(t *testing.T, apiKey string, extra ...ServerOption) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	root := t.TempDir()

	store, err := scripts.NewStore(filepath.Join(root, "scripts"), filepath.Join(root, "autoexec"), logger)
	if err != nil {
		t.Fatal(err)
	}
	hist, err := history.NewBoltStore(filepath.Join(root, "history.db"), 20)
	if err != nil {
		t.Fatal(err)
	}
	logDir := filepath.Join(root, "logs")
	if err := os.Mkdir(logDir, 0o755); err != nil {
		t.Fatal(err)
	}

	disp := &stubDispatcher{result: dispatch.Result{
		OK: true, Port: 6970, Status: 200, Message: "Script executed successfully", Elapsed: 2 * time.Millisecond,
	}}
	tailer := tail.New(tail.Config{Dir: logDir, RefreshRate: 0.1, FlushInterval: 10 * time.Millisecond}, logger)
	d := deck.New(store, disp, tailer, events.NewBus(logger), logger, deck.WithHistory(hist))
	t.Cleanup(func() { d.Close() })

	cat := &stubCatalog{
		search: json.RawMessage(`{"result":{"scripts":[{"title":"Fly"}]}}`),
		games:  map[string]string{"123": "Natural Disaster Survival"},
	}
	opts := []ServerOption{WithCatalog(cat), WithVersion("1.2.3")}
	if apiKey != "" {
		opts = append(opts, WithAPIKey(apiKey))
	}
	opts = append(opts, extra...)
	srv := NewServer(d, logger, opts...)
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{srv: srv, store: store, disp: disp, cat: cat, hist: hist}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func TestAPIListScripts(t *testing.T) {
	env := setupTestServer(t, "")
	if _, err := env.store.Save("b", "print(2)", false); err != nil {
		t.Fatal(err)
	}
	if _, err := env.store.Save("a", "print(1)", true); err != nil {
		t.Fatal(err)
	}

	w := env.do("GET", "/api/scripts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var records []scripts.Record
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("script count = %d, want 2", len(records))
	}
	if records[0].Name != "a.lua" || !records[0].AutoExec {
		t.Errorf("first record = %+v", records[0])
	}
}

func TestAPIListScriptsEmpty(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("GET", "/api/scripts", "")
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestAPISaveAndGetScript(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("POST", "/api/scripts", `{"name":"fly","content":"print('up')","autoExec":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}

	w = env.do("GET", "/api/scripts/fly.lua", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var rec scripts.Record
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.Content != "print('up')" || !rec.AutoExec {
		t.Errorf("record = %+v", rec)
	}
}

func TestAPISaveScriptReportsDiagnostics(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("POST", "/api/scripts", `{"name":"broken","content":"local x = "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Name        string            `json:"name"`
		Diagnostics []json.RawMessage `json:"diagnostics"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Name != "broken.lua" {
		t.Errorf("name = %q", resp.Name)
	}
	if len(resp.Diagnostics) == 0 {
		t.Error("expected diagnostics for invalid Lua")
	}
}

func TestAPISaveScriptInvalidName(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("POST", "/api/scripts", `{"name":"...","content":"print(1)"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAPISaveScriptBadJSON(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("POST", "/api/scripts", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAPIGetScriptNotFound(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("GET", "/api/scripts/missing.lua", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIDeleteScript(t *testing.T) {
	env := setupTestServer(t, "")
	if _, err := env.store.Save("gone", "print(1)", true); err != nil {
		t.Fatal(err)
	}

	w := env.do("DELETE", "/api/scripts/gone.lua", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if _, err := env.store.Get("gone.lua"); err == nil {
		t.Error("script should be deleted")
	}

	w = env.do("DELETE", "/api/scripts/gone.lua", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIRenameScript(t *testing.T) {
	env := setupTestServer(t, "")
	if _, err := env.store.Save("old", "print(1)", false); err != nil {
		t.Fatal(err)
	}

	w := env.do("POST", "/api/scripts/old.lua/rename", `{"new_name":"new"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["name"] != "new.lua" {
		t.Errorf("name = %q, want new.lua", resp["name"])
	}
	if _, err := env.store.Get("new.lua"); err != nil {
		t.Errorf("renamed script missing: %v", err)
	}
}

func TestAPIRenameScriptConflict(t *testing.T) {
	env := setupTestServer(t, "")
	for _, n := range []string{"a", "b"} {
		if _, err := env.store.Save(n, "print(1)", false); err != nil {
			t.Fatal(err)
		}
	}

	w := env.do("POST", "/api/scripts/a.lua/rename", `{"new_name":"b.lua"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestAPISetAutoExec(t *testing.T) {
	env := setupTestServer(t, "")
	if _, err := env.store.Save("a", "print(1)", false); err != nil {
		t.Fatal(err)
	}

	w := env.do("POST", "/api/scripts/a.lua/autoexec", `{"enabled":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	rec, err := env.store.Get("a.lua")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.AutoExec {
		t.Error("autoExec should be enabled")
	}
}

func TestAPIRunScript(t *testing.T) {
	env := setupTestServer(t, "")
	if _, err := env.store.Save("hello", `print("hello")`, false); err != nil {
		t.Fatal(err)
	}

	w := env.do("POST", "/api/scripts/hello.lua/run", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res dispatch.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Port != 6970 {
		t.Errorf("result = %+v", res)
	}
	if got := env.disp.sent(); len(got) != 1 || got[0] != `print("hello")` {
		t.Errorf("dispatched = %q", got)
	}

	entries, err := env.hist.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Source != history.SourceAPI || entries[0].Script != "hello.lua" {
		t.Errorf("history = %+v", entries)
	}
}

func TestAPIRunScriptNotFound(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("POST", "/api/scripts/nope.lua/run", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if len(env.disp.sent()) != 0 {
		t.Error("nothing should be dispatched")
	}
}

func TestAPICheckScript(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("POST", "/api/scripts/check", `{"name":"x.lua","content":"print(1)"}`)
	var resp struct {
		OK          bool              `json:"ok"`
		Diagnostics []json.RawMessage `json:"diagnostics"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.OK || len(resp.Diagnostics) != 0 {
		t.Errorf("valid script: %+v", resp)
	}

	w = env.do("POST", "/api/scripts/check", `{"content":"if then"}`)
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.OK || len(resp.Diagnostics) == 0 {
		t.Errorf("invalid script: %+v", resp)
	}
}

func TestAPIQuickRun(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("GET", "/api/quickrun", "")
	var items []deck.MenuItem
	if err := json.NewDecoder(w.Body).Decode(&items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Title != deck.NoScriptsLabel || !items[0].Disabled {
		t.Errorf("empty quick-run = %+v", items)
	}

	if _, err := env.store.Save("one", "print(1)", false); err != nil {
		t.Fatal(err)
	}
	w = env.do("GET", "/api/quickrun", "")
	items = nil
	if err := json.NewDecoder(w.Body).Decode(&items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Script != "one.lua" || items[0].Disabled {
		t.Errorf("quick-run = %+v", items)
	}
}

func TestAPIExecute(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("POST", "/api/execute", `print("raw")`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := env.disp.sent(); len(got) != 1 || got[0] != `print("raw")` {
		t.Errorf("dispatched = %q", got)
	}
}

func TestAPIExecuteReportsFailure(t *testing.T) {
	env := setupTestServer(t, "")
	env.disp.result = dispatch.Result{Kind: dispatch.KindServiceUnavailable, Message: dispatch.UnavailableMessage}

	w := env.do("POST", "/api/execute", `print(1)`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var res dispatch.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Kind != dispatch.KindServiceUnavailable {
		t.Errorf("result = %+v", res)
	}
}

func TestAPIExecuteEmpty(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("POST", "/api/execute", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if len(env.disp.sent()) != 0 {
		t.Error("empty body should not be dispatched")
	}
}

func TestAPIExecutePayloadLimit(t *testing.T) {
	env := setupTestServer(t, "")

	big := strings.Repeat("-", maxScriptBytes+1)
	w := env.do("POST", "/api/execute", big)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestAPITailLifecycle(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("POST", "/api/tail/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d", w.Code)
	}
	var started struct {
		Started bool            `json:"started"`
		State   events.TailData `json:"state"`
	}
	if err := json.NewDecoder(w.Body).Decode(&started); err != nil {
		t.Fatal(err)
	}
	if !started.Started || !started.State.Running {
		t.Errorf("start = %+v", started)
	}

	w = env.do("POST", "/api/tail/start", "")
	if err := json.NewDecoder(w.Body).Decode(&started); err != nil {
		t.Fatal(err)
	}
	if started.Started {
		t.Error("second start should report already running")
	}

	w = env.do("POST", "/api/tail/stop", "")
	var stopped struct {
		Stopped bool            `json:"stopped"`
		State   events.TailData `json:"state"`
	}
	if err := json.NewDecoder(w.Body).Decode(&stopped); err != nil {
		t.Fatal(err)
	}
	if !stopped.Stopped || stopped.State.Running {
		t.Errorf("stop = %+v", stopped)
	}
}

func TestAPITailRate(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("PUT", "/api/tail/rate", `{"rate":99}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]float64
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["rate"] != tail.MaxRefreshRate {
		t.Errorf("rate = %v, want %v", resp["rate"], tail.MaxRefreshRate)
	}

	w = env.do("PUT", "/api/tail/rate", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing rate status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = env.do("GET", "/api/tail", "")
	var st events.TailData
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.RefreshRate != tail.MaxRefreshRate || st.Running {
		t.Errorf("tail state = %+v", st)
	}
}

func TestAPIHistory(t *testing.T) {
	env := setupTestServer(t, "")
	for i := 0; i < 3; i++ {
		env.do("POST", "/api/execute", "print(1)")
	}

	w := env.do("GET", "/api/history?limit=2", "")
	var entries []history.Entry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2", len(entries))
	}

	if w := env.do("GET", "/api/history?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}

	if w := env.do("DELETE", "/api/history", ""); w.Code != http.StatusOK {
		t.Fatalf("clear status = %d", w.Code)
	}
	w = env.do("GET", "/api/history", "")
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("history after clear = %s", got)
	}
}

func TestAPIGetHistoryEntry(t *testing.T) {
	env := setupTestServer(t, "")
	env.do("POST", "/api/execute", "print(1)")

	entries, err := env.hist.Recent(1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Recent = %v, %v", entries, err)
	}

	w := env.do("GET", "/api/history/"+entries[0].ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var got history.Entry
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != entries[0].ID || got.Source != history.SourceAPI || got.Bytes != len("print(1)") {
		t.Errorf("entry = %+v", got)
	}

	if w := env.do("GET", "/api/history/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", w.Code)
	}
}

func TestAPICatalogSearch(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("GET", "/api/catalog?q=fly", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if env.cat.lastQuery != "fly" {
		t.Errorf("query = %q", env.cat.lastQuery)
	}
	if !strings.Contains(w.Body.String(), `"Fly"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestAPICatalogSearchUpstreamError(t *testing.T) {
	env := setupTestServer(t, "")
	env.cat.searchErr = catalog.APIError{StatusCode: 503, Body: "down"}

	w := env.do("GET", "/api/catalog", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
}

func TestAPIGameName(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("GET", "/api/games/123", "")
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["name"] != "Natural Disaster Survival" {
		t.Errorf("name = %q", resp["name"])
	}

	w = env.do("GET", "/api/games/999", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown game status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIVersion(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do("GET", "/api/version", "")
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["version"] != "1.2.3" {
		t.Errorf("version = %q", resp["version"])
	}
}

func TestAuthMiddlewareHeader(t *testing.T) {
	env := setupTestServer(t, "secret-key")

	req := httptest.NewRequest("GET", "/api/scripts", nil)
	req.Header.Set("X-API-Key", "secret-key")
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddlewareMissing(t *testing.T) {
	env := setupTestServer(t, "secret-key")

	w := env.do("GET", "/api/scripts", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddlewareWrongKey(t *testing.T) {
	env := setupTestServer(t, "secret-key")

	req := httptest.NewRequest("GET", "/api/scripts", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestOriginCheckRejectsMutation(t *testing.T) {
	env := setupTestServer(t, "")
	WithAllowedOrigins([]string{"http://localhost:8080"})(env.srv)

	req := httptest.NewRequest("POST", "/api/execute", bytes.NewBufferString("print(1)"))
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}

	req = httptest.NewRequest("POST", "/api/execute", bytes.NewBufferString("print(1)"))
	req.Header.Set("Origin", "http://localhost:8080")
	w = httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("allowed origin status = %d", w.Code)
	}
}

// assistEnv serves the API with a real assist client pointed at upstream.
func assistEnv(t *testing.T, upstream http.HandlerFunc) *testEnv {
	t.Helper()
	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)
	client := assist.NewClient(
		assist.WithURL(up.URL),
		assist.WithHTTPClient(up.Client()),
		assist.WithRetry(0, 0),
	)
	return setupTestServer(t, "", WithAssistant(client))
}

func TestAPIAssist(t *testing.T) {
	var got map[string]any
	env := assistEnv(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"code":"print(1)\n","explanation":"prints one"}`))
	})

	w := env.do("POST", "/api/assist", `{"prompt":"print one","context":"-- old"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status      string `json:"status"`
		Code        string `json:"code"`
		Explanation string `json:"explanation"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "success" || resp.Code != "print(1)" || resp.Explanation != "prints one" {
		t.Errorf("resp = %+v", resp)
	}
	if got["prompt"] != "print one" || got["context"] != "-- old" {
		t.Errorf("upstream request = %v", got)
	}
	if _, ok := got["timestamp"].(float64); !ok {
		t.Errorf("timestamp missing: %v", got)
	}
}

func TestAPIAssistErrors(t *testing.T) {
	tests := []struct {
		name       string
		upstream   int
		body       string
		wantStatus int
		wantMsg    string
	}{
		{"rate limited", http.StatusTooManyRequests, "", http.StatusTooManyRequests, assist.MsgRateLimited},
		{"endpoint gone", http.StatusNotFound, "", http.StatusBadGateway, assist.MsgUnreachable},
		{"upstream down", http.StatusServiceUnavailable, "", http.StatusBadGateway, assist.MsgUnavailable},
		{"reported error", http.StatusOK, `{"error":"too vague"}`, http.StatusBadGateway, "too vague"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := assistEnv(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.upstream)
				w.Write([]byte(tt.body))
			})
			w := env.do("POST", "/api/assist", `{"prompt":"x"}`)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp map[string]string
			json.NewDecoder(w.Body).Decode(&resp)
			if resp["error"] != tt.wantMsg {
				t.Errorf("error = %q, want %q", resp["error"], tt.wantMsg)
			}
		})
	}
}

func TestAPIAssistBadRequests(t *testing.T) {
	env := assistEnv(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream called")
	})
	if w := env.do("POST", "/api/assist", `{"prompt":"  "}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty prompt status = %d", w.Code)
	}
	if w := env.do("POST", "/api/assist", `{`); w.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d", w.Code)
	}

	plain := setupTestServer(t, "")
	if w := plain.do("POST", "/api/assist", `{"prompt":"x"}`); w.Code != http.StatusNotFound {
		t.Errorf("without assistant status = %d, want 404", w.Code)
	}
}
