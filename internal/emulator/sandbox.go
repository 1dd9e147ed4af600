package emulator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Compile  bool     `json:"-"` // true when the source failed to parse
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Sandbox runs untrusted Lua with the dangerous libraries removed.
type Sandbox struct {
	timeout time.Duration
	logger  *slog.Logger
	// output receives every line the script prints, in order.
	output func(string)
}

func newSandbox(timeout time.Duration, logger *slog.Logger, output func(string)) *Sandbox {
	if output == nil {
		output = func(string) {}
	}
	return &Sandbox{timeout: timeout, logger: logger, output: output}
}

// Run executes code in a fresh VM bounded by the sandbox timeout.
func (s *Sandbox) Run(ctx context.Context, code string) *RunResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	defer L.Close()

	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
	L.SetGlobal("package", lua.LNil)

	L.SetContext(ctx)

	var logs []string
	var logMu sync.Mutex
	emit := func(line string) {
		logMu.Lock()
		logs = append(logs, line)
		logMu.Unlock()
		s.output(line)
	}

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		emit(joinArgs(L))
		return 0
	}))
	L.SetGlobal("warn", L.NewFunction(func(L *lua.LState) int {
		emit("[WARN] " + joinArgs(L))
		return 0
	}))
	L.SetGlobal("wait", L.NewFunction(func(L *lua.LState) int {
		d := time.Duration(float64(L.OptNumber(1, 0.03)) * float64(time.Second))
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-L.Context().Done():
			L.RaiseError("%v", L.Context().Err())
		case <-t.C:
		}
		L.Push(lua.LNumber(d.Seconds()))
		return 1
	}))
	registerSystemModule(L, s.logger, emit)

	fn, err := L.LoadString(code)
	if err != nil {
		dur := time.Since(start)
		s.logger.Warn("script compile error", "err", err)
		return &RunResult{OK: false, Compile: true, Error: err.Error(), Duration: dur.String()}
	}

	s.logger.Debug("executing script", "code_len", len(code))
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		dur := time.Since(start)
		errStr := err.Error()
		if strings.Contains(errStr, "context deadline exceeded") {
			errStr = fmt.Sprintf("timeout (%s)", s.timeout)
		}
		s.logger.Warn("script error", "err", errStr)
		return &RunResult{OK: false, Error: errStr, Logs: logs, Duration: dur.String()}
	}

	dur := time.Since(start)
	s.logger.Debug("script complete", "logs", len(logs), "duration", dur)
	return &RunResult{OK: true, Logs: logs, Duration: dur.String()}
}

func joinArgs(L *lua.LState) string {
	n := L.GetTop()
	parts := make([]string, n)
	for i := 1; i <= n; i++ {
		parts[i-1] = L.ToStringMeta(L.Get(i)).String()
	}
	return strings.Join(parts, "\t")
}

// registerSystemModule registers the `system` global table.
func registerSystemModule(L *lua.LState, logger *slog.Logger, emit func(string)) {
	mod := L.NewTable()
	mod.RawSetString("datetime", L.NewFunction(systemDatetime))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		level := L.CheckString(1)
		msg := L.CheckString(2)
		switch level {
		case "debug":
			logger.Debug("script log", "msg", msg)
		case "warn":
			logger.Warn("script log", "msg", msg)
		case "error":
			logger.Error("script log", "msg", msg)
		default:
			logger.Info("script log", "msg", msg)
		}
		emit("[" + strings.ToUpper(level) + "] " + msg)
		return 0
	}))
	L.SetGlobal("system", mod)
}

// system.datetime(component)
func systemDatetime(L *lua.LState) int {
	component := L.CheckString(1)
	now := time.Now()

	switch component {
	case "hour":
		L.Push(lua.LNumber(now.Hour()))
	case "minute":
		L.Push(lua.LNumber(now.Minute()))
	case "second":
		L.Push(lua.LNumber(now.Second()))
	case "timestamp":
		L.Push(lua.LNumber(now.Unix()))
	case "time_str":
		L.Push(lua.LString(now.Format("15:04:05")))
	case "date_str":
		L.Push(lua.LString(now.Format("2006-01-02")))
	default:
		L.ArgError(1, "unknown component: "+component)
		return 0
	}
	return 1
}
