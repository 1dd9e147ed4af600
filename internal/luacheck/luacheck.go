// Package luacheck runs an advisory syntax check over Lua source.
//
// The execution service accepts a superset of Lua 5.1 (compound assignment,
// type annotations and similar), so a diagnostic here is a hint, never a
// reason to refuse a save or a dispatch.
package luacheck

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yuin/gopher-lua/parse"
)

// Diagnostic is one parse problem.
type Diagnostic struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
	Near    string `json:"near,omitempty"`
}

func (d Diagnostic) String() string {
	if d.Near != "" {
		return fmt.Sprintf("line %d:%d near %q: %s", d.Line, d.Column, d.Near, d.Message)
	}
	return fmt.Sprintf("line %d:%d: %s", d.Line, d.Column, d.Message)
}

// Check parses src and returns its diagnostics. The parser stops at the first
// error, so at most one diagnostic is returned.
func Check(name, src string) []Diagnostic {
	_, err := parse.Parse(strings.NewReader(src), name)
	if err == nil {
		return nil
	}
	var perr *parse.Error
	if errors.As(err, &perr) {
		return []Diagnostic{{
			Line:    perr.Pos.Line,
			Column:  perr.Pos.Column,
			Message: perr.Message,
			Near:    perr.Token,
		}}
	}
	return []Diagnostic{{Message: strings.TrimSpace(err.Error())}}
}

// Summary joins diagnostics into a single console line, or "" when clean.
func Summary(name string, diags []Diagnostic) string {
	if len(diags) == 0 {
		return ""
	}
	parts := make([]string, len(diags))
	for i, d := range diags {
		parts[i] = d.String()
	}
	return fmt.Sprintf("Lua syntax warning in %s: %s", name, strings.Join(parts, "; "))
}
