package scripts

import (
	"path/filepath"
	"strings"
)

// Ext is forced onto every stored script name.
const Ext = ".lua"

// Record is one script file in the primary directory.
type Record struct {
	Name     string `json:"name"` // sanitized, always ends in .lua
	Path     string `json:"path"` // absolute path of the primary file
	Content  string `json:"content"`
	AutoExec bool   `json:"autoExec"` // a mirror copy exists in the auto-execute directory
}

// Sanitize maps a user-supplied name to a safe file name: directory components
// are stripped, characters outside [A-Za-z0-9 ._-] are dropped and the .lua
// extension is forced. It returns ErrInvalidName when nothing usable remains.
func Sanitize(name string) (string, error) {
	name = strings.TrimSpace(name)
	// Backslashes count as separators on every platform.
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))

	var b strings.Builder
	for _, r := range name {
		if validNameRune(r) {
			b.WriteRune(r)
		}
	}
	clean := strings.TrimSpace(b.String())

	if !strings.HasSuffix(clean, Ext) {
		clean += Ext
	}
	stem := strings.Trim(clean[:len(clean)-len(Ext)], ". ")
	if stem == "" {
		return "", &NameError{Name: name}
	}
	return clean, nil
}

func validNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ' ', r == '.', r == '_', r == '-':
		return true
	}
	return false
}
