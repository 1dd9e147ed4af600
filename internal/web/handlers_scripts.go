package web

import (
	"encoding/json"
	"net/http"

	"scriptdeck/internal/history"
	"scriptdeck/internal/luacheck"
	"scriptdeck/internal/scripts"
)

func (s *Server) handleAPIListScripts(w http.ResponseWriter, r *http.Request) {
	records, err := s.deck.Scripts().List()
	if err != nil {
		s.writeError(w, "list scripts", err)
		return
	}
	if records == nil {
		records = []scripts.Record{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAPIGetScript(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deck.Scripts().Get(r.PathValue("name"))
	if err != nil {
		s.writeError(w, "get script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

type saveScriptRequest struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	AutoExec bool   `json:"autoExec"`
}

type saveScriptResponse struct {
	scripts.Record
	Diagnostics []luacheck.Diagnostic `json:"diagnostics,omitempty"`
}

func (s *Server) handleAPISaveScript(w http.ResponseWriter, r *http.Request) {
	var req saveScriptRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxScriptBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	rec, diags, err := s.deck.SaveScript(req.Name, req.Content, req.AutoExec)
	if err != nil {
		s.writeError(w, "save script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, saveScriptResponse{Record: rec, Diagnostics: diags})
}

func (s *Server) handleAPIDeleteScript(w http.ResponseWriter, r *http.Request) {
	if err := s.deck.DeleteScript(r.PathValue("name")); err != nil {
		s.writeError(w, "delete script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIRenameScript(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewName string `json:"new_name"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	name, err := s.deck.RenameScript(r.PathValue("name"), req.NewName)
	if err != nil {
		s.writeError(w, "rename script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "name": name})
}

func (s *Server) handleAPISetAutoExec(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.deck.SetAutoExec(r.PathValue("name"), req.Enabled); err != nil {
		s.writeError(w, "set auto-execute", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "autoExec": req.Enabled})
}

func (s *Server) handleAPIRunScript(w http.ResponseWriter, r *http.Request) {
	res, err := s.deck.RunScript(r.Context(), history.SourceAPI, r.PathValue("name"))
	if err != nil {
		s.writeError(w, "run script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAPICheckScript(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxScriptBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" {
		req.Name = "script"
	}

	diags := luacheck.Check(req.Name, req.Content)
	if diags == nil {
		diags = []luacheck.Diagnostic{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": len(diags) == 0, "diagnostics": diags})
}

func (s *Server) handleAPIQuickRun(w http.ResponseWriter, r *http.Request) {
	items, err := s.deck.QuickRunList()
	if err != nil {
		s.writeError(w, "quick-run list", err)
		return
	}
	s.writeJSON(w, http.StatusOK, items)
}
