package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"scriptdeck/internal/assist"
	"scriptdeck/internal/catalog"
	"scriptdeck/internal/history"
	"scriptdeck/internal/scripts"
)

func (s *Server) handleAPIExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxScriptBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "script too large"})
		return
	}
	if len(body) == 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "script is empty"})
		return
	}

	res := s.deck.Execute(r.Context(), history.SourceAPI, string(body))
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAPITailState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deck.TailState())
}

func (s *Server) handleAPITailStart(w http.ResponseWriter, r *http.Request) {
	started := s.deck.StartTail()
	s.writeJSON(w, http.StatusOK, map[string]any{"started": started, "state": s.deck.TailState()})
}

func (s *Server) handleAPITailStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.deck.StopTail()
	s.writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped, "state": s.deck.TailState()})
}

func (s *Server) handleAPITailRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate *float64 `json:"rate"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Rate == nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rate is required"})
		return
	}
	rate := s.deck.SetTailRate(*req.Rate)
	s.writeJSON(w, http.StatusOK, map[string]float64{"rate": rate})
}

func (s *Server) handleAPIListHistory(w http.ResponseWriter, r *http.Request) {
	h := s.deck.History()
	if h == nil {
		s.writeJSON(w, http.StatusOK, []history.Entry{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	entries, err := h.Recent(limit)
	if err != nil {
		s.writeError(w, "list history", err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAPIGetHistory(w http.ResponseWriter, r *http.Request) {
	h := s.deck.History()
	if h == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
		return
	}
	e, err := h.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, "get history entry", err)
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleAPIClearHistory(w http.ResponseWriter, r *http.Request) {
	if h := s.deck.History(); h != nil {
		if err := h.Clear(); err != nil {
			s.writeError(w, "clear history", err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPICatalogSearch(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "catalog not available"})
		return
	}
	raw, err := s.catalog.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.logger.Warn("catalog search", "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (s *Server) handleAPIGameName(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "catalog not available"})
		return
	}
	id := r.PathValue("id")
	name, err := s.catalog.GameName(r.Context(), id)
	switch {
	case errors.Is(err, catalog.ErrGameNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "error": "Game not found"})
		return
	case err != nil:
		s.logger.Warn("game lookup", "id", id, "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "name": name})
}

// writeError maps store errors to status codes; anything else is logged and
// reported as a 500.
type assistRequest struct {
	Prompt  string `json:"prompt"`
	Context string `json:"context"`
}

type assistResponse struct {
	Status string `json:"status"`
	assist.Suggestion
}

func (s *Server) handleAPIAssist(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "assistant not available"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxScriptBytes)
	var req assistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	sug, err := s.assistant.Generate(r.Context(), req.Prompt, req.Context)
	if err != nil {
		s.logger.Warn("assist", "err", err)
		s.writeJSON(w, assistStatus(err), map[string]string{"status": "error", "error": assist.Describe(err)})
		return
	}
	s.writeJSON(w, http.StatusOK, assistResponse{Status: "success", Suggestion: sug})
}

func assistStatus(err error) int {
	var apiErr assist.APIError
	switch {
	case errors.Is(err, assist.ErrEmptyPrompt):
		return http.StatusBadRequest
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests:
		return http.StatusTooManyRequests
	case assist.Describe(err) == assist.MsgTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, scripts.ErrNotFound), errors.Is(err, history.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, scripts.ErrConflict):
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, scripts.ErrInvalidName):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		s.logger.Error(op, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
