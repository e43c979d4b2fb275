package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/esnunes/quickllm/internal/config"
	"github.com/esnunes/quickllm/internal/orchestrator"
	"github.com/esnunes/quickllm/internal/provider"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, orchestrator.ErrBusy) {
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}

	kind := provider.KindOf(err)
	status := http.StatusBadGateway
	switch kind {
	case provider.KindValidation, provider.KindConfiguration:
		status = http.StatusBadRequest
	case provider.KindAuth:
		status = http.StatusUnauthorized
	case provider.KindRateLimit:
		status = http.StatusTooManyRequests
	case provider.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(kind)})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	result, err := s.orc.Process(r.Context(), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"result": result})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if err := s.orc.SetMode(req.Mode); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.currentStatus())
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.orc.TestConnection(r.Context(), req.Provider))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	offset := queryInt(r, "offset", 0)
	sessionID := r.URL.Query().Get("session")
	if r.URL.Query().Get("current") == "true" {
		sessionID = s.orc.SessionID()
	}

	entries, err := s.queries.ListHistory(sessionID, limit, offset)
	if err != nil {
		s.logger.Warn("failed to list history", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list history"})
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.queries.ClearHistory(r.URL.Query().Get("session")); err != nil {
		s.logger.Warn("failed to clear history", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to clear history"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = s.orc.SessionID()
	}
	stats, err := s.queries.SessionStats(sessionID)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := s.queries.ExportData()
	if err != nil {
		s.logger.Warn("failed to export data", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to export data"})
		return
	}
	s.writeJSON(w, http.StatusOK, export)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	// Credentials in the snapshot are encrypted tokens, safe to serve to the
	// local shell.
	s.writeJSON(w, http.StatusOK, s.cfg.Export())
}

func (s *Server) handleImportConfig(w http.ResponseWriter, r *http.Request) {
	var snap config.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	// Keep a restore point of the running settings before replacing them.
	if current, err := json.Marshal(s.cfg.Export()); err == nil {
		if err := s.queries.BackupSettings("pre-import", string(current)); err != nil {
			s.logger.Warn("failed to back up settings", zap.Error(err))
		}
	}

	if err := s.cfg.Import(snap); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
