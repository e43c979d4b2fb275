// Package server exposes the engine to its shell over a localhost HTTP API.
// The desktop shell owns the clipboard and all rendering; this surface only
// accepts text, reports status, and serves history.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/esnunes/quickllm/internal/config"
	"github.com/esnunes/quickllm/internal/db"
	"github.com/esnunes/quickllm/internal/orchestrator"
	"github.com/esnunes/quickllm/internal/provider"
)

// statusRevertDelay is how long a terminal success/error status is displayed
// before reverting to ready. Purely presentational; the orchestrator's guard
// is released as soon as processing ends.
const statusRevertDelay = 2 * time.Second

type Server struct {
	cfg     *config.Store
	queries *db.Queries
	orc     *orchestrator.Orchestrator
	logger  *zap.Logger
	httpSrv *http.Server
	ln      net.Listener
	addr    string

	statusMu    sync.Mutex
	status      orchestrator.Status
	revertTimer *time.Timer
}

func New(cfg *config.Store, providers provider.Registry, queries *db.Queries, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		queries: queries,
		logger:  logger,
		status:  orchestrator.Status{State: orchestrator.StateReady, Message: "Ready"},
	}
	s.orc = orchestrator.New(cfg, providers, queries, logger, s.onStatus)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/process", s.handleProcess)
	mux.HandleFunc("POST /api/mode", s.handleSetMode)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/test", s.handleTest)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("DELETE /api/history", s.handleClearHistory)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handleImportConfig)

	s.httpSrv = &http.Server{Handler: mux}
	return s
}

// onStatus tracks the latest orchestrator status for GET /api/status,
// scheduling the revert to ready after a terminal state.
func (s *Server) onStatus(st orchestrator.Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	s.status = st
	if s.revertTimer != nil {
		s.revertTimer.Stop()
		s.revertTimer = nil
	}
	if st.State == orchestrator.StateSuccess || st.State == orchestrator.StateError {
		s.revertTimer = time.AfterFunc(statusRevertDelay, func() {
			s.statusMu.Lock()
			defer s.statusMu.Unlock()
			s.status = orchestrator.Status{State: orchestrator.StateReady, Message: "Ready"}
		})
	}
}

func (s *Server) currentStatus() orchestrator.Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// Listen binds the server to the given loopback address; ":0" picks a random
// port. Call Serve to start handling requests.
func (s *Server) Listen(addr string) error {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding port: %w", err)
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	return nil
}

// Serve opens the session, handles requests until ctx is cancelled, then
// ends the session and shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.orc.StartSession(); err != nil {
		return err
	}
	defer s.orc.EndSession()

	go func() {
		<-ctx.Done()
		s.httpSrv.Shutdown(context.Background())
	}()

	s.logger.Info("quickllm listening", zap.String("addr", s.addr))

	if err := s.httpSrv.Serve(s.ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func (s *Server) Addr() string {
	return s.addr
}
