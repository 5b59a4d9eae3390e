// Package gateway exposes the agent over HTTP: a WebSocket endpoint for
// streaming conversations and a small REST surface for managing tool
// servers and inspecting sessions.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/LanfordCai/allnads/internal/agent"
	"github.com/LanfordCai/allnads/internal/mcp"
	"github.com/LanfordCai/allnads/internal/session"
)

// Server is the HTTP gateway. It owns no agent state itself; everything is
// delegated to the registry, dispatcher, loop, and store it was built with.
type Server struct {
	addr       string
	manager    *mcp.Manager
	dispatcher *mcp.Dispatcher
	loop       *agent.Loop
	store      *session.Store
	logger     *slog.Logger

	httpSrv *http.Server
}

// Config carries the gateway's collaborators.
type Config struct {
	Host       string
	Port       int
	Manager    *mcp.Manager
	Dispatcher *mcp.Dispatcher
	Loop       *agent.Loop
	Store      *session.Store
	Logger     *slog.Logger
}

// NewServer builds the gateway and wires its routes.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:       net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		manager:    cfg.Manager,
		dispatcher: cfg.Dispatcher,
		loop:       cfg.Loop,
		store:      cfg.Store,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/servers", s.handleListServers)
	mux.HandleFunc("POST /api/servers", s.handleAddServer)
	mux.HandleFunc("DELETE /api/servers/{id}", s.handleRemoveServer)
	mux.HandleFunc("POST /api/servers/{id}/refresh", s.handleRefreshServer)
	mux.HandleFunc("GET /api/tools", s.handleListTools)
	mux.HandleFunc("POST /api/call", s.handleCall)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleClearSession)

	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the gateway's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start runs the gateway until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// serverView is the wire shape of a registered server plus its live state.
type serverView struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Transport   string `json:"transport"`
	URL         string `json:"url,omitempty"`
	Command     string `json:"command,omitempty"`
	State       string `json:"state"`
	ToolCount   int    `json:"toolCount"`
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers := s.manager.ListServers()
	views := make([]serverView, 0, len(servers))
	for _, server := range servers {
		state, _ := s.manager.ServerState(server.ID)
		views = append(views, serverView{
			ID:          server.ID,
			Description: server.Description,
			Transport:   server.Transport,
			URL:         server.URL,
			Command:     server.Command,
			State:       state,
			ToolCount:   len(s.manager.ListTools(server.ID)),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var server mcp.Server
	if err := json.NewDecoder(r.Body).Decode(&server); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid server descriptor: %v", err))
		return
	}

	tools, err := s.manager.AddServer(r.Context(), server)
	if err != nil {
		status := http.StatusBadGateway
		if _, ok := err.(mcp.ErrServerExists); ok {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":    server.ID,
		"tools": tools,
	})
}

func (s *Server) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.manager.RemoveServer(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("server %q not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tools, err := s.manager.RefreshServer(r.Context(), id)
	if err != nil {
		status := http.StatusBadGateway
		if _, ok := err.(mcp.ErrServerNotFound); ok {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "tools": tools})
}

// toolView is the wire shape of one catalogue entry.
type toolView struct {
	Name        string                 `json:"name"`
	ServerID    string                 `json:"serverId"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	all := s.manager.ListAllTools()
	views := make([]toolView, 0, len(all))
	for _, qt := range all {
		views = append(views, toolView{
			Name:        qt.QualifiedName(),
			ServerID:    qt.ServerID,
			Description: qt.Tool.Description,
			InputSchema: qt.Tool.InputSchema,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// callRequest is a one-off tool invocation outside any conversation.
type callRequest struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid call request: %v", err))
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}

	result := s.dispatcher.CallTool(r.Context(), req.Tool, req.Args)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.ListSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if infos == nil {
		infos = []session.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	turns, err := s.store.LoadHistory(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
