package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Separator joins a server id and a tool name into a qualified tool name.
// It is reserved: server ids must not contain it.
const Separator = "__"

// JoinToolName builds the qualified wire name for a tool.
func JoinToolName(serverID, toolName string) string {
	return serverID + Separator + toolName
}

// SplitToolName parses a qualified tool name. Parsing is total: anything
// that does not yield exactly a server id and a tool name is rejected with
// a TOOL_NOT_FOUND classification echoing the literal input.
func SplitToolName(qualified string) (serverID, toolName string, err *ToolError) {
	parts := strings.SplitN(qualified, Separator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", NewToolError(ErrKindToolNotFound, "invalid qualified tool name %q", qualified)
	}
	return parts[0], parts[1], nil
}

// Manager owns the set of active protocol clients keyed by server id and a
// flattened index of every advertised tool. Registration and removal are
// mutually exclusive with index reads: lookups see either the full old
// state or the full new state.
type Manager struct {
	clients map[string]*Client
	pending map[string]struct{}      // ids reserved while their client connects
	index   map[string]QualifiedTool // qualified name -> tool
	mu      sync.RWMutex

	newClient func(Server) *Client
	logger    *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClientFactory overrides protocol client construction, e.g. to set a
// per-operation timeout on every client.
func WithClientFactory(f func(Server) *Client) ManagerOption {
	return func(m *Manager) {
		m.newClient = f
	}
}

// WithLogger sets the structured logger used for connection events.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an empty server registry.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		clients:   make(map[string]*Client),
		pending:   make(map[string]struct{}),
		index:     make(map[string]QualifiedTool),
		newClient: func(s Server) *Client { return NewClient(s) },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddServer registers a server, connects its protocol client, and publishes
// its tools into the index. Duplicate ids are rejected outright; a server
// whose initialization fails is never visible to lookups.
func (m *Manager) AddServer(ctx context.Context, server Server) ([]Tool, error) {
	if server.ID == "" {
		return nil, fmt.Errorf("server id must not be empty")
	}
	if strings.Contains(server.ID, Separator) {
		return nil, fmt.Errorf("server id %q must not contain %q", server.ID, Separator)
	}

	// The id is reserved up front and the handshake runs outside the lock:
	// one slow server connecting must not stall lookups and dispatches.
	m.mu.Lock()
	if _, exists := m.clients[server.ID]; exists {
		m.mu.Unlock()
		return nil, ErrServerExists{ID: server.ID}
	}
	if _, exists := m.pending[server.ID]; exists {
		m.mu.Unlock()
		return nil, ErrServerExists{ID: server.ID}
	}
	m.pending[server.ID] = struct{}{}
	m.mu.Unlock()

	client := m.newClient(server)
	tools, err := client.Initialize(ctx)

	m.mu.Lock()
	delete(m.pending, server.ID)
	if err != nil {
		m.mu.Unlock()
		client.Close()
		return nil, fmt.Errorf("initialize server %q: %w", server.ID, err)
	}
	m.clients[server.ID] = client
	m.publishLocked(server.ID, tools)
	m.mu.Unlock()

	m.logger.Info("tool server registered", "server", server.ID, "tools", len(tools))
	return tools, nil
}

// RemoveServer closes the server's client and removes every index entry it
// owns, atomically with respect to concurrent lookups. Returns false when
// the id is not registered.
func (m *Manager) RemoveServer(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, exists := m.clients[id]
	if !exists {
		return false
	}

	client.Close()
	delete(m.clients, id)
	m.unpublishLocked(id)

	m.logger.Info("tool server removed", "server", id)
	return true
}

// RefreshServer re-initializes a server's client and rebuilds its slice of
// the index. On failure the server's tools are withdrawn: a failed
// re-initialization must not leave stale tools visible.
func (m *Manager) RefreshServer(ctx context.Context, id string) ([]Tool, error) {
	client, exists := m.client(id)
	if !exists {
		return nil, ErrServerNotFound{ID: id}
	}

	// Re-initialization happens outside the lock for the same reason
	// AddServer connects outside it.
	tools, err := client.Initialize(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	// The server may have been removed while the refresh was in flight.
	if m.clients[id] != client {
		return nil, ErrServerNotFound{ID: id}
	}

	if err != nil {
		m.unpublishLocked(id)
		return nil, fmt.Errorf("refresh server %q: %w", id, err)
	}

	m.unpublishLocked(id)
	m.publishLocked(id, tools)
	return tools, nil
}

// publishLocked inserts a server's tools into the index. The separator is
// reserved in both halves of a qualified name, so tools carrying it are
// skipped and logged rather than published. Caller holds mu.
func (m *Manager) publishLocked(serverID string, tools []Tool) {
	for _, tool := range tools {
		if strings.Contains(tool.Name, Separator) {
			m.logger.Warn("skipping tool with reserved separator in its name", "server", serverID, "tool", tool.Name)
			continue
		}
		qt := QualifiedTool{ServerID: serverID, Tool: tool}
		m.index[qt.QualifiedName()] = qt
	}
}

// unpublishLocked removes every index entry owned by serverID. Caller
// holds mu.
func (m *Manager) unpublishLocked(serverID string) {
	for name, qt := range m.index {
		if qt.ServerID == serverID {
			delete(m.index, name)
		}
	}
}

// client resolves the protocol client for a server id.
func (m *Manager) client(id string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	return c, ok
}

// Lookup resolves a qualified tool name against the index.
func (m *Manager) Lookup(qualified string) (QualifiedTool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	qt, ok := m.index[qualified]
	return qt, ok
}

// ListServers returns the registered server descriptors sorted by id.
func (m *Manager) ListServers() []Server {
	m.mu.RLock()
	defer m.mu.RUnlock()

	servers := make([]Server, 0, len(m.clients))
	for _, client := range m.clients {
		servers = append(servers, client.Server())
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].ID < servers[j].ID })
	return servers
}

// ServerState returns the lifecycle state of a server's client.
func (m *Manager) ServerState(id string) (string, bool) {
	client, ok := m.client(id)
	if !ok {
		return "", false
	}
	return client.State(), true
}

// ListTools returns the indexed tools for one server, sorted by name. The
// list is empty when the server is unknown or advertises nothing.
func (m *Manager) ListTools(serverID string) []Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tools []Tool
	for _, qt := range m.index {
		if qt.ServerID == serverID {
			tools = append(tools, qt.Tool)
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// ListAllTools returns every indexed tool across all servers, sorted by
// qualified name for a deterministic catalogue.
func (m *Manager) ListAllTools() []QualifiedTool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tools := make([]QualifiedTool, 0, len(m.index))
	for _, qt := range m.index {
		tools = append(tools, qt)
	}
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].QualifiedName() < tools[j].QualifiedName()
	})
	return tools
}

// Close disconnects every server and clears the registry.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Warn("error closing tool server client", "server", id, "error", err)
		}
	}

	m.clients = make(map[string]*Client)
	m.index = make(map[string]QualifiedTool)
	return nil
}
