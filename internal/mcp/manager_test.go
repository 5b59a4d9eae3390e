package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestSplitToolName(t *testing.T) {
	tests := []struct {
		qualified  string
		wantServer string
		wantTool   string
		wantErr    bool
	}{
		{"evm__gas_price", "evm", "gas_price", false},
		{"evm__get__balance", "evm", "get__balance", false},
		{"noseparator", "", "", true},
		{"__tool", "", "", true},
		{"server__", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		serverID, toolName, err := SplitToolName(tt.qualified)
		if tt.wantErr {
			if err == nil {
				t.Errorf("SplitToolName(%q): expected error", tt.qualified)
				continue
			}
			if err.Kind != ErrKindToolNotFound {
				t.Errorf("SplitToolName(%q): kind = %s, want TOOL_NOT_FOUND", tt.qualified, err.Kind)
			}
			continue
		}
		if err != nil {
			t.Errorf("SplitToolName(%q): %v", tt.qualified, err)
			continue
		}
		if serverID != tt.wantServer || toolName != tt.wantTool {
			t.Errorf("SplitToolName(%q) = %q, %q; want %q, %q",
				tt.qualified, serverID, toolName, tt.wantServer, tt.wantTool)
		}
	}
}

func TestManagerAddServer(t *testing.T) {
	ts := newTestServer(t, []Tool{gasPriceTool}, nil)
	m := NewManager()
	defer m.Close()

	tools, err := m.AddServer(context.Background(), ts.server("evm"))
	if err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}

	qt, ok := m.Lookup("evm__gas_price")
	if !ok {
		t.Fatal("tool not published to index")
	}
	if qt.ServerID != "evm" || qt.Tool.Name != "gas_price" {
		t.Errorf("unexpected index entry: %+v", qt)
	}
}

func TestManagerAddServerValidation(t *testing.T) {
	ts := newTestServer(t, []Tool{gasPriceTool}, nil)
	m := NewManager()
	defer m.Close()

	if _, err := m.AddServer(context.Background(), Server{ID: ""}); err == nil {
		t.Error("empty id accepted")
	}
	if _, err := m.AddServer(context.Background(), Server{ID: "bad__id"}); err == nil {
		t.Error("id containing separator accepted")
	}

	if _, err := m.AddServer(context.Background(), ts.server("evm")); err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	_, err := m.AddServer(context.Background(), ts.server("evm"))
	if _, ok := err.(ErrServerExists); !ok {
		t.Errorf("duplicate id: expected ErrServerExists, got %v", err)
	}
}

func TestManagerAddServerInitFailureNotVisible(t *testing.T) {
	m := NewManager()
	defer m.Close()

	_, err := m.AddServer(context.Background(), Server{
		ID: "dead", URL: "http://127.0.0.1:1", Transport: "http",
	})
	if err == nil {
		t.Fatal("expected error")
	}

	if servers := m.ListServers(); len(servers) != 0 {
		t.Errorf("failed server visible in listing: %+v", servers)
	}
	if _, ok := m.Lookup("dead__anything"); ok {
		t.Error("failed server published tools")
	}
}

func TestManagerRemoveServer(t *testing.T) {
	ts := newTestServer(t, []Tool{gasPriceTool}, nil)
	m := NewManager()
	defer m.Close()

	if _, err := m.AddServer(context.Background(), ts.server("evm")); err != nil {
		t.Fatalf("AddServer: %v", err)
	}

	if !m.RemoveServer("evm") {
		t.Fatal("RemoveServer returned false for registered server")
	}
	if _, ok := m.Lookup("evm__gas_price"); ok {
		t.Error("removed server's tools still indexed")
	}
	if m.RemoveServer("evm") {
		t.Error("RemoveServer returned true for unknown server")
	}
}

func TestManagerListings(t *testing.T) {
	balanceTool := Tool{Name: "balance", Description: "Account balance"}
	tsA := newTestServer(t, []Tool{gasPriceTool, balanceTool}, nil)
	tsB := newTestServer(t, []Tool{{Name: "owner_of"}}, nil)

	m := NewManager()
	defer m.Close()

	if _, err := m.AddServer(context.Background(), tsB.server("nft")); err != nil {
		t.Fatalf("AddServer nft: %v", err)
	}
	if _, err := m.AddServer(context.Background(), tsA.server("evm")); err != nil {
		t.Fatalf("AddServer evm: %v", err)
	}

	servers := m.ListServers()
	if len(servers) != 2 || servers[0].ID != "evm" || servers[1].ID != "nft" {
		t.Errorf("expected sorted [evm nft], got %+v", servers)
	}

	evmTools := m.ListTools("evm")
	if len(evmTools) != 2 || evmTools[0].Name != "balance" || evmTools[1].Name != "gas_price" {
		t.Errorf("unexpected evm tools: %+v", evmTools)
	}
	if tools := m.ListTools("unknown"); len(tools) != 0 {
		t.Errorf("unknown server listed tools: %+v", tools)
	}

	all := m.ListAllTools()
	wantNames := []string{"evm__balance", "evm__gas_price", "nft__owner_of"}
	if len(all) != len(wantNames) {
		t.Fatalf("expected %d tools, got %d", len(wantNames), len(all))
	}
	for i, want := range wantNames {
		if got := all[i].QualifiedName(); got != want {
			t.Errorf("tool %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestManagerRefreshServer(t *testing.T) {
	ts := newTestServer(t, []Tool{gasPriceTool}, nil)
	m := NewManager()
	defer m.Close()

	if _, err := m.AddServer(context.Background(), ts.server("evm")); err != nil {
		t.Fatalf("AddServer: %v", err)
	}

	ts.setTools([]Tool{gasPriceTool, {Name: "balance"}})
	tools, err := m.RefreshServer(context.Background(), "evm")
	if err != nil {
		t.Fatalf("RefreshServer: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools after refresh, got %d", len(tools))
	}
	if _, ok := m.Lookup("evm__balance"); !ok {
		t.Error("refreshed tool not indexed")
	}

	if _, err := m.RefreshServer(context.Background(), "ghost"); err == nil {
		t.Error("refresh of unknown server succeeded")
	}
}

func TestManagerRefreshFailureWithdrawsTools(t *testing.T) {
	ts := newTestServer(t, []Tool{gasPriceTool}, nil)
	m := NewManager()
	defer m.Close()

	if _, err := m.AddServer(context.Background(), ts.server("evm")); err != nil {
		t.Fatalf("AddServer: %v", err)
	}

	// Kill the backing server so re-initialization fails.
	ts.httpSrv.Close()

	if _, err := m.RefreshServer(context.Background(), "evm"); err == nil {
		t.Fatal("expected refresh failure")
	}
	if _, ok := m.Lookup("evm__gas_price"); ok {
		t.Error("stale tools still visible after failed refresh")
	}
}

func TestManagerServerState(t *testing.T) {
	ts := newTestServer(t, []Tool{gasPriceTool}, nil)
	m := NewManager()
	defer m.Close()

	if _, err := m.AddServer(context.Background(), ts.server("evm")); err != nil {
		t.Fatalf("AddServer: %v", err)
	}

	state, ok := m.ServerState("evm")
	if !ok || state != "ready" {
		t.Errorf("ServerState(evm) = %q, %v; want ready, true", state, ok)
	}
	if _, ok := m.ServerState("ghost"); ok {
		t.Error("unknown server reported a state")
	}
}

func TestManagerAddServerDoesNotBlockLookups(t *testing.T) {
	ts := newTestServer(t, []Tool{gasPriceTool}, nil)
	m := NewManager()
	defer m.Close()

	if _, err := m.AddServer(context.Background(), ts.server("evm")); err != nil {
		t.Fatalf("AddServer: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-release
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer slow.Close()
	defer close(release)

	added := make(chan struct{})
	go func() {
		defer close(added)
		m.AddServer(context.Background(), Server{ID: "slow", URL: slow.URL, Transport: "http"})
	}()
	<-started

	// Index reads must not wait behind the connecting server.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := m.Lookup("evm__gas_price"); !ok {
			t.Error("existing tool missing during concurrent registration")
		}
		m.ListAllTools()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lookup blocked while another server was connecting")
	}
}

func TestManagerSkipsSeparatorToolNames(t *testing.T) {
	ts := newTestServer(t, []Tool{
		gasPriceTool,
		{Name: "get__balance", Description: "balance by address"},
	}, nil)
	m := NewManager()
	defer m.Close()

	if _, err := m.AddServer(context.Background(), ts.server("evm")); err != nil {
		t.Fatalf("AddServer: %v", err)
	}

	if _, ok := m.Lookup("evm__gas_price"); !ok {
		t.Fatal("clean tool not published")
	}
	if _, ok := m.Lookup("evm__get__balance"); ok {
		t.Error("tool name containing the separator was published")
	}
	if tools := m.ListTools("evm"); len(tools) != 1 {
		t.Errorf("expected 1 indexed tool, got %d", len(tools))
	}
}
