package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testServer is a minimal MCP server speaking JSON-RPC over HTTP. The call
// handler receives the tools/call params and returns the raw result payload
// or an RPC error.
type testServer struct {
	t       *testing.T
	mu      sync.Mutex
	tools   []Tool
	onCall  func(params CallToolParams) (interface{}, *RPCError)
	httpSrv *httptest.Server

	initCount atomic.Int32
	listCount atomic.Int32
	callCount atomic.Int32
}

func newTestServer(t *testing.T, tools []Tool, onCall func(CallToolParams) (interface{}, *RPCError)) *testServer {
	t.Helper()
	ts := &testServer{t: t, tools: tools, onCall: onCall}
	ts.httpSrv = httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(ts.httpSrv.Close)
	return ts
}

func (ts *testServer) server(id string) Server {
	return Server{ID: id, URL: ts.httpSrv.URL, Transport: "http"}
}

func (ts *testServer) setTools(tools []Tool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.tools = tools
}

func (ts *testServer) currentTools() []Tool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.tools
}

func (ts *testServer) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *int            `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ts.t.Errorf("decode request: %v", err)
		return
	}

	// Notifications carry no id and get no reply.
	if req.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var result interface{}
	var rpcErr *RPCError

	switch req.Method {
	case "initialize":
		ts.initCount.Add(1)
		result = InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "test-server", Version: "0.0.1"},
		}
	case "tools/list":
		ts.listCount.Add(1)
		result = ListToolsResult{Tools: ts.currentTools()}
	case "tools/call":
		ts.callCount.Add(1)
		var params CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			ts.t.Errorf("decode call params: %v", err)
			return
		}
		if ts.onCall != nil {
			result, rpcErr = ts.onCall(params)
		}
	default:
		rpcErr = &RPCError{Code: -32601, Message: "method not found"}
	}

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": *req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		ts.t.Errorf("encode response: %v", err)
	}
}

var gasPriceTool = Tool{
	Name:        "gas_price",
	Description: "Current gas price",
	InputSchema: map[string]interface{}{"type": "object"},
}

func TestClientInitialize(t *testing.T) {
	ts := newTestServer(t, []Tool{gasPriceTool}, nil)
	client := NewClient(ts.server("evm"))

	tools, err := client.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "gas_price" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
	if client.State() != "ready" {
		t.Errorf("expected ready state, got %s", client.State())
	}
	if ts.initCount.Load() != 1 {
		t.Errorf("expected 1 initialize, got %d", ts.initCount.Load())
	}
}

func TestClientInitializeIdempotent(t *testing.T) {
	ts := newTestServer(t, []Tool{gasPriceTool}, nil)
	client := NewClient(ts.server("evm"))

	if _, err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	if _, err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}

	// The second call re-lists tools but must not re-handshake.
	if ts.initCount.Load() != 1 {
		t.Errorf("expected 1 handshake, got %d", ts.initCount.Load())
	}
	if ts.listCount.Load() != 2 {
		t.Errorf("expected 2 tool listings, got %d", ts.listCount.Load())
	}
}

func TestClientInitializeConnectFailure(t *testing.T) {
	client := NewClient(Server{ID: "dead", URL: "http://127.0.0.1:1", Transport: "http"})

	_, err := client.Initialize(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var te *ToolError
	if !asToolError(err, &te) || te.Kind != ErrKindConnection {
		t.Fatalf("expected CONNECTION classification, got %v", err)
	}
	if client.State() != "unconnected" {
		t.Errorf("failed handshake should return to unconnected, got %s", client.State())
	}
}

func TestClientClosedIsTerminal(t *testing.T) {
	ts := newTestServer(t, []Tool{gasPriceTool}, nil)
	client := NewClient(ts.server("evm"))

	if _, err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if client.State() != "closed" {
		t.Fatalf("expected closed, got %s", client.State())
	}

	if _, err := client.Initialize(context.Background()); err == nil {
		t.Fatal("Initialize after Close should fail")
	}
	if _, err := client.CallTool(context.Background(), "gas_price", nil); err == nil {
		t.Fatal("CallTool after Close should fail")
	}
}

func TestClientCallToolBeforeInitialize(t *testing.T) {
	ts := newTestServer(t, []Tool{gasPriceTool}, nil)
	client := NewClient(ts.server("evm"))

	_, err := client.CallTool(context.Background(), "gas_price", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var te *ToolError
	if !asToolError(err, &te) || te.Kind != ErrKindConnection {
		t.Fatalf("expected CONNECTION classification, got %v", err)
	}
}

func TestClientCallToolUnadvertised(t *testing.T) {
	ts := newTestServer(t, []Tool{gasPriceTool}, nil)
	client := NewClient(ts.server("evm"))
	if _, err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	_, err := client.CallTool(context.Background(), "no_such_tool", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var te *ToolError
	if !asToolError(err, &te) || te.Kind != ErrKindToolNotFound {
		t.Fatalf("expected TOOL_NOT_FOUND classification, got %v", err)
	}
	if ts.callCount.Load() != 0 {
		t.Errorf("unadvertised tool must fail before touching the wire, saw %d calls", ts.callCount.Load())
	}
}

func TestClientCallToolNormalization(t *testing.T) {
	tests := []struct {
		name   string
		reply  interface{}
		verify func(t *testing.T, result *CallToolResult)
	}{
		{
			name:  "bare string",
			reply: "52 gwei",
			verify: func(t *testing.T, result *CallToolResult) {
				if len(result.Content) != 1 || result.Content[0].Type != ContentTypeText || result.Content[0].Text != "52 gwei" {
					t.Errorf("unexpected content: %+v", result.Content)
				}
			},
		},
		{
			name: "content array",
			reply: map[string]interface{}{
				"content": []map[string]interface{}{
					{"type": "text", "text": "line one"},
					{"type": "text", "text": "line two"},
				},
			},
			verify: func(t *testing.T, result *CallToolResult) {
				if got := result.Text(); got != "line one\nline two" {
					t.Errorf("Text() = %q", got)
				}
			},
		},
		{
			name: "image object",
			reply: map[string]interface{}{
				"type": "image", "data": "QQ==", "mimeType": "image/png",
			},
			verify: func(t *testing.T, result *CallToolResult) {
				if len(result.Content) != 1 {
					t.Fatalf("expected 1 block, got %d", len(result.Content))
				}
				block := result.Content[0]
				if block.Type != ContentTypeImage || block.Data != "QQ==" || block.MimeType != "image/png" {
					t.Errorf("unexpected block: %+v", block)
				}
			},
		},
		{
			name: "error flag preserved",
			reply: map[string]interface{}{
				"content": []map[string]interface{}{{"type": "text", "text": "boom"}},
				"isError": true,
			},
			verify: func(t *testing.T, result *CallToolResult) {
				if !result.IsError {
					t.Error("isError flag lost")
				}
			},
		},
		{
			name: "unknown block type becomes text",
			reply: map[string]interface{}{
				"content": []map[string]interface{}{{"type": "audio", "data": "QQ=="}},
			},
			verify: func(t *testing.T, result *CallToolResult) {
				if len(result.Content) != 1 || result.Content[0].Type != ContentTypeText {
					t.Errorf("unexpected content: %+v", result.Content)
				}
			},
		},
		{
			name:  "arbitrary object serialized as text",
			reply: map[string]interface{}{"balance": "12.5", "symbol": "MON"},
			verify: func(t *testing.T, result *CallToolResult) {
				if len(result.Content) != 1 || result.Content[0].Type != ContentTypeText {
					t.Fatalf("unexpected content: %+v", result.Content)
				}
				var decoded map[string]string
				if err := json.Unmarshal([]byte(result.Content[0].Text), &decoded); err != nil {
					t.Fatalf("text is not the JSON serialization: %v", err)
				}
				if decoded["balance"] != "12.5" {
					t.Errorf("unexpected payload: %v", decoded)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, []Tool{gasPriceTool}, func(CallToolParams) (interface{}, *RPCError) {
				return tt.reply, nil
			})
			client := NewClient(ts.server("evm"))
			if _, err := client.Initialize(context.Background()); err != nil {
				t.Fatalf("Initialize: %v", err)
			}

			result, err := client.CallTool(context.Background(), "gas_price", nil)
			if err != nil {
				t.Fatalf("CallTool: %v", err)
			}
			tt.verify(t, result)
		})
	}
}

func TestClientCallToolRPCError(t *testing.T) {
	ts := newTestServer(t, []Tool{gasPriceTool}, func(CallToolParams) (interface{}, *RPCError) {
		return nil, &RPCError{Code: rpcCodeInvalidParams, Message: "chain is required"}
	})
	client := NewClient(ts.server("evm"))
	if _, err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	_, err := client.CallTool(context.Background(), "gas_price", map[string]interface{}{})
	if err == nil {
		t.Fatal("expected error")
	}
	var te *ToolError
	if !asToolError(err, &te) || te.Kind != ErrKindInvalidArgs {
		t.Fatalf("expected INVALID_ARGS classification, got %v", err)
	}
}

func TestClientCallToolArgumentsForwarded(t *testing.T) {
	var got CallToolParams
	ts := newTestServer(t, []Tool{gasPriceTool}, func(params CallToolParams) (interface{}, *RPCError) {
		got = params
		return "ok", nil
	})
	client := NewClient(ts.server("evm"))
	if _, err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	args := map[string]interface{}{"chain": "monad"}
	if _, err := client.CallTool(context.Background(), "gas_price", args); err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if got.Name != "gas_price" {
		t.Errorf("wire name = %q", got.Name)
	}
	if got.Arguments["chain"] != "monad" {
		t.Errorf("arguments not forwarded: %v", got.Arguments)
	}
}

// sleepServer spawns a process that never answers, for exercising stdio
// deadline and teardown behavior.
func sleepServer(id string) Server {
	return Server{ID: id, Transport: "stdio", Command: "sleep", Args: []string{"60"}}
}

func TestClientStdioUnresponsiveServerTimesOut(t *testing.T) {
	client := NewClient(sleepServer("evm"), WithOpTimeout(200*time.Millisecond))
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		_, err := client.Initialize(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		var te *ToolError
		if !asToolError(err, &te) || te.Kind != ErrKindTimeout {
			t.Fatalf("expected TIMEOUT classification, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Initialize still blocked past the operation timeout")
	}

	if state := client.State(); state != "unconnected" {
		t.Errorf("state after handshake timeout = %q, want unconnected", state)
	}
}

func TestClientCloseUnblocksStdioCall(t *testing.T) {
	client := NewClient(sleepServer("evm"), WithOpTimeout(30*time.Second))

	done := make(chan error, 1)
	go func() {
		_, err := client.Initialize(context.Background())
		done <- err
	}()

	// Let the handshake request hit the wire before tearing down.
	time.Sleep(100 * time.Millisecond)
	client.Close()

	select {
	case err := <-done:
		var te *ToolError
		if !asToolError(err, &te) || te.Kind != ErrKindConnection {
			t.Fatalf("expected CONNECTION classification, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not unblock the in-flight call")
	}

	if state := client.State(); state != "closed" {
		t.Errorf("state after Close = %q, want closed", state)
	}
}
