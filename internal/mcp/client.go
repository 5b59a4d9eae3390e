package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"
)

// connState tracks the connection lifecycle of a protocol client.
type connState int

const (
	stateUnconnected connState = iota
	stateConnecting
	stateReady
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateUnconnected:
		return "unconnected"
	case stateConnecting:
		return "connecting"
	case stateReady:
		return "ready"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// protocolVersion is the MCP protocol revision this client speaks.
const protocolVersion = "2024-11-05"

// defaultOpTimeout bounds a single protocol operation (handshake, tool list,
// tool call) when the caller's context carries no deadline of its own.
const defaultOpTimeout = 30 * time.Second

// Client manages exactly one tool server's connection lifecycle and
// individual tool calls. All failure paths surface classified *ToolError
// values; nothing is swallowed.
type Client struct {
	server Server

	process *exec.Cmd             // For stdio transport
	stdin   io.WriteCloser        // stdin pipe to process
	stdout  io.ReadCloser         // stdout pipe from process
	pending map[int]chan Response // In-flight stdio requests keyed by id
	pipeMu  sync.Mutex            // Guards process, pipes, and pending
	httpc   *http.Client          // For HTTP transport

	opTimeout time.Duration

	state   connState
	stateMu sync.RWMutex

	tools  []Tool
	nextID int
	mu     sync.Mutex // Protects nextID and tools
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithOpTimeout overrides the per-operation timeout applied when the
// caller's context has no deadline.
func WithOpTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.opTimeout = d
		}
	}
}

// NewClient creates a protocol client for the given server descriptor. The
// client starts Unconnected; Initialize establishes the transport.
func NewClient(server Server, opts ...ClientOption) *Client {
	c := &Client{
		server:    server,
		httpc:     &http.Client{},
		opTimeout: defaultOpTimeout,
		nextID:    1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Server returns the descriptor this client was created with.
func (c *Client) Server() Server {
	return c.server
}

// State returns the current lifecycle state as a string, for status output.
func (c *Client) State() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state.String()
}

// Initialize establishes the transport connection and fetches the tool list.
// Connecting is idempotent: a second call while Ready re-fetches tools
// without a second handshake. Connect and list are individually time-boxed.
func (c *Client) Initialize(ctx context.Context) ([]Tool, error) {
	c.stateMu.Lock()
	switch c.state {
	case stateClosed:
		c.stateMu.Unlock()
		return nil, NewToolError(ErrKindConnection, "client for server %q is closed", c.server.ID)
	case stateReady:
		c.stateMu.Unlock()
	default:
		c.state = stateConnecting
		c.stateMu.Unlock()

		if err := c.connect(ctx); err != nil {
			// Handshake failure returns to Unconnected, not Closed, so a
			// later Initialize retry is legal.
			c.teardown(stateUnconnected)
			return nil, Classify(err, fmt.Sprintf("connect to server %q", c.server.ID))
		}

		c.stateMu.Lock()
		c.state = stateReady
		c.stateMu.Unlock()
	}

	tools, err := c.listTools(ctx)
	if err != nil {
		c.teardown(stateUnconnected)
		return nil, Classify(err, fmt.Sprintf("list tools from server %q", c.server.ID))
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()

	return tools, nil
}

// connect establishes the underlying transport and performs the MCP
// handshake.
func (c *Client) connect(ctx context.Context) error {
	switch c.server.Transport {
	case "stdio":
		return c.connectStdio(ctx)
	case "http", "":
		return c.handshake(ctx)
	default:
		return NewToolError(ErrKindConnection, "unsupported transport %q for server %q", c.server.Transport, c.server.ID)
	}
}

// connectStdio spawns the server process, wires its pipes, and performs the
// handshake over them.
func (c *Client) connectStdio(ctx context.Context) error {
	process := exec.Command(c.server.Command, c.server.Args...)

	process.Env = os.Environ()
	for k, v := range c.server.Env {
		process.Env = append(process.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := process.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := process.Start(); err != nil {
		return fmt.Errorf("start server process: %w", err)
	}

	c.pipeMu.Lock()
	c.process = process
	c.stdin = stdin
	c.stdout = stdout
	c.pending = make(map[int]chan Response)
	c.pipeMu.Unlock()

	go c.readStdio(stdout, c.pending)

	return c.handshake(ctx)
}

// readStdio pumps response frames from the server process to their waiting
// callers, matching frames to calls by request id. When the pipe closes it
// fails every call still in flight by closing its channel. The pump holds
// its own reference to the pending map so a reconnect's fresh transport is
// never touched by a draining predecessor.
func (c *Client) readStdio(r io.Reader, pending map[int]chan Response) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			// Not a response frame; likely a server notification.
			continue
		}

		c.pipeMu.Lock()
		ch, ok := pending[resp.ID]
		if ok {
			delete(pending, resp.ID)
		}
		c.pipeMu.Unlock()

		// Responses to abandoned requests have no channel and are dropped.
		if ok {
			ch <- resp
		}
	}

	c.pipeMu.Lock()
	for id, ch := range pending {
		close(ch)
		delete(pending, id)
	}
	c.pipeMu.Unlock()
}

// handshake sends the initialize request followed by the initialized
// notification.
func (c *Client) handshake(ctx context.Context) error {
	params := InitializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities: Capabilities{
			Roots: &RootsCapability{ListChanged: false},
		},
		ClientInfo: ClientInfo{
			Name:    "allnads",
			Version: "0.1.0",
		},
	}

	var result InitializeResult
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return err
	}

	return c.notify(ctx, "notifications/initialized", nil)
}

// listTools fetches the current tool list from the server.
func (c *Client) listTools(ctx context.Context) ([]Tool, error) {
	var result ListToolsResult
	if err := c.call(ctx, "tools/list", nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// Tools returns the tool list cached at the last successful Initialize.
func (c *Client) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// hasTool reports whether the server advertised the named tool at the last
// Initialize.
func (c *Client) hasTool(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// CallTool invokes a tool on the server and normalizes the raw reply into a
// CallToolResult. Unknown tool names fail fast without touching the wire.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*CallToolResult, error) {
	c.stateMu.RLock()
	state := c.state
	c.stateMu.RUnlock()

	if state != stateReady {
		return nil, NewToolError(ErrKindConnection, "server %q is %s", c.server.ID, state)
	}

	if !c.hasTool(name) {
		return nil, NewToolError(ErrKindToolNotFound, "server %q does not advertise tool %q", c.server.ID, name)
	}

	params := CallToolParams{Name: name, Arguments: args}

	var raw json.RawMessage
	if err := c.call(ctx, "tools/call", params, &raw); err != nil {
		return nil, Classify(err, fmt.Sprintf("call tool %q on server %q", name, c.server.ID))
	}

	return normalizeResult(raw), nil
}

// normalizeResult converts an arbitrary tools/call reply into the uniform
// CallToolResult shape: a bare string becomes one text block, an
// image-shaped object becomes an image block, a content-array reply is
// decoded directly, and anything else is carried as its JSON serialization.
func normalizeResult(raw json.RawMessage) *CallToolResult {
	if len(raw) == 0 {
		return &CallToolResult{Content: TextContent("")}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &CallToolResult{Content: TextContent(s)}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		if _, ok := obj["content"]; ok {
			var result CallToolResult
			if err := json.Unmarshal(raw, &result); err == nil {
				return normalizeBlocks(&result)
			}
		}
		if block, ok := imageBlock(obj); ok {
			return &CallToolResult{Content: []ContentBlock{block}}
		}
	}

	return &CallToolResult{Content: TextContent(string(raw))}
}

// imageBlock decodes {type:"image", data, mimeType} shaped objects.
func imageBlock(obj map[string]json.RawMessage) (ContentBlock, bool) {
	var typ, data, mime string
	if err := json.Unmarshal(obj["type"], &typ); err != nil || typ != ContentTypeImage {
		return ContentBlock{}, false
	}
	if err := json.Unmarshal(obj["data"], &data); err != nil {
		return ContentBlock{}, false
	}
	if err := json.Unmarshal(obj["mimeType"], &mime); err != nil {
		return ContentBlock{}, false
	}
	return ContentBlock{Type: ContentTypeImage, Data: data, MimeType: mime}, true
}

// normalizeBlocks rewrites unrecognized block types as text so downstream
// consumers only ever see the three known kinds.
func normalizeBlocks(result *CallToolResult) *CallToolResult {
	for i, block := range result.Content {
		switch block.Type {
		case ContentTypeText, ContentTypeImage, ContentTypeResource:
		default:
			encoded, err := json.Marshal(block)
			if err != nil {
				encoded = []byte(block.Text)
			}
			result.Content[i] = ContentBlock{Type: ContentTypeText, Text: string(encoded)}
		}
	}
	return result
}

// Close releases the transport. Subsequent calls fail with a CONNECTION
// classification; a closed client is never reused.
func (c *Client) Close() error {
	c.teardown(stateClosed)
	return nil
}

// teardown releases transport resources and moves to the given state.
// Closing the stdout pipe is what stops the reader pump; the pump then fails
// any calls still waiting on a response.
func (c *Client) teardown(next connState) {
	c.stateMu.Lock()
	if c.state == stateClosed {
		c.stateMu.Unlock()
		return
	}
	c.state = next
	c.stateMu.Unlock()

	c.pipeMu.Lock()
	if c.stdin != nil {
		c.stdin.Close()
		c.stdin = nil
	}
	if c.stdout != nil {
		c.stdout.Close()
		c.stdout = nil
	}
	process := c.process
	c.process = nil
	c.pipeMu.Unlock()

	if process != nil && process.Process != nil {
		process.Process.Kill()
		process.Wait()
	}
}

// call sends a JSON-RPC request and decodes the response result. Each call
// gets its own deadline when the caller's context carries none.
func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opTimeout)
		defer cancel()
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.mu.Unlock()

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	var resp Response
	var err error

	switch c.server.Transport {
	case "stdio":
		resp, err = c.callStdio(ctx, req)
	case "http", "":
		resp, err = c.callHTTP(ctx, req)
	default:
		return NewToolError(ErrKindConnection, "unsupported transport %q", c.server.Transport)
	}

	if err != nil {
		return err
	}

	if resp.Error != nil {
		return resp.Error
	}

	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}

	return nil
}

// callStdio sends a request over stdio and waits for the reader pump to
// deliver the matching response. The wait honors the call's deadline even
// when the server process never writes a byte.
func (c *Client) callStdio(ctx context.Context, req Request) (Response, error) {
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan Response, 1)

	c.pipeMu.Lock()
	if c.stdin == nil || c.pending == nil {
		c.pipeMu.Unlock()
		return Response{}, NewToolError(ErrKindConnection, "stdio transport for server %q is not open", c.server.ID)
	}
	c.pending[req.ID] = ch
	_, err = c.stdin.Write(append(reqBytes, '\n'))
	c.pipeMu.Unlock()

	if err != nil {
		c.forget(req.ID)
		return Response{}, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, NewToolError(ErrKindConnection, "server %q closed its response stream", c.server.ID)
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(req.ID)
		return Response{}, ctx.Err()
	}
}

// forget abandons an in-flight stdio request. If the server answers it
// later the pump drops the response.
func (c *Client) forget(id int) {
	c.pipeMu.Lock()
	delete(c.pending, id)
	c.pipeMu.Unlock()
}

// callHTTP sends a request over HTTP and reads the response.
func (c *Client) callHTTP(ctx context.Context, req Request) (Response, error) {
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server.URL, bytes.NewReader(reqBytes))
	if err != nil {
		return Response{}, fmt.Errorf("create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read HTTP response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return Response{}, fmt.Errorf("parse HTTP response: %w", err)
	}

	return resp, nil
}

// notify sends a notification (no response expected).
func (c *Client) notify(ctx context.Context, method string, params interface{}) error {
	req := struct {
		JSONRPC string      `json:"jsonrpc"`
		Method  string      `json:"method"`
		Params  interface{} `json:"params,omitempty"`
	}{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}

	reqBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	switch c.server.Transport {
	case "stdio":
		c.pipeMu.Lock()
		defer c.pipeMu.Unlock()
		if c.stdin == nil {
			return NewToolError(ErrKindConnection, "stdio transport for server %q is not open", c.server.ID)
		}
		if _, err := c.stdin.Write(append(reqBytes, '\n')); err != nil {
			return fmt.Errorf("write notification: %w", err)
		}
		return nil
	case "http", "":
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server.URL, bytes.NewReader(reqBytes))
		if err != nil {
			return fmt.Errorf("create HTTP request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.httpc.Do(httpReq)
		if err != nil {
			return fmt.Errorf("HTTP notification failed: %w", err)
		}
		httpResp.Body.Close()
		return nil
	default:
		return NewToolError(ErrKindConnection, "unsupported transport %q", c.server.Transport)
	}
}
