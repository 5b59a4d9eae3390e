// Package mcp provides the Model Context Protocol (MCP) client side of the
// AllNads agent: one protocol client per tool server, a registry of connected
// servers with a flattened tool index, and a dispatcher that turns remote
// tool invocations into bounded, classified results.
package mcp

import "encoding/json"

// Server describes one tool server registration. It is immutable after
// AddServer; unregistering removes the descriptor together with its tools.
type Server struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	URL         string            `json:"url"`       // For HTTP: server endpoint
	Command     string            `json:"command"`   // For stdio: command to run
	Args        []string          `json:"args"`      // Command arguments
	Transport   string            `json:"transport"` // "http" or "stdio"
	Env         map[string]string `json:"env"`       // Environment for stdio servers
}

// Tool represents a tool advertised by an MCP server. InputSchema is kept as
// an untyped JSON object because schemas are discovered at runtime from
// third-party servers.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// QualifiedTool pairs a tool with its owning server, under the wire name
// used by the dispatcher and the LLM catalogue.
type QualifiedTool struct {
	ServerID string `json:"serverId"`
	Tool     Tool   `json:"tool"`
}

// QualifiedName returns the wire identity <serverID>__<toolName>.
func (q QualifiedTool) QualifiedName() string {
	return JoinToolName(q.ServerID, q.Tool.Name)
}

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response. Result is kept raw so the
// caller decides how to decode it.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return e.Message
}

// JSON-RPC error code for invalid method parameters.
const rpcCodeInvalidParams = -32602

// InitializeParams represents the parameters for the initialize request.
type InitializeParams struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ClientInfo      ClientInfo   `json:"clientInfo"`
}

// Capabilities represents client capabilities.
type Capabilities struct {
	Roots        *RootsCapability       `json:"roots,omitempty"`
	Experimental map[string]interface{} `json:"experimental,omitempty"`
}

// RootsCapability represents the roots capability.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ClientInfo represents information about the MCP client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult represents the result of the initialize request.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

// ServerCapabilities represents server capabilities.
type ServerCapabilities struct {
	Tools     *ToolsCapability `json:"tools,omitempty"`
	Resources map[string]any   `json:"resources,omitempty"`
	Prompts   map[string]any   `json:"prompts,omitempty"`
}

// ToolsCapability represents the tools capability.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerInfo represents information about the MCP server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ListToolsResult represents the result of the tools/list request.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams represents the parameters for the tools/call request.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// CallToolResult is the normalized result of a tool invocation. IsError=true
// still means the call completed; the content carries the tool's own failure
// report and is fed back into the conversation.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Text concatenates the text of all text blocks, one per line. Image and
// resource blocks are summarized by their type so the LLM still sees that
// non-text output exists.
func (r *CallToolResult) Text() string {
	var out string
	for _, block := range r.Content {
		if out != "" {
			out += "\n"
		}
		switch block.Type {
		case ContentTypeText:
			out += block.Text
		case ContentTypeImage:
			out += "[image " + block.MimeType + "]"
		case ContentTypeResource:
			out += "[embedded resource]"
		}
	}
	return out
}

// Content block types.
const (
	ContentTypeText     = "text"
	ContentTypeImage    = "image"
	ContentTypeResource = "resource"
)

// ContentBlock is one unit of tool output: text, a base64 image, or an
// embedded resource carried as opaque JSON.
type ContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Data     string          `json:"data,omitempty"`     // base64 image payload
	MimeType string          `json:"mimeType,omitempty"` // image mime type
	Resource json.RawMessage `json:"resource,omitempty"` // embedded resource JSON
}

// TextContent builds a single-block text result.
func TextContent(text string) []ContentBlock {
	return []ContentBlock{{Type: ContentTypeText, Text: text}}
}
