// Package stream defines the typed event channel the agent loop emits
// conversation progress on. Emission is fire-and-forget: a sink that has
// stopped observing (closed socket, full buffer) must never abort the
// round that produced the event.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies one kind of conversation event.
type EventType string

const (
	EventThinking         EventType = "thinking"
	EventAssistantMessage EventType = "assistant_message"
	EventToolCalling      EventType = "tool_calling"
	EventToolResult       EventType = "tool_result"
	EventToolError        EventType = "tool_error"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
)

// Event is one unit of conversation progress. Fields are populated per
// type: Text for assistant messages, Tool/Args for tool_calling, Tool and
// Result for tool_result, Tool and Message for tool_error, Message for
// error, SessionID for complete.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Text      string          `json:"text,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Thinking builds a thinking event.
func Thinking(sessionID string) Event {
	return Event{Type: EventThinking, SessionID: sessionID, Timestamp: time.Now()}
}

// AssistantMessage builds an assistant_message event.
func AssistantMessage(sessionID, text string) Event {
	return Event{Type: EventAssistantMessage, SessionID: sessionID, Text: text, Timestamp: time.Now()}
}

// ToolCalling builds a tool_calling event. args is the raw JSON argument
// payload as requested by the model.
func ToolCalling(sessionID, tool string, args json.RawMessage) Event {
	return Event{Type: EventToolCalling, SessionID: sessionID, Tool: tool, Args: args, Timestamp: time.Now()}
}

// ToolResult builds a tool_result event carrying the normalized result JSON.
func ToolResult(sessionID, tool string, result json.RawMessage) Event {
	return Event{Type: EventToolResult, SessionID: sessionID, Tool: tool, Result: result, Timestamp: time.Now()}
}

// ToolError builds a tool_error event.
func ToolError(sessionID, tool, message string) Event {
	return Event{Type: EventToolError, SessionID: sessionID, Tool: tool, Message: message, Timestamp: time.Now()}
}

// Complete builds a complete event.
func Complete(sessionID string) Event {
	return Event{Type: EventComplete, SessionID: sessionID, Timestamp: time.Now()}
}

// Error builds an error event.
func Error(sessionID, message string) Event {
	return Event{Type: EventError, SessionID: sessionID, Message: message, Timestamp: time.Now()}
}
