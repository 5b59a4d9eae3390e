// Package session persists conversation transcripts. Turns are append-only:
// the agent loop adds turns and never mutates or reorders existing ones, so
// a transcript is an auditable, replayable record of the conversation.
package session

import "time"

// Turn is one entry in a conversation transcript.
type Turn struct {
	Role       string           `json:"role"` // system, user, assistant, tool
	Content    string           `json:"content"`
	ToolCalls  []ToolCallRecord `json:"toolCalls,omitempty"`
	ToolCallID string           `json:"toolCallId,omitempty"`
	ToolName   string           `json:"toolName,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// ToolCallRecord captures one tool call requested in an assistant turn.
// Arguments is the raw JSON string exactly as the model produced it.
type ToolCallRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Info summarizes one stored session.
type Info struct {
	SessionID string    `json:"sessionId"`
	TurnCount int       `json:"turnCount"`
	UpdatedAt time.Time `json:"updatedAt"`
}
