package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/LanfordCai/allnads/internal/providers"
	"github.com/LanfordCai/allnads/internal/session"
)

// defaultSystemPrompt is used when the configuration carries no override.
const defaultSystemPrompt = `You are AllNads, an on-chain assistant. You help users query blockchain state, inspect addresses and balances, and prepare transactions through the tools available to you.

When using tools:
1. Explain what you're doing before calling a tool
2. Tool names are prefixed with the server they live on; use them exactly as listed
3. When a tool reports an error, tell the user what failed and suggest what to try next
4. Never invent on-chain data; if a tool call fails, say so

Be concise and accurate. Answer in the user's language.`

// ContextBuilder assembles the working message list sent to the LLM from
// the system prompt and the persisted transcript.
type ContextBuilder struct {
	systemPrompt string
}

// NewContextBuilder creates a ContextBuilder. An empty systemPrompt selects
// the built-in default.
func NewContextBuilder(systemPrompt string) *ContextBuilder {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &ContextBuilder{systemPrompt: systemPrompt}
}

// SystemPrompt returns the prompt with the current date appended.
func (c *ContextBuilder) SystemPrompt() string {
	var b strings.Builder
	b.WriteString(c.systemPrompt)
	b.WriteString(fmt.Sprintf("\n\nCurrent date and time: %s", time.Now().Format("2006-01-02 15:04:05 MST")))
	return b.String()
}

// BuildMessages converts the persisted transcript plus the new user message
// into the LLM wire format, seeded with the system prompt.
func (c *ContextBuilder) BuildMessages(history []session.Turn, userMessage string) []providers.ChatMessage {
	messages := make([]providers.ChatMessage, 0, len(history)+2)

	messages = append(messages, providers.ChatMessage{
		Role:    "system",
		Content: c.SystemPrompt(),
	})

	for _, turn := range history {
		msg := providers.ChatMessage{
			Role:       turn.Role,
			Content:    turn.Content,
			ToolCallID: turn.ToolCallID,
			Name:       turn.ToolName,
		}
		for _, tc := range turn.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}
		messages = append(messages, msg)
	}

	messages = append(messages, providers.ChatMessage{
		Role:    "user",
		Content: userMessage,
	})

	return messages
}
