// Package agent drives the bounded multi-round conversation between one LLM
// and the tool ecosystem: ask the model for its next action, execute any
// tool calls it requests through the dispatcher, feed results back, repeat
// until the model stops asking or the round cap is hit.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/LanfordCai/allnads/internal/mcp"
	"github.com/LanfordCai/allnads/internal/providers"
	"github.com/LanfordCai/allnads/internal/session"
	"github.com/LanfordCai/allnads/internal/stream"
)

// Dispatcher executes qualified tool calls. It never fails with a Go
// error; failures arrive as results with IsError=true.
type Dispatcher interface {
	CallTool(ctx context.Context, qualifiedName string, args map[string]interface{}) *mcp.CallToolResult
}

// Catalog supplies the currently advertised tool catalogue.
type Catalog interface {
	ListAllTools() []mcp.QualifiedTool
}

// Store persists conversation turns. The loop only appends.
type Store interface {
	AppendTurn(sessionID string, turn session.Turn) error
	LoadHistory(sessionID string) ([]session.Turn, error)
}

// Options bound one conversation turn.
type Options struct {
	Model         string
	MaxTokens     int
	Temperature   float64
	MaxToolRounds int
	LLMTimeout    time.Duration
	SystemPrompt  string
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	if o.MaxToolRounds <= 0 {
		o.MaxToolRounds = 10
	}
	if o.LLMTimeout <= 0 {
		o.LLMTimeout = 120 * time.Second
	}
	return o
}

// Loop coordinates one session's conversation rounds. A Loop is safe for
// use from multiple goroutines as long as each session is driven by at
// most one Run at a time.
type Loop struct {
	provider   providers.Provider
	dispatcher Dispatcher
	catalog    Catalog
	store      Store
	opts       Options
	context    *ContextBuilder
	logger     *slog.Logger
}

// LoopConfig contains the collaborators for creating a new Loop.
type LoopConfig struct {
	Provider   providers.Provider
	Dispatcher Dispatcher
	Catalog    Catalog
	Store      Store
	Options    Options
	Logger     *slog.Logger
}

// NewLoop creates a new agent loop with the given configuration.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Loop{
		provider:   cfg.Provider,
		dispatcher: cfg.Dispatcher,
		catalog:    cfg.Catalog,
		store:      cfg.Store,
		opts:       cfg.Options.withDefaults(),
		context:    NewContextBuilder(cfg.Options.SystemPrompt),
		logger:     logger,
	}, nil
}

// Run processes one user message for a session, streaming progress to the
// sink and persisting every turn. The returned error reports systemic
// failures (LLM unreachable, store broken); by the time it returns, the
// sink has seen a terminal event and the transcript is consistent.
func (l *Loop) Run(ctx context.Context, sessionID, userMessage string, sink stream.Sink) error {
	history, err := l.store.LoadHistory(sessionID)
	if err != nil {
		return l.failRound(sessionID, sink, fmt.Errorf("load history: %w", err))
	}

	messages := l.context.BuildMessages(history, userMessage)

	if err := l.append(sessionID, session.Turn{Role: "user", Content: userMessage}); err != nil {
		return l.failRound(sessionID, sink, fmt.Errorf("persist user turn: %w", err))
	}

	rounds := 0

	for {
		sink.Emit(stream.Thinking(sessionID))

		// The catalogue is re-read every round so servers registered or
		// removed mid-conversation take effect on the next model call.
		resp, err := l.ask(ctx, messages, l.catalogue())
		if err != nil {
			return l.failRound(sessionID, sink, err)
		}

		// Assistant text is streamed and persisted before any tool calls in
		// the same reply; a crash mid-round still leaves a recoverable
		// partial answer.
		if resp.Content != "" {
			sink.Emit(stream.AssistantMessage(sessionID, resp.Content))
			if err := l.append(sessionID, session.Turn{Role: "assistant", Content: resp.Content}); err != nil {
				return l.failRound(sessionID, sink, fmt.Errorf("persist assistant turn: %w", err))
			}
		}

		if !resp.HasToolCalls() {
			sink.Emit(stream.Complete(sessionID))
			return nil
		}

		if rounds >= l.opts.MaxToolRounds {
			return l.summarize(ctx, sessionID, messages, resp.Content, sink)
		}

		messages = append(messages, providers.ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if err := l.appendToolCallTurn(sessionID, resp.ToolCalls); err != nil {
			return l.failRound(sessionID, sink, err)
		}

		// Calls execute sequentially in request order so the transcript
		// ordering trivially matches the order the model asked for them.
		for _, call := range resp.ToolCalls {
			resultText := l.executeCall(ctx, sessionID, call, sink)

			messages = append(messages, providers.ChatMessage{
				Role:       "tool",
				Content:    resultText,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
			if err := l.append(sessionID, session.Turn{
				Role:       "tool",
				Content:    resultText,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			}); err != nil {
				return l.failRound(sessionID, sink, fmt.Errorf("persist tool turn: %w", err))
			}
		}

		rounds++
	}
}

// ask issues one LLM request under its own timeout, independent of
// tool-call timeouts.
func (l *Loop) ask(ctx context.Context, messages []providers.ChatMessage, catalogue []providers.ToolDefinition) (*providers.ChatResponse, error) {
	llmCtx, cancel := context.WithTimeout(ctx, l.opts.LLMTimeout)
	defer cancel()

	resp, err := l.provider.Chat(llmCtx, providers.ChatRequest{
		Messages:    messages,
		Tools:       catalogue,
		Model:       l.opts.Model,
		MaxTokens:   l.opts.MaxTokens,
		Temperature: l.opts.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM request failed: %w", err)
	}
	return resp, nil
}

// executeCall runs one requested tool call through the dispatcher and
// returns the text fed back to the model. Argument parse failures become
// tool results, not crashes.
func (l *Loop) executeCall(ctx context.Context, sessionID string, call providers.ToolCall, sink stream.Sink) string {
	var args map[string]interface{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			message := fmt.Sprintf("invalid tool arguments for %s: %v", call.Name, err)
			sink.Emit(stream.ToolError(sessionID, call.Name, message))
			return message
		}
	}

	sink.Emit(stream.ToolCalling(sessionID, call.Name, json.RawMessage(call.Arguments)))

	result := l.dispatcher.CallTool(ctx, call.Name, args)
	text := result.Text()

	if result.IsError {
		sink.Emit(stream.ToolError(sessionID, call.Name, text))
		return text
	}

	if encoded, err := json.Marshal(result); err == nil {
		sink.Emit(stream.ToolResult(sessionID, call.Name, encoded))
	} else {
		sink.Emit(stream.ToolResult(sessionID, call.Name, json.RawMessage(fmt.Sprintf("%q", text))))
	}
	return text
}

// summarize issues the single forced-summary request after the round cap
// was reached while the model was still asking for tools. No catalogue is
// attached, so the model cannot request further calls.
func (l *Loop) summarize(ctx context.Context, sessionID string, messages []providers.ChatMessage, lastContent string, sink stream.Sink) error {
	l.logger.Info("tool round cap reached, forcing summary", "session", sessionID, "cap", l.opts.MaxToolRounds)

	// The pending tool calls are dropped; carrying them without results
	// would break the chat protocol. The model's partial text, if any, is
	// already streamed and persisted.
	if lastContent != "" {
		messages = append(messages, providers.ChatMessage{Role: "assistant", Content: lastContent})
	}
	messages = append(messages, providers.ChatMessage{
		Role:    "user",
		Content: "You have used the maximum number of tool rounds. Summarize what you found and answer as best you can without further tool use.",
	})

	resp, err := l.ask(ctx, messages, nil)
	if err != nil {
		return l.failRound(sessionID, sink, err)
	}

	sink.Emit(stream.AssistantMessage(sessionID, resp.Content))
	if err := l.append(sessionID, session.Turn{Role: "assistant", Content: resp.Content}); err != nil {
		return l.failRound(sessionID, sink, fmt.Errorf("persist summary turn: %w", err))
	}

	sink.Emit(stream.Complete(sessionID))
	return nil
}

// failRound resolves a systemic failure to a consistent, user-visible end
// state: an error event on the sink, plus a persisted apologetic assistant
// turn carrying the raw error.
func (l *Loop) failRound(sessionID string, sink stream.Sink, cause error) error {
	l.logger.Error("conversation round failed", "session", sessionID, "error", cause)

	sink.Emit(stream.Error(sessionID, cause.Error()))

	apology := fmt.Sprintf("I'm sorry, I ran into a problem and couldn't finish processing your request. (%v)", cause)
	if err := l.append(sessionID, session.Turn{Role: "assistant", Content: apology}); err != nil {
		l.logger.Error("failed to persist apology turn", "session", sessionID, "error", err)
	}

	sink.Emit(stream.Complete(sessionID))
	return cause
}

// append persists one turn.
func (l *Loop) append(sessionID string, turn session.Turn) error {
	return l.store.AppendTurn(sessionID, turn)
}

// appendToolCallTurn persists the assistant's raw tool-call turn.
func (l *Loop) appendToolCallTurn(sessionID string, calls []providers.ToolCall) error {
	records := make([]session.ToolCallRecord, len(calls))
	for i, call := range calls {
		records[i] = session.ToolCallRecord{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: call.Arguments,
		}
	}
	if err := l.append(sessionID, session.Turn{Role: "assistant", ToolCalls: records}); err != nil {
		return fmt.Errorf("persist tool-call turn: %w", err)
	}
	return nil
}

// catalogue converts the registry's tool index into LLM tool definitions
// under their qualified names.
func (l *Loop) catalogue() []providers.ToolDefinition {
	tools := l.catalog.ListAllTools()
	if len(tools) == 0 {
		return nil
	}

	defs := make([]providers.ToolDefinition, len(tools))
	for i, qt := range tools {
		params := qt.Tool.InputSchema
		if params == nil {
			params = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		defs[i] = providers.ToolDefinition{
			Name:        qt.QualifiedName(),
			Description: qt.Tool.Description,
			Parameters:  params,
		}
	}
	return defs
}
