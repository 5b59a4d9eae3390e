package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy bounds one dispatched tool call: how many retries transient
// failures get, how long to wait between attempts, and the deadline applied
// to each attempt. The interval is fixed rather than exponential; the
// surrounding loop is human-paced and favors simplicity over throughput.
type RetryPolicy struct {
	MaxRetries    int           `json:"maxRetries"`
	RetryInterval time.Duration `json:"retryInterval"`
	Timeout       time.Duration `json:"timeout"`
}

// DefaultRetryPolicy is used when a call carries no explicit policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    2,
		RetryInterval: 1 * time.Second,
		Timeout:       30 * time.Second,
	}
}

// Dispatcher turns an unreliable remote tool call into a predictable,
// bounded operation. CallTool never returns a Go error: every failure path
// terminates in a CallToolResult with IsError=true carrying the
// classification, so the agent loop can feed failures back to the LLM as
// ordinary conversational content.
type Dispatcher struct {
	manager *Manager
	policy  RetryPolicy
	logger  *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRetryPolicy sets the global policy applied when a call has none.
func WithRetryPolicy(policy RetryPolicy) DispatcherOption {
	return func(d *Dispatcher) {
		d.policy = policy
	}
}

// WithDispatcherLogger sets the structured logger for dispatch events.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(manager *Manager, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		manager: manager,
		policy:  DefaultRetryPolicy(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Policy returns the dispatcher's global retry policy.
func (d *Dispatcher) Policy() RetryPolicy {
	return d.policy
}

// CallTool dispatches a qualified tool call under the global policy.
func (d *Dispatcher) CallTool(ctx context.Context, qualifiedName string, args map[string]interface{}) *CallToolResult {
	return d.CallToolWithPolicy(ctx, qualifiedName, args, d.policy)
}

// CallToolWithPolicy dispatches a qualified tool call under an explicit
// policy. The qualified name is resolved against the registry; transient
// failures are retried at a fixed interval with a fresh timeout window per
// attempt; non-retryable failures return immediately.
func (d *Dispatcher) CallToolWithPolicy(ctx context.Context, qualifiedName string, args map[string]interface{}, policy RetryPolicy) *CallToolResult {
	serverID, toolName, perr := SplitToolName(qualifiedName)
	if perr != nil {
		return errorResult(perr)
	}

	if _, ok := d.manager.Lookup(qualifiedName); !ok {
		return errorResult(NewToolError(ErrKindToolNotFound, "tool %q not found", qualifiedName))
	}

	client, ok := d.manager.client(serverID)
	if !ok {
		return errorResult(NewToolError(ErrKindToolNotFound, "tool %q not found", qualifiedName))
	}

	if policy.Timeout <= 0 {
		policy.Timeout = d.policy.Timeout
	}

	var lastErr *ToolError
	maxAttempts := policy.MaxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return errorResult(Classify(ctx.Err(), fmt.Sprintf("call %q", qualifiedName)))
		}

		if attempt > 0 {
			d.logger.Debug("retrying tool call",
				"tool", qualifiedName,
				"attempt", attempt,
				"maxRetries", policy.MaxRetries,
				"interval", policy.RetryInterval)

			select {
			case <-time.After(policy.RetryInterval):
			case <-ctx.Done():
				return errorResult(Classify(ctx.Err(), fmt.Sprintf("call %q", qualifiedName)))
			}
		}

		// Each attempt gets its own timeout window; a slow first attempt
		// must not eat into a later retry's deadline.
		attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		result, err := client.CallTool(attemptCtx, toolName, args)
		cancel()

		if err == nil {
			return result
		}

		lastErr = Classify(err, fmt.Sprintf("call %q", qualifiedName))
		d.logger.Warn("tool call attempt failed",
			"tool", qualifiedName,
			"attempt", attempt+1,
			"kind", string(lastErr.Kind),
			"error", lastErr.Message)

		if !lastErr.Kind.Retryable() {
			return errorResult(lastErr)
		}
	}

	return errorResult(lastErr)
}

// errorResult renders a classified failure as a deliverable tool result.
func errorResult(te *ToolError) *CallToolResult {
	return &CallToolResult{
		IsError: true,
		Content: TextContent(fmt.Sprintf("[%s] %s", te.Kind, te.Message)),
	}
}
