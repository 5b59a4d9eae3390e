package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/LanfordCai/allnads/internal/mcp"
)

// Config represents the root configuration structure for AllNads.
type Config struct {
	Agent       AgentConfig        `json:"agent"`
	Providers   ProvidersConfig    `json:"providers"`
	Gateway     GatewayConfig      `json:"gateway"`
	ToolServers []ToolServerConfig `json:"toolServers"`
	Retry       RetryConfig        `json:"retry"`
	LogLevel    string             `json:"logLevel"`
	DataDir     string             `json:"dataDir"`
}

// AgentConfig holds the conversational agent's defaults.
type AgentConfig struct {
	Model             string  `json:"model"`
	MaxTokens         int     `json:"maxTokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolRounds     int     `json:"maxToolRounds"`
	LLMTimeoutSeconds int     `json:"llmTimeoutSeconds"`
	SystemPrompt      string  `json:"systemPrompt,omitempty"`
}

// LLMTimeout returns the LLM request deadline as a duration.
func (a AgentConfig) LLMTimeout() time.Duration {
	return time.Duration(a.LLMTimeoutSeconds) * time.Second
}

// ProvidersConfig holds all LLM provider configurations.
type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter"`
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenAI     ProviderConfig `json:"openai"`
	Groq       ProviderConfig `json:"groq"`
}

// ProviderConfig represents one LLM provider configuration.
type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	APIBase string `json:"apiBase,omitempty"`
}

// GatewayConfig holds the WebSocket gateway's bind address.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ToolServerConfig represents a tool server registered at startup.
type ToolServerConfig struct {
	ID          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	URL         string            `json:"url"`       // For HTTP: server endpoint
	Command     string            `json:"command"`   // For stdio: command to run
	Args        []string          `json:"args"`      // Command arguments
	Transport   string            `json:"transport"` // "http" or "stdio"
	Env         map[string]string `json:"env"`       // Environment for stdio servers
}

// Server converts the config entry into a registry descriptor.
func (t ToolServerConfig) Server() mcp.Server {
	return mcp.Server{
		ID:          t.ID,
		Description: t.Description,
		URL:         t.URL,
		Command:     t.Command,
		Args:        t.Args,
		Transport:   t.Transport,
		Env:         t.Env,
	}
}

// RetryConfig holds the dispatcher's global retry policy.
type RetryConfig struct {
	MaxRetries           int `json:"maxRetries"`
	RetryIntervalSeconds int `json:"retryIntervalSeconds"`
	TimeoutSeconds       int `json:"timeoutSeconds"`
}

// Policy converts the config entry into a dispatcher policy.
func (r RetryConfig) Policy() mcp.RetryPolicy {
	return mcp.RetryPolicy{
		MaxRetries:    r.MaxRetries,
		RetryInterval: time.Duration(r.RetryIntervalSeconds) * time.Second,
		Timeout:       time.Duration(r.TimeoutSeconds) * time.Second,
	}
}

// DefaultConfig returns a new Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:             "gpt-4o",
			MaxTokens:         4096,
			Temperature:       0.7,
			MaxToolRounds:     10,
			LLMTimeoutSeconds: 120,
		},
		Providers: ProvidersConfig{
			OpenRouter: ProviderConfig{APIBase: "https://openrouter.ai/api/v1"},
			Anthropic:  ProviderConfig{APIBase: "https://api.anthropic.com/v1"},
			OpenAI:     ProviderConfig{APIBase: "https://api.openai.com/v1"},
			Groq:       ProviderConfig{APIBase: "https://api.groq.com/openai/v1"},
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		ToolServers: []ToolServerConfig{},
		Retry: RetryConfig{
			MaxRetries:           2,
			RetryIntervalSeconds: 1,
			TimeoutSeconds:       30,
		},
		LogLevel: "info",
		DataDir:  "~/.allnads/data",
	}
}

// DataPath returns the expanded data directory, falling back to the
// default when unset.
func (c *Config) DataPath() string {
	dir := c.DataDir
	if dir == "" {
		dir = "~/.allnads/data"
	}
	return expandPath(dir)
}

// SessionDBPath returns the path of the transcript database inside the
// data directory.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.DataPath(), "sessions.db")
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
