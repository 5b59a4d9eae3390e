package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/LanfordCai/allnads/internal/agent"
	"github.com/LanfordCai/allnads/internal/config"
	"github.com/LanfordCai/allnads/internal/mcp"
	"github.com/LanfordCai/allnads/internal/providers"
	"github.com/LanfordCai/allnads/internal/session"
)

// services bundles the wired-up application components shared by the
// gateway, chat, and tool commands.
type services struct {
	cfg        *config.Config
	logger     *slog.Logger
	manager    *mcp.Manager
	dispatcher *mcp.Dispatcher
	store      *session.Store
	provider   providers.Provider
	loop       *agent.Loop
}

// buildServices loads configuration and wires the registry, dispatcher,
// store, provider, and agent loop. Configured tool servers are connected
// here; a server that fails to initialize is logged and skipped so one dead
// server does not take the process down. When needLLM is false, no provider
// is required and the loop is not built; tool-only commands work without an
// API key.
func buildServices(ctx context.Context, needLLM bool) (*services, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	var provider providers.Provider
	if needLLM {
		provider, err = providers.NewProviderFromConfig(cfg)
		if err != nil {
			return nil, err
		}
	}

	manager := mcp.NewManager(mcp.WithLogger(logger))
	for _, entry := range cfg.ToolServers {
		if _, err := manager.AddServer(ctx, entry.Server()); err != nil {
			logger.Warn("skipping tool server", "server", entry.ID, "error", err)
		}
	}

	dispatcher := mcp.NewDispatcher(manager,
		mcp.WithRetryPolicy(cfg.Retry.Policy()),
		mcp.WithDispatcherLogger(logger),
	)

	if err := os.MkdirAll(filepath.Dir(cfg.SessionDBPath()), 0755); err != nil {
		manager.Close()
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := session.NewStore(cfg.SessionDBPath())
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}

	var loop *agent.Loop
	if needLLM {
		model := cfg.Agent.Model
		if model == "" {
			model = provider.DefaultModel()
		}

		loop, err = agent.NewLoop(agent.LoopConfig{
			Provider:   provider,
			Dispatcher: dispatcher,
			Catalog:    manager,
			Store:      store,
			Logger:     logger,
			Options: agent.Options{
				Model:         model,
				MaxTokens:     cfg.Agent.MaxTokens,
				Temperature:   cfg.Agent.Temperature,
				MaxToolRounds: cfg.Agent.MaxToolRounds,
				LLMTimeout:    cfg.Agent.LLMTimeout(),
				SystemPrompt:  cfg.Agent.SystemPrompt,
			},
		})
		if err != nil {
			store.Close()
			manager.Close()
			return nil, err
		}
	}

	return &services{
		cfg:        cfg,
		logger:     logger,
		manager:    manager,
		dispatcher: dispatcher,
		store:      store,
		provider:   provider,
		loop:       loop,
	}, nil
}

// close releases the registry and the session store.
func (s *services) close() {
	s.manager.Close()
	s.store.Close()
}
