// Package app wires configuration into a running assistant.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ent0n29/ava/internal/agent"
	"github.com/ent0n29/ava/internal/assistant"
	"github.com/ent0n29/ava/internal/brain"
	"github.com/ent0n29/ava/internal/config"
	"github.com/ent0n29/ava/internal/httpapi"
	"github.com/ent0n29/ava/internal/memory"
	"github.com/ent0n29/ava/internal/observability"
	"github.com/ent0n29/ava/internal/session"
)

type Options struct {
	// Tools routes turns through the tool agent.
	Tools bool
	// ResumeID makes a stored session active instead of starting a new one.
	ResumeID string
	Logger   *zap.Logger
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Loop     *assistant.Loop
	Sessions *session.Manager
	Store    session.Store
	Metrics  *observability.Metrics
	Logger   *zap.Logger
	// Warning is set when ResumeID could not be resumed and a new session was started.
	Warning string

	// Cleanup releases the store connection.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, opts Options) (*BuildResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := session.NewStore(ctx, session.StoreConfig{
		Backend:     cfg.StoreBackend,
		Dir:         cfg.ChatDir,
		SQLitePath:  cfg.SQLitePath,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}

	base, err := brain.New(brain.Config{
		Provider:          cfg.BrainProvider,
		Model:             cfg.Model,
		OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
		OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		AnthropicAPIKey:   cfg.AnthropicAPIKey,
		AnthropicModel:    cfg.AnthropicModel,
		OllamaURL:         cfg.OllamaURL,
		OllamaModel:       cfg.OllamaModel,
		HTTPURL:           cfg.BrainHTTPURL,
		Timeout:           cfg.CompletionTimeout,
		Retries:           cfg.CompletionRetries,
		MaxTokens:         cfg.MaxTokens,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("completion provider init failed: %w", err)
	}

	completer := base
	if opts.Tools {
		wiki := agent.NewWikipediaClient(cfg.WikipediaURL, cfg.CompletionTimeout)
		completer = agent.New(base, agent.Registry(wiki), cfg.AgentMaxSteps, logger)
	}

	sessions := session.NewManager(store, memory.NewConversation(), logger)
	sessions.SetEventHook(func(ev session.Event) {
		metrics.SessionEvents.WithLabelValues(string(ev.Kind)).Inc()
	})

	// Titles come from the plain completer; tool use would only add noise.
	loop := assistant.NewLoop(sessions, completer,
		assistant.WithTitler(base),
		assistant.WithMetrics(metrics),
		assistant.WithLogger(logger),
	)

	warning, err := start(ctx, loop, opts.ResumeID)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}

	api := httpapi.New(cfg, loop, metrics, logger)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Loop:     loop,
		Sessions: sessions,
		Store:    store,
		Metrics:  metrics,
		Logger:   logger,
		Warning:  warning,
		Cleanup:  store.Close,
	}, nil
}

// start makes ResumeID active, or starts a new session when it is empty, missing or
// unreadable.
func start(ctx context.Context, loop *assistant.Loop, resumeID string) (string, error) {
	if resumeID == "" {
		return "", loop.NewSession(ctx)
	}
	warning, err := loop.SwitchTo(ctx, resumeID)
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrInvalidID) {
		return fmt.Sprintf("chat %q not found; started a new one", resumeID), loop.NewSession(ctx)
	}
	return warning, err
}
