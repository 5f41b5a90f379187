// Package brain talks to the remote completion service.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/ava/internal/memory"
	"github.com/ent0n29/ava/internal/reliability"
)

// Completer turns a conversation into the next assistant reply.
type Completer interface {
	Complete(ctx context.Context, messages []memory.Message) (string, error)
}

// TransportError reports a failed call to a completion provider.
type TransportError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func newTransportError(provider string, status int, err error) *TransportError {
	retryable := reliability.IsRetryableError(err)
	if status > 0 {
		retryable = reliability.IsRetryableHTTPStatus(status)
	}
	return &TransportError{
		Provider:   provider,
		StatusCode: status,
		Retryable:  retryable,
		Err:        err,
	}
}

// ProviderName returns the provider label of c, or "unknown".
func ProviderName(c Completer) string {
	if n, ok := c.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "unknown"
}

// Config controls completer construction.
type Config struct {
	Provider          string
	Model             string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	AnthropicAPIKey   string
	AnthropicModel    string
	OllamaURL         string
	OllamaModel       string
	HTTPURL           string
	Timeout           time.Duration
	Retries           int
	MaxTokens         int
}

// New builds the configured completer, wrapped with retries when Retries > 0.
func New(cfg Config, logger *zap.Logger) (Completer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("completion provider selected",
		zap.String("provider", ProviderName(base)),
		zap.Int("retries", cfg.Retries),
	)
	if cfg.Retries > 0 {
		return NewRetrying(base, cfg.Retries, logger), nil
	}
	return base, nil
}

func newProvider(cfg Config) (Completer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}

	switch provider {
	case "auto":
		return newAutoProvider(cfg), nil
	case "openrouter":
		if strings.TrimSpace(cfg.OpenRouterAPIKey) == "" {
			return nil, errors.New("OPENROUTER_API_KEY is required for the openrouter provider")
		}
		return NewOpenRouter(cfg), nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		return NewAnthropic(cfg), nil
	case "ollama":
		return NewOllama(cfg)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("AVA_BRAIN_HTTP_URL is required for the http provider")
		}
		return NewHTTP(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported brain provider %q (expected auto|openrouter|anthropic|ollama|http|mock)", cfg.Provider)
	}
}

func newAutoProvider(cfg Config) Completer {
	switch {
	case strings.TrimSpace(cfg.OpenRouterAPIKey) != "":
		return NewOpenRouter(cfg)
	case strings.TrimSpace(cfg.AnthropicAPIKey) != "":
		return NewAnthropic(cfg)
	case strings.TrimSpace(cfg.HTTPURL) != "":
		return NewHTTP(cfg.HTTPURL, cfg.Timeout)
	default:
		return NewMock()
	}
}

// splitSystem separates system messages, which some providers take out of band.
func splitSystem(msgs []memory.Message) (string, []memory.Message) {
	var system []string
	rest := make([]memory.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == memory.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
