package brain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/ent0n29/ava/internal/memory"
)

const DefaultOllamaModel = "llama3.2"

// Ollama calls a local Ollama server's chat endpoint.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama uses cfg.OllamaURL when set and the OLLAMA_HOST environment otherwise.
func NewOllama(cfg Config) (*Ollama, error) {
	var (
		client *api.Client
		err    error
	)
	if raw := strings.TrimSpace(cfg.OllamaURL); raw != "" {
		base, perr := url.Parse(raw)
		if perr != nil {
			return nil, fmt.Errorf("parse AVA_OLLAMA_URL: %w", perr)
		}
		client = api.NewClient(base, &http.Client{Timeout: cfg.Timeout})
	} else {
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
	}

	model := strings.TrimSpace(cfg.OllamaModel)
	if model == "" {
		model = DefaultOllamaModel
	}
	return &Ollama{client: client, model: model}, nil
}

func (c *Ollama) Name() string { return "ollama" }

func (c *Ollama) Complete(ctx context.Context, messages []memory.Message) (string, error) {
	msgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, api.Message{Role: string(m.Role), Content: m.Content})
	}
	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: msgs,
		Stream:   &stream,
	}

	var out strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		status := 0
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			status = statusErr.StatusCode
		}
		return "", newTransportError(c.Name(), status, err)
	}
	return out.String(), nil
}
