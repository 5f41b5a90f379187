package brain

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/ava/internal/memory"
)

const (
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel             = "mistralai/mistral-7b-instruct"
)

// OpenRouter calls an OpenAI-compatible chat completions API.
type OpenRouter struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewOpenRouter(cfg Config) *OpenRouter {
	oc := openai.DefaultConfig(strings.TrimSpace(cfg.OpenRouterAPIKey))
	oc.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.OpenRouterBaseURL), "/")
	if oc.BaseURL == "" {
		oc.BaseURL = DefaultOpenRouterBaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	return &OpenRouter{
		client:    openai.NewClientWithConfig(oc),
		model:     model,
		maxTokens: cfg.MaxTokens,
	}
}

func (c *OpenRouter) Name() string { return "openrouter" }

func (c *OpenRouter) Complete(ctx context.Context, messages []memory.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  toOpenAIMessages(messages),
		MaxTokens: c.maxTokens,
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", newTransportError(c.Name(), openAIStatus(err), err)
	}
	if len(resp.Choices) == 0 {
		return "", newTransportError(c.Name(), 0, errors.New("response has no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(msgs []memory.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case memory.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case memory.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
