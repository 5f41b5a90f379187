package brain

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ent0n29/ava/internal/memory"
)

const (
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	defaultMaxTokens      = 1024
)

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func NewAnthropic(cfg Config, opts ...option.RequestOption) *Anthropic {
	base := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.AnthropicAPIKey)),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		// Retries are handled by Retrying so attempts show up in one place.
		option.WithMaxRetries(0),
	}
	model := strings.TrimSpace(cfg.AnthropicModel)
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Anthropic{
		client:    anthropic.NewClient(append(base, opts...)...),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
	}
}

func (c *Anthropic) Name() string { return "anthropic" }

func (c *Anthropic) Complete(ctx context.Context, messages []memory.Message) (string, error) {
	system, rest := splitSystem(messages)
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  toAnthropicMessages(rest),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return "", newTransportError(c.Name(), status, err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if v, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(v.Text)
		}
	}
	return out.String(), nil
}

func toAnthropicMessages(msgs []memory.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == memory.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}
