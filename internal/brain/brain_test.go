package brain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/ava/internal/memory"
)

func TestNewAutoPicksFirstConfigured(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"openrouter", Config{OpenRouterAPIKey: "k", AnthropicAPIKey: "a"}, "openrouter"},
		{"anthropic", Config{AnthropicAPIKey: "a", HTTPURL: "http://x"}, "anthropic"},
		{"http", Config{HTTPURL: "http://x"}, "http"},
		{"mock", Config{}, "mock"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(tc.cfg, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ProviderName(c))
		})
	}
}

func TestNewWrapsRetries(t *testing.T) {
	c, err := New(Config{Provider: "mock", Retries: 2}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Retrying{}, c)
	assert.Equal(t, "mock", ProviderName(c))
}

func TestNewRejectsMissingCredentials(t *testing.T) {
	for _, p := range []string{"openrouter", "anthropic", "http", "bogus"} {
		_, err := New(Config{Provider: p}, nil)
		assert.Error(t, err, "provider %s", p)
	}
}

func TestMockReplyIsDeterministic(t *testing.T) {
	msgs := []memory.Message{memory.UserMessage("Hi")}
	a, err := NewMock().Complete(context.Background(), msgs)
	require.NoError(t, err)
	b, err := NewMock().Complete(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "I heard you: Hi", a)
}

func TestOpenRouterComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultModel, body.Model)
		assert.Len(t, body.Messages, 3)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Ciao!"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := NewOpenRouter(Config{OpenRouterAPIKey: "secret", OpenRouterBaseURL: srv.URL, Timeout: time.Second})
	got, err := c.Complete(context.Background(), []memory.Message{
		memory.UserMessage("Hi"),
		memory.AssistantMessage("Hello"),
		memory.UserMessage("Say ciao"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Ciao!", got)
}

func TestOpenRouterRateLimitIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited","type":"rate_limit"}}`)
	}))
	defer srv.Close()

	c := NewOpenRouter(Config{OpenRouterAPIKey: "secret", OpenRouterBaseURL: srv.URL, Timeout: time.Second})
	_, err := c.Complete(context.Background(), []memory.Message{memory.UserMessage("Hi")})
	var te *TransportError
	require.True(t, errors.As(err, &te), "error = %v", err)
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	assert.True(t, te.Retryable)
}

func TestAnthropicCompleteSendsSystemOutOfBand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotNil(t, body["system"])
		msgs, _ := body["messages"].([]any)
		assert.Len(t, msgs, 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-latest","content":[{"type":"text","text":"Rome trip"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer srv.Close()

	c := NewAnthropic(Config{AnthropicAPIKey: "k", Timeout: time.Second}, option.WithBaseURL(srv.URL))
	got, err := c.Complete(context.Background(), []memory.Message{
		{Role: memory.RoleSystem, Content: "Output only the title."},
		memory.UserMessage("Plan a trip to Rome"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Rome trip", got)
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]memory.Message{
		{Role: memory.RoleSystem, Content: "a"},
		memory.UserMessage("u"),
		{Role: memory.RoleSystem, Content: "b"},
	})
	assert.Equal(t, "a\n\nb", system)
	assert.Equal(t, []memory.Message{memory.UserMessage("u")}, rest)
}
