package brain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/ava/internal/memory"
)

// Mock provides deterministic local replies when no provider is configured.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (c *Mock) Name() string { return "mock" }

func (c *Mock) Complete(ctx context.Context, messages []memory.Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return buildMockReply(messages), nil
}

func buildMockReply(messages []memory.Message) string {
	var last string
	turns := 0
	for _, m := range messages {
		if m.Role == memory.RoleUser {
			last = strings.TrimSpace(m.Content)
			turns++
		}
	}
	if last == "" {
		return "I am listening."
	}
	if turns <= 1 {
		return fmt.Sprintf("I heard you: %s", last)
	}
	return fmt.Sprintf("I heard you: %s\nWe have talked %d times in this chat.", last, turns)
}
