package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationAppendKeepsOrder(t *testing.T) {
	c := NewConversation()
	c.Append(UserMessage("Hi"), AssistantMessage("Hello! How can I help?"))
	c.Append(UserMessage("What is 2+2?"))

	got := c.Messages()
	require.Len(t, got, 3)
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "Hi"},
		{Role: RoleAssistant, Content: "Hello! How can I help?"},
		{Role: RoleUser, Content: "What is 2+2?"},
	}, got)
	assert.Equal(t, 3, c.Len())
}

func TestConversationMessagesReturnsCopy(t *testing.T) {
	c := NewConversation()
	c.Append(UserMessage("original"))

	got := c.Messages()
	got[0].Content = "mutated"

	assert.Equal(t, "original", c.Messages()[0].Content)
}

func TestConversationReplaceAndReset(t *testing.T) {
	c := NewConversation()
	c.Append(UserMessage("stale"))

	src := []Message{UserMessage("a"), AssistantMessage("b")}
	c.Replace(src)
	src[0].Content = "changed after replace"

	assert.Equal(t, []Message{UserMessage("a"), AssistantMessage("b")}, c.Messages())

	c.Reset()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Messages())
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, RoleSystem.Valid())
	assert.False(t, Role("tool").Valid())
}
