package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/ava/internal/assistant"
	"github.com/ent0n29/ava/internal/memory"
	"github.com/ent0n29/ava/internal/session"
)

type echoCompleter struct {
	fail bool
}

func (e *echoCompleter) Complete(_ context.Context, msgs []memory.Message) (string, error) {
	if e.fail {
		return "", errors.New("service unavailable")
	}
	return "echo: " + msgs[len(msgs)-1].Content, nil
}

type fixedTitle string

func (f fixedTitle) Complete(context.Context, []memory.Message) (string, error) {
	return string(f), nil
}

func newChatLoop(t *testing.T, c *echoCompleter) (*assistant.Loop, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	mgr := session.NewManager(store, memory.NewConversation(), nil)
	require.NoError(t, mgr.NewSession(context.Background()))
	return assistant.NewLoop(mgr, c, assistant.WithTitler(fixedTitle("small talk"))), store
}

func TestRunChatQuitAndTranscript(t *testing.T) {
	loop, store := newChatLoop(t, &echoCompleter{})
	in := strings.NewReader("hello\n\n   \nhow are you\n  QUIT \nnever sent\n")
	var out bytes.Buffer

	require.NoError(t, runChat(context.Background(), loop, in, &out, false))

	text := out.String()
	assert.Contains(t, text, "== Small talk ==")
	assert.Contains(t, text, "You: hello\nAI: echo: hello\nYou: how are you\nAI: echo: how are you\n")
	assert.NotContains(t, text, "never sent")

	sess, err := store.Load(context.Background(), loop.Sessions().ActiveID())
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 4)
}

func TestRunChatNoClearAndEOF(t *testing.T) {
	loop, _ := newChatLoop(t, &echoCompleter{})
	var out bytes.Buffer

	require.NoError(t, runChat(context.Background(), loop, strings.NewReader("hi"), &out, true))

	assert.Contains(t, out.String(), "AI: echo: hi\n")
	assert.NotContains(t, out.String(), "==")
}

func TestRunChatPrintsErrorsAndContinues(t *testing.T) {
	c := &echoCompleter{fail: true}
	loop, store := newChatLoop(t, c)
	var out bytes.Buffer

	require.NoError(t, runChat(context.Background(), loop, strings.NewReader("hi\nexit\n"), &out, true))

	assert.Contains(t, out.String(), "Error: ")
	assert.Contains(t, out.String(), "service unavailable")
	items, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, loop.State().Messages)
}

func TestIsQuit(t *testing.T) {
	for _, in := range []string{"exit", "QUIT", " Exit ", "quit"} {
		assert.True(t, isQuit(in), in)
	}
	for _, in := range []string{"exit now", "q", ""} {
		assert.False(t, isQuit(in), in)
	}
}

func TestListAndShowSessions(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	title := "Weekend plans"
	require.NoError(t, store.Save(ctx, session.Session{
		ID:       "chat_1",
		Title:    &title,
		Messages: []memory.Message{memory.UserMessage("plans?"), memory.AssistantMessage("hiking")},
	}))
	require.NoError(t, store.Save(ctx, session.Session{ID: "chat_2", Messages: []memory.Message{}}))
	store.PutRaw("chat_3", []byte("garbage"))

	var out bytes.Buffer
	require.NoError(t, listSessions(ctx, store, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "chat_3"))
	assert.Contains(t, lines[1], "(unreadable)")
	assert.Contains(t, lines[2], "Untitled chat")
	assert.Contains(t, lines[3], "Weekend plans")

	out.Reset()
	require.NoError(t, showSession(ctx, store, &out, "chat_1"))
	assert.Equal(t, "== Weekend plans ==\nYou: plans?\nAI: hiking\n", out.String())

	err := showSession(ctx, store, &out, "chat_9")
	assert.True(t, errors.Is(err, session.ErrNotFound))
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"chat", "serve", "sessions"} {
		assert.True(t, names[want], want)
	}
}
