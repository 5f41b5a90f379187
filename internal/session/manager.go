package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ent0n29/ava/internal/memory"
)

const (
	titleInstruction = "Create a 3-5 word title summarizing this conversation. " +
		"Be specific and avoid generic titles. Output only the title."
	titleContextMessages = 3
	titleMaxWords        = 8
	titleMaxRunes        = 60
)

// Titler produces a short title from a prompt. The completion service satisfies it.
type Titler interface {
	Complete(ctx context.Context, messages []memory.Message) (string, error)
}

// EventKind names a lifecycle change of the active session.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventSwitched EventKind = "switched"
	EventDeleted  EventKind = "deleted"
	EventSaved    EventKind = "saved"
	EventTitled   EventKind = "titled"
)

// Event is delivered to the hook set with SetEventHook after the change is applied.
type Event struct {
	Kind      EventKind
	SessionID string
}

// State is a point-in-time copy of the active session.
type State struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	Titled   bool             `json:"titled"`
	Messages []memory.Message `json:"messages"`
}

// Manager owns the pairing between the active session and the conversation memory.
type Manager struct {
	mu       sync.RWMutex
	store    Store
	conv     *memory.Conversation
	activeID string
	title    *string
	// titleDue is set by the session's first exchange and cleared once a title is tried.
	titleDue bool
	logger   *zap.Logger
	onEvent  func(Event)
}

func NewManager(store Store, conv *memory.Conversation, logger *zap.Logger) *Manager {
	if conv == nil {
		conv = memory.NewConversation()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		conv:   conv,
		logger: logger,
	}
}

func (m *Manager) SetEventHook(hook func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = hook
}

// Store returns the backing store.
func (m *Manager) Store() Store { return m.store }

// NewSession resets memory and allocates a fresh id. Nothing is written until the first
// exchange is recorded. If id allocation fails the session stays anonymous and
// RecordExchange retries the allocation.
func (m *Manager) NewSession(ctx context.Context) error {
	return m.newSession(ctx, nil)
}

// NewSessionTitled is NewSession with a preset title, which suppresses title generation.
func (m *Manager) NewSessionTitled(ctx context.Context, title string) error {
	return m.newSession(ctx, stringPtr(title))
}

func (m *Manager) newSession(ctx context.Context, title *string) error {
	m.mu.Lock()
	m.conv.Reset()
	m.title = title
	m.titleDue = false
	m.activeID = ""
	id, err := m.store.NextID(ctx)
	if err == nil {
		m.activeID = id
	}
	hook := m.onEvent
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("session id allocation failed", zap.Error(err))
		return fmt.Errorf("allocate session id: %w", err)
	}
	m.logger.Debug("session created", zap.String("session_id", id))
	emit(hook, Event{Kind: EventCreated, SessionID: id})
	return nil
}

// SwitchTo makes id the active session. On failure memory and the active id are unchanged.
func (m *Manager) SwitchTo(ctx context.Context, id string) error {
	sess, err := m.store.Load(ctx, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.conv.Replace(sess.Messages)
	m.activeID = sess.ID
	m.title = sess.Title
	m.titleDue = false
	hook := m.onEvent
	m.mu.Unlock()

	m.logger.Debug("session switched",
		zap.String("session_id", sess.ID),
		zap.Int("messages", len(sess.Messages)),
	)
	emit(hook, Event{Kind: EventSwitched, SessionID: sess.ID})
	return nil
}

// Delete removes id from the store. Deleting the active session starts a new one.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}

	m.mu.RLock()
	active := m.activeID == id
	hook := m.onEvent
	m.mu.RUnlock()

	emit(hook, Event{Kind: EventDeleted, SessionID: id})
	if active {
		return m.NewSession(ctx)
	}
	return nil
}

// RecordExchange appends a user/assistant pair and persists the whole session. On a
// storage failure the pair stays in memory and an ErrStorageWrite is returned.
func (m *Manager) RecordExchange(ctx context.Context, userText, assistantText string) error {
	userText = strings.ToValidUTF8(userText, "\uFFFD")
	assistantText = strings.ToValidUTF8(assistantText, "\uFFFD")

	m.mu.Lock()
	m.conv.Append(memory.UserMessage(userText), memory.AssistantMessage(assistantText))
	if m.conv.Len() == 2 {
		m.titleDue = true
	}
	if m.activeID == "" {
		id, err := m.store.NextID(ctx)
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("%w: allocate id: %v", ErrStorageWrite, err)
		}
		m.activeID = id
	}
	sess := Session{ID: m.activeID, Title: m.title, Messages: m.conv.Messages()}
	hook := m.onEvent
	m.mu.Unlock()

	if err := m.save(ctx, sess); err != nil {
		return err
	}
	emit(hook, Event{Kind: EventSaved, SessionID: sess.ID})
	return nil
}

// MaybeGenerateTitle titles the active session once its first exchange is recorded. If
// the session had no id yet at that point, the title is generated on the first call after
// an id is allocated. It returns the title it set, or "" when the session did not need one.
func (m *Manager) MaybeGenerateTitle(ctx context.Context, titler Titler) (string, error) {
	m.mu.RLock()
	eligible := m.title == nil && m.activeID != "" && m.titleDue
	id := m.activeID
	msgs := m.conv.Messages()
	m.mu.RUnlock()
	if !eligible {
		return "", nil
	}

	title := FallbackTitle
	if titler != nil {
		raw, err := titler.Complete(ctx, titlePrompt(msgs))
		switch {
		case err != nil:
			m.logger.Warn("title generation failed", zap.String("session_id", id), zap.Error(err))
		default:
			if cleaned := cleanTitle(raw); cleaned != "" {
				title = cleaned
			}
		}
	}

	m.mu.Lock()
	if m.activeID != id || m.title != nil {
		m.mu.Unlock()
		return "", nil
	}
	m.title = stringPtr(title)
	m.titleDue = false
	sess := Session{ID: id, Title: m.title, Messages: m.conv.Messages()}
	hook := m.onEvent
	m.mu.Unlock()

	if err := m.save(ctx, sess); err != nil {
		return title, err
	}
	emit(hook, Event{Kind: EventTitled, SessionID: id})
	return title, nil
}

func (m *Manager) save(ctx context.Context, sess Session) error {
	if err := m.store.Save(ctx, sess); err != nil {
		m.logger.Error("session save failed", zap.String("session_id", sess.ID), zap.Error(err))
		if !errors.Is(err, ErrStorageWrite) {
			err = fmt.Errorf("%w: %v", ErrStorageWrite, err)
		}
		return err
	}
	return nil
}

// Snapshot copies the active session.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := State{
		ID:       m.activeID,
		Title:    UntitledTitle,
		Messages: m.conv.Messages(),
	}
	if m.title != nil && *m.title != "" {
		st.Title = *m.title
		st.Titled = true
	}
	return st
}

func (m *Manager) ActiveID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID
}

func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	return m.store.List(ctx)
}

// Messages returns a copy of the conversation memory.
func (m *Manager) Messages() []memory.Message {
	return m.conv.Messages()
}

func titlePrompt(msgs []memory.Message) []memory.Message {
	start := len(msgs) - titleContextMessages
	if start < 0 {
		start = 0
	}
	parts := make([]string, 0, titleContextMessages)
	for _, msg := range msgs[start:] {
		parts = append(parts, msg.Content)
	}
	return []memory.Message{
		{Role: memory.RoleSystem, Content: titleInstruction},
		memory.UserMessage(strings.Join(parts, "\n")),
	}
}

// cleanTitle trims, drops quotes, capitalizes the first letter, lowers the rest and caps
// the length.
func cleanTitle(raw string) string {
	t := strings.TrimSpace(raw)
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[:i]
	}
	t = strings.NewReplacer(`"`, "", "“", "", "”", "").Replace(t)
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}

	if words := strings.Fields(t); len(words) > titleMaxWords {
		t = strings.Join(words[:titleMaxWords], " ")
	}
	if utf8.RuneCountInString(t) > titleMaxRunes {
		t = strings.TrimSpace(string([]rune(t)[:titleMaxRunes]))
	}

	runes := []rune(strings.ToLower(t))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func emit(hook func(Event), ev Event) {
	if hook != nil {
		hook(ev)
	}
}
