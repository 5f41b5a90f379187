package memory

import "sync"

// Conversation is the ordered, append-only log of the active session.
// Only Reset and Replace discard history; there is no windowing.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
}

func NewConversation() *Conversation {
	return &Conversation{}
}

// Append adds messages in order.
func (c *Conversation) Append(msgs ...Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
}

// Messages returns a copy of the full history, oldest first.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Reset empties the log.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// Replace swaps the whole history for msgs, preserving their order.
func (c *Conversation) Replace(msgs []Message) {
	cp := make([]Message, len(msgs))
	copy(cp, msgs)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = cp
}
