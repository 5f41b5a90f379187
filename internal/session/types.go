// Package session persists chat sessions and owns the active session/memory pairing.
package session

import (
	"context"
	"errors"
	"regexp"

	"github.com/ent0n29/ava/internal/memory"
)

const (
	// UntitledTitle is shown for sessions whose record has no title or cannot be read.
	UntitledTitle = "Untitled chat"
	// FallbackTitle is used when title generation fails.
	FallbackTitle = "New conversation"

	idPrefix = "chat_"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrCorrupt      = errors.New("session record corrupt")
	ErrStorageWrite = errors.New("session storage write failed")
	ErrInvalidID    = errors.New("invalid session id")
)

// Session is one durable conversation. Title is nil until generated.
type Session struct {
	ID       string           `json:"id"`
	Title    *string          `json:"title"`
	Messages []memory.Message `json:"messages"`
}

// DisplayTitle returns the title or UntitledTitle when none is set.
func (s Session) DisplayTitle() string {
	if s.Title == nil || *s.Title == "" {
		return UntitledTitle
	}
	return *s.Title
}

// Summary is a listing entry.
type Summary struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Corrupt bool   `json:"corrupt,omitempty"`
}

// Store is durable id -> {title, messages} storage.
//
// List never fails because of a single bad record: unreadable records are reported with
// UntitledTitle. Save replaces the whole record atomically. Delete is idempotent. NextID
// never returns an id that exists or has existed in the store.
type Store interface {
	List(ctx context.Context) ([]Summary, error)
	Load(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
	NextID(ctx context.Context) (string, error)
	Close() error
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidID reports whether id is safe to use as a record name.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

func stringPtr(s string) *string {
	return &s
}
