// Package assistant runs conversation turns against the active session.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/ava/internal/brain"
	"github.com/ent0n29/ava/internal/memory"
	"github.com/ent0n29/ava/internal/observability"
	"github.com/ent0n29/ava/internal/policy"
	"github.com/ent0n29/ava/internal/session"
)

var ErrEmptyInput = errors.New("input is empty")

const (
	StorageWarning = "this turn may not survive a restart"
	CorruptWarning = "that chat could not be read; started a new one instead"
)

// Reply is the outcome of one successful turn.
type Reply struct {
	TurnID  string `json:"turn_id"`
	Text    string `json:"text"`
	Title   string `json:"title,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// Loop serializes turns and session operations for one process.
type Loop struct {
	mu        sync.Mutex
	sessions  *session.Manager
	completer brain.Completer
	titler    session.Titler
	metrics   *observability.Metrics
	logger    *zap.Logger
}

type Option func(*Loop)

// WithTitler overrides the completer used for title generation.
func WithTitler(t session.Titler) Option {
	return func(l *Loop) { l.titler = t }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

func NewLoop(sessions *session.Manager, completer brain.Completer, opts ...Option) *Loop {
	l := &Loop{
		sessions:  sessions,
		completer: completer,
		titler:    completer,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Sessions exposes the manager for read-only use such as listing.
func (l *Loop) Sessions() *session.Manager { return l.sessions }

// Provider names the completion backend answering turns.
func (l *Loop) Provider() string { return brain.ProviderName(l.completer) }

// Submit runs one turn. On a completion failure memory and storage are untouched and a
// *brain.TransportError is returned.
func (l *Loop) Submit(ctx context.Context, input string) (Reply, error) {
	text := strings.ToValidUTF8(strings.TrimSpace(input), "\uFFFD")
	if text == "" {
		return Reply{}, ErrEmptyInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	turnID := uuid.NewString()
	start := time.Now()
	logger := l.logger.With(
		zap.String("turn_id", turnID),
		zap.String("session_id", l.sessions.ActiveID()),
		zap.String("provider", brain.ProviderName(l.completer)),
	)
	logger.Debug("turn started", policy.TextField("input", text))

	msgs := append(l.sessions.Messages(), memory.UserMessage(text))
	raw, err := l.completer.Complete(ctx, msgs)
	l.observeCompletion(time.Since(start))
	if err != nil {
		l.countTurn("transport_error")
		logger.Warn("completion failed", zap.Error(err))
		var te *brain.TransportError
		if !errors.As(err, &te) {
			err = &brain.TransportError{Provider: brain.ProviderName(l.completer), Err: err}
		}
		return Reply{}, err
	}

	reply := Reply{TurnID: turnID, Text: CleanReply(raw)}

	persistStart := time.Now()
	if err := l.sessions.RecordExchange(ctx, text, reply.Text); err != nil {
		reply.Warning = StorageWarning
		l.storeError("save")
		l.countIndicator("storage_warning")
		logger.Error("turn not persisted", zap.Error(err))
	}
	l.observeStage(observability.StagePersist, time.Since(persistStart))

	titleStart := time.Now()
	title, err := l.sessions.MaybeGenerateTitle(ctx, l.titler)
	if title != "" {
		l.observeStage(observability.StageTitle, time.Since(titleStart))
		reply.Title = title
	}
	if err != nil {
		reply.Warning = StorageWarning
		l.storeError("save_title")
		logger.Error("title not persisted", zap.Error(err))
	}

	outcome := "ok"
	if reply.Warning != "" {
		outcome = "unsaved"
	}
	l.countTurn(outcome)
	l.observeStage(observability.StageTurnTotal, time.Since(start))
	logger.Info("turn completed",
		zap.String("outcome", outcome),
		zap.Duration("elapsed", time.Since(start)),
		policy.TextField("reply", reply.Text),
	)
	return reply, nil
}

// NewSession starts an empty conversation.
func (l *Loop) NewSession(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.sessions.NewSession(ctx); err != nil {
		l.storeError("next_id")
		return err
	}
	return nil
}

// SwitchTo loads id. A corrupt record is replaced by a fresh placeholder session and
// reported through the warning; a missing one leaves state unchanged.
func (l *Loop) SwitchTo(ctx context.Context, id string) (warning string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	err = l.sessions.SwitchTo(ctx, id)
	switch {
	case err == nil:
		return "", nil
	case errors.Is(err, session.ErrCorrupt):
		l.logger.Warn("corrupt session record", zap.String("session_id", id), zap.Error(err))
		l.storeError("load")
		l.countSessionEvent("load_corrupt")
		if nerr := l.sessions.NewSessionTitled(ctx, session.UntitledTitle); nerr != nil {
			return CorruptWarning, nerr
		}
		return CorruptWarning, nil
	default:
		return "", err
	}
}

// Delete removes id; deleting the active session starts a new one.
func (l *Loop) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.sessions.Delete(ctx, id); err != nil {
		l.storeError("delete")
		return err
	}
	return nil
}

// State returns a copy of the active session.
func (l *Loop) State() session.State {
	return l.sessions.Snapshot()
}

func (l *Loop) List(ctx context.Context) ([]session.Summary, error) {
	items, err := l.sessions.List(ctx)
	if err != nil {
		l.storeError("list")
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return items, nil
}

// CleanReply drops a leading "Assistant:" label and surrounding whitespace. Invalid UTF-8
// is replaced so the reply in memory matches what the store writes.
func CleanReply(raw string) string {
	const label = "Assistant:"
	out := strings.TrimSpace(strings.ToValidUTF8(raw, "\uFFFD"))
	if len(out) >= len(label) && strings.EqualFold(out[:len(label)], label) {
		out = strings.TrimSpace(out[len(label):])
	}
	return out
}

func (l *Loop) observeCompletion(d time.Duration) {
	if l.metrics != nil {
		l.metrics.ObserveCompletion(brain.ProviderName(l.completer), d)
	}
}

func (l *Loop) observeStage(stage string, d time.Duration) {
	if l.metrics != nil {
		l.metrics.Latency.ObserveDuration(stage, d)
	}
}

func (l *Loop) countTurn(outcome string) {
	if l.metrics != nil {
		l.metrics.Turns.WithLabelValues(outcome).Inc()
	}
}

func (l *Loop) countSessionEvent(event string) {
	if l.metrics != nil {
		l.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (l *Loop) storeError(op string) {
	if l.metrics != nil {
		l.metrics.StoreErrors.WithLabelValues(op).Inc()
	}
}

func (l *Loop) countIndicator(name string) {
	if l.metrics != nil {
		l.metrics.Latency.Count(name)
	}
}
