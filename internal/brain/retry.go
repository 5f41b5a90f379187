package brain

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/ava/internal/memory"
	"github.com/ent0n29/ava/internal/reliability"
)

var (
	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 4 * time.Second
)

// Retrying repeats retryable TransportErrors with capped exponential backoff.
type Retrying struct {
	next    Completer
	retries int
	logger  *zap.Logger
}

func NewRetrying(next Completer, retries int, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, retries: retries, logger: logger}
}

func (r *Retrying) Name() string { return ProviderName(r.next) }

func (r *Retrying) Complete(ctx context.Context, messages []memory.Message) (string, error) {
	for attempt := 0; ; attempt++ {
		text, err := r.next.Complete(ctx, messages)
		if err == nil {
			return text, nil
		}

		var te *TransportError
		if attempt >= r.retries || !errors.As(err, &te) || !te.Retryable {
			return "", err
		}

		delay := reliability.ExponentialBackoff(attempt, retryBaseDelay, retryMaxDelay)
		r.logger.Warn("completion failed, retrying",
			zap.String("provider", te.Provider),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", err
		case <-timer.C:
		}
	}
}
