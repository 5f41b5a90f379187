package brain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/ava/internal/memory"
)

type scriptedCompleter struct {
	errs  []error
	calls int
}

func (s *scriptedCompleter) Complete(context.Context, []memory.Message) (string, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	return "ok", nil
}

func fastRetries(t *testing.T) {
	t.Helper()
	base, capDelay := retryBaseDelay, retryMaxDelay
	retryBaseDelay, retryMaxDelay = time.Millisecond, 2*time.Millisecond
	t.Cleanup(func() { retryBaseDelay, retryMaxDelay = base, capDelay })
}

func TestRetryingRecoversFromRetryableError(t *testing.T) {
	fastRetries(t)
	next := &scriptedCompleter{errs: []error{
		&TransportError{Provider: "x", StatusCode: 503, Retryable: true, Err: errors.New("busy")},
	}}

	got, err := NewRetrying(next, 2, nil).Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, next.calls)
}

func TestRetryingStopsOnPermanentError(t *testing.T) {
	fastRetries(t)
	permanent := &TransportError{Provider: "x", StatusCode: 401, Err: errors.New("bad key")}
	next := &scriptedCompleter{errs: []error{permanent}}

	_, err := NewRetrying(next, 3, nil).Complete(context.Background(), nil)
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, next.calls)
}

func TestRetryingGivesUpAfterBudget(t *testing.T) {
	fastRetries(t)
	busy := &TransportError{Provider: "x", StatusCode: 429, Retryable: true, Err: errors.New("slow down")}
	next := &scriptedCompleter{errs: []error{busy, busy, busy}}

	_, err := NewRetrying(next, 1, nil).Complete(context.Background(), nil)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, next.calls)
}
