package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessageUserMessage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"user_message","text":"Hi"}`))
	require.NoError(t, err)
	um, ok := msg.(UserMessage)
	require.True(t, ok, "message type = %T, want UserMessage", msg)
	assert.Equal(t, "Hi", um.Text)
}

func TestParseClientMessageRejectsEmptyText(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"user_message","text":"  "}`))
	assert.Error(t, err)
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestParseClientMessageControl(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_control","action":"load_session","session_id":"chat_3"}`))
	require.NoError(t, err)
	control, ok := msg.(ClientControl)
	require.True(t, ok, "message type = %T, want ClientControl", msg)
	assert.Equal(t, ActionLoadSession, control.Action)
	assert.Equal(t, "chat_3", control.SessionID)
}

func TestParseClientMessageControlValidation(t *testing.T) {
	bad := []string{
		`{"type":"client_control","action":"load_session"}`,
		`{"type":"client_control","action":"delete_session"}`,
		`{"type":"client_control","action":"explode"}`,
		`{not json`,
	}
	for _, raw := range bad {
		_, err := ParseClientMessage([]byte(raw))
		assert.Error(t, err, raw)
	}
	_, err := ParseClientMessage([]byte(`{"type":"client_control","action":"new_session"}`))
	assert.NoError(t, err)
}
