package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/ava/internal/assistant"
	"github.com/ent0n29/ava/internal/brain"
	"github.com/ent0n29/ava/internal/config"
	"github.com/ent0n29/ava/internal/memory"
	"github.com/ent0n29/ava/internal/observability"
	"github.com/ent0n29/ava/internal/protocol"
	"github.com/ent0n29/ava/internal/session"
)

type scriptedCompleter struct {
	mu  sync.Mutex
	err error
}

func (c *scriptedCompleter) Name() string { return "scripted" }

func (c *scriptedCompleter) Complete(_ context.Context, msgs []memory.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	last := msgs[len(msgs)-1].Content
	return "**echo** " + last, nil
}

type testTitler struct{}

func (testTitler) Complete(context.Context, []memory.Message) (string, error) {
	return "Echo test", nil
}

func newTestServer(t *testing.T, c brain.Completer) (*httptest.Server, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	mgr := session.NewManager(store, memory.NewConversation(), nil)
	require.NoError(t, mgr.NewSession(context.Background()))
	metrics := observability.NewMetrics("test_httpapi")
	loop := assistant.NewLoop(mgr, c, assistant.WithTitler(testTitler{}), assistant.WithMetrics(metrics))
	srv := New(config.Config{}, loop, metrics, nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	return postRaw(t, url, raw)
}

func postRaw(t *testing.T, url string, raw []byte) *http.Response {
	t.Helper()
	var r io.Reader
	if raw != nil {
		r = bytes.NewReader(raw)
	}
	res, err := http.Post(url, "application/json", r)
	require.NoError(t, err)
	return res
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	defer res.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func TestUIRoutes(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedCompleter{})

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	for _, path := range []string{"/", "/ui"} {
		res, err := client.Get(ts.URL + path)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusTemporaryRedirect, res.StatusCode, path)
		assert.Equal(t, "/ui/", res.Header.Get("Location"), path)
	}

	res := mustGet(t, ts.URL+"/ui/")
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<title>AVA</title>")
	assert.NotEmpty(t, res.Header.Get("X-Request-ID"))
}

func TestMessageTurnAndTitle(t *testing.T) {
	ts, store := newTestServer(t, &scriptedCompleter{})

	res := postJSON(t, ts.URL+"/v1/messages", map[string]string{"text": "hi there"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	msg := decodeBody[protocol.AssistantMessage](t, res)
	assert.Equal(t, "**echo** hi there", msg.Text)
	assert.Contains(t, msg.HTML, "<strong>echo</strong>")
	assert.Equal(t, "Echo test", msg.Title)

	sess, err := store.Load(context.Background(), msg.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)

	state := decodeBody[protocol.SessionState](t, mustGet(t, ts.URL+"/v1/sessions/active"))
	assert.Equal(t, msg.SessionID, state.ActiveID)
	assert.True(t, state.Titled)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "hi there", state.Messages[0].HTML)
}

func TestMessageErrors(t *testing.T) {
	c := &scriptedCompleter{}
	ts, _ := newTestServer(t, c)

	res := postJSON(t, ts.URL+"/v1/messages", map[string]string{"text": "   "})
	body := decodeBody[errorResponse](t, res)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "empty_input", body.Code)

	c.mu.Lock()
	c.err = errors.New("connection reset")
	c.mu.Unlock()
	res = postJSON(t, ts.URL+"/v1/messages", map[string]string{"text": "hello"})
	body = decodeBody[errorResponse](t, res)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, "completion_failed", body.Code)

	state := decodeBody[protocol.SessionState](t, mustGet(t, ts.URL+"/v1/sessions/active"))
	assert.Empty(t, state.Messages)
}

func TestMessageBodyDecoding(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedCompleter{})

	cases := []struct {
		name string
		raw  []byte
		code string
	}{
		{name: "no body", raw: nil, code: "empty_input"},
		{name: "truncated object", raw: []byte(`{"text":`), code: "invalid_request"},
		{name: "unterminated string", raw: []byte(`{"text":"hel`), code: "invalid_request"},
		{name: "wrong type", raw: []byte(`{"text":42}`), code: "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := postRaw(t, ts.URL+"/v1/messages", tc.raw)
			body := decodeBody[errorResponse](t, res)
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts, store := newTestServer(t, &scriptedCompleter{})

	first := decodeBody[protocol.AssistantMessage](t, postJSON(t, ts.URL+"/v1/messages", map[string]string{"text": "one"}))

	res := postJSON(t, ts.URL+"/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	created := decodeBody[protocol.SessionState](t, res)
	require.NotEmpty(t, created.ActiveID)
	assert.NotEqual(t, first.SessionID, created.ActiveID)
	assert.Empty(t, created.Messages)

	list := decodeBody[listSessionsResponse](t, mustGet(t, ts.URL+"/v1/sessions"))
	assert.Equal(t, created.ActiveID, list.ActiveID)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, first.SessionID, list.Sessions[0].ID)

	loaded := decodeBody[protocol.SessionState](t, postJSON(t, ts.URL+"/v1/sessions/"+first.SessionID+"/load", nil))
	assert.Equal(t, first.SessionID, loaded.ActiveID)
	assert.Len(t, loaded.Messages, 2)

	res = postJSON(t, ts.URL+"/v1/sessions/chat_999/load", nil)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/"+first.SessionID, nil)
	require.NoError(t, err)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	afterDelete := decodeBody[protocol.SessionState](t, res)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEqual(t, first.SessionID, afterDelete.ActiveID)
	assert.Empty(t, afterDelete.Messages)

	_, err = store.Load(context.Background(), first.SessionID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestLoadCorruptSessionFallsBack(t *testing.T) {
	ts, store := newTestServer(t, &scriptedCompleter{})
	store.PutRaw("chat_42", []byte("{not json"))

	res := postJSON(t, ts.URL+"/v1/sessions/chat_42/load", nil)
	state := decodeBody[protocol.SessionState](t, res)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, assistant.CorruptWarning, state.Warning)
	assert.Equal(t, session.UntitledTitle, state.Title)
	assert.NotEqual(t, "chat_42", state.ActiveID)

	var found bool
	for _, it := range state.Sessions {
		if it.ID == "chat_42" {
			found = it.Corrupt
		}
	}
	assert.True(t, found, "corrupt record not flagged in listing: %+v", state.Sessions)
}

func TestHealthStatusAndPerf(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedCompleter{})
	postJSON(t, ts.URL+"/v1/messages", map[string]string{"text": "warm up"}).Body.Close()

	health := decodeBody[map[string]any](t, mustGet(t, ts.URL+"/healthz"))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "memory", health["store_backend"])
	ready := decodeBody[map[string]any](t, mustGet(t, ts.URL+"/readyz"))
	assert.Equal(t, "ready", ready["status"])

	status := decodeBody[statusResponse](t, mustGet(t, ts.URL+"/v1/status"))
	assert.Equal(t, "scripted", status.BrainProvider)
	assert.False(t, status.ToolsEnabled)
	require.NotEmpty(t, status.Checks)
	assert.Equal(t, "brain", status.Checks[0].ID)

	perf := decodeBody[observability.LatencySnapshot](t, mustGet(t, ts.URL+"/v1/perf/latency"))
	var sawTotal bool
	for _, st := range perf.Stages {
		if st.Stage == observability.StageTurnTotal && st.Samples == 1 {
			sawTotal = true
		}
	}
	assert.True(t, sawTotal, "perf stages = %+v", perf.Stages)

	res := mustGet(t, ts.URL+"/metrics")
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `test_httpapi_turns_total{outcome="ok"} 1`)
}

func TestWebSocketChat(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedCompleter{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readFrame(t, conn)
	assert.Equal(t, string(protocol.TypeSessionState), initial["type"])

	require.NoError(t, conn.WriteJSON(protocol.UserMessage{Type: protocol.TypeUserMessage, Text: "over the socket"}))
	reply := readFrame(t, conn)
	assert.Equal(t, string(protocol.TypeAssistantMessage), reply["type"])
	assert.Equal(t, "**echo** over the socket", reply["text"])
	titled := readFrame(t, conn)
	assert.Equal(t, string(protocol.TypeSessionState), titled["type"])
	assert.Equal(t, "Echo test", titled["title"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	bad := readFrame(t, conn)
	assert.Equal(t, string(protocol.TypeErrorEvent), bad["type"])
	assert.Equal(t, "invalid_client_message", bad["code"])

	require.NoError(t, conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionLoadSession, SessionID: "chat_404"}))
	missing := readFrame(t, conn)
	assert.Equal(t, string(protocol.TypeErrorEvent), missing["type"])
	assert.Equal(t, "session_not_found", missing["code"])

	require.NoError(t, conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionNewSession}))
	fresh := readFrame(t, conn)
	assert.Equal(t, string(protocol.TypeSessionState), fresh["type"])
	msgs, _ := fresh["messages"].([]any)
	assert.Empty(t, msgs)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedCompleter{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, res, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{assistant.ErrEmptyInput, http.StatusBadRequest},
		{session.ErrInvalidID, http.StatusBadRequest},
		{session.ErrNotFound, http.StatusNotFound},
		{&brain.TransportError{Provider: "x", Err: errors.New("boom")}, http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got, _ := statusForError(tc.err)
		assert.Equal(t, tc.want, got, "statusForError(%v)", tc.err)
	}
}

func mustGet(t *testing.T, url string) *http.Response {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	return res
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var out map[string]any
	require.NoError(t, conn.ReadJSON(&out))
	return out
}
