package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/ava/internal/assistant"
	"github.com/ent0n29/ava/internal/brain"
	"github.com/ent0n29/ava/internal/config"
	"github.com/ent0n29/ava/internal/observability"
	"github.com/ent0n29/ava/internal/protocol"
	"github.com/ent0n29/ava/internal/render"
	"github.com/ent0n29/ava/internal/session"
)

type Server struct {
	cfg      config.Config
	loop     *assistant.Loop
	metrics  *observability.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(cfg config.Config, loop *assistant.Loop, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		loop:    loop,
		metrics: metrics,
		logger:  logger,
		static:  newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the chat unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleNewSession)
		r.Get("/active", s.handleActiveSession)
		r.Post("/{id}/load", s.handleLoadSession)
		r.Delete("/{id}", s.handleDeleteSession)
	})
	r.Post("/v1/messages", s.handleMessage)
	r.Get("/v1/ws", s.handleWS)

	return r
}

// requestID tags every response so log lines can be matched to client reports.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"store_backend": s.storeBackend(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.loop.Sessions().Store().(session.Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"store_backend": s.storeBackend(),
	})
}

type listSessionsResponse struct {
	ActiveID string                    `json:"active_id"`
	Sessions []protocol.SessionSummary `json:"sessions"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	items, err := s.summaries(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, listSessionsResponse{
		ActiveID: s.loop.Sessions().ActiveID(),
		Sessions: items,
	})
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	if err := s.loop.NewSession(r.Context()); err != nil {
		status, code := statusForError(err)
		respondError(w, status, code, err.Error())
		return
	}
	s.respondState(w, r, http.StatusCreated, "")
}

func (s *Server) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	s.respondState(w, r, http.StatusOK, "")
}

func (s *Server) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	warning, err := s.loop.SwitchTo(r.Context(), id)
	if err != nil {
		status, code := statusForError(err)
		respondError(w, status, code, err.Error())
		return
	}
	s.respondState(w, r, http.StatusOK, warning)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := s.loop.Delete(r.Context(), id); err != nil {
		status, code := statusForError(err)
		respondError(w, status, code, err.Error())
		return
	}
	s.respondState(w, r, http.StatusOK, "")
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	reply, err := s.loop.Submit(r.Context(), req.Text)
	if err != nil {
		status, code := statusForError(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.assistantMessage(reply))
}

func (s *Server) respondState(w http.ResponseWriter, r *http.Request, status int, warning string) {
	st, err := s.sessionState(r.Context(), warning)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, status, st)
}

func (s *Server) sessionState(ctx context.Context, warning string) (protocol.SessionState, error) {
	items, err := s.summaries(ctx)
	if err != nil {
		return protocol.SessionState{}, err
	}
	st := s.loop.State()
	msgs := make([]protocol.RenderedMessage, 0, len(st.Messages))
	for _, m := range st.Messages {
		msgs = append(msgs, protocol.RenderedMessage{
			Role:    string(m.Role),
			Content: m.Content,
			HTML:    renderMessage(string(m.Role), m.Content),
		})
	}
	return protocol.SessionState{
		Type:     protocol.TypeSessionState,
		ActiveID: st.ID,
		Title:    st.Title,
		Titled:   st.Titled,
		Messages: msgs,
		Sessions: items,
		Warning:  warning,
	}, nil
}

func (s *Server) summaries(ctx context.Context) ([]protocol.SessionSummary, error) {
	items, err := s.loop.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.SessionSummary, 0, len(items))
	for _, it := range items {
		out = append(out, protocol.SessionSummary{ID: it.ID, Title: it.Title, Corrupt: it.Corrupt})
	}
	return out, nil
}

func (s *Server) assistantMessage(reply assistant.Reply) protocol.AssistantMessage {
	return protocol.AssistantMessage{
		Type:      protocol.TypeAssistantMessage,
		SessionID: s.loop.Sessions().ActiveID(),
		TurnID:    reply.TurnID,
		Text:      reply.Text,
		HTML:      string(render.MarkdownOrEscaped(reply.Text)),
		Title:     reply.Title,
		Warning:   reply.Warning,
	}
}

// renderMessage renders assistant text as markdown; user text is only escaped.
func renderMessage(role, content string) string {
	if role == "assistant" {
		return string(render.MarkdownOrEscaped(content))
	}
	return html.EscapeString(content)
}

func (s *Server) storeBackend() string {
	switch s.loop.Sessions().Store().(type) {
	case *session.FileStore:
		return "file"
	case *session.SQLiteStore:
		return "sqlite"
	case *session.PostgresStore:
		return "postgres"
	case *session.MemoryStore:
		return "memory"
	default:
		return "custom"
	}
}

// statusForError maps domain failures to an HTTP status and a stable error code.
func statusForError(err error) (int, string) {
	var te *brain.TransportError
	switch {
	case errors.Is(err, assistant.ErrEmptyInput):
		return http.StatusBadRequest, "empty_input"
	case errors.Is(err, session.ErrInvalidID):
		return http.StatusBadRequest, "invalid_session_id"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrCorrupt):
		return http.StatusUnprocessableEntity, "session_corrupt"
	case errors.As(err, &te):
		return http.StatusBadGateway, "completion_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
