package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/ava/internal/session"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	BrainProvider string        `json:"brain_provider"`
	ToolsEnabled  bool          `json:"tools_enabled"`
	StoreBackend  string        `json:"store_backend"`
	ActiveID      string        `json:"active_id"`
	Checks        []statusCheck `json:"checks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	provider := s.loop.Provider()
	base, tools := strings.CutPrefix(provider, "agent+")
	backend := s.storeBackend()

	checks := make([]statusCheck, 0, 4)
	checks = append(checks, s.brainCheck(base))
	checks = append(checks, s.storeChecks(r.Context(), backend)...)
	if s.cfg.AllowAnyOrigin {
		checks = append(checks, statusCheck{
			ID:     "origin",
			Status: "warn",
			Label:  "WebSocket origin",
			Detail: "any origin may open a chat socket",
			Fix:    "Unset AVA_ALLOW_ANY_ORIGIN unless the UI is served from another host.",
		})
	}

	respondJSON(w, http.StatusOK, statusResponse{
		BrainProvider: base,
		ToolsEnabled:  tools,
		StoreBackend:  backend,
		ActiveID:      s.loop.Sessions().ActiveID(),
		Checks:        checks,
	})
}

func (s *Server) brainCheck(provider string) statusCheck {
	check := statusCheck{
		ID:     "brain",
		Status: "ok",
		Label:  "Completion service",
		Detail: provider,
	}
	if provider == "mock" {
		check.Status = "warn"
		check.Detail = "mock replies only"
		check.Fix = "Set OPENROUTER_API_KEY or ANTHROPIC_API_KEY, or AVA_BRAIN_PROVIDER=ollama."
	}
	return check
}

func (s *Server) storeChecks(ctx context.Context, backend string) []statusCheck {
	out := []statusCheck{{
		ID:     "store",
		Status: "ok",
		Label:  "Chat history",
		Detail: backend,
	}}
	if backend == "memory" {
		out[0].Status = "warn"
		out[0].Detail = "in-memory only"
		out[0].Fix = "Set AVA_STORE_BACKEND=file, sqlite or postgres to keep chats across restarts."
	}

	p, ok := s.loop.Sessions().Store().(session.Pinger)
	if !ok {
		return out
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		out = append(out, statusCheck{
			ID:     "store_ping",
			Status: "error",
			Label:  "Chat history reachable",
			Detail: err.Error(),
		})
	}
	return out
}
