package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/ava/internal/brain"
	"github.com/ent0n29/ava/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsIdleTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleWS drives the chat over one socket. Client frames are processed in order by a
// single runner; all writes go through one writer goroutine.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.countSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 64)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, outbound)
	}()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.runConnection(ctx, inbound, outbound)
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.enqueue(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: s.loop.Sessions().ActiveID(),
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.countWS("inbound", t)
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	close(inbound)
	<-runDone
	cancel()
	<-writerDone
	s.countSessionEvent("ws_disconnected")
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, outbound <-chan any) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				cancel()
				_ = conn.Close()
				return
			}
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				cancel()
				_ = conn.Close()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.countWS("outbound", t)
			}
		}
	}
}

// runConnection sends the initial state, then answers each client frame.
func (s *Server) runConnection(ctx context.Context, inbound <-chan any, outbound chan<- any) {
	s.pushState(ctx, outbound, "")
	for msg := range inbound {
		switch m := msg.(type) {
		case protocol.UserMessage:
			reply, err := s.loop.Submit(ctx, m.Text)
			if err != nil {
				s.pushError(outbound, err)
				continue
			}
			s.enqueue(outbound, s.assistantMessage(reply))
			if reply.Title != "" {
				s.pushState(ctx, outbound, "")
			}
		case protocol.ClientControl:
			warning, err := s.control(ctx, m)
			if err != nil {
				s.pushError(outbound, err)
				continue
			}
			s.pushState(ctx, outbound, warning)
		}
	}
}

func (s *Server) control(ctx context.Context, m protocol.ClientControl) (string, error) {
	switch m.Action {
	case protocol.ActionNewSession:
		return "", s.loop.NewSession(ctx)
	case protocol.ActionLoadSession:
		return s.loop.SwitchTo(ctx, m.SessionID)
	case protocol.ActionDeleteSession:
		return "", s.loop.Delete(ctx, m.SessionID)
	default:
		return "", nil
	}
}

func (s *Server) pushState(ctx context.Context, outbound chan<- any, warning string) {
	st, err := s.sessionState(ctx, warning)
	if err != nil {
		s.pushError(outbound, err)
		return
	}
	s.enqueue(outbound, st)
}

func (s *Server) pushError(outbound chan<- any, err error) {
	_, code := statusForError(err)
	ev := protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: s.loop.Sessions().ActiveID(),
		Code:      code,
		Source:    "assistant",
		Detail:    err.Error(),
	}
	var te *brain.TransportError
	if errors.As(err, &te) {
		ev.Source = te.Provider
		ev.Retryable = te.Retryable
	}
	s.enqueue(outbound, ev)
}

// enqueue never blocks the reader; frames are dropped when the writer is saturated.
func (s *Server) enqueue(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		if t, ok := messageTypeOf(msg); ok {
			s.countWS("dropped", t)
		}
	}
}

func (s *Server) countWS(direction string, t protocol.MessageType) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}

func (s *Server) countSessionEvent(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantMessage:
		return m.Type, true
	case protocol.SessionState:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
