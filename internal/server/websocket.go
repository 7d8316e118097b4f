package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const wsWriteTimeout = 5 * time.Second

// DigestMessage is pushed to every connected websocket client when a
// scheduled digest is answered.
type DigestMessage struct {
	Digest string `json:"digest"`
	Answer string `json:"answer"`
}

// Hub tracks open websocket connections.
type Hub struct {
	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	logger *slog.Logger
}

func newHub(logger *slog.Logger) *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{}), logger: logger}
}

func (h *Hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Notify broadcasts a digest answer. A client that cannot be written to is
// dropped; the broadcast itself never fails.
func (h *Hub) Notify(ctx context.Context, digest, answer string) error {
	msg := DigestMessage{Digest: digest, Answer: answer}
	for _, c := range h.snapshot() {
		wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		err := wsjson.Write(wctx, c, msg)
		cancel()
		if err != nil {
			h.logger.Warn("dropping websocket client", "err", err)
			h.remove(c)
			_ = c.CloseNow()
		}
	}
	return nil
}

func (h *Hub) closeAll() {
	for _, c := range h.snapshot() {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
		h.remove(c)
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Warn("websocket accept failed", "err", err)
		return
	}
	c.SetReadLimit(maxRequestBytes)
	s.hub.add(c)
	defer func() {
		s.hub.remove(c)
		_ = c.CloseNow()
	}()

	ctx := r.Context()
	for {
		var req AskRequest
		if err := wsjson.Read(ctx, c, &req); err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				s.logger.Info("websocket closed", "err", err)
			}
			return
		}
		var reply any
		if strings.TrimSpace(req.Message) == "" {
			reply = errorResponse{Error: "message is required"}
		} else {
			reply = AskResponse{Answer: s.asker.Invoke(s.withCaller(r, "ws", req.Context), req.Message, req.Context)}
		}
		wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		err := wsjson.Write(wctx, c, reply)
		cancel()
		if err != nil {
			return
		}
	}
}
