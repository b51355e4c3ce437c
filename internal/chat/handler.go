package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/lacheln1/unoa-server/internal/domain"
	"github.com/lacheln1/unoa-server/internal/llm"
	"github.com/lacheln1/unoa-server/internal/session"
	"github.com/lacheln1/unoa-server/internal/store"
)

// Handler upgrades websocket connections and runs one Session per
// connection.
type Handler struct {
	deriver       *session.Deriver
	repo          store.Repository
	generator     llm.Client
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new websocket chat handler.
func NewHandler(deriver *session.Deriver, repo store.Repository, generator llm.Client, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		deriver:       deriver,
		repo:          repo,
		generator:     generator,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsSender adapts websocket.Conn to the Sender interface. Writes use
// context.Background() so an in-flight exchange can finish sending its
// terminal event even after the read side observed a disconnect.
type wsSender struct {
	conn *websocket.Conn
}

func (w *wsSender) Send(_ context.Context, event ServerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return w.conn.Write(context.Background(), websocket.MessageText, data)
}

// ServeHTTP implements http.Handler for websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := h.deriver.ClientIP(r)
	userAgent := r.UserAgent()
	sessionID := h.deriver.SessionID(clientIP, userAgent)

	slog.Info("chat connection request", "session_id", sessionID, "ip", clientIP)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	sess := NewSession(sessionID, domain.AccessInfo{IP: clientIP, UserAgent: userAgent}, h.repo, h.repo, h.generator, &wsSender{conn: ws})
	defer sess.Disconnect()

	h.readLoop(r.Context(), ws, sess)
	slog.Info("chat connection closed", "session_id", sessionID)
}

// readLoop dispatches inbound events sequentially. Event handling runs on
// a background context so in-flight generation and persistence finish (or
// fail) on their own when the client goes away mid-stream.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sess *Session) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sess.SessionID())
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sess.SessionID())
			}
			return
		}

		var event ClientEvent
		if err := json.Unmarshal(data, &event); err != nil {
			slog.Warn("malformed chat event", "error", err, "session_id", sess.SessionID())
			continue
		}

		sess.HandleEvent(context.Background(), event)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
