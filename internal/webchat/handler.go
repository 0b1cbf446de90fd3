// Package webchat serves the embeddable live-chat widget for the public
// doctor directory (spec's "second channel"): a WebSocket front door that
// feeds the same conversation engine the WhatsApp webhook uses, so a
// visitor browsing a doctor's directory profile can book an appointment
// without ever leaving the page. Grounded on the teacher's
// internal/webchat/handler.go WebSocket-session bookkeeping, rewired
// against the synchronous conversation.Engine rather than the teacher's
// async publisher/transcript-store pair.
package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vitalishealth/bookingai/internal/chatplatform"
	"github.com/vitalishealth/bookingai/internal/conversation"
	"github.com/vitalishealth/bookingai/internal/directory"
	"github.com/vitalishealth/bookingai/internal/tenancy"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The widget is embedded cross-origin on whatever site links to the
	// directory profile; the CORS-equivalent check that matters already
	// happened when the page loaded the directory listing.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves the widget's WebSocket endpoint and its HTTP fallbacks,
// grounded on internal/directory.Handler's chi-style split of public routes.
type Handler struct {
	directory *directory.Repository
	accounts  *tenancy.Repository
	engine    *conversation.Engine
	logger    *logging.Logger
	widgetJS  []byte

	mu       sync.RWMutex
	sessions map[string]*wsConn // "accountID:sessionID" -> active connection
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // guards concurrent writes from Handle replies vs. pings
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// NewHandler builds a webchat Handler.
func NewHandler(directoryRepo *directory.Repository, accounts *tenancy.Repository, engine *conversation.Engine, widgetJS []byte, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		directory: directoryRepo,
		accounts:  accounts,
		engine:    engine,
		logger:    logger,
		widgetJS:  widgetJS,
		sessions:  make(map[string]*wsConn),
	}
}

// inboundFrame is what the widget sends over the socket.
type inboundFrame struct {
	Type string `json:"type"` // "message" or "ping"
	Text string `json:"text"`
}

// outboundFrame is what the widget receives.
type outboundFrame struct {
	Type      string                `json:"type"` // "session", "history", "typing", "message", "error", "pong"
	Role      string                `json:"role,omitempty"`
	Text      string                `json:"text,omitempty"`
	SessionID string                `json:"session_id,omitempty"`
	Buttons   []chatplatform.Button `json:"buttons,omitempty"`
	Messages  []historyEntry        `json:"messages,omitempty"`
	Timestamp string                `json:"timestamp,omitempty"`
}

type historyEntry struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func sessionKey(accountID, sessionID string) string {
	return accountID + ":" + sessionID
}

func newSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(b)
}

// HandleWebSocket resolves the directory slug from the query string,
// upgrades the connection, and services inbound frames until it closes.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("doctor")
	if slug == "" {
		http.Error(w, "missing doctor parameter", http.StatusBadRequest)
		return
	}
	account, err := h.resolveAccount(r.Context(), slug)
	if err != nil {
		h.logger.Warn("webchat: unknown directory slug", "slug", slug, "error", err)
		http.Error(w, "unknown doctor", http.StatusNotFound)
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = newSessionID()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("webchat: websocket upgrade failed", "error", err)
		return
	}
	h.serveConn(r.Context(), conn, account, sessionID)
}

func (h *Handler) resolveAccount(ctx context.Context, slug string) (*tenancy.Account, error) {
	profile, err := h.directory.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return h.accounts.GetByID(ctx, profile.AccountID)
}

func (h *Handler) serveConn(ctx context.Context, conn *websocket.Conn, account *tenancy.Account, sessionID string) {
	key := sessionKey(account.ID, sessionID)
	wsc := &wsConn{conn: conn}

	h.mu.Lock()
	h.sessions[key] = wsc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.sessions[key] == wsc {
			delete(h.sessions, key)
		}
		h.mu.Unlock()
		_ = conn.Close()
	}()

	_ = wsc.writeJSON(outboundFrame{Type: "session", SessionID: sessionID})

	if messages, err := h.engine.History(ctx, account, sessionID); err != nil {
		h.logger.Warn("webchat: failed to load history", "account_id", account.ID, "error", err)
	} else if len(messages) > 0 {
		entries := make([]historyEntry, 0, len(messages))
		for _, m := range messages {
			entries = append(entries, historyEntry{Role: m.Role, Text: m.Content, Timestamp: m.CreatedAt.Format(time.RFC3339)})
		}
		_ = wsc.writeJSON(outboundFrame{Type: "history", Messages: entries})
	}

	h.logger.Info("webchat: connection opened", "account_id", account.ID, "session_id", sessionID)

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			h.logger.Debug("webchat: connection closed", "account_id", account.ID, "error", err)
			return
		}
		if frame.Type == "ping" {
			_ = wsc.writeJSON(outboundFrame{Type: "pong"})
			continue
		}
		if frame.Type != "message" || strings.TrimSpace(frame.Text) == "" {
			continue
		}
		h.handleMessage(ctx, wsc, account, sessionID, frame.Text)
	}
}

func (h *Handler) handleMessage(ctx context.Context, wsc *wsConn, account *tenancy.Account, sessionID, text string) {
	_ = wsc.writeJSON(outboundFrame{Type: "typing"})

	in := chatplatform.InboundMessage{
		MessageID: uuid.NewString(),
		From:      sessionID,
		Type:      chatplatform.MessageTypeText,
		Text:      text,
	}
	turn, err := h.engine.Handle(ctx, account, sessionID, in)
	if err != nil {
		h.logger.Error("webchat: engine handling failed", "account_id", account.ID, "error", err)
		_ = wsc.writeJSON(outboundFrame{Type: "error", Text: "Lo siento, algo salió mal. Intenta de nuevo."})
		return
	}
	if turn == nil {
		return
	}
	_ = wsc.writeJSON(outboundFrame{
		Type:      "message",
		Role:      "assistant",
		Text:      turn.Text,
		Buttons:   turn.Buttons,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleMessage is the HTTP long-poll fallback for widgets that can't hold
// a WebSocket open (embedded in restrictive iframes). It resolves the
// account and session the same way the socket path does but replies inline
// instead of pushing to a live connection.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Doctor    string `json:"doctor"`
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Doctor == "" || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "doctor and text are required", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = newSessionID()
	}

	account, err := h.resolveAccount(r.Context(), req.Doctor)
	if err != nil {
		http.Error(w, "unknown doctor", http.StatusNotFound)
		return
	}

	in := chatplatform.InboundMessage{
		MessageID: uuid.NewString(),
		From:      req.SessionID,
		Type:      chatplatform.MessageTypeText,
		Text:      req.Text,
	}
	turn, err := h.engine.Handle(r.Context(), account, req.SessionID, in)
	if err != nil {
		h.logger.Error("webchat: engine handling failed", "account_id", account.ID, "error", err)
		http.Error(w, "failed to process message", http.StatusInternalServerError)
		return
	}

	resp := struct {
		SessionID string `json:"session_id"`
		Reply     string `json:"reply,omitempty"`
	}{SessionID: req.SessionID}
	if turn != nil {
		resp.Reply = turn.Text
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// HandleHistory returns the transcript for a doctor+session pair.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("doctor")
	sessionID := r.URL.Query().Get("session")
	if slug == "" || sessionID == "" {
		http.Error(w, "doctor and session parameters required", http.StatusBadRequest)
		return
	}
	account, err := h.resolveAccount(r.Context(), slug)
	if err != nil {
		http.Error(w, "unknown doctor", http.StatusNotFound)
		return
	}
	messages, err := h.engine.History(r.Context(), account, sessionID)
	if err != nil {
		h.logger.Error("webchat: failed to load history", "error", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	entries := make([]historyEntry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, historyEntry{Role: m.Role, Text: m.Content, Timestamp: m.CreatedAt.Format(time.RFC3339)})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": entries})
}

// HandleWidgetJS serves the embeddable widget script.
func (h *Handler) HandleWidgetJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = w.Write(h.widgetJS)
}
