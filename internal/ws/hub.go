package ws

import (
	"chat-relay/internal/artifacts"
	"chat-relay/internal/auth"
	"chat-relay/internal/credentials"
	"chat-relay/internal/llm"
	"chat-relay/internal/logger"
	"chat-relay/internal/pricing"
	"chat-relay/internal/repository/db"
	"chat-relay/pkg/validation"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// socket is the transport surface the hub writes to. gorilla's Conn
// satisfies it; tests use fakes.
type socket interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Connection is one live duplex session, optionally bound to a user
type Connection struct {
	ID             string
	UserID         string // empty means anonymous
	ConversationID string

	sock    socket
	writeMu sync.Mutex
	alive   bool
}

func (c *Connection) send(msg OutboundMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sock.WriteJSON(msg)
}

// Hub owns the registry of live connections and routes chat turns
// through the credential resolver and the provider stream, fanning
// classified events back to the originating connection only.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	resolver  *credentials.Resolver
	store     db.Database
	auth      *auth.Service
	validator *validation.ChatTurnValidator

	heartbeat time.Duration
	upgrader  websocket.Upgrader
	stop      chan struct{}

	// streamFn opens one provider stream per turn; injectable for tests
	streamFn func(apiKey string, turn llm.TurnRequest) (<-chan llm.ProviderEvent, error)
}

// NewHub creates an independent hub instance with its own registry
func NewHub(resolver *credentials.Resolver, store db.Database, authService *auth.Service, heartbeat time.Duration) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		resolver:    resolver,
		store:       store,
		auth:        authService,
		validator:   validation.NewChatTurnValidator(),
		heartbeat:   heartbeat,
		stop:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		streamFn: func(apiKey string, turn llm.TurnRequest) (<-chan llm.ProviderEvent, error) {
			return llm.NewClient(apiKey).StreamMessage(turn)
		},
	}
}

// HandleWS upgrades an HTTP request to a websocket session. A bearer
// token in the handshake binds an identity; any token failure leaves
// the connection anonymous rather than rejecting it.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	userID := ""
	if token := handshakeToken(r); token != "" {
		userID, err = h.auth.VerifyUser(token)
		if err != nil {
			logger.Log.WithError(err).Debug("Handshake token rejected, continuing anonymous")
			userID = ""
		}
	}

	conn := &Connection{
		ID:     uuid.New().String(),
		UserID: userID,
		sock:   wsConn,
		alive:  true,
	}
	h.register(conn)

	logger.Log.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"authenticated": userID != "",
	}).Info("New websocket connection")

	h.readLoop(conn, wsConn)
}

// handshakeToken pulls a bearer token from the query string or header
func handshakeToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

func (h *Hub) readLoop(conn *Connection, wsConn *websocket.Conn) {
	defer func() {
		h.unregister(conn.ID)
		wsConn.Close()
		logger.Log.WithField("connection_id", conn.ID).Info("Websocket disconnected")
	}()

	for {
		var msg InboundMessage
		if err := wsConn.ReadJSON(&msg); err != nil {
			return
		}
		h.handleMessage(conn, msg)
	}
}

func (h *Hub) handleMessage(conn *Connection, msg InboundMessage) {
	switch msg.Type {
	case "ping":
		conn.send(OutboundMessage{Type: "pong"})

	case "pong":
		h.markAlive(conn.ID)

	case "chat":
		// Each turn runs in its own task so a slow stream never blocks
		// this connection's control frames or other connections
		go h.handleChat(conn, msg.Data)

	default:
		h.sendError(conn, "Unknown message type: "+msg.Type)
	}
}

// handleChat runs one chat turn end to end. Every failure surfaces as
// a single error event; the connection always stays open.
func (h *Hub) handleChat(conn *Connection, data json.RawMessage) {
	var payload ChatPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendError(conn, "Invalid chat request format")
		return
	}

	turn := llm.TurnRequest{
		Messages:       payload.Messages,
		Model:          payload.Model,
		Temperature:    payload.Temperature,
		MaxTokens:      payload.MaxTokens,
		SystemPrompt:   payload.SystemPrompt,
		EnableThinking: payload.EnableThinking,
	}

	if err := h.validator.ValidateTurn(turn); err != nil {
		h.sendError(conn, err.Error())
		return
	}

	apiKey, err := h.resolver.Resolve(conn.UserID, payload.APIKey)
	if err != nil {
		h.sendError(conn, err.Error())
		return
	}

	raw, err := h.streamFn(apiKey, turn)
	if err != nil {
		logger.Log.WithError(err).WithField("connection_id", conn.ID).Error("Failed to open provider stream")
		h.sendError(conn, "Failed to start completion stream")
		return
	}

	var fullContent strings.Builder
	var usage *llm.Usage
	var messageID string
	failed := false

	for event := range llm.Classify(raw) {
		// A closed connection stops forwarding; the upstream stream is
		// drained to completion and its output discarded
		if !h.isRegistered(conn.ID) {
			continue
		}

		switch event.Kind {
		case llm.KindStarted:
			messageID = event.MessageID
			h.sendTo(conn, OutboundMessage{Type: "chat", Data: ChatEventData{
				Role:        "assistant",
				Content:     "",
				IsStreaming: true,
				MessageID:   messageID,
			}})

		case llm.KindVisibleDelta:
			fullContent.WriteString(event.Text)
			h.sendTo(conn, OutboundMessage{Type: "chat", Data: ChatEventData{
				Role:        "assistant",
				Content:     event.Text,
				IsStreaming: true,
				IsDelta:     true,
			}})

		case llm.KindThinkingDelta:
			h.sendTo(conn, OutboundMessage{Type: "thinking", Data: ThinkingEventData{
				Content:     event.Text,
				IsStreaming: true,
			}})

		case llm.KindUsageFinal:
			usage = event.Usage

		case llm.KindStreamError:
			logger.Log.WithFields(logrus.Fields{
				"connection_id": conn.ID,
				"error":         event.Err,
			}).Error("Provider stream error")
			h.sendError(conn, event.Err)
			failed = true
		}
	}

	if failed || !h.isRegistered(conn.ID) {
		return
	}

	if usage != nil {
		h.sendTo(conn, OutboundMessage{Type: "usage", Data: pricing.Cost(*usage, payload.Model)})
	}

	h.persistArtifacts(conn, payload.ConversationID, fullContent.String())

	h.sendTo(conn, OutboundMessage{Type: "chat", Data: ChatEventData{
		Role:        "assistant",
		Content:     fullContent.String(),
		IsStreaming: false,
		MessageID:   messageID,
	}})
}

// persistArtifacts extracts artifacts from the assembled text, stores
// them when a conversation is bound, and announces them to the client.
// Failures here are logged and never abort the turn's chat output.
func (h *Hub) persistArtifacts(conn *Connection, conversationID, finalText string) {
	found := artifacts.Extract(finalText, conversationID)
	if len(found) == 0 {
		return
	}

	if conversationID != "" {
		for _, a := range found {
			if _, err := h.store.InsertArtifact(a.ConversationID, a.Name, a.Kind, a.MimeType, a.Content, a.FileExtension); err != nil {
				logger.Log.WithError(err).WithFields(logrus.Fields{
					"conversation_id": conversationID,
					"artifact":        a.Name,
				}).Error("Failed to persist artifact")
			}
		}
	}

	h.sendTo(conn, OutboundMessage{Type: "artifact", Data: ArtifactEventData{Artifacts: found}})
}

func (h *Hub) sendError(conn *Connection, message string) {
	h.sendTo(conn, OutboundMessage{Type: "error", Data: ErrorEventData{Error: message}})
}

func (h *Hub) sendTo(conn *Connection, msg OutboundMessage) {
	if err := conn.send(msg); err != nil {
		logger.Log.WithError(err).WithField("connection_id", conn.ID).Warn("Websocket write failed")
	}
}

// register adds a connection to the registry
func (h *Hub) register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn.ID] = conn
}

// unregister removes a connection; forwarding to it stops immediately
func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, id)
}

func (h *Hub) isRegistered(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connections[id]
	return ok
}

func (h *Hub) markAlive(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, ok := h.connections[id]; ok {
		conn.alive = true
	}
}

// ConnectionCount reports the number of live connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// StartKeepAlive pings every connection each heartbeat interval and
// evicts any connection that did not answer the previous ping. This is
// the relay's only cancellation mechanism: a client that wants to stop
// a turn disconnects or ignores further output.
func (h *Hub) StartKeepAlive() {
	go func() {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				h.sweep()
			case <-h.stop:
				return
			}
		}
	}()
}

// Stop terminates the keep-alive loop
func (h *Hub) Stop() {
	close(h.stop)
}

// sweep evicts dead connections and pings the rest
func (h *Hub) sweep() {
	h.mu.Lock()
	var dead []*Connection
	var live []*Connection
	for _, conn := range h.connections {
		if !conn.alive {
			dead = append(dead, conn)
			delete(h.connections, conn.ID)
			continue
		}
		conn.alive = false
		live = append(live, conn)
	}
	h.mu.Unlock()

	for _, conn := range dead {
		logger.Log.WithField("connection_id", conn.ID).Info("Evicting unresponsive connection")
		conn.sock.Close()
	}
	for _, conn := range live {
		h.sendTo(conn, OutboundMessage{Type: "ping"})
	}
}
