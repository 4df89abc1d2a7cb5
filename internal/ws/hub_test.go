package ws

import (
	"chat-relay/internal/clock"
	"chat-relay/internal/credentials"
	"chat-relay/internal/llm"
	"chat-relay/internal/pricing"
	"chat-relay/internal/repository/db"
	"chat-relay/internal/testutil"
	"chat-relay/internal/vault"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSocket records everything written to it
type fakeSocket struct {
	mu       sync.Mutex
	messages []OutboundMessage
	closed   bool
}

func (f *fakeSocket) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, v.(OutboundMessage))
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) snapshot() []OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OutboundMessage, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *fakeSocket) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestHub(t *testing.T, database db.Database) *Hub {
	t.Helper()
	v, err := vault.NewVault("hub-test-master-key")
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	resolver := credentials.NewResolver(database, v, clock.System{}, time.Minute)
	return NewHub(resolver, database, nil, 30*time.Second)
}

func addConnection(h *Hub, userID string) (*Connection, *fakeSocket) {
	sock := &fakeSocket{}
	conn := &Connection{ID: "conn-" + userID + "-test", UserID: userID, sock: sock, alive: true}
	h.register(conn)
	return conn, sock
}

func chatData(t *testing.T, payload ChatPayload) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func simpleStream(events ...llm.ProviderEvent) func(string, llm.TurnRequest) (<-chan llm.ProviderEvent, error) {
	return func(string, llm.TurnRequest) (<-chan llm.ProviderEvent, error) {
		raw := make(chan llm.ProviderEvent, len(events))
		for _, ev := range events {
			raw <- ev
		}
		close(raw)
		return raw, nil
	}
}

func TestAnonymousChatWithExplicitKeyEndToEnd(t *testing.T) {
	storeTouched := false
	mockDB := &testutil.MockDatabase{
		GetActiveCredentialFunc: func(string) (*db.Credential, error) {
			storeTouched = true
			return nil, sql.ErrNoRows
		},
	}
	h := newTestHub(t, mockDB)

	var gotKey string
	h.streamFn = func(apiKey string, turn llm.TurnRequest) (<-chan llm.ProviderEvent, error) {
		gotKey = apiKey
		return simpleStream(
			llm.ProviderEvent{Type: "message_start", Message: &llm.MessageInfo{ID: "msg_1", Usage: &llm.Usage{InputTokens: 10}}},
			llm.ProviderEvent{Type: "content_block_start", ContentBlock: &llm.ContentBlock{Type: "text"}},
			llm.ProviderEvent{Type: "content_block_delta", Delta: &llm.EventDelta{Type: "text_delta", Text: "Hi"}},
			llm.ProviderEvent{Type: "content_block_stop"},
			llm.ProviderEvent{Type: "message_delta", Usage: &llm.Usage{OutputTokens: 1}},
			llm.ProviderEvent{Type: "message_stop"},
		)("", llm.TurnRequest{})
	}

	conn, sock := addConnection(h, "")
	h.handleChat(conn, chatData(t, ChatPayload{
		Messages: []llm.Message{{Role: "user", Content: "hello"}},
		Model:    "claude-3-5-sonnet-20241022",
		APIKey:   "sk-ant-direct-key",
	}))

	if storeTouched {
		t.Error("explicit key chat touched the credential store")
	}
	if gotKey != "sk-ant-direct-key" {
		t.Errorf("stream used key %q, want the explicit key", gotKey)
	}

	got := sock.snapshot()
	if len(got) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(got), got)
	}

	start := got[0].Data.(ChatEventData)
	if got[0].Type != "chat" || !start.IsStreaming || start.IsDelta {
		t.Errorf("event 0 = %+v, want streaming start", got[0])
	}
	if start.MessageID != "msg_1" {
		t.Errorf("start message id = %q", start.MessageID)
	}

	delta := got[1].Data.(ChatEventData)
	if got[1].Type != "chat" || delta.Content != "Hi" || !delta.IsDelta {
		t.Errorf("event 1 = %+v, want delta 'Hi'", got[1])
	}

	if got[2].Type != "usage" {
		t.Errorf("event 2 type = %q, want usage", got[2].Type)
	}
	usage := got[2].Data.(pricing.Breakdown)
	if usage.InputTokens != 10 || usage.OutputTokens != 1 {
		t.Errorf("usage = %+v", usage)
	}

	final := got[3].Data.(ChatEventData)
	if got[3].Type != "chat" || final.IsStreaming || final.Content != "Hi" {
		t.Errorf("event 3 = %+v, want final assembled message", got[3])
	}
}

func TestThinkingDeltasGetOwnChannel(t *testing.T) {
	h := newTestHub(t, &testutil.MockDatabase{})
	h.streamFn = simpleStream(
		llm.ProviderEvent{Type: "message_start", Message: &llm.MessageInfo{ID: "msg_2"}},
		llm.ProviderEvent{Type: "content_block_start", ContentBlock: &llm.ContentBlock{Type: "text", Text: "<thinking>"}},
		llm.ProviderEvent{Type: "content_block_delta", Delta: &llm.EventDelta{Type: "text_delta", Text: "analyzing..."}},
		llm.ProviderEvent{Type: "content_block_stop"},
		llm.ProviderEvent{Type: "content_block_start", ContentBlock: &llm.ContentBlock{Type: "text"}},
		llm.ProviderEvent{Type: "content_block_delta", Delta: &llm.EventDelta{Type: "text_delta", Text: "The answer is 4."}},
		llm.ProviderEvent{Type: "content_block_stop"},
		llm.ProviderEvent{Type: "message_stop"},
	)

	conn, sock := addConnection(h, "")
	h.handleChat(conn, chatData(t, ChatPayload{
		Messages: []llm.Message{{Role: "user", Content: "2+2?"}},
		Model:    "claude-3-5-sonnet-20241022",
		APIKey:   "sk-ant-key",
	}))

	var thinking, visible []string
	for _, msg := range sock.snapshot() {
		switch msg.Type {
		case "thinking":
			thinking = append(thinking, msg.Data.(ThinkingEventData).Content)
		case "chat":
			data := msg.Data.(ChatEventData)
			if data.IsDelta {
				visible = append(visible, data.Content)
			}
		}
	}

	if len(thinking) != 1 || thinking[0] != "analyzing..." {
		t.Errorf("thinking channel = %v", thinking)
	}
	if len(visible) != 1 || visible[0] != "The answer is 4." {
		t.Errorf("visible channel = %v", visible)
	}

	// Final message carries only the visible text
	msgs := sock.snapshot()
	final := msgs[len(msgs)-1].Data.(ChatEventData)
	if final.Content != "The answer is 4." {
		t.Errorf("final content = %q, thinking leaked into chat channel", final.Content)
	}
}

func TestChatWithoutCredentialEmitsSingleError(t *testing.T) {
	mockDB := &testutil.MockDatabase{
		GetActiveCredentialFunc: func(string) (*db.Credential, error) {
			return nil, sql.ErrNoRows
		},
	}
	h := newTestHub(t, mockDB)

	streamStarted := false
	h.streamFn = func(string, llm.TurnRequest) (<-chan llm.ProviderEvent, error) {
		streamStarted = true
		return nil, errors.New("should not be called")
	}

	conn, sock := addConnection(h, "user-1")
	h.handleChat(conn, chatData(t, ChatPayload{
		Messages: []llm.Message{{Role: "user", Content: "hello"}},
		Model:    "claude-3-5-sonnet-20241022",
	}))

	got := sock.snapshot()
	if len(got) != 1 || got[0].Type != "error" {
		t.Fatalf("got %+v, want single error event", got)
	}
	if streamStarted {
		t.Error("provider stream was opened despite missing credential")
	}
	if !h.isRegistered(conn.ID) {
		t.Error("connection was dropped after resolution failure")
	}
}

func TestMalformedChatRequestNoUpstreamCall(t *testing.T) {
	h := newTestHub(t, &testutil.MockDatabase{})

	streamStarted := false
	h.streamFn = func(string, llm.TurnRequest) (<-chan llm.ProviderEvent, error) {
		streamStarted = true
		return nil, errors.New("should not be called")
	}

	conn, sock := addConnection(h, "")

	// missing model
	h.handleChat(conn, chatData(t, ChatPayload{
		Messages: []llm.Message{{Role: "user", Content: "hello"}},
		APIKey:   "sk-ant-key",
	}))
	// empty message list
	h.handleChat(conn, chatData(t, ChatPayload{
		Model:  "claude-3-5-sonnet-20241022",
		APIKey: "sk-ant-key",
	}))
	// unparseable payload
	h.handleChat(conn, json.RawMessage(`{"messages": "not-a-list"}`))

	got := sock.snapshot()
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3 errors: %+v", len(got), got)
	}
	for i, msg := range got {
		if msg.Type != "error" {
			t.Errorf("event %d type = %q, want error", i, msg.Type)
		}
	}
	if streamStarted {
		t.Error("provider stream was opened for malformed requests")
	}
}

func TestStreamErrorAbandonsTurnKeepsConnection(t *testing.T) {
	h := newTestHub(t, &testutil.MockDatabase{})
	h.streamFn = simpleStream(
		llm.ProviderEvent{Type: "message_start", Message: &llm.MessageInfo{ID: "msg_3"}},
		llm.ProviderEvent{Type: "content_block_delta", Delta: &llm.EventDelta{Type: "text_delta", Text: "partial"}},
		llm.ProviderEvent{Type: "error", Error: &llm.APIError{Type: "overloaded_error", Message: "Overloaded"}},
	)

	conn, sock := addConnection(h, "")
	h.handleChat(conn, chatData(t, ChatPayload{
		Messages: []llm.Message{{Role: "user", Content: "hello"}},
		Model:    "claude-3-5-sonnet-20241022",
		APIKey:   "sk-ant-key",
	}))

	got := sock.snapshot()
	last := got[len(got)-1]
	if last.Type != "error" || last.Data.(ErrorEventData).Error != "Overloaded" {
		t.Errorf("last event = %+v, want the stream error", last)
	}

	// Partial delta was delivered before the failure, no final message after
	for _, msg := range got {
		if msg.Type == "chat" {
			if data := msg.Data.(ChatEventData); !data.IsStreaming {
				t.Error("final message emitted for a failed turn")
			}
		}
		if msg.Type == "usage" {
			t.Error("usage emitted for a failed turn")
		}
	}

	if !h.isRegistered(conn.ID) {
		t.Error("connection dropped after provider error")
	}
}

func TestArtifactsPersistedAndAnnounced(t *testing.T) {
	var inserted []string
	mockDB := &testutil.MockDatabase{
		InsertArtifactFunc: func(conversationID, name, artifactType, mimeType, content, fileExtension string) (*db.Artifact, error) {
			inserted = append(inserted, name)
			return &db.Artifact{ID: "art-1", ConversationID: conversationID, Name: name}, nil
		},
	}
	h := newTestHub(t, mockDB)
	h.streamFn = simpleStream(
		llm.ProviderEvent{Type: "message_start", Message: &llm.MessageInfo{ID: "msg_4"}},
		llm.ProviderEvent{Type: "content_block_delta", Delta: &llm.EventDelta{Type: "text_delta", Text: "```python\nprint('hi')\n```"}},
		llm.ProviderEvent{Type: "message_stop"},
	)

	conn, sock := addConnection(h, "")
	h.handleChat(conn, chatData(t, ChatPayload{
		Messages:       []llm.Message{{Role: "user", Content: "write code"}},
		Model:          "claude-3-5-sonnet-20241022",
		APIKey:         "sk-ant-key",
		ConversationID: "conv-1",
	}))

	if len(inserted) != 1 {
		t.Fatalf("inserted %d artifacts, want 1", len(inserted))
	}

	got := sock.snapshot()
	var artifactIdx, finalIdx int = -1, -1
	for i, msg := range got {
		if msg.Type == "artifact" {
			artifactIdx = i
		}
		if msg.Type == "chat" && !msg.Data.(ChatEventData).IsStreaming {
			finalIdx = i
		}
	}
	if artifactIdx == -1 {
		t.Fatal("no artifact event emitted")
	}
	if finalIdx == -1 || artifactIdx > finalIdx {
		t.Errorf("artifact event at %d, final message at %d; artifacts must precede the final message", artifactIdx, finalIdx)
	}
}

func TestArtifactPersistenceFailureDoesNotAbortTurn(t *testing.T) {
	mockDB := &testutil.MockDatabase{
		InsertArtifactFunc: func(string, string, string, string, string, string) (*db.Artifact, error) {
			return nil, errors.New("store unavailable")
		},
	}
	h := newTestHub(t, mockDB)
	h.streamFn = simpleStream(
		llm.ProviderEvent{Type: "message_start", Message: &llm.MessageInfo{ID: "msg_5"}},
		llm.ProviderEvent{Type: "content_block_delta", Delta: &llm.EventDelta{Type: "text_delta", Text: "```go\npackage main\n```"}},
		llm.ProviderEvent{Type: "message_stop"},
	)

	conn, sock := addConnection(h, "")
	h.handleChat(conn, chatData(t, ChatPayload{
		Messages:       []llm.Message{{Role: "user", Content: "code"}},
		Model:          "claude-3-5-sonnet-20241022",
		APIKey:         "sk-ant-key",
		ConversationID: "conv-2",
	}))

	got := sock.snapshot()
	final := got[len(got)-1]
	if final.Type != "chat" || final.Data.(ChatEventData).IsStreaming {
		t.Errorf("final event = %+v, want completed chat message despite store failure", final)
	}
	for _, msg := range got {
		if msg.Type == "error" {
			t.Error("artifact store failure leaked an error event to the client")
		}
	}
}

func TestNoCrossConnectionLeakage(t *testing.T) {
	h := newTestHub(t, &testutil.MockDatabase{})
	h.streamFn = simpleStream(
		llm.ProviderEvent{Type: "message_start", Message: &llm.MessageInfo{ID: "msg_6"}},
		llm.ProviderEvent{Type: "content_block_delta", Delta: &llm.EventDelta{Type: "text_delta", Text: "private"}},
		llm.ProviderEvent{Type: "message_stop"},
	)

	connA, sockA := addConnection(h, "alice")
	_, sockB := addConnection(h, "bob")

	h.handleChat(connA, chatData(t, ChatPayload{
		Messages: []llm.Message{{Role: "user", Content: "secret question"}},
		Model:    "claude-3-5-sonnet-20241022",
		APIKey:   "sk-ant-alice",
	}))

	if len(sockA.snapshot()) == 0 {
		t.Error("originating connection received nothing")
	}
	if leaked := sockB.snapshot(); len(leaked) != 0 {
		t.Errorf("other connection received %d events: %+v", len(leaked), leaked)
	}
}

func TestPingGetsPong(t *testing.T) {
	h := newTestHub(t, &testutil.MockDatabase{})
	conn, sock := addConnection(h, "")

	h.handleMessage(conn, InboundMessage{Type: "ping"})

	got := sock.snapshot()
	if len(got) != 1 || got[0].Type != "pong" {
		t.Errorf("got %+v, want single pong", got)
	}
}

func TestUnknownMessageTypeGetsError(t *testing.T) {
	h := newTestHub(t, &testutil.MockDatabase{})
	conn, sock := addConnection(h, "")

	h.handleMessage(conn, InboundMessage{Type: "subscribe"})

	got := sock.snapshot()
	if len(got) != 1 || got[0].Type != "error" {
		t.Errorf("got %+v, want single error", got)
	}
}

func TestKeepAliveEvictsUnresponsiveConnection(t *testing.T) {
	h := newTestHub(t, &testutil.MockDatabase{})

	silent, silentSock := addConnection(h, "")
	responsive, responsiveSock := addConnection(h, "user-2")

	// First sweep: both get pinged and marked pending
	h.sweep()
	if h.ConnectionCount() != 2 {
		t.Fatalf("connections after first sweep = %d, want 2", h.ConnectionCount())
	}

	// Only one connection answers
	h.markAlive(responsive.ID)

	// Second sweep: the silent connection is evicted and closed
	h.sweep()
	if h.ConnectionCount() != 1 {
		t.Errorf("connections after second sweep = %d, want 1", h.ConnectionCount())
	}
	if h.isRegistered(silent.ID) {
		t.Error("silent connection still registered")
	}
	if !silentSock.isClosed() {
		t.Error("silent connection socket not closed")
	}
	if responsiveSock.isClosed() {
		t.Error("responsive connection was closed")
	}

	// An evicted connection receives no further forwarded events
	before := len(silentSock.snapshot())
	h.streamFn = simpleStream(
		llm.ProviderEvent{Type: "message_start", Message: &llm.MessageInfo{ID: "msg_7"}},
		llm.ProviderEvent{Type: "content_block_delta", Delta: &llm.EventDelta{Type: "text_delta", Text: "late"}},
		llm.ProviderEvent{Type: "message_stop"},
	)
	h.handleChat(silent, chatData(t, ChatPayload{
		Messages: []llm.Message{{Role: "user", Content: "anyone there?"}},
		Model:    "claude-3-5-sonnet-20241022",
		APIKey:   "sk-ant-key",
	}))
	if after := len(silentSock.snapshot()); after != before {
		t.Errorf("evicted connection received %d new events", after-before)
	}
}
