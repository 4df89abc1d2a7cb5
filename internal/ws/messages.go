package ws

import (
	"chat-relay/internal/artifacts"
	"chat-relay/internal/llm"
	"encoding/json"
)

// InboundMessage is one frame from the client
type InboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ChatPayload is the data of an inbound chat frame
type ChatPayload struct {
	Messages       []llm.Message `json:"messages"`
	Model          string        `json:"model"`
	Temperature    *float64      `json:"temperature,omitempty"`
	MaxTokens      int           `json:"maxTokens,omitempty"`
	SystemPrompt   string        `json:"systemPrompt,omitempty"`
	EnableThinking bool          `json:"enableThinking,omitempty"`
	APIKey         string        `json:"apiKey,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
}

// OutboundMessage is one frame to the client, tagged by logical channel
type OutboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ChatEventData is streamed answer text or the final assembled message
type ChatEventData struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	IsStreaming bool   `json:"isStreaming"`
	IsDelta     bool   `json:"isDelta,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
}

// ThinkingEventData is streamed reasoning text
type ThinkingEventData struct {
	Content     string `json:"content"`
	IsStreaming bool   `json:"isStreaming"`
}

// ErrorEventData reports one failed turn
type ErrorEventData struct {
	Error string `json:"error"`
}

// ArtifactEventData carries artifacts extracted from a completed turn
type ArtifactEventData struct {
	Artifacts []artifacts.Artifact `json:"artifacts"`
}
