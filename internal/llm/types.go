package llm

// Message is one entry of the conversation history sent upstream
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage carries the provider's token counters for one completion
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// TurnRequest is one logical chat turn to run against the provider
type TurnRequest struct {
	Messages       []Message
	Model          string
	Temperature    *float64
	MaxTokens      int
	SystemPrompt   string
	EnableThinking bool
}

// MessageInfo identifies the in-flight provider message
type MessageInfo struct {
	ID    string `json:"id"`
	Usage *Usage `json:"usage,omitempty"`
}

// ContentBlock describes the opening of one content block
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// EventDelta is the incremental part of a content_block_delta or
// message_delta event
type EventDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// APIError is the provider's error payload
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ProviderEvent is one raw event off the provider's SSE stream. Err is
// set only for transport failures synthesized by the client; such an
// event is always terminal.
type ProviderEvent struct {
	Type         string        `json:"type"`
	Message      *MessageInfo  `json:"message,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *EventDelta   `json:"delta,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	Error        *APIError     `json:"error,omitempty"`

	Err error `json:"-"`
}

// eventStreamFailure is the synthetic type for transport-level failures
const eventStreamFailure = "stream_failure"
