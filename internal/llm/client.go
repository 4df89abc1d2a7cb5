package llm

import (
	"bufio"
	"bytes"
	"chat-relay/internal/logger"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	messagesURL      = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
	validationModel  = "claude-3-haiku-20240307"
)

// Client is a request-scoped provider client bound to exactly one
// credential. It is cheap to construct and holds no connection state.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a client for a single credential
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: messagesURL,
		http:    &http.Client{},
	}
}

// NewClientWithBaseURL is used by tests to point at a stub server
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = baseURL
	return c
}

type apiRequest struct {
	Model       string            `json:"model"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature *float64          `json:"temperature,omitempty"`
	Messages    []Message         `json:"messages"`
	System      string            `json:"system,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (c *Client) buildRequest(turn TurnRequest, stream bool) apiRequest {
	maxTokens := turn.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	req := apiRequest{
		Model:       turn.Model,
		MaxTokens:   maxTokens,
		Temperature: turn.Temperature,
		Messages:    turn.Messages,
		System:      turn.SystemPrompt,
		Stream:      stream,
	}

	// Thinking mode is requested only for models that support it;
	// on anything else the flag is dropped without error.
	if turn.EnableThinking && SupportsThinking(turn.Model) {
		req.Metadata = map[string]string{"thinking_mode": "enabled"}
	}

	return req
}

func (c *Client) post(body apiRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequest("POST", c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	return c.http.Do(req)
}

// StreamMessage issues one streaming completion call and returns the
// raw provider events as they arrive. The sequence is finite and not
// restartable: transport failures mid-stream surface as one terminal
// failure event, and events already delivered remain valid.
func (c *Client) StreamMessage(turn TurnRequest) (<-chan ProviderEvent, error) {
	logger.Log.WithFields(logrus.Fields{
		"model":         turn.Model,
		"message_count": len(turn.Messages),
		"thinking":      turn.EnableThinking,
	}).Info("Calling provider (streaming)")

	resp, err := c.post(c.buildRequest(turn, true))
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	events := make(chan ProviderEvent)

	go func() {
		defer resp.Body.Close()
		defer close(events)

		scanner := bufio.NewScanner(resp.Body)
		// Large deltas can exceed the default token size
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()

			// SSE frames: "event: ..." lines are redundant with the
			// type field inside the data payload
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}

			jsonStr := strings.TrimPrefix(line, "data: ")

			var event ProviderEvent
			if err := json.Unmarshal([]byte(jsonStr), &event); err != nil {
				logger.Log.WithError(err).Warn("Error parsing stream event")
				continue
			}

			events <- event
		}

		if err := scanner.Err(); err != nil {
			logger.Log.WithError(err).Error("Scanner error during streaming")
			events <- ProviderEvent{Type: eventStreamFailure, Err: err}
		}
	}()

	return events, nil
}

// Validate makes a minimal completion call to prove the credential is
// accepted by the provider before it is stored.
func (c *Client) Validate() error {
	resp, err := c.post(apiRequest{
		Model:     validationModel,
		MaxTokens: 1,
		Messages:  []Message{{Role: "user", Content: "test"}},
	})
	if err != nil {
		return fmt.Errorf("error sending validation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("provider rejected key (status %d): %s", resp.StatusCode, string(body))
	}

	io.Copy(io.Discard, resp.Body)
	return nil
}
