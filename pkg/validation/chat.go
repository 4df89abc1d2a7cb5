package validation

import (
	"chat-relay/internal/llm"
	"errors"
	"fmt"
)

// ChatTurnValidator validates inbound chat turn requests
type ChatTurnValidator struct{}

// NewChatTurnValidator creates a new ChatTurnValidator
func NewChatTurnValidator() *ChatTurnValidator {
	return &ChatTurnValidator{}
}

// ValidateMessages checks the message history
func (v *ChatTurnValidator) ValidateMessages(messages []llm.Message) error {
	if len(messages) == 0 {
		return errors.New("messages cannot be empty")
	}

	for i, msg := range messages {
		switch msg.Role {
		case "user", "assistant", "system":
		default:
			return fmt.Errorf("message %d has invalid role %q", i, msg.Role)
		}
		if msg.Content == "" {
			return fmt.Errorf("message %d has empty content", i)
		}
	}
	return nil
}

// ValidateModel checks that a model identifier is present
func (v *ChatTurnValidator) ValidateModel(model string) error {
	if model == "" {
		return errors.New("model is required")
	}
	return nil
}

// ValidateTemperature validates the temperature parameter
func (v *ChatTurnValidator) ValidateTemperature(temperature *float64) error {
	if temperature == nil {
		return nil // Temperature is optional
	}

	if *temperature < 0 || *temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %.2f", *temperature)
	}
	return nil
}

// ValidateMaxTokens validates the output token cap
func (v *ChatTurnValidator) ValidateMaxTokens(maxTokens int) error {
	if maxTokens < 0 {
		return fmt.Errorf("maxTokens must not be negative, got %d", maxTokens)
	}
	return nil
}

// ValidateTurn validates a complete chat turn request
func (v *ChatTurnValidator) ValidateTurn(turn llm.TurnRequest) error {
	if err := v.ValidateMessages(turn.Messages); err != nil {
		return err
	}

	if err := v.ValidateModel(turn.Model); err != nil {
		return err
	}

	if err := v.ValidateTemperature(turn.Temperature); err != nil {
		return err
	}

	if err := v.ValidateMaxTokens(turn.MaxTokens); err != nil {
		return err
	}

	return nil
}
