package llm

import "strings"

// ModelInfo describes one provider model exposed to clients
type ModelInfo struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	SupportsVision   bool   `json:"supportsVision"`
	SupportsThinking bool   `json:"supportsThinking"`
	ContextWindow    int    `json:"contextWindow"`
	OutputTokens     int    `json:"outputTokens"`
}

var models = []ModelInfo{
	{
		ID:               "claude-sonnet-4-20250514",
		Name:             "Claude 4 Sonnet",
		Description:      "Latest model with enhanced reasoning",
		SupportsVision:   true,
		SupportsThinking: true,
		ContextWindow:    500000,
		OutputTokens:     16384,
	},
	{
		ID:               "claude-opus-4-20250514",
		Name:             "Claude 4 Opus",
		Description:      "Cutting-edge model for the most complex tasks",
		SupportsVision:   true,
		SupportsThinking: true,
		ContextWindow:    500000,
		OutputTokens:     16384,
	},
	{
		ID:               "claude-3-5-sonnet-20241022",
		Name:             "Claude 3.5 Sonnet",
		Description:      "Most capable Claude 3 model with extended thinking",
		SupportsVision:   true,
		SupportsThinking: true,
		ContextWindow:    200000,
		OutputTokens:     8192,
	},
	{
		ID:               "claude-3-opus-20240229",
		Name:             "Claude 3 Opus",
		Description:      "Powerful model for complex tasks",
		SupportsVision:   true,
		SupportsThinking: false,
		ContextWindow:    200000,
		OutputTokens:     4096,
	},
	{
		ID:               "claude-3-haiku-20240307",
		Name:             "Claude 3 Haiku",
		Description:      "Fast and efficient for simple tasks",
		SupportsVision:   true,
		SupportsThinking: false,
		ContextWindow:    200000,
		OutputTokens:     4096,
	},
}

// AvailableModels returns the model catalog
func AvailableModels() []ModelInfo {
	out := make([]ModelInfo, len(models))
	copy(out, models)
	return out
}

// SupportsThinking reports whether a model accepts the thinking-mode
// flag. Models not in the catalog fall back to a family-name check.
func SupportsThinking(model string) bool {
	for _, m := range models {
		if m.ID == model {
			return m.SupportsThinking
		}
	}
	return strings.Contains(model, "sonnet") || strings.Contains(model, "opus-4")
}
