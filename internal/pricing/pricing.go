package pricing

import "chat-relay/internal/llm"

// Price is the cost per million tokens for one model
type Price struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// defaultModel is the price row applied to unknown model identifiers
const defaultModel = "claude-3-5-sonnet-20241022"

var prices = map[string]Price{
	"claude-sonnet-4-20250514":   {InputPerMillion: 4, OutputPerMillion: 20},
	"claude-opus-4-20250514":     {InputPerMillion: 20, OutputPerMillion: 100},
	"claude-3-5-sonnet-20241022": {InputPerMillion: 3, OutputPerMillion: 15},
	"claude-3-opus-20240229":     {InputPerMillion: 15, OutputPerMillion: 75},
	"claude-3-haiku-20240307":    {InputPerMillion: 0.25, OutputPerMillion: 1.25},
}

// Breakdown is the monetary cost of one completed turn. Values are not
// rounded; presentation rounding is the caller's concern.
type Breakdown struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	TotalTokens  int     `json:"totalTokens"`
	InputCost    float64 `json:"inputCost"`
	OutputCost   float64 `json:"outputCost"`
	TotalCost    float64 `json:"totalCost"`
}

// Cost maps token usage and a model identifier to a cost breakdown.
// Total function: unknown models use the default price row.
func Cost(usage llm.Usage, model string) Breakdown {
	price, ok := prices[model]
	if !ok {
		price = prices[defaultModel]
	}

	inputCost := float64(usage.InputTokens) / 1_000_000 * price.InputPerMillion
	outputCost := float64(usage.OutputTokens) / 1_000_000 * price.OutputPerMillion

	return Breakdown{
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.InputTokens + usage.OutputTokens,
		InputCost:    inputCost,
		OutputCost:   outputCost,
		TotalCost:    inputCost + outputCost,
	}
}
