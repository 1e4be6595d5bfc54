package invoke

import "github.com/dshills/agentgraph/graph/model"

// ModelPricing defines input and output token costs for a model, in USD per
// one million tokens.
type ModelPricing struct {
	InputPer1M  float64 `json:"input_per_1m" yaml:"input_per_1m" mapstructure:"input_per_1m"`
	OutputPer1M float64 `json:"output_per_1m" yaml:"output_per_1m" mapstructure:"output_per_1m"`
}

// Cost returns the USD cost of a call with the given usage.
func (p ModelPricing) Cost(u model.Usage) float64 {
	in := (float64(u.InputTokens) / 1_000_000.0) * p.InputPer1M
	out := (float64(u.OutputTokens) / 1_000_000.0) * p.OutputPer1M
	return in + out
}

// defaultPricing is used when a catalog entry carries no pricing. Prices are
// list prices and change; catalog configuration takes precedence.
var defaultPricing = map[string]ModelPricing{
	"gpt-4o":           {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":      {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4.1":          {InputPer1M: 2.00, OutputPer1M: 8.00},
	"gpt-4.1-mini":     {InputPer1M: 0.40, OutputPer1M: 1.60},
	"gpt-4.1-nano":     {InputPer1M: 0.10, OutputPer1M: 0.40},
	"o4-mini":          {InputPer1M: 1.10, OutputPer1M: 4.40},
	"gpt-3.5-turbo":    {InputPer1M: 0.50, OutputPer1M: 1.50},
	"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash": {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-2.5-pro":   {InputPer1M: 1.25, OutputPer1M: 10.00},
	"gemini-2.5-flash": {InputPer1M: 0.30, OutputPer1M: 2.50},

	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku-20241022":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"claude-sonnet-4-20250514":   {InputPer1M: 3.00, OutputPer1M: 15.00},
}

// DefaultPricing returns the built-in price for a model id, if known.
func DefaultPricing(modelID string) (ModelPricing, bool) {
	p, ok := defaultPricing[modelID]
	return p, ok
}
