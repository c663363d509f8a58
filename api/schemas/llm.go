package schemas

import "context"

// ModelTier selects a generative backend based on a preference for speed
// versus capability. The planner normally runs on the fast tier and only
// escalates to the heavy tier under sustained load (refueling).
type ModelTier string

const (
	TierFast  ModelTier = "fast"  // Default local or lightweight backend.
	TierHeavy ModelTier = "heavy" // Fallback backend engaged under load.
)

// GenerationOptions controls the text generation process.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	MaxTokens       int     `json:"max_tokens,omitempty"`
	ForceJSONFormat bool    `json:"force_json_format"`
}

// GenerationRequest is a complete request to a generative backend: a single
// prompt string, the desired tier and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient is the narrow contract the agent core holds against a generative
// backend. Errors and timeouts from Generate must never crash the session
// controller; they are treated as "no plan produced".
type LLMClient interface {
	// Generate produces a text completion for the request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases any resources held by the client.
	Close() error
}
