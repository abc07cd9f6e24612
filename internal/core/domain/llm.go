package domain

// RenderedPrompt is a prompt template after variable substitution.
type RenderedPrompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// LLMResponse carries the structured data and token accounting for one call.
type LLMResponse struct {
	Data       []byte `json:"data"`
	TokensUsed int    `json:"tokens_used"`
}

// Purpose tags let the handler apply purpose-specific behavior and let
// callers assert response shape.
const (
	PurposeClassification = "classification"
	PurposeProposal       = "proposal"
)
