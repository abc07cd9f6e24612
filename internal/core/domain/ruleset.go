package domain

import "time"

// ParsedRuleset holds tenant-authored rule lines split by section. The rule
// lines stay verbatim so rejection audit trails can quote them.
type ParsedRuleset struct {
	TenantID            string    `json:"tenant_id"`
	PromptContext       []string  `json:"prompt_context"`
	ReviewModifications []string  `json:"review_modifications"`
	RejectionRules      []string  `json:"rejection_rules"`
	QualityGates        []string  `json:"quality_gates"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ReviewResult is the outcome of applying a ruleset to one proposal.
type ReviewResult struct {
	Rejected             bool      `json:"rejected"`
	RejectionReason      string    `json:"rejection_reason,omitempty"`
	RejectionRuleText    string    `json:"rejection_rule_text,omitempty"`
	QualityFlags         []string  `json:"quality_flags,omitempty"`
	ModificationsApplied []string  `json:"modifications_applied,omitempty"`
	RulesetVersion       time.Time `json:"ruleset_version"`
}

// ReviewLog is the persisted audit record of one review decision.
type ReviewLog struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	BatchID        string       `json:"batch_id"`
	ProposalPage   string       `json:"proposal_page"`
	Result         ReviewResult `json:"result"`
	CreatedAt      time.Time    `json:"created_at"`
}
