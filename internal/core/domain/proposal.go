package domain

import "time"

type UpdateType string

const (
	UpdateTypeInsert UpdateType = "INSERT"
	UpdateTypeUpdate UpdateType = "UPDATE"
	UpdateTypeDelete UpdateType = "DELETE"
	UpdateTypeNone   UpdateType = "NONE"
)

type ProposalStatus string

const (
	ProposalStatusPending ProposalStatus = "pending"
	ProposalStatusApplied ProposalStatus = "applied"
)

// Proposal is a single suggested documentation change derived from a thread.
type Proposal struct {
	ID               string         `json:"id"`
	StreamID         string         `json:"stream_id"`
	ConversationID   string         `json:"conversation_id"`
	BatchID          string         `json:"batch_id"`
	Page             string         `json:"page"`
	UpdateType       UpdateType     `json:"update_type"`
	Section          string         `json:"section,omitempty"`
	SuggestedText    string         `json:"suggested_text"`
	RawSuggestedText string         `json:"raw_suggested_text"`
	Reasoning        string         `json:"reasoning"`
	SourceMessageIDs []string       `json:"source_message_ids"`
	Warnings         []string       `json:"warnings,omitempty"`
	Status           ProposalStatus `json:"status"`
	Enrichment       Enrichment     `json:"enrichment"`
	CreatedAt        time.Time      `json:"created_at"`
}
