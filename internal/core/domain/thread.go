package domain

// CategoryNoDocValue marks a thread that was classified but is not worth
// enriching or generating proposals for.
const CategoryNoDocValue = "no-doc-value"

// ConversationThread groups related batch messages under one category and
// one documentation-value verdict. Pipeline-internal, never persisted as-is.
type ConversationThread struct {
	ID                string `json:"id"`
	Category          string `json:"category"`
	MessageIndices    []int  `json:"message_indices"`
	Summary           string `json:"summary"`
	DocValueReason    string `json:"doc_value_reason"`
	RagSearchCriteria string `json:"rag_search_criteria"`
}

func (t ConversationThread) HasDocValue() bool {
	return t.Category != "" && t.Category != CategoryNoDocValue
}

// MessageClassification is the persisted record of one message's membership
// in a classified thread. Upserted keyed by MessageID so retries stay
// idempotent.
type MessageClassification struct {
	MessageID         string `json:"message_id"`
	BatchID           string `json:"batch_id"`
	ConversationID    string `json:"conversation_id"`
	Category          string `json:"category"`
	DocValueReason    string `json:"doc_value_reason"`
	RagSearchCriteria string `json:"rag_search_criteria,omitempty"`
}

// RetrievedDoc is one reference document returned by the RAG capability.
type RetrievedDoc struct {
	ID         string  `json:"id"`
	FilePath   string  `json:"file_path"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// RagContext is the per-thread snapshot of retrieved reference documents.
type RagContext struct {
	ConversationID      string         `json:"conversation_id"`
	BatchID             string         `json:"batch_id"`
	RetrievedDocs       []RetrievedDoc `json:"retrieved_docs"`
	TotalTokensEstimate int            `json:"total_tokens_estimate"`
	Summary             string         `json:"summary"`
	Rejected            bool           `json:"rejected"`
	RejectionReason     string         `json:"rejection_reason,omitempty"`
}
