package domain

// DocRelation tags why a related document is considered relevant.
type DocRelation string

const (
	RelationSameSection DocRelation = "same-section"
	RelationSemantic    DocRelation = "semantic"
	RelationKeyword     DocRelation = "keyword"
)

type RelatedDoc struct {
	Page       string      `json:"page"`
	Title      string      `json:"title"`
	Similarity float64     `json:"similarity"`
	Relation   DocRelation `json:"relation"`
}

type DuplicationWarning struct {
	Detected          bool    `json:"detected"`
	OverlapPercentage float64 `json:"overlap_percentage"`
	MatchingPage      string  `json:"matching_page,omitempty"`
}

// TextStyle is a heuristic profile of one body of text.
type TextStyle struct {
	AvgSentenceLength float64 `json:"avg_sentence_length"`
	HasCodeBlocks     bool    `json:"has_code_blocks"`
	FormatPattern     string  `json:"format_pattern"`
	TechnicalDepth    string  `json:"technical_depth"`
}

type StyleAnalysis struct {
	TargetStyle   TextStyle `json:"target_style"`
	ProposalStyle TextStyle `json:"proposal_style"`
	Notes         []string  `json:"notes,omitempty"`
}

type ChangeContext struct {
	ChangePercentage      float64 `json:"change_percentage"`
	OtherPendingProposals int     `json:"other_pending_proposals"`
}

type SourceAnalysis struct {
	MessageCount  int  `json:"message_count"`
	UniqueAuthors int  `json:"unique_authors"`
	HadConsensus  bool `json:"had_consensus"`
}

// Enrichment is the computed metadata attached to a proposal before review.
type Enrichment struct {
	RelatedDocs        []RelatedDoc       `json:"related_docs"`
	DuplicationWarning DuplicationWarning `json:"duplication_warning"`
	StyleAnalysis      StyleAnalysis      `json:"style_analysis"`
	ChangeContext      ChangeContext      `json:"change_context"`
	SourceAnalysis     SourceAnalysis     `json:"source_analysis"`
}
