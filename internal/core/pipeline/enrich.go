package pipeline

import (
	"context"
	"fmt"

	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/core/ports"
)

type EnrichConfig struct {
	TopK            int
	SimilarityFloor float64
}

// EnrichStep retrieves reference documents for every thread worth
// documenting. Threads without doc value get a rejected RagContext row so
// the verdict is durable.
type EnrichStep struct {
	rag ports.RagService
	cfg EnrichConfig
}

func NewEnrichStep(rag ports.RagService, cfg EnrichConfig) *EnrichStep {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.SimilarityFloor <= 0 {
		cfg.SimilarityFloor = 0.6
	}
	return &EnrichStep{rag: rag, cfg: cfg}
}

func (s *EnrichStep) ID() string { return "enrich" }

func (s *EnrichStep) Run(ctx context.Context, pc *Context) error {
	results := make(map[string]domain.RagContext, len(pc.Threads))

	for _, thread := range pc.Threads {
		if !thread.HasDocValue() {
			results[thread.ID] = domain.RagContext{
				ConversationID:  thread.ID,
				BatchID:         pc.BatchID,
				Summary:         thread.Summary,
				Rejected:        true,
				RejectionReason: thread.Category,
			}
			continue
		}

		query := thread.RagSearchCriteria
		if query == "" {
			query = thread.Summary
		}
		docs, err := s.rag.SearchSimilarDocs(ctx, query, s.cfg.TopK)
		if err != nil {
			return fmt.Errorf("rag search for thread %s: %w", thread.ID, err)
		}

		kept := make([]domain.RetrievedDoc, 0, len(docs))
		tokens := 0
		for _, doc := range docs {
			if doc.Similarity < s.cfg.SimilarityFloor {
				continue
			}
			kept = append(kept, doc)
			tokens += estimateTokens(doc.Content)
		}
		results[thread.ID] = domain.RagContext{
			ConversationID:      thread.ID,
			BatchID:             pc.BatchID,
			RetrievedDocs:       kept,
			TotalTokensEstimate: tokens,
			Summary:             thread.Summary,
		}
	}

	pc.RagResults = results
	return nil
}

// estimateTokens approximates 4 characters per token.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
