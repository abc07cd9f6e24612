package ports

import (
	"context"
	"time"

	"github.com/sgolovin/community-docs/internal/core/domain"
)

// LLMHandler submits a rendered prompt plus a JSON schema hint and returns
// structured data with token accounting. Purpose tags (classification,
// proposal) let the handler apply purpose-specific behavior.
type LLMHandler interface {
	RequestJSON(ctx context.Context, prompt domain.RenderedPrompt, schema string, purpose string) (domain.LLMResponse, error)
}

// PromptRegistry renders named templates with variables. A missing variable
// surfaces as a rendering error, never silent truncation.
type PromptRegistry interface {
	Render(templateID string, vars map[string]any) (domain.RenderedPrompt, error)
}

// RagService retrieves reference documents similar to a query.
type RagService interface {
	SearchSimilarDocs(ctx context.Context, query string, topK int) ([]domain.RetrievedDoc, error)
}

// MessageRepository reads ingested messages and flips their status.
type MessageRepository interface {
	StreamsWithPending(ctx context.Context) ([]string, error)
	EarliestPendingSince(ctx context.Context, streamID string, since time.Time) (time.Time, bool, error)
	EarliestMessageTime(ctx context.Context, streamID string) (time.Time, bool, error)
	ListPendingWindow(ctx context.Context, streamID string, from, to time.Time, limit int) ([]domain.Message, error)
	CountPendingWindow(ctx context.Context, streamID string, from, to time.Time) (int, error)
	ListContext(ctx context.Context, streamID string, from, to time.Time, limit int) ([]domain.Message, error)
	MarkCompleted(ctx context.Context, messageIDs []string) error
}

// WatermarkRepository manages per-stream processing watermarks.
type WatermarkRepository interface {
	Ensure(ctx context.Context, streamID string, initial time.Time) (domain.ProcessingWatermark, error)
	Advance(ctx context.Context, streamID string, to time.Time) error
}

// ThreadCommit bundles everything persisted for one thread. The whole
// commit is one transaction so a half-written thread never survives.
type ThreadCommit struct {
	BatchID         string
	StreamID        string
	Classifications []domain.MessageClassification
	RagContext      domain.RagContext
	Proposals       []domain.Proposal
	ReviewLogs      []domain.ReviewLog
}

// ResultRepository persists pipeline output.
type ResultRepository interface {
	StoreThreadResults(ctx context.Context, commit ThreadCommit) error
	DeleteClassifications(ctx context.Context, messageIDs []string) error
	CountPendingProposals(ctx context.Context) (int, error)
	ListProposals(ctx context.Context, streamID string, limit int) ([]domain.Proposal, error)
}

// RulesetRepository loads tenant ruleset text.
type RulesetRepository interface {
	GetRuleset(ctx context.Context, tenantID string) (string, time.Time, error)
}

// ActivityQueue carries stream-activity nudges from ingestion adapters so
// the worker can run ahead of its cron cadence.
type ActivityQueue interface {
	PublishStreamActivity(ctx context.Context, streamID string) error
	SubscribeStreamActivity(ctx context.Context, handler func(context.Context, string) error) error
}
