package pipeline

import (
	"github.com/sgolovin/community-docs/internal/core/domain"
)

// Context is the shared state flowing through the pipeline. Each field is
// populated by exactly one step: Messages/ContextMessages by the caller,
// Filtered by the filter step, Threads by classify, RagResults by enrich,
// Proposals by generate.
type Context struct {
	BatchID  string
	StreamID string
	TenantID string
	Window   domain.BatchWindow

	Messages        []domain.Message
	ContextMessages []domain.Message

	Filtered []domain.Message

	Threads []domain.ConversationThread

	// RagResults and Proposals are keyed by thread (conversation) ID.
	RagResults map[string]domain.RagContext
	Proposals  map[string][]domain.Proposal

	LLMCalls   int
	TokensUsed int
}

func NewContext(batchID, streamID, tenantID string, window domain.BatchWindow) *Context {
	return &Context{
		BatchID:    batchID,
		StreamID:   streamID,
		TenantID:   tenantID,
		Window:     window,
		RagResults: make(map[string]domain.RagContext),
		Proposals:  make(map[string][]domain.Proposal),
	}
}

// ThreadMessages resolves a thread's member indices against the batch.
// Out-of-range indices are dropped rather than failing the thread.
func (c *Context) ThreadMessages(thread domain.ConversationThread) []domain.Message {
	out := make([]domain.Message, 0, len(thread.MessageIndices))
	for _, idx := range thread.MessageIndices {
		if idx < 0 || idx >= len(c.Filtered) {
			continue
		}
		out = append(out, c.Filtered[idx])
	}
	return out
}

// ProposalCount totals generated proposals across threads.
func (c *Context) ProposalCount() int {
	total := 0
	for _, proposals := range c.Proposals {
		total += len(proposals)
	}
	return total
}

// NoValueThreadCount counts threads explicitly classified as having no
// documentation value.
func (c *Context) NoValueThreadCount() int {
	count := 0
	for _, thread := range c.Threads {
		if !thread.HasDocValue() {
			count++
		}
	}
	return count
}
