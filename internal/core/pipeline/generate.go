package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/core/ports"
)

const proposalSchema = `{"proposals":[{"updateType":"INSERT|UPDATE|DELETE|NONE","page":"string","section":"string","suggestedText":"string","reasoning":"string","sourceMessageIndices":[0]}]}`

// GenerateStep turns each enriched thread into zero or more documentation
// change proposals via the LLM handler.
type GenerateStep struct {
	llm     ports.LLMHandler
	prompts ports.PromptRegistry
	now     func() time.Time
}

func NewGenerateStep(llm ports.LLMHandler, prompts ports.PromptRegistry) *GenerateStep {
	return &GenerateStep{llm: llm, prompts: prompts, now: time.Now}
}

func (s *GenerateStep) ID() string { return "generate" }

func (s *GenerateStep) Run(ctx context.Context, pc *Context) error {
	proposals := make(map[string][]domain.Proposal, len(pc.Threads))

	for _, thread := range pc.Threads {
		if !thread.HasDocValue() {
			continue
		}
		rag, ok := pc.RagResults[thread.ID]
		if !ok || rag.Rejected {
			continue
		}

		generated, err := s.generateForThread(ctx, pc, thread, rag)
		if err != nil {
			return err
		}
		if len(generated) > 0 {
			proposals[thread.ID] = generated
		}
	}

	pc.Proposals = proposals
	return nil
}

func (s *GenerateStep) generateForThread(
	ctx context.Context,
	pc *Context,
	thread domain.ConversationThread,
	rag domain.RagContext,
) ([]domain.Proposal, error) {
	threadMessages := pc.ThreadMessages(thread)

	prompt, err := s.prompts.Render("proposal", map[string]any{
		"Summary":        thread.Summary,
		"Category":       thread.Category,
		"DocValueReason": thread.DocValueReason,
		"Messages":       renderMessages(threadMessages, true),
		"ReferenceDocs":  renderDocs(rag.RetrievedDocs),
	})
	if err != nil {
		return nil, fmt.Errorf("render proposal prompt for thread %s: %w", thread.ID, err)
	}

	resp, err := s.llm.RequestJSON(ctx, prompt, proposalSchema, domain.PurposeProposal)
	pc.LLMCalls++
	pc.TokensUsed += resp.TokensUsed
	if err != nil {
		return nil, fmt.Errorf("proposal request for thread %s: %w", thread.ID, err)
	}

	var payload struct {
		Proposals []struct {
			UpdateType           string `json:"updateType"`
			Page                 string `json:"page"`
			Section              string `json:"section"`
			SuggestedText        string `json:"suggestedText"`
			Reasoning            string `json:"reasoning"`
			SourceMessageIndices []int  `json:"sourceMessageIndices"`
		} `json:"proposals"`
	}
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		return nil, fmt.Errorf("parse proposal response for thread %s: %w", thread.ID, err)
	}

	out := make([]domain.Proposal, 0, len(payload.Proposals))
	for _, raw := range payload.Proposals {
		updateType := domain.UpdateType(strings.ToUpper(strings.TrimSpace(raw.UpdateType)))
		switch updateType {
		case domain.UpdateTypeInsert, domain.UpdateTypeUpdate, domain.UpdateTypeDelete:
		case domain.UpdateTypeNone:
			continue
		default:
			continue
		}
		if raw.Page == "" || strings.TrimSpace(raw.SuggestedText) == "" {
			continue
		}

		out = append(out, domain.Proposal{
			ID:               uuid.NewString(),
			StreamID:         pc.StreamID,
			ConversationID:   thread.ID,
			BatchID:          pc.BatchID,
			Page:             raw.Page,
			UpdateType:       updateType,
			Section:          raw.Section,
			SuggestedText:    strings.TrimSpace(raw.SuggestedText),
			RawSuggestedText: raw.SuggestedText,
			Reasoning:        raw.Reasoning,
			SourceMessageIDs: sourceMessageIDs(threadMessages, raw.SourceMessageIndices),
			Status:           domain.ProposalStatusPending,
			CreatedAt:        s.now().UTC(),
		})
	}
	return out, nil
}

func sourceMessageIDs(messages []domain.Message, indices []int) []string {
	ids := make([]string, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(messages) {
			continue
		}
		ids = append(ids, messages[idx].ID)
	}
	if len(ids) == 0 {
		for _, msg := range messages {
			ids = append(ids, msg.ID)
		}
	}
	return ids
}

func renderDocs(docs []domain.RetrievedDoc) string {
	var b strings.Builder
	for i, doc := range docs {
		fmt.Fprintf(&b, "[%d] path=%s title=%s similarity=%.2f\n%s\n\n", i+1, doc.FilePath, doc.Title, doc.Similarity, doc.Content)
	}
	return b.String()
}
