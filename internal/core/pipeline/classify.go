package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/core/ports"
)

const classificationSchema = `{"threads":[{"id":"string","category":"string","messageIndices":[0],"summary":"string","docValueReason":"string","ragSearchCriteria":"string"}]}`

// ClassifyStep groups the filtered batch into conversation threads via the
// LLM handler. Messages the model leaves unassigned are implicitly
// low-value and simply belong to no thread.
type ClassifyStep struct {
	llm     ports.LLMHandler
	prompts ports.PromptRegistry
}

func NewClassifyStep(llm ports.LLMHandler, prompts ports.PromptRegistry) *ClassifyStep {
	return &ClassifyStep{llm: llm, prompts: prompts}
}

func (s *ClassifyStep) ID() string { return "classify" }

func (s *ClassifyStep) Run(ctx context.Context, pc *Context) error {
	if len(pc.Filtered) == 0 {
		pc.Threads = nil
		return nil
	}

	prompt, err := s.prompts.Render("classification", map[string]any{
		"Messages":        renderMessages(pc.Filtered, true),
		"ContextMessages": renderMessages(pc.ContextMessages, false),
	})
	if err != nil {
		return fmt.Errorf("render classification prompt: %w", err)
	}

	resp, err := s.llm.RequestJSON(ctx, prompt, classificationSchema, domain.PurposeClassification)
	pc.LLMCalls++
	pc.TokensUsed += resp.TokensUsed
	if err != nil {
		return fmt.Errorf("classification request: %w", err)
	}

	var payload struct {
		Threads []struct {
			ID                string `json:"id"`
			Category          string `json:"category"`
			MessageIndices    []int  `json:"messageIndices"`
			Summary           string `json:"summary"`
			DocValueReason    string `json:"docValueReason"`
			RagSearchCriteria string `json:"ragSearchCriteria"`
		} `json:"threads"`
	}
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		return fmt.Errorf("parse classification response: %w", err)
	}

	threads := make([]domain.ConversationThread, 0, len(payload.Threads))
	for _, raw := range payload.Threads {
		if len(raw.MessageIndices) == 0 {
			continue
		}
		thread := domain.ConversationThread{
			ID:                raw.ID,
			Category:          raw.Category,
			MessageIndices:    raw.MessageIndices,
			Summary:           raw.Summary,
			DocValueReason:    raw.DocValueReason,
			RagSearchCriteria: raw.RagSearchCriteria,
		}
		if thread.ID == "" {
			thread.ID = uuid.NewString()
		}
		if thread.Category == "" {
			thread.Category = domain.CategoryNoDocValue
		}
		threads = append(threads, thread)
	}
	pc.Threads = threads
	return nil
}

func renderMessages(messages []domain.Message, indexed bool) string {
	var b strings.Builder
	for i, msg := range messages {
		if indexed {
			fmt.Fprintf(&b, "[%d] ", i)
		}
		fmt.Fprintf(&b, "%s %s: %s\n", msg.Timestamp.Format("2006-01-02 15:04"), msg.Author, msg.Content)
	}
	return b.String()
}
