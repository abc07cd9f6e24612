package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/sgolovin/community-docs/internal/core/domain"
)

const classificationSystem = `You are an analyst for a technical community. You group chat messages into conversation threads and judge whether each thread contains knowledge worth adding to the product documentation.`

const classificationUser = `Group the following chat messages into conversation threads. For each thread give a short summary, a category, whether it has documentation value and why, message indices belonging to the thread, and a search query for finding related documentation. Threads with no documentation value get the category "no-doc-value".

Messages to classify:
{{.Messages}}

Earlier messages for context only (do not classify them):
{{.ContextMessages}}`

const proposalSystem = `You are a technical writer. You turn community conversation threads into concrete documentation change proposals.`

const proposalUser = `Produce documentation change proposals for this conversation thread.

Thread summary: {{.Summary}}
Category: {{.Category}}
Why it matters: {{.DocValueReason}}

Messages:
{{.Messages}}

Existing documentation that may be affected:
{{.ReferenceDocs}}

For each proposal give the target page, the section, the update type (INSERT, UPDATE, DELETE or NONE), the suggested text, a rationale, and the indices of the source messages. Return NONE when the documentation already covers the thread.`

type entry struct {
	system string
	user   *template.Template
}

// Registry holds named prompt templates. Rendering fails loudly on a
// missing variable instead of emitting "<no value>" into an LLM prompt.
type Registry struct {
	entries map[string]entry
}

func NewRegistry() (*Registry, error) {
	r := &Registry{entries: make(map[string]entry)}
	if err := r.Register("classification", classificationSystem, classificationUser); err != nil {
		return nil, err
	}
	if err := r.Register("proposal", proposalSystem, proposalUser); err != nil {
		return nil, err
	}
	return r, nil
}

// MustNewRegistry panics on a broken built-in template; only for wiring
// paths where the templates are compile-time constants.
func MustNewRegistry() *Registry {
	r, err := NewRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Register(id, system, user string) error {
	tmpl, err := template.New(id).Option("missingkey=error").Parse(user)
	if err != nil {
		return fmt.Errorf("parse template %q: %w", id, err)
	}
	r.entries[id] = entry{system: system, user: tmpl}
	return nil
}

func (r *Registry) Render(templateID string, vars map[string]any) (domain.RenderedPrompt, error) {
	e, ok := r.entries[templateID]
	if !ok {
		return domain.RenderedPrompt{}, domain.WrapError(domain.ErrNotFound, "prompt.render", fmt.Errorf("unknown template %q", templateID))
	}

	var buf strings.Builder
	if err := e.user.Execute(&buf, vars); err != nil {
		return domain.RenderedPrompt{}, fmt.Errorf("render template %q: %w", templateID, err)
	}
	return domain.RenderedPrompt{System: e.system, User: buf.String()}, nil
}
