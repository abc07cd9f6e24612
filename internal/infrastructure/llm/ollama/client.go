package ollama

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL             string
	ClassificationModel string
	ProposalModel       string
	EmbedModel          string
	RequestsPerMinute   int
	Timeout             time.Duration
}

// Client talks to a local Ollama instance. Structured-output requests are
// rate limited and retried through the shared resilience runner; the
// model is picked per request purpose so classification and proposal
// generation can run different weights.
type Client struct {
	cfg       Config
	transport *transport
	limiter   *rate.Limiter
	runner    *resilience.Runner
}

func New(cfg Config, runner *resilience.Runner) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}
	return &Client{
		cfg:       cfg,
		transport: newTransport(cfg.BaseURL, cfg.Timeout),
		limiter:   rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute),
		runner:    runner,
	}
}

type generateResponse struct {
	Response        string `json:"response"`
	EvalCount       int    `json:"eval_count"`
	PromptEvalCount int    `json:"prompt_eval_count"`
}

// RequestJSON renders a single structured-output completion. The schema,
// when present, is appended to the prompt; format=json forces Ollama to
// emit a parseable object.
func (c *Client) RequestJSON(ctx context.Context, prompt domain.RenderedPrompt, schema, purpose string) (domain.LLMResponse, error) {
	operation := "ollama.generate." + purpose

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.LLMResponse{}, err
	}

	full := strings.TrimSpace(prompt.System + "\n\n" + prompt.User)
	if schema != "" {
		full += "\n\nRespond with a single JSON object matching this schema:\n" + schema
	}

	payload := map[string]any{
		"model":  c.modelFor(purpose),
		"prompt": full,
		"stream": false,
		"format": "json",
	}

	var out generateResponse
	err := c.runner.Do(ctx, operation, classifyTransportError, func(ctx context.Context) error {
		return c.transport.postJSON(ctx, "/api/generate", payload, &out, operation)
	})
	if err != nil {
		return domain.LLMResponse{}, wrapTemporaryIfNeeded(operation, err)
	}

	return domain.LLMResponse{
		Data:       []byte(extractJSONObject(strings.TrimSpace(out.Response))),
		TokensUsed: out.EvalCount + out.PromptEvalCount,
	}, nil
}

func (c *Client) modelFor(purpose string) string {
	if purpose == domain.PurposeProposal && c.cfg.ProposalModel != "" {
		return c.cfg.ProposalModel
	}
	return c.cfg.ClassificationModel
}

// EmbedQuery produces the embedding vector used for documentation search.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	operation := "ollama.embed"

	payload := map[string]any{
		"model": c.cfg.EmbedModel,
		"input": []string{text},
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := c.runner.Do(ctx, operation, classifyTransportError, func(ctx context.Context) error {
		return c.transport.postJSON(ctx, "/api/embed", payload, &out, operation)
	})
	if err != nil {
		return nil, wrapTemporaryIfNeeded(operation, err)
	}
	if len(out.Embeddings) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, operation, errEmptyEmbedding)
	}
	return out.Embeddings[0], nil
}

// Models with chatty preambles sometimes wrap the object in prose even
// with format=json set.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
