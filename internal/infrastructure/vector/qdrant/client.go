package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/infrastructure/resilience"
)

// Embedder turns a search query into its vector. Satisfied by the Ollama
// client.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Client searches the documentation collection in Qdrant. It implements
// the RAG port: embed the query, run a vector search, map payloads back
// to retrieved documents.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	embedder   Embedder
	runner     *resilience.Runner
}

func New(baseURL, collection string, embedder Embedder, runner *resilience.Runner) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		embedder:   embedder,
		runner:     runner,
	}
}

func (c *Client) SearchSimilarDocs(ctx context.Context, query string, topK int) ([]domain.RetrievedDoc, error) {
	vector, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed rag query: %w", err)
	}

	var docs []domain.RetrievedDoc
	err = c.runner.Do(ctx, "qdrant.search", nil, func(ctx context.Context) error {
		var searchErr error
		docs, searchErr = c.search(ctx, vector, topK)
		return searchErr
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *Client) search(ctx context.Context, vector []float32, limit int) ([]domain.RetrievedDoc, error) {
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "qdrant.search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		err := fmt.Errorf("qdrant search status: %s", resp.Status)
		if resp.StatusCode >= 500 {
			return nil, domain.WrapError(domain.ErrTemporary, "qdrant.search", err)
		}
		return nil, err
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.RetrievedDoc, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.RetrievedDoc{
			ID:         fmt.Sprintf("%v", r.ID),
			FilePath:   payloadString(r.Payload, "path"),
			Title:      payloadString(r.Payload, "title"),
			Content:    payloadString(r.Payload, "content"),
			Similarity: r.Score,
		})
	}
	return out, nil
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
