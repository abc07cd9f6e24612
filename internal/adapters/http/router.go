package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/core/ports"
)

// RulesetStore reads and replaces tenant rule text.
type RulesetStore interface {
	GetRuleset(ctx context.Context, tenantID string) (string, time.Time, error)
	UpsertRuleset(ctx context.Context, tenantID, content string) error
}

// RulesetInvalidator drops a tenant's cached parsed ruleset after an edit.
type RulesetInvalidator interface {
	Invalidate(tenantID string)
}

type Router struct {
	runner    ports.BatchRunner
	results   ports.ResultRepository
	rulesets  RulesetStore
	cache     RulesetInvalidator
	logger    *slog.Logger
	runnerCtx context.Context
}

func NewRouter(
	runner ports.BatchRunner,
	results ports.ResultRepository,
	rulesets RulesetStore,
	cache RulesetInvalidator,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		runner:    runner,
		results:   results,
		rulesets:  rulesets,
		cache:     cache,
		logger:    logger,
		runnerCtx: context.Background(),
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/batch/run", rt.triggerBatchRun)
	mux.HandleFunc("/v1/proposals", rt.listProposals)
	mux.HandleFunc("/v1/rulesets/", rt.handleRuleset)
	return requestIDMiddleware(accessLogMiddleware(mux))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// triggerBatchRun kicks off a batch run in the background. The processor
// takes its run lock synchronously, so an overlapping trigger reports 409
// within the grace window instead of silently queueing.
func (rt *Router) triggerBatchRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	errCh := make(chan error, 1)
	go func() {
		err := rt.runner.Run(rt.runnerCtx)
		if err != nil && !errors.Is(err, domain.ErrRunInProgress) {
			rt.logger.Error("triggered batch run failed", "error", err)
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, domain.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "batch run already in progress"})
			return
		}
		if err != nil {
			writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	case <-time.After(200 * time.Millisecond):
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func (rt *Router) listProposals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	proposals, err := rt.results.ListProposals(r.Context(), r.URL.Query().Get("stream_id"), limit)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	if proposals == nil {
		proposals = []domain.Proposal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
}

func (rt *Router) handleRuleset(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimPrefix(r.URL.Path, "/v1/rulesets/")
	if tenantID == "" || strings.Contains(tenantID, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant id is required"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		content, updatedAt, err := rt.rulesets.GetRuleset(r.Context(), tenantID)
		if err != nil {
			writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tenant_id":  tenantID,
			"content":    content,
			"updated_at": updatedAt,
		})
	case http.MethodPut:
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
			return
		}
		var req struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
			return
		}
		if err := rt.rulesets.UpsertRuleset(r.Context(), tenantID, req.Content); err != nil {
			writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
			return
		}
		if rt.cache != nil {
			rt.cache.Invalidate(tenantID)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("write json response", "error", err)
	}
}
