package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/core/enrichment"
	"github.com/sgolovin/community-docs/internal/core/pipeline"
	"github.com/sgolovin/community-docs/internal/core/ports"
	"github.com/sgolovin/community-docs/internal/core/ruleset"
)

type ProcessorConfig struct {
	TenantID string
	// MaxWindowsPerStream bounds how many windows one run may process per
	// stream so a single backlogged stream cannot monopolize a run.
	MaxWindowsPerStream int
}

// RunSummary reports what one batch run did, for logs and metrics.
type RunSummary struct {
	Streams           int
	Windows           int
	ThreadsCommitted  int
	ThreadsFailed     int
	ProposalsAccepted int
	ProposalsRejected int
	LLMCalls          int
	TokensUsed        int
	// WatermarkLags holds, per stream, how far behind wall clock the
	// watermark ended after this run.
	WatermarkLags map[string]time.Duration
}

// BatchProcessor is the top-level batch driver: it iterates streams with
// pending work, runs the pipeline per window, persists results thread by
// thread, and advances each stream's watermark only when the whole window
// committed.
type BatchProcessor struct {
	scheduler    *WindowScheduler
	orchestrator *pipeline.Orchestrator
	enricher     *enrichment.Engine
	reviewer     *ruleset.Engine
	rulesets     *ruleset.Cache
	messages     ports.MessageRepository
	watermarks   ports.WatermarkRepository
	results      ports.ResultRepository
	cfg          ProcessorConfig
	logger       *slog.Logger
	now          func() time.Time

	// runMu serializes batch runs for this processor instance; a run
	// attempted while another is active is a no-op.
	runMu sync.Mutex
}

func NewBatchProcessor(
	scheduler *WindowScheduler,
	orchestrator *pipeline.Orchestrator,
	enricher *enrichment.Engine,
	reviewer *ruleset.Engine,
	rulesets *ruleset.Cache,
	messages ports.MessageRepository,
	watermarks ports.WatermarkRepository,
	results ports.ResultRepository,
	cfg ProcessorConfig,
	logger *slog.Logger,
) *BatchProcessor {
	if cfg.MaxWindowsPerStream <= 0 {
		cfg.MaxWindowsPerStream = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{
		scheduler:    scheduler,
		orchestrator: orchestrator,
		enricher:     enricher,
		reviewer:     reviewer,
		rulesets:     rulesets,
		messages:     messages,
		watermarks:   watermarks,
		results:      results,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// Run processes every stream with pending work, one stream at a time.
func (p *BatchProcessor) Run(ctx context.Context) (RunSummary, error) {
	if !p.runMu.TryLock() {
		return RunSummary{}, domain.ErrRunInProgress
	}
	defer p.runMu.Unlock()

	var summary RunSummary
	streams, err := p.messages.StreamsWithPending(ctx)
	if err != nil {
		return summary, fmt.Errorf("list streams with pending work: %w", err)
	}

	for _, streamID := range streams {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Streams++
		if err := p.processStream(ctx, streamID, &summary); err != nil {
			// One stream's failure must not starve the others; the held
			// watermark retries it next run.
			p.logger.Error("stream processing failed", "stream_id", streamID, "error", err)
		}
	}
	return summary, nil
}

// ProcessStream runs the window loop for a single stream, guarded by the
// same run lock as Run.
func (p *BatchProcessor) ProcessStream(ctx context.Context, streamID string) error {
	if !p.runMu.TryLock() {
		return domain.ErrRunInProgress
	}
	defer p.runMu.Unlock()

	var summary RunSummary
	return p.processStream(ctx, streamID, &summary)
}

func (p *BatchProcessor) processStream(ctx context.Context, streamID string, summary *RunSummary) error {
	for windows := 0; windows < p.cfg.MaxWindowsPerStream; windows++ {
		window, err := p.scheduler.NextWindow(ctx, streamID)
		if err != nil {
			return fmt.Errorf("compute next window: %w", err)
		}
		if !window.HasWork {
			return nil
		}

		windowClean, err := p.processWindow(ctx, window, summary)
		if err != nil {
			return fmt.Errorf("process window [%s, %s): %w", window.Start, window.End, err)
		}
		summary.Windows++

		if !windowClean {
			// Some message in the window failed: hold the watermark and
			// let the next run retry the whole window.
			p.logger.Warn("holding watermark after window failure",
				"stream_id", streamID,
				"window_start", window.Start,
				"window_end", window.End,
			)
			return nil
		}

		if err := p.watermarks.Advance(ctx, streamID, window.End); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
		if summary.WatermarkLags == nil {
			summary.WatermarkLags = make(map[string]time.Duration)
		}
		summary.WatermarkLags[streamID] = p.now().Sub(window.End)
	}
	return nil
}

// processWindow drains a window chunk by chunk. It reports whether every
// message in the window ended completed.
func (p *BatchProcessor) processWindow(ctx context.Context, window domain.BatchWindow, summary *RunSummary) (bool, error) {
	clean := true
	for {
		batch, contextMessages, err := p.scheduler.FetchBatch(ctx, window)
		if err != nil {
			return false, err
		}
		if len(batch) == 0 {
			return clean, nil
		}

		batchID := uuid.NewString()
		pc := pipeline.NewContext(batchID, window.StreamID, p.cfg.TenantID, window)
		pc.Messages = batch
		pc.ContextMessages = contextMessages

		result := p.orchestrator.Execute(ctx, pc)
		summary.LLMCalls += result.LLMCalls
		summary.TokensUsed += result.TokensUsed
		for stepID, took := range result.StepDurations {
			p.logger.Debug("pipeline step finished",
				"batch_id", batchID,
				"step", stepID,
				"duration_ms", took.Milliseconds(),
			)
		}

		if len(result.Errors) > 0 && len(pc.Threads) == 0 {
			// Pipeline-fatal: nothing classified, nothing to commit. All
			// touched messages stay pending.
			p.logger.Error("pipeline produced no threads",
				"batch_id", batchID,
				"stream_id", window.StreamID,
				"errors", result.Errors,
			)
			return false, nil
		}
		if len(result.Errors) > 0 {
			clean = false
		}

		committed := p.persistThreads(ctx, pc, summary)
		if !committed {
			clean = false
		}

		remaining, err := p.messages.CountPendingWindow(ctx, window.StreamID, window.Start, window.End)
		if err != nil {
			return false, fmt.Errorf("count remaining pending: %w", err)
		}
		if remaining == 0 {
			return clean, nil
		}
		if !clean || remaining >= len(batch) {
			// No forward progress is possible in this window right now.
			return false, nil
		}
	}
}

// persistThreads commits each thread's results atomically and marks the
// committed threads' messages completed. It reports whether every batch
// message ended completed.
func (p *BatchProcessor) persistThreads(ctx context.Context, pc *pipeline.Context, summary *RunSummary) bool {
	parsed := p.loadRuleset(ctx)
	pendingProposals := p.pendingProposalCount(ctx)

	failedMessages := make(map[string]struct{})
	threadFailed := false

	for _, thread := range pc.Threads {
		members := pc.ThreadMessages(thread)
		commit := p.buildThreadCommit(pc, thread, members, parsed, pendingProposals, summary)

		memberIDs := messageIDs(members)
		if err := p.results.StoreThreadResults(ctx, commit); err != nil {
			p.logger.Error("thread commit failed",
				"batch_id", pc.BatchID,
				"conversation_id", thread.ID,
				"error", err,
			)
			p.purgeClassifications(ctx, memberIDs)
			markFailed(failedMessages, memberIDs)
			threadFailed = true
			summary.ThreadsFailed++
			continue
		}

		if err := p.messages.MarkCompleted(ctx, memberIDs); err != nil {
			p.logger.Error("mark completed failed",
				"batch_id", pc.BatchID,
				"conversation_id", thread.ID,
				"error", err,
			)
			p.purgeClassifications(ctx, memberIDs)
			markFailed(failedMessages, memberIDs)
			threadFailed = true
			summary.ThreadsFailed++
			continue
		}
		summary.ThreadsCommitted++
	}

	// Messages filtered out or left unassigned by the classifier are
	// implicitly low-value; complete them so the window can close, unless
	// they belong to a failed thread.
	leftoverIDs := make([]string, 0)
	claimed := claimedMessageIDs(pc)
	for _, msg := range pc.Messages {
		if _, ok := claimed[msg.ID]; ok {
			continue
		}
		if _, ok := failedMessages[msg.ID]; ok {
			continue
		}
		leftoverIDs = append(leftoverIDs, msg.ID)
	}
	if len(leftoverIDs) > 0 {
		if err := p.messages.MarkCompleted(ctx, leftoverIDs); err != nil {
			p.logger.Error("mark leftover messages completed failed", "batch_id", pc.BatchID, "error", err)
			threadFailed = true
		}
	}

	return !threadFailed
}

func (p *BatchProcessor) buildThreadCommit(
	pc *pipeline.Context,
	thread domain.ConversationThread,
	members []domain.Message,
	parsed domain.ParsedRuleset,
	pendingProposals int,
	summary *RunSummary,
) ports.ThreadCommit {
	commit := ports.ThreadCommit{
		BatchID:  pc.BatchID,
		StreamID: pc.StreamID,
	}

	for _, msg := range members {
		commit.Classifications = append(commit.Classifications, domain.MessageClassification{
			MessageID:         msg.ID,
			BatchID:           pc.BatchID,
			ConversationID:    thread.ID,
			Category:          thread.Category,
			DocValueReason:    thread.DocValueReason,
			RagSearchCriteria: thread.RagSearchCriteria,
		})
	}

	ragContext, ok := pc.RagResults[thread.ID]
	if !ok {
		ragContext = domain.RagContext{
			ConversationID:  thread.ID,
			BatchID:         pc.BatchID,
			Summary:         thread.Summary,
			Rejected:        true,
			RejectionReason: "enrichment skipped",
		}
	}
	commit.RagContext = ragContext

	for _, proposal := range pc.Proposals[thread.ID] {
		proposal.Enrichment = p.enricher.Enrich(proposal, ragContext.RetrievedDocs, members, pendingProposals)
		review := p.reviewer.Review(parsed, proposal)

		commit.ReviewLogs = append(commit.ReviewLogs, domain.ReviewLog{
			ID:             uuid.NewString(),
			ConversationID: thread.ID,
			BatchID:        pc.BatchID,
			ProposalPage:   proposal.Page,
			Result:         review,
			CreatedAt:      p.now().UTC(),
		})

		if review.Rejected {
			summary.ProposalsRejected++
			p.logger.Info("proposal rejected by ruleset",
				"batch_id", pc.BatchID,
				"conversation_id", thread.ID,
				"page", proposal.Page,
				"rule", review.RejectionRuleText,
			)
			continue
		}

		proposal.Warnings = append(proposal.Warnings, review.QualityFlags...)
		commit.Proposals = append(commit.Proposals, proposal)
		summary.ProposalsAccepted++
		if len(review.QualityFlags) > 0 {
			p.logger.Info("proposal accepted with quality flags",
				"batch_id", pc.BatchID,
				"page", proposal.Page,
				"flags", review.QualityFlags,
			)
		}
	}
	return commit
}

// loadRuleset degrades to an empty ruleset on failure: a broken tenant
// ruleset must never block the pipeline.
func (p *BatchProcessor) loadRuleset(ctx context.Context) domain.ParsedRuleset {
	parsed, err := p.rulesets.Get(ctx, p.cfg.TenantID)
	if err != nil {
		p.logger.Warn("ruleset unavailable, reviewing without rules", "tenant_id", p.cfg.TenantID, "error", err)
		return domain.ParsedRuleset{TenantID: p.cfg.TenantID}
	}
	return parsed
}

func (p *BatchProcessor) pendingProposalCount(ctx context.Context) int {
	count, err := p.results.CountPendingProposals(ctx)
	if err != nil {
		p.logger.Warn("pending proposal count unavailable", "error", err)
		return 0
	}
	return count
}

func (p *BatchProcessor) purgeClassifications(ctx context.Context, messageIDs []string) {
	if len(messageIDs) == 0 {
		return
	}
	// Stale classifications would block reclassification on retry.
	if err := p.results.DeleteClassifications(ctx, messageIDs); err != nil {
		p.logger.Error("purge stale classifications failed", "error", err)
	}
}

func messageIDs(messages []domain.Message) []string {
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	return ids
}

func claimedMessageIDs(pc *pipeline.Context) map[string]struct{} {
	claimed := make(map[string]struct{})
	for _, thread := range pc.Threads {
		for _, msg := range pc.ThreadMessages(thread) {
			claimed[msg.ID] = struct{}{}
		}
	}
	return claimed
}

func markFailed(failed map[string]struct{}, ids []string) {
	for _, id := range ids {
		failed[id] = struct{}{}
	}
}
