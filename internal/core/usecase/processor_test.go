package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/core/enrichment"
	"github.com/sgolovin/community-docs/internal/core/pipeline"
	"github.com/sgolovin/community-docs/internal/core/ruleset"
)

var testBase = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

type processorEnv struct {
	messages   *memMessages
	watermarks *memWatermarks
	results    *memResults
	llm        *llmStub
	rag        *ragStub
	processor  *BatchProcessor
}

func newProcessorEnv(t *testing.T, llm *llmStub, rulesetText string, now time.Time) *processorEnv {
	t.Helper()

	messages := &memMessages{}
	watermarks := newMemWatermarks()
	results := newMemResults()
	rag := &ragStub{docs: []domain.RetrievedDoc{
		{ID: "d1", FilePath: "docs/retries.md", Title: "Retries", Content: "Retries are configured via retry_attempts.", Similarity: 0.85},
	}}

	scheduler := NewWindowScheduler(messages, watermarks, DefaultSchedulerConfig(), nil)
	scheduler.now = func() time.Time { return now }

	steps := []pipeline.Step{
		pipeline.NewFilterStep(pipeline.FilterConfig{}),
		pipeline.NewClassifyStep(llm, promptStub{}),
		pipeline.NewEnrichStep(rag, pipeline.EnrichConfig{TopK: 5, SimilarityFloor: 0.6}),
		pipeline.NewGenerateStep(llm, promptStub{}),
	}
	orchestrator := pipeline.NewOrchestrator(steps, pipeline.Config{RetryAttempts: 1}, nil)

	cache := ruleset.NewCache(func(context.Context, string) (string, time.Time, error) {
		return rulesetText, testBase, nil
	}, time.Minute)

	processor := NewBatchProcessor(
		scheduler,
		orchestrator,
		enrichment.NewEngine(enrichment.DefaultConfig()),
		ruleset.NewEngine(nil),
		cache,
		messages,
		watermarks,
		results,
		ProcessorConfig{TenantID: "tenant-1"},
		nil,
	)
	processor.now = func() time.Time { return now }

	return &processorEnv{
		messages:   messages,
		watermarks: watermarks,
		results:    results,
		llm:        llm,
		rag:        rag,
		processor:  processor,
	}
}

func pendingMessage(id, streamID, author, content string, at time.Time) domain.Message {
	return domain.Message{
		ID:        id,
		StreamID:  streamID,
		Timestamp: at,
		Author:    author,
		Content:   content,
		Status:    domain.MessageStatusPending,
	}
}

func TestRunSingleWindowCapturesAllMessagesAndAdvancesWatermark(t *testing.T) {
	llm := &llmStub{responses: map[string][]string{
		domain.PurposeClassification: {`{"threads":[{"id":"t1","category":"how-to","messageIndices":[0,1,2],"summary":"retry config","ragSearchCriteria":"retry configuration"}]}`},
		domain.PurposeProposal:       {`{"proposals":[{"updateType":"UPDATE","page":"docs/retries.md","suggestedText":"Set retry_attempts to 3.","reasoning":"community answer","sourceMessageIndices":[0,1]}]}`},
	}}
	now := testBase.Add(25 * time.Hour)
	env := newProcessorEnv(t, llm, "", now)
	env.messages.add(
		pendingMessage("m1", "s1", "alice", "how do retries work?", testBase),
		pendingMessage("m2", "s1", "bob", "retry_attempts in config", testBase.Add(time.Minute)),
		pendingMessage("m3", "s1", "carol", "thanks, that worked", testBase.Add(2*time.Minute)),
	)

	summary, err := env.processor.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Windows != 1 {
		t.Fatalf("expected exactly one window, got %d", summary.Windows)
	}
	if summary.ProposalsAccepted != 1 {
		t.Fatalf("expected 1 accepted proposal, got %+v", summary)
	}

	for _, id := range []string{"m1", "m2", "m3"} {
		if status := env.messages.statusOf(id); status != domain.MessageStatusCompleted {
			t.Fatalf("message %s should be completed, got %q", id, status)
		}
	}

	// Window end is start + 24h since that is still before now.
	expected := testBase.Add(24 * time.Hour)
	if got := env.watermarks.current("s1"); !got.Equal(expected) {
		t.Fatalf("watermark = %s, want %s", got, expected)
	}
}

func TestWatermarkMonotonicAcrossRuns(t *testing.T) {
	llm := &llmStub{responses: map[string][]string{
		domain.PurposeClassification: {`{"threads":[{"id":"t1","category":"no-doc-value","messageIndices":[0]}]}`},
	}}
	now := testBase.Add(48 * time.Hour)
	env := newProcessorEnv(t, llm, "", now)
	env.messages.add(pendingMessage("m1", "s1", "alice", "hello", testBase))

	if _, err := env.processor.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	first := env.watermarks.current("s1")

	if _, err := env.processor.Run(context.Background()); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	second := env.watermarks.current("s1")
	if second.Before(first) {
		t.Fatalf("watermark moved backwards: %s -> %s", first, second)
	}

	for _, stamps := range env.watermarks.history {
		for i := 1; i < len(stamps); i++ {
			if stamps[i].Before(stamps[i-1]) {
				t.Fatalf("watermark history not monotonic: %v", stamps)
			}
		}
	}
}

func TestNoDocValueThreadScenario(t *testing.T) {
	llm := &llmStub{responses: map[string][]string{
		domain.PurposeClassification: {`{"threads":[{"id":"t1","category":"no-doc-value","messageIndices":[0,1],"summary":"chitchat","docValueReason":"social conversation"}]}`},
	}}
	now := testBase.Add(25 * time.Hour)
	env := newProcessorEnv(t, llm, "", now)
	env.messages.add(
		pendingMessage("m1", "s1", "alice", "good morning", testBase),
		pendingMessage("m2", "s1", "bob", "morning!", testBase.Add(time.Minute)),
	)

	summary, err := env.processor.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.ProposalsAccepted != 0 || summary.ProposalsRejected != 0 {
		t.Fatalf("no-doc-value thread must yield zero proposals: %+v", summary)
	}
	if env.rag.queryCount() != 0 {
		t.Fatalf("no-doc-value thread must not hit the rag service")
	}

	commit, ok := env.results.commitFor("t1")
	if !ok {
		t.Fatalf("expected a committed thread")
	}
	if !commit.RagContext.Rejected {
		t.Fatalf("rag context must be rejected: %+v", commit.RagContext)
	}
	if len(commit.Classifications) != 2 {
		t.Fatalf("expected 2 classifications, got %d", len(commit.Classifications))
	}
	for _, id := range []string{"m1", "m2"} {
		if env.messages.statusOf(id) != domain.MessageStatusCompleted {
			t.Fatalf("message %s must be completed", id)
		}
	}
}

func TestPartialPersistenceFailureHoldsWatermarkThenRecovers(t *testing.T) {
	llm := &llmStub{responses: map[string][]string{
		domain.PurposeClassification: {
			`{"threads":[
				{"id":"t1","category":"how-to","messageIndices":[0,1],"summary":"a","ragSearchCriteria":"a"},
				{"id":"t2","category":"how-to","messageIndices":[2,3],"summary":"b","ragSearchCriteria":"b"}
			]}`,
			`{"threads":[{"id":"t2","category":"how-to","messageIndices":[0,1],"summary":"b","ragSearchCriteria":"b"}]}`,
		},
		domain.PurposeProposal: {`{"proposals":[]}`},
	}}
	now := testBase.Add(2 * time.Hour)
	env := newProcessorEnv(t, llm, "", now)
	env.messages.add(
		pendingMessage("m1", "s1", "alice", "q1", testBase),
		pendingMessage("m2", "s1", "bob", "a1", testBase.Add(time.Minute)),
		pendingMessage("m3", "s1", "carol", "q2", testBase.Add(2*time.Minute)),
		pendingMessage("m4", "s1", "dave", "a2", testBase.Add(3*time.Minute)),
	)
	env.results.failOnce["t2"] = errors.New("tx aborted")

	summary, err := env.processor.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.ThreadsFailed != 1 || summary.ThreadsCommitted != 1 {
		t.Fatalf("expected one failed and one committed thread, got %+v", summary)
	}

	// Committed thread's messages complete; failed thread's stay pending.
	if env.messages.statusOf("m1") != domain.MessageStatusCompleted || env.messages.statusOf("m2") != domain.MessageStatusCompleted {
		t.Fatalf("t1 messages must be completed")
	}
	if env.messages.statusOf("m3") != domain.MessageStatusPending || env.messages.statusOf("m4") != domain.MessageStatusPending {
		t.Fatalf("t2 messages must stay pending")
	}

	// Stale classifications for the failed thread were purged.
	if len(env.results.purged) != 1 || len(env.results.purged[0]) != 2 {
		t.Fatalf("expected one purge of 2 message ids, got %+v", env.results.purged)
	}

	// Watermark held at its initial value (earliest message time).
	if got := env.watermarks.current("s1"); !got.Equal(testBase) {
		t.Fatalf("watermark must be held at %s, got %s", testBase, got)
	}

	// A later run retries the same window and completes it.
	summary, err = env.processor.Run(context.Background())
	if err != nil {
		t.Fatalf("retry Run() error = %v", err)
	}
	if summary.ThreadsFailed != 0 {
		t.Fatalf("retry must not fail threads: %+v", summary)
	}
	for _, id := range []string{"m3", "m4"} {
		if env.messages.statusOf(id) != domain.MessageStatusCompleted {
			t.Fatalf("message %s must be completed after retry", id)
		}
	}
	if got := env.watermarks.current("s1"); !got.After(testBase) {
		t.Fatalf("watermark must advance after clean retry, got %s", got)
	}
}

func TestRejectionRuleFiltersProposalBeforePersistence(t *testing.T) {
	llm := &llmStub{responses: map[string][]string{
		domain.PurposeClassification: {`{"threads":[{"id":"t1","category":"how-to","messageIndices":[0],"summary":"dangerous","ragSearchCriteria":"docs"}]}`},
		domain.PurposeProposal:       {`{"proposals":[{"updateType":"DELETE","page":"docs/all.md","suggestedText":"we should delete all docs immediately","reasoning":"cleanup","sourceMessageIndices":[0]}]}`},
	}}
	rules := "## REJECTION_RULES\n- reject proposals mentioning 'delete all docs'"
	now := testBase.Add(25 * time.Hour)
	env := newProcessorEnv(t, llm, rules, now)
	env.messages.add(pendingMessage("m1", "s1", "alice", "nuke the docs", testBase))

	summary, err := env.processor.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.ProposalsRejected != 1 || summary.ProposalsAccepted != 0 {
		t.Fatalf("expected one rejected proposal, got %+v", summary)
	}

	commit, ok := env.results.commitFor("t1")
	if !ok {
		t.Fatalf("thread must still commit")
	}
	if len(commit.Proposals) != 0 {
		t.Fatalf("rejected proposal must not be persisted: %+v", commit.Proposals)
	}
	if len(commit.ReviewLogs) != 1 {
		t.Fatalf("expected one review log, got %d", len(commit.ReviewLogs))
	}
	review := commit.ReviewLogs[0].Result
	if !review.Rejected || review.RejectionRuleText != "reject proposals mentioning 'delete all docs'" {
		t.Fatalf("unexpected review result %+v", review)
	}
	if env.messages.statusOf("m1") != domain.MessageStatusCompleted {
		t.Fatalf("a rejection is not a failure; message must complete")
	}
}

func TestUnassignedMessagesCompleteAsImplicitlyLowValue(t *testing.T) {
	llm := &llmStub{responses: map[string][]string{
		domain.PurposeClassification: {`{"threads":[{"id":"t1","category":"no-doc-value","messageIndices":[0]}]}`},
	}}
	now := testBase.Add(25 * time.Hour)
	env := newProcessorEnv(t, llm, "", now)
	env.messages.add(
		pendingMessage("m1", "s1", "alice", "hey", testBase),
		pendingMessage("m2", "s1", "bob", "unrelated noise", testBase.Add(time.Minute)),
	)

	if _, err := env.processor.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if env.messages.statusOf("m2") != domain.MessageStatusCompleted {
		t.Fatalf("unassigned message must be completed as low-value")
	}
}

func TestConcurrentRunIsNoOp(t *testing.T) {
	block := make(chan struct{})
	llm := &llmStub{
		block:   block,
		entered: make(chan struct{}, 1),
		responses: map[string][]string{
			domain.PurposeClassification: {`{"threads":[{"id":"t1","category":"no-doc-value","messageIndices":[0]}]}`},
		},
	}
	now := testBase.Add(25 * time.Hour)
	env := newProcessorEnv(t, llm, "", now)
	env.messages.add(pendingMessage("m1", "s1", "alice", "hello", testBase))

	done := make(chan error, 1)
	go func() {
		_, err := env.processor.Run(context.Background())
		done <- err
	}()

	// Wait until the first run holds the lock inside the blocked LLM call.
	select {
	case <-llm.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first run never reached the LLM call")
	}

	if _, err := env.processor.Run(context.Background()); !errors.Is(err, domain.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
}
