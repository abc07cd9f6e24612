package ruleset

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sgolovin/community-docs/internal/core/domain"
)

const sampleRulesetText = `
## PROMPT_CONTEXT
- Our product is called Widget.

## REVIEW_MODIFICATIONS
- Prefer American English spelling.

## REJECTION_RULES
- Reject when duplicationWarning overlapPercentage is above 60
- Reject proposals mentioning 'delete all docs'
- Reject when any similarityScore is above 0.95

## QUALITY_GATES
- Flag style inconsistency notes
- Flag when changePercentage is above 80
- Flag when other pendingProposals exist
- Flag when sourceMessages count is below 2
`

func parseSample(t *testing.T) domain.ParsedRuleset {
	t.Helper()
	return Parse("tenant-1", sampleRulesetText, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
}

func TestParseSections(t *testing.T) {
	parsed := parseSample(t)
	if len(parsed.PromptContext) != 1 || len(parsed.ReviewModifications) != 1 {
		t.Fatalf("unexpected context/modification counts: %+v", parsed)
	}
	if len(parsed.RejectionRules) != 3 {
		t.Fatalf("expected 3 rejection rules, got %d", len(parsed.RejectionRules))
	}
	if len(parsed.QualityGates) != 4 {
		t.Fatalf("expected 4 quality gates, got %d", len(parsed.QualityGates))
	}
	if parsed.RejectionRules[1] != "Reject proposals mentioning 'delete all docs'" {
		t.Fatalf("rule text must stay verbatim, got %q", parsed.RejectionRules[1])
	}
}

func TestReviewFirstMatchingRejectionWins(t *testing.T) {
	engine := NewEngine(nil)
	parsed := parseSample(t)

	// Both the overlap rule and the literal pattern rule match; the first
	// listed rule must be the one recorded.
	proposal := domain.Proposal{
		SuggestedText: "step one: delete all docs",
		Enrichment: domain.Enrichment{
			DuplicationWarning: domain.DuplicationWarning{Detected: true, OverlapPercentage: 75},
		},
	}

	result := engine.Review(parsed, proposal)
	if !result.Rejected {
		t.Fatalf("expected rejection")
	}
	if result.RejectionRuleText != parsed.RejectionRules[0] {
		t.Fatalf("expected first rule recorded, got %q", result.RejectionRuleText)
	}
}

func TestReviewContainsPatternRule(t *testing.T) {
	engine := NewEngine(nil)
	parsed := parseSample(t)

	proposal := domain.Proposal{SuggestedText: "Please DELETE ALL DOCS right now"}
	result := engine.Review(parsed, proposal)
	if !result.Rejected {
		t.Fatalf("expected case-insensitive pattern rejection")
	}
	if result.RejectionRuleText != "Reject proposals mentioning 'delete all docs'" {
		t.Fatalf("unexpected rule text %q", result.RejectionRuleText)
	}
}

func TestReviewOverlapAtThresholdDoesNotReject(t *testing.T) {
	engine := NewEngine(nil)
	parsed := parseSample(t)

	proposal := domain.Proposal{
		SuggestedText: "fine text",
		Enrichment: domain.Enrichment{
			DuplicationWarning: domain.DuplicationWarning{OverlapPercentage: 60},
		},
	}
	if result := engine.Review(parsed, proposal); result.Rejected {
		t.Fatalf("overlap exactly at 60 must not reject: %+v", result)
	}
}

func TestQualityGatesNeverReject(t *testing.T) {
	engine := NewEngine(nil)
	parsed := Parse("tenant-1", `
## QUALITY_GATES
- Flag style inconsistency notes
- Flag when changePercentage is above 10
- Flag when other pendingProposals exist
- Flag when sourceMessages count is below 5
`, time.Now())

	proposal := domain.Proposal{
		SuggestedText: "anything",
		Enrichment: domain.Enrichment{
			StyleAnalysis: domain.StyleAnalysis{Notes: []string{"format mismatch"}},
			ChangeContext: domain.ChangeContext{ChangePercentage: 100, OtherPendingProposals: 4},
		},
	}

	result := engine.Review(parsed, proposal)
	if result.Rejected {
		t.Fatalf("quality gates must never reject: %+v", result)
	}
	if len(result.QualityFlags) != 4 {
		t.Fatalf("expected all 4 gates to flag, got %+v", result.QualityFlags)
	}
}

func TestUnparseableRulesAreIgnored(t *testing.T) {
	engine := NewEngine(nil)
	parsed := Parse("tenant-1", `
## REJECTION_RULES
- this line matches no known phrase shape
- Reject proposals containing "forbidden"
`, time.Now())

	result := engine.Review(parsed, domain.Proposal{SuggestedText: "totally forbidden words"})
	if !result.Rejected {
		t.Fatalf("parseable rule after an unparseable one must still apply")
	}
	result = engine.Review(parsed, domain.Proposal{SuggestedText: "clean"})
	if result.Rejected {
		t.Fatalf("unparseable rule must never reject: %+v", result)
	}
}

type countingHandler struct {
	records int
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (h *countingHandler) Handle(context.Context, slog.Record) error { h.records++; return nil }
func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h *countingHandler) WithGroup(string) slog.Handler             { return h }

func TestReviewCompilesRulesetOncePerVersion(t *testing.T) {
	// The unparseable line is logged exactly once per compilation, so the
	// log count observes how often the rule AST is rebuilt.
	text := `
## REJECTION_RULES
- this line matches no known phrase shape
- Reject proposals containing "forbidden"
`
	handler := &countingHandler{}
	engine := NewEngine(slog.New(handler))
	parsed := Parse("tenant-1", text, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		engine.Review(parsed, domain.Proposal{SuggestedText: "clean"})
	}
	if handler.records != 1 {
		t.Fatalf("same ruleset version must compile once, got %d compilations", handler.records)
	}

	newer := Parse("tenant-1", text, parsed.UpdatedAt.Add(time.Hour))
	engine.Review(newer, domain.Proposal{SuggestedText: "clean"})
	if handler.records != 2 {
		t.Fatalf("updated ruleset must recompile, got %d compilations", handler.records)
	}
}

func TestCacheTTLAndContentInvalidation(t *testing.T) {
	loads := 0
	text := "## REJECTION_RULES\n- Reject proposals mentioning 'one'"
	updatedAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	loader := func(context.Context, string) (string, time.Time, error) {
		loads++
		return text, updatedAt, nil
	}

	current := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	cache := NewCacheWithClock(loader, time.Minute, func() time.Time { return current })

	if _, err := cache.Get(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := cache.Get(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if loads != 1 {
		t.Fatalf("expected a single load inside the TTL, got %d", loads)
	}

	// TTL expiry with unchanged content: reload the timestamp, keep the text.
	current = current.Add(2 * time.Minute)
	if _, err := cache.Get(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if loads != 2 {
		t.Fatalf("expected reload after TTL, got %d loads", loads)
	}

	// Content change after the next expiry must reparse.
	text = "## REJECTION_RULES\n- Reject proposals mentioning 'two'"
	updatedAt = updatedAt.Add(time.Hour)
	current = current.Add(2 * time.Minute)
	parsed, err := cache.Get(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(parsed.RejectionRules) != 1 || parsed.RejectionRules[0] != "Reject proposals mentioning 'two'" {
		t.Fatalf("expected reparsed ruleset, got %+v", parsed.RejectionRules)
	}
}

func TestCacheServesStaleOnLoaderError(t *testing.T) {
	calls := 0
	loader := func(context.Context, string) (string, time.Time, error) {
		calls++
		if calls > 1 {
			return "", time.Time{}, errors.New("db down")
		}
		return "## QUALITY_GATES\n- Flag style inconsistency notes", time.Now(), nil
	}

	current := time.Now()
	cache := NewCacheWithClock(loader, time.Minute, func() time.Time { return current })

	first, err := cache.Get(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	current = current.Add(2 * time.Minute)
	stale, err := cache.Get(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("expected stale ruleset, got error %v", err)
	}
	if len(stale.QualityGates) != len(first.QualityGates) {
		t.Fatalf("stale ruleset mismatch: %+v", stale)
	}
}
