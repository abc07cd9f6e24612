package ruleset

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sgolovin/community-docs/internal/core/domain"
)

// Engine evaluates a tenant ruleset against a proposal with enrichment
// already attached. Review never fails: a malformed tenant rule must not
// block the pipeline.
type Engine struct {
	logger *slog.Logger

	// Compilation is memoized per tenant, keyed by the ruleset's content
	// timestamp, so reviewing a batch of proposals compiles once.
	mu       sync.Mutex
	compiled map[string]compiledEntry
}

type compiledEntry struct {
	version time.Time
	rules   compiled
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		logger:   logger,
		compiled: make(map[string]compiledEntry),
	}
}

// Review applies rejection rules in list order, short-circuiting on the
// first match, then evaluates every quality gate. Gates only append flags.
func (e *Engine) Review(parsed domain.ParsedRuleset, proposal domain.Proposal) domain.ReviewResult {
	rules := e.rulesFor(parsed)
	result := domain.ReviewResult{
		RulesetVersion:       parsed.UpdatedAt,
		ModificationsApplied: append([]string(nil), parsed.ReviewModifications...),
	}

	for _, rule := range rules.rejections {
		reason, matched := rule.rejects(proposal)
		if matched {
			result.Rejected = true
			result.RejectionReason = reason
			result.RejectionRuleText = rule.Text()
			break
		}
	}

	for _, gate := range rules.gates {
		if flag, flagged := gate.flag(proposal); flagged {
			result.QualityFlags = append(result.QualityFlags, flag)
		}
	}
	return result
}

func (e *Engine) rulesFor(parsed domain.ParsedRuleset) compiled {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.compiled[parsed.TenantID]
	if ok && entry.version.Equal(parsed.UpdatedAt) {
		return entry.rules
	}
	rules := compile(parsed, e.logger)
	e.compiled[parsed.TenantID] = compiledEntry{version: parsed.UpdatedAt, rules: rules}
	return rules
}
