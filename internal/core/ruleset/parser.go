package ruleset

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sgolovin/community-docs/internal/core/domain"
)

const (
	sectionPromptContext       = "PROMPT_CONTEXT"
	sectionReviewModifications = "REVIEW_MODIFICATIONS"
	sectionRejectionRules      = "REJECTION_RULES"
	sectionQualityGates        = "QUALITY_GATES"
)

// Parse splits tenant ruleset text on markdown-style section headers and
// collects each non-empty bullet line under a section as one rule string.
func Parse(tenantID, text string, updatedAt time.Time) domain.ParsedRuleset {
	parsed := domain.ParsedRuleset{TenantID: tenantID, UpdatedAt: updatedAt}

	section := ""
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if name, ok := sectionHeader(trimmed); ok {
			section = name
			continue
		}

		rule := strings.TrimSpace(strings.TrimLeft(trimmed, "-*"))
		if rule == "" {
			continue
		}
		switch section {
		case sectionPromptContext:
			parsed.PromptContext = append(parsed.PromptContext, rule)
		case sectionReviewModifications:
			parsed.ReviewModifications = append(parsed.ReviewModifications, rule)
		case sectionRejectionRules:
			parsed.RejectionRules = append(parsed.RejectionRules, rule)
		case sectionQualityGates:
			parsed.QualityGates = append(parsed.QualityGates, rule)
		}
	}
	return parsed
}

func sectionHeader(line string) (string, bool) {
	if !strings.HasPrefix(line, "##") {
		return "", false
	}
	name := strings.ToUpper(strings.TrimSpace(strings.TrimLeft(line, "#")))
	switch name {
	case sectionPromptContext, sectionReviewModifications, sectionRejectionRules, sectionQualityGates:
		return name, true
	}
	return "", false
}

// Free-text rule lines compile once into a small tagged-variant AST; the
// evaluator never re-derives semantics from the raw text.
type rejectionRule interface {
	// Text returns the literal rule line for the audit trail.
	Text() string
	rejects(proposal domain.Proposal) (reason string, matched bool)
}

type overlapThresholdRule struct {
	text      string
	threshold float64
}

func (r overlapThresholdRule) Text() string { return r.text }

func (r overlapThresholdRule) rejects(proposal domain.Proposal) (string, bool) {
	overlap := proposal.Enrichment.DuplicationWarning.OverlapPercentage
	if overlap > r.threshold {
		return "duplication overlap " + formatPercent(overlap) + " exceeds " + formatPercent(r.threshold), true
	}
	return "", false
}

type similarityThresholdRule struct {
	text      string
	threshold float64
}

func (r similarityThresholdRule) Text() string { return r.text }

func (r similarityThresholdRule) rejects(proposal domain.Proposal) (string, bool) {
	for _, doc := range proposal.Enrichment.RelatedDocs {
		if doc.Similarity > r.threshold {
			return "related doc " + doc.Page + " similarity exceeds threshold", true
		}
	}
	return "", false
}

type containsPatternRule struct {
	text    string
	pattern string
}

func (r containsPatternRule) Text() string { return r.text }

func (r containsPatternRule) rejects(proposal domain.Proposal) (string, bool) {
	if strings.Contains(strings.ToLower(proposal.SuggestedText), strings.ToLower(r.pattern)) {
		return "proposal text contains " + strconv.Quote(r.pattern), true
	}
	return "", false
}

var (
	numberPattern  = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
	literalPattern = regexp.MustCompile(`(?i)(?:mentioning|containing)\s+['"]([^'"]+)['"]`)
)

func compileRejectionRule(line string) (rejectionRule, bool) {
	folded := strings.ToLower(strings.ReplaceAll(line, " ", ""))

	if strings.Contains(folded, "duplicationwarning") && strings.Contains(folded, "overlappercentage") {
		if threshold, ok := firstNumber(line); ok {
			return overlapThresholdRule{text: line, threshold: threshold}, true
		}
	}
	if strings.Contains(folded, "similarityscore") {
		if threshold, ok := firstNumber(line); ok {
			return similarityThresholdRule{text: line, threshold: threshold}, true
		}
	}
	if match := literalPattern.FindStringSubmatch(line); match != nil {
		return containsPatternRule{text: line, pattern: match[1]}, true
	}
	return nil, false
}

func firstNumber(line string) (float64, bool) {
	match := numberPattern.FindString(line)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}

// qualityGate flags a concern without ever rejecting.
type qualityGate interface {
	flag(proposal domain.Proposal) (string, bool)
}

type styleNotesGate struct{ text string }

func (g styleNotesGate) flag(proposal domain.Proposal) (string, bool) {
	notes := proposal.Enrichment.StyleAnalysis.Notes
	if len(notes) == 0 {
		return "", false
	}
	return "style inconsistency: " + strings.Join(notes, "; "), true
}

type changePercentageGate struct {
	text      string
	threshold float64
}

func (g changePercentageGate) flag(proposal domain.Proposal) (string, bool) {
	pct := proposal.Enrichment.ChangeContext.ChangePercentage
	if pct > g.threshold {
		return "large change: " + formatPercent(pct) + " of the target page", true
	}
	return "", false
}

type otherPendingGate struct{ text string }

func (g otherPendingGate) flag(proposal domain.Proposal) (string, bool) {
	pending := proposal.Enrichment.ChangeContext.OtherPendingProposals
	if pending > 0 {
		return strconv.Itoa(pending) + " other proposals pending review", true
	}
	return "", false
}

type minSourceMessagesGate struct {
	text string
	min  float64
}

func (g minSourceMessagesGate) flag(proposal domain.Proposal) (string, bool) {
	count := proposal.Enrichment.SourceAnalysis.MessageCount
	if float64(count) < g.min {
		return "thin evidence: only " + strconv.Itoa(count) + " source messages", true
	}
	return "", false
}

func compileQualityGate(line string) (qualityGate, bool) {
	folded := strings.ToLower(strings.ReplaceAll(line, " ", ""))

	switch {
	case strings.Contains(folded, "style"):
		return styleNotesGate{text: line}, true
	case strings.Contains(folded, "changepercentage"):
		if threshold, ok := firstNumber(line); ok {
			return changePercentageGate{text: line, threshold: threshold}, true
		}
	case strings.Contains(folded, "pendingproposals"), strings.Contains(folded, "otherpending"):
		return otherPendingGate{text: line}, true
	case strings.Contains(folded, "messagecount"), strings.Contains(folded, "sourcemessages"):
		if min, ok := firstNumber(line); ok {
			return minSourceMessagesGate{text: line, min: min}, true
		}
	}
	return nil, false
}

// compiled is a ruleset after AST compilation. Unparseable lines were
// dropped at compile time.
type compiled struct {
	rejections []rejectionRule
	gates      []qualityGate
	version    time.Time
}

func compile(parsed domain.ParsedRuleset, logger *slog.Logger) compiled {
	out := compiled{version: parsed.UpdatedAt}
	for _, line := range parsed.RejectionRules {
		rule, ok := compileRejectionRule(line)
		if !ok {
			if logger != nil {
				logger.Debug("skipping unparseable rejection rule", "tenant_id", parsed.TenantID, "rule", line)
			}
			continue
		}
		out.rejections = append(out.rejections, rule)
	}
	for _, line := range parsed.QualityGates {
		gate, ok := compileQualityGate(line)
		if !ok {
			if logger != nil {
				logger.Debug("skipping unparseable quality gate", "tenant_id", parsed.TenantID, "gate", line)
			}
			continue
		}
		out.gates = append(out.gates, gate)
	}
	return out
}
