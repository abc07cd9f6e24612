package enrichment

import (
	"fmt"
	"strings"

	"github.com/sgolovin/community-docs/internal/core/domain"
)

const (
	formatProse    = "prose"
	formatListy    = "list-heavy"
	formatHeadings = "heading-structured"

	depthOverview = "overview"
	depthDeep     = "deep"
)

func styleAnalysis(targetContent, proposalText string) domain.StyleAnalysis {
	analysis := domain.StyleAnalysis{
		TargetStyle:   profileText(targetContent),
		ProposalStyle: profileText(proposalText),
	}
	if targetContent == "" || proposalText == "" {
		return analysis
	}

	target, proposal := analysis.TargetStyle, analysis.ProposalStyle
	if target.FormatPattern != proposal.FormatPattern {
		analysis.Notes = append(analysis.Notes, fmt.Sprintf(
			"format mismatch: target page is %s, proposal is %s",
			target.FormatPattern, proposal.FormatPattern,
		))
	}
	if target.TechnicalDepth != proposal.TechnicalDepth {
		analysis.Notes = append(analysis.Notes, fmt.Sprintf(
			"technical depth mismatch: target page is %s, proposal is %s",
			target.TechnicalDepth, proposal.TechnicalDepth,
		))
	}
	if target.HasCodeBlocks != proposal.HasCodeBlocks {
		if target.HasCodeBlocks {
			analysis.Notes = append(analysis.Notes, "target page uses code examples, proposal has none")
		} else {
			analysis.Notes = append(analysis.Notes, "proposal adds code examples to a page without any")
		}
	}
	return analysis
}

func profileText(text string) domain.TextStyle {
	if strings.TrimSpace(text) == "" {
		return domain.TextStyle{FormatPattern: formatProse, TechnicalDepth: depthOverview}
	}

	style := domain.TextStyle{
		AvgSentenceLength: avgSentenceLength(text),
		HasCodeBlocks:     strings.Contains(text, "```"),
		FormatPattern:     formatPattern(text),
	}
	style.TechnicalDepth = depthOverview
	if style.HasCodeBlocks || strings.Count(text, "`") >= 4 {
		style.TechnicalDepth = depthDeep
	}
	return style
}

func avgSentenceLength(text string) float64 {
	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	words, count := 0, 0
	for _, sentence := range sentences {
		n := len(strings.Fields(sentence))
		if n == 0 {
			continue
		}
		words += n
		count++
	}
	if count == 0 {
		return 0
	}
	return float64(words) / float64(count)
}

func formatPattern(text string) string {
	lines := strings.Split(text, "\n")
	listLines, headingLines, contentLines := 0, 0, 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		contentLines++
		switch {
		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "):
			listLines++
		case strings.HasPrefix(trimmed, "#"):
			headingLines++
		}
	}
	if contentLines == 0 {
		return formatProse
	}
	if float64(listLines)/float64(contentLines) > 0.4 {
		return formatListy
	}
	if headingLines >= 2 {
		return formatHeadings
	}
	return formatProse
}
