package enrichment

import (
	"sort"
	"strings"

	"github.com/sgolovin/community-docs/internal/core/domain"
)

const (
	relatedDocsCap        = 5
	semanticSimilarity    = 0.8
	consensusMinAuthors   = 2
	consensusMinMessages  = 3
	duplicationNgramWidth = 3
)

type Config struct {
	SimilarityFloor      float64
	DuplicationThreshold float64
}

func DefaultConfig() Config {
	return Config{
		SimilarityFloor:      0.6,
		DuplicationThreshold: 50,
	}
}

// Engine computes proposal enrichment from retrieved reference documents
// and source messages. Pure analysis, no I/O; every sub-analysis degrades
// to neutral values on malformed input instead of failing.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.SimilarityFloor <= 0 {
		cfg.SimilarityFloor = DefaultConfig().SimilarityFloor
	}
	if cfg.DuplicationThreshold <= 0 {
		cfg.DuplicationThreshold = DefaultConfig().DuplicationThreshold
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Enrich(
	proposal domain.Proposal,
	ragDocs []domain.RetrievedDoc,
	sourceMessages []domain.Message,
	pendingProposalCount int,
) domain.Enrichment {
	targetContent := targetPageContent(proposal, ragDocs)

	return domain.Enrichment{
		RelatedDocs:        e.relatedDocs(proposal, ragDocs),
		DuplicationWarning: e.duplication(proposal, ragDocs),
		StyleAnalysis:      styleAnalysis(targetContent, proposal.SuggestedText),
		ChangeContext:      changeContext(proposal, targetContent, pendingProposalCount),
		SourceAnalysis:     sourceAnalysis(sourceMessages),
	}
}

func (e *Engine) relatedDocs(proposal domain.Proposal, ragDocs []domain.RetrievedDoc) []domain.RelatedDoc {
	byPage := make(map[string]domain.RetrievedDoc)
	for _, doc := range ragDocs {
		if doc.Similarity < e.cfg.SimilarityFloor {
			continue
		}
		if best, ok := byPage[doc.FilePath]; ok && best.Similarity >= doc.Similarity {
			continue
		}
		byPage[doc.FilePath] = doc
	}

	out := make([]domain.RelatedDoc, 0, len(byPage))
	for _, doc := range byPage {
		out = append(out, domain.RelatedDoc{
			Page:       doc.FilePath,
			Title:      doc.Title,
			Similarity: doc.Similarity,
			Relation:   relation(proposal, doc),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity == out[j].Similarity {
			return out[i].Page < out[j].Page
		}
		return out[i].Similarity > out[j].Similarity
	})
	if len(out) > relatedDocsCap {
		out = out[:relatedDocsCap]
	}
	return out
}

func relation(proposal domain.Proposal, doc domain.RetrievedDoc) domain.DocRelation {
	switch {
	case doc.FilePath == proposal.Page:
		return domain.RelationSameSection
	case doc.Similarity >= semanticSimilarity:
		return domain.RelationSemantic
	default:
		return domain.RelationKeyword
	}
}

// duplication flags token-level overlap between the proposed text and any
// retrieved document. Strict greater-than: overlap exactly at the threshold
// is not flagged.
func (e *Engine) duplication(proposal domain.Proposal, ragDocs []domain.RetrievedDoc) domain.DuplicationWarning {
	proposalGrams := ngrams(proposal.SuggestedText, duplicationNgramWidth)
	if len(proposalGrams) == 0 {
		return domain.DuplicationWarning{}
	}

	var warning domain.DuplicationWarning
	for _, doc := range ragDocs {
		docGrams := ngrams(doc.Content, duplicationNgramWidth)
		if len(docGrams) == 0 {
			continue
		}
		shared := 0
		for gram := range proposalGrams {
			if _, ok := docGrams[gram]; ok {
				shared++
			}
		}
		overlap := float64(shared) / float64(len(proposalGrams)) * 100
		if overlap > warning.OverlapPercentage {
			warning.OverlapPercentage = overlap
			warning.MatchingPage = doc.FilePath
		}
	}

	warning.Detected = warning.OverlapPercentage > e.cfg.DuplicationThreshold
	if !warning.Detected && warning.OverlapPercentage == 0 {
		warning.MatchingPage = ""
	}
	return warning
}

func ngrams(text string, width int) map[string]struct{} {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) < width {
		return nil
	}
	grams := make(map[string]struct{}, len(tokens)-width+1)
	for i := 0; i+width <= len(tokens); i++ {
		grams[strings.Join(tokens[i:i+width], " ")] = struct{}{}
	}
	return grams
}

func targetPageContent(proposal domain.Proposal, ragDocs []domain.RetrievedDoc) string {
	for _, doc := range ragDocs {
		if doc.FilePath == proposal.Page {
			return doc.Content
		}
	}
	return ""
}

func changeContext(proposal domain.Proposal, targetContent string, pendingCount int) domain.ChangeContext {
	ctx := domain.ChangeContext{OtherPendingProposals: pendingCount}

	switch proposal.UpdateType {
	case domain.UpdateTypeInsert, domain.UpdateTypeDelete:
		ctx.ChangePercentage = 100
	case domain.UpdateTypeUpdate:
		targetLen := len(targetContent)
		if targetLen == 0 {
			ctx.ChangePercentage = 100
			break
		}
		delta := float64(targetLen - len(proposal.SuggestedText))
		if delta < 0 {
			delta = -delta
		}
		pct := delta / float64(targetLen) * 100
		if pct > 100 {
			pct = 100
		}
		ctx.ChangePercentage = pct
	}
	return ctx
}

func sourceAnalysis(messages []domain.Message) domain.SourceAnalysis {
	authors := make(map[string]struct{})
	for _, msg := range messages {
		if msg.Author != "" {
			authors[msg.Author] = struct{}{}
		}
	}
	return domain.SourceAnalysis{
		MessageCount:  len(messages),
		UniqueAuthors: len(authors),
		HadConsensus:  len(authors) >= consensusMinAuthors && len(messages) >= consensusMinMessages,
	}
}
