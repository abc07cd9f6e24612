package pipeline

import (
	"context"
	"strings"

	"github.com/sgolovin/community-docs/internal/core/domain"
)

type FilterConfig struct {
	IncludeKeywords []string `yaml:"include_keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

// FilterStep drops messages matching exclude keywords or, when include
// keywords are configured, missing all of them. Pure, no I/O.
type FilterStep struct {
	cfg FilterConfig
}

func NewFilterStep(cfg FilterConfig) *FilterStep {
	return &FilterStep{cfg: cfg}
}

func (s *FilterStep) ID() string { return "filter" }

func (s *FilterStep) Run(_ context.Context, pc *Context) error {
	filtered := make([]domain.Message, 0, len(pc.Messages))
	for _, msg := range pc.Messages {
		if s.keep(msg) {
			filtered = append(filtered, msg)
		}
	}
	pc.Filtered = filtered
	return nil
}

func (s *FilterStep) keep(msg domain.Message) bool {
	content := strings.ToLower(msg.Content)
	for _, keyword := range s.cfg.ExcludeKeywords {
		if keyword != "" && strings.Contains(content, strings.ToLower(keyword)) {
			return false
		}
	}
	if len(s.cfg.IncludeKeywords) == 0 {
		return true
	}
	for _, keyword := range s.cfg.IncludeKeywords {
		if keyword != "" && strings.Contains(content, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}
