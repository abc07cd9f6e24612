package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/core/ports"
)

// Cron triggers full batch runs on a fixed cadence. An overlapping tick
// is a logged no-op because the processor holds a run lock.
type Cron struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func NewCron(spec string, runner ports.BatchRunner, logger *slog.Logger) (*Cron, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		err := runner.Run(context.Background())
		switch {
		case errors.Is(err, domain.ErrRunInProgress):
			logger.Info("scheduled batch run skipped, previous run still active")
		case err != nil:
			logger.Error("scheduled batch run failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return &Cron{cron: c, logger: logger}, nil
}

func (s *Cron) Start() {
	s.cron.Start()
}

// Stop blocks until a running job finishes.
func (s *Cron) Stop() {
	<-s.cron.Stop().Done()
}
