package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Step is one stage of the batch pipeline. Steps read and write the shared
// Context; each step owns a distinct set of context fields.
type Step interface {
	ID() string
	Run(ctx context.Context, pc *Context) error
}

type stepState string

const (
	stepPending   stepState = "pending"
	stepRunning   stepState = "running"
	stepSucceeded stepState = "succeeded"
	stepFailed    stepState = "failed"
)

// StepError records a step's final failure after retries were exhausted.
type StepError struct {
	StepID  string `json:"step_id"`
	Message string `json:"message"`
}

func (e StepError) Error() string {
	return fmt.Sprintf("step %s: %s", e.StepID, e.Message)
}

type Config struct {
	RetryAttempts int
	RetryDelay    time.Duration
	StopOnError   bool
}

// Result summarizes one orchestrated run.
type Result struct {
	Success       bool
	StepDurations map[string]time.Duration
	StepStates    map[string]string
	Errors        []StepError
	LLMCalls      int
	TokensUsed    int
}

// Orchestrator runs an ordered sequence of steps with per-step retries.
type Orchestrator struct {
	steps  []Step
	cfg    Config
	logger *slog.Logger
}

func NewOrchestrator(steps []Step, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{steps: steps, cfg: cfg, logger: logger}
}

// Execute runs every step in order. A failed step either aborts the run
// (StopOnError) or is skipped with the context left as the step found it;
// the step itself must not partially mutate the context on error.
func (o *Orchestrator) Execute(ctx context.Context, pc *Context) Result {
	result := Result{
		StepDurations: make(map[string]time.Duration, len(o.steps)),
		StepStates:    make(map[string]string, len(o.steps)),
	}
	for _, step := range o.steps {
		result.StepStates[step.ID()] = string(stepPending)
	}

	for _, step := range o.steps {
		result.StepStates[step.ID()] = string(stepRunning)
		start := time.Now()
		err := o.runWithRetry(ctx, step, pc)
		result.StepDurations[step.ID()] = time.Since(start)

		if err != nil {
			result.StepStates[step.ID()] = string(stepFailed)
			stepErr := StepError{StepID: step.ID(), Message: err.Error()}
			result.Errors = append(result.Errors, stepErr)
			o.logger.Error("pipeline step failed",
				"batch_id", pc.BatchID,
				"stream_id", pc.StreamID,
				"step", step.ID(),
				"error", err,
			)
			if o.cfg.StopOnError {
				break
			}
			continue
		}
		result.StepStates[step.ID()] = string(stepSucceeded)
	}

	result.LLMCalls = pc.LLMCalls
	result.TokensUsed = pc.TokensUsed
	result.Success = len(result.Errors) == 0 &&
		(pc.ProposalCount() > 0 || pc.NoValueThreadCount() > 0)
	return result
}

func (o *Orchestrator) runWithRetry(ctx context.Context, step Step, pc *Context) error {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = step.Run(ctx, pc)
		if lastErr == nil {
			return nil
		}
		if attempt == o.cfg.RetryAttempts {
			break
		}

		o.logger.Warn("pipeline step retry",
			"batch_id", pc.BatchID,
			"step", step.ID(),
			"attempt", attempt,
			"max_attempts", o.cfg.RetryAttempts,
			"error", lastErr,
		)
		if o.cfg.RetryDelay > 0 {
			timer := time.NewTimer(o.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return lastErr
			case <-timer.C:
			}
		}
	}
	return lastErr
}
