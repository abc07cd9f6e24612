package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sgolovin/community-docs/internal/config"
	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/core/enrichment"
	"github.com/sgolovin/community-docs/internal/core/pipeline"
	"github.com/sgolovin/community-docs/internal/core/ports"
	"github.com/sgolovin/community-docs/internal/core/ruleset"
	"github.com/sgolovin/community-docs/internal/core/usecase"
	"github.com/sgolovin/community-docs/internal/infrastructure/llm/ollama"
	"github.com/sgolovin/community-docs/internal/infrastructure/prompt"
	"github.com/sgolovin/community-docs/internal/infrastructure/queue/nats"
	"github.com/sgolovin/community-docs/internal/infrastructure/repository/postgres"
	"github.com/sgolovin/community-docs/internal/infrastructure/resilience"
	"github.com/sgolovin/community-docs/internal/infrastructure/vector/qdrant"
	"github.com/sgolovin/community-docs/internal/observability/logging"
	"github.com/sgolovin/community-docs/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Runner       ports.BatchRunner
	Results      ports.ResultRepository
	Rulesets     *postgres.RulesetRepository
	RulesetCache *ruleset.Cache
	Queue        *nats.Queue
	BatchMetrics *metrics.BatchMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	logger := logging.New(service, cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	messageRepo := postgres.NewMessageRepository(db)
	watermarkRepo := postgres.NewWatermarkRepository(db)
	resultRepo := postgres.NewResultRepository(db)
	rulesetRepo := postgres.NewRulesetRepository(db)

	runner := resilience.NewRunner(resilience.DefaultPolicy(), logger)

	llmClient := ollama.New(ollama.Config{
		BaseURL:             cfg.OllamaURL,
		ClassificationModel: cfg.ClassificationModel,
		ProposalModel:       cfg.ProposalModel,
		EmbedModel:          cfg.OllamaEmbedModel,
		RequestsPerMinute:   cfg.LLMRequestsPerMinute,
		Timeout:             time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
	}, runner)
	ragService := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, llmClient, runner)

	prompts, err := prompt.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("build prompt registry: %w", err)
	}

	filterCfg, err := config.LoadPipelineFile(cfg.PipelineConfigPath)
	if err != nil {
		return nil, err
	}

	steps := []pipeline.Step{
		pipeline.NewFilterStep(filterCfg),
		pipeline.NewClassifyStep(llmClient, prompts),
		pipeline.NewEnrichStep(ragService, pipeline.EnrichConfig{
			TopK:            cfg.RAGTopK,
			SimilarityFloor: cfg.SimilarityFloor,
		}),
		pipeline.NewGenerateStep(llmClient, prompts),
	}
	orchestrator := pipeline.NewOrchestrator(steps, pipeline.Config{
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    time.Duration(cfg.RetryDelayMS) * time.Millisecond,
		StopOnError:   cfg.StopOnError,
	}, logger)

	enricher := enrichment.NewEngine(enrichment.Config{
		SimilarityFloor:      cfg.SimilarityFloor,
		DuplicationThreshold: cfg.DuplicationThreshold,
	})
	reviewer := ruleset.NewEngine(logger)
	rulesetCache := ruleset.NewCache(
		rulesetRepo.GetRuleset,
		time.Duration(cfg.RulesetTTLSeconds)*time.Second,
	)

	windowScheduler := usecase.NewWindowScheduler(messageRepo, watermarkRepo, usecase.SchedulerConfig{
		BatchWindow:      time.Duration(cfg.BatchWindowHours) * time.Hour,
		ContextWindow:    time.Duration(cfg.ContextWindowHours) * time.Hour,
		MaxBatchSize:     cfg.MaxBatchSize,
		FallbackLookback: time.Duration(cfg.FallbackLookbackHours) * time.Hour,
	}, logger)

	processor := usecase.NewBatchProcessor(
		windowScheduler,
		orchestrator,
		enricher,
		reviewer,
		rulesetCache,
		messageRepo,
		watermarkRepo,
		resultRepo,
		usecase.ProcessorConfig{
			TenantID:            cfg.TenantID,
			MaxWindowsPerStream: cfg.MaxWindowsPerStream,
		},
		logger,
	)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		Runner: runner,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init activity queue: %w", err)
	}

	batchMetrics := metrics.NewBatchMetrics(service)

	return &App{
		Config: cfg,
		Logger: logger,

		Runner: &observedRunner{
			processor: processor,
			metrics:   batchMetrics,
			service:   service,
			logger:    logger,
		},
		Results:      resultRepo,
		Rulesets:     rulesetRepo,
		RulesetCache: rulesetCache,
		Queue:        queue,
		BatchMetrics: batchMetrics,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// observedRunner adapts the batch processor to the inbound port, turning
// each run summary into metrics and a completion log line.
type observedRunner struct {
	processor *usecase.BatchProcessor
	metrics   *metrics.BatchMetrics
	service   string
	logger    *slog.Logger
}

func (r *observedRunner) Run(ctx context.Context) error {
	if r.metrics != nil {
		r.metrics.StartRun()
	}
	start := time.Now()

	summary, err := r.processor.Run(ctx)
	if r.metrics != nil {
		r.metrics.FinishRun(r.service, time.Since(start), metrics.RunOutcome{
			Windows:           summary.Windows,
			ThreadsCommitted:  summary.ThreadsCommitted,
			ThreadsFailed:     summary.ThreadsFailed,
			ProposalsAccepted: summary.ProposalsAccepted,
			ProposalsRejected: summary.ProposalsRejected,
			LLMCalls:          summary.LLMCalls,
			TokensUsed:        summary.TokensUsed,
			WatermarkLags:     summary.WatermarkLags,
		}, err)
	}
	if err == nil {
		r.logger.Info("batch run completed",
			"streams", summary.Streams,
			"windows", summary.Windows,
			"threads_committed", summary.ThreadsCommitted,
			"threads_failed", summary.ThreadsFailed,
			"proposals_accepted", summary.ProposalsAccepted,
			"proposals_rejected", summary.ProposalsRejected,
			"llm_calls", summary.LLMCalls,
			"tokens_used", summary.TokensUsed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else if !errors.Is(err, domain.ErrRunInProgress) {
		r.logger.Error("batch run failed", "error", err)
	}
	return err
}

func (r *observedRunner) ProcessStream(ctx context.Context, streamID string) error {
	return r.processor.ProcessStream(ctx, streamID)
}
