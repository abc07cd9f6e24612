package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/core/ports"
)

type SchedulerConfig struct {
	BatchWindow      time.Duration
	ContextWindow    time.Duration
	MaxBatchSize     int
	FallbackLookback time.Duration
	MaxWindowSkips   int
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BatchWindow:      24 * time.Hour,
		ContextWindow:    6 * time.Hour,
		MaxBatchSize:     200,
		FallbackLookback: 72 * time.Hour,
		MaxWindowSkips:   10,
	}
}

const contextMessageLimit = 100

// WindowScheduler computes the next unprocessed batch window per stream
// and fetches its messages. Windows are half-open [start, end), capped at
// the configured duration, and never extend into the future.
type WindowScheduler struct {
	messages   ports.MessageRepository
	watermarks ports.WatermarkRepository
	cfg        SchedulerConfig
	logger     *slog.Logger
	now        func() time.Time
}

func NewWindowScheduler(
	messages ports.MessageRepository,
	watermarks ports.WatermarkRepository,
	cfg SchedulerConfig,
	logger *slog.Logger,
) *WindowScheduler {
	def := DefaultSchedulerConfig()
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = def.BatchWindow
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = def.ContextWindow
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.FallbackLookback <= 0 {
		cfg.FallbackLookback = def.FallbackLookback
	}
	if cfg.MaxWindowSkips <= 0 {
		cfg.MaxWindowSkips = def.MaxWindowSkips
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WindowScheduler{
		messages:   messages,
		watermarks: watermarks,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// NextWindow reads (creating if absent) the stream watermark and anchors a
// window at the earliest pending message at or after it. A window that
// turns out to hold no pending messages is skipped by advancing the
// watermark to its end, re-checking for pending work before each skip so a
// message inserted mid-computation is never jumped over.
func (s *WindowScheduler) NextWindow(ctx context.Context, streamID string) (domain.BatchWindow, error) {
	noWork := domain.BatchWindow{StreamID: streamID}

	watermark, err := s.ensureWatermark(ctx, streamID)
	if err != nil {
		return noWork, err
	}

	cursor := watermark.WatermarkTime
	for skip := 0; skip < s.cfg.MaxWindowSkips; skip++ {
		earliest, found, err := s.messages.EarliestPendingSince(ctx, streamID, cursor)
		if err != nil {
			return noWork, fmt.Errorf("find earliest pending: %w", err)
		}
		if !found {
			return noWork, nil
		}

		now := s.now().UTC()
		if !earliest.Before(now) {
			// Future-dated message; nothing processable yet.
			return noWork, nil
		}

		start := earliest
		end := start.Add(s.cfg.BatchWindow)
		if end.After(now) {
			end = now
		}

		count, err := s.messages.CountPendingWindow(ctx, streamID, start, end)
		if err != nil {
			return noWork, fmt.Errorf("count pending in window: %w", err)
		}
		if count > 0 {
			return domain.BatchWindow{StreamID: streamID, Start: start, End: end, HasWork: true}, nil
		}

		// Stale view: the message seen above is gone from the window.
		// Skip the empty window so a sparse stream cannot stall, then
		// re-check from the new watermark.
		s.logger.Info("skipping empty batch window",
			"stream_id", streamID,
			"window_start", start,
			"window_end", end,
		)
		if err := s.watermarks.Advance(ctx, streamID, end); err != nil {
			return noWork, fmt.Errorf("advance watermark past empty window: %w", err)
		}
		cursor = end
	}
	return noWork, nil
}

// FetchBatch loads the window's pending messages (capped at MaxBatchSize)
// plus up to 100 context messages of any status from the preceding context
// window, both in timestamp order.
func (s *WindowScheduler) FetchBatch(ctx context.Context, window domain.BatchWindow) ([]domain.Message, []domain.Message, error) {
	batch, err := s.messages.ListPendingWindow(ctx, window.StreamID, window.Start, window.End, s.cfg.MaxBatchSize)
	if err != nil {
		return nil, nil, fmt.Errorf("list batch messages: %w", err)
	}

	contextStart := window.Start.Add(-s.cfg.ContextWindow)
	contextMessages, err := s.messages.ListContext(ctx, window.StreamID, contextStart, window.Start, contextMessageLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("list context messages: %w", err)
	}
	return batch, contextMessages, nil
}

// ensureWatermark lazily creates the stream watermark: the stream's
// earliest message time, or now minus the fallback lookback for an empty
// stream.
func (s *WindowScheduler) ensureWatermark(ctx context.Context, streamID string) (domain.ProcessingWatermark, error) {
	initial, found, err := s.messages.EarliestMessageTime(ctx, streamID)
	if err != nil {
		return domain.ProcessingWatermark{}, fmt.Errorf("find earliest message: %w", err)
	}
	if !found {
		initial = s.now().UTC().Add(-s.cfg.FallbackLookback)
	}

	watermark, err := s.watermarks.Ensure(ctx, streamID, initial)
	if err != nil {
		return domain.ProcessingWatermark{}, fmt.Errorf("ensure watermark: %w", err)
	}
	return watermark, nil
}
