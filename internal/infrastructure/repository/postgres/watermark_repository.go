package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sgolovin/community-docs/internal/core/domain"
)

type WatermarkRepository struct {
	db *sql.DB
}

func NewWatermarkRepository(db *sql.DB) *WatermarkRepository {
	return &WatermarkRepository{db: db}
}

// Ensure creates the stream watermark at initial if absent, then returns
// the current row. Concurrent creators race safely through the conflict
// clause.
func (r *WatermarkRepository) Ensure(ctx context.Context, streamID string, initial time.Time) (domain.ProcessingWatermark, error) {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO processing_watermarks (stream_id, watermark_time, last_processed_batch_at)
VALUES ($1, $2, $3)
ON CONFLICT (stream_id) DO NOTHING
`, streamID, initial.UTC(), time.Now().UTC())
	if err != nil {
		return domain.ProcessingWatermark{}, fmt.Errorf("insert watermark: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
SELECT stream_id, watermark_time, last_processed_batch_at
FROM processing_watermarks
WHERE stream_id = $1
`, streamID)

	var wm domain.ProcessingWatermark
	if err := row.Scan(&wm.StreamID, &wm.WatermarkTime, &wm.LastProcessedBatchAt); err != nil {
		return domain.ProcessingWatermark{}, fmt.Errorf("read watermark: %w", err)
	}
	return wm, nil
}

// Advance moves the watermark forward. GREATEST keeps it monotonic even
// if two workers race; it never moves backwards.
func (r *WatermarkRepository) Advance(ctx context.Context, streamID string, to time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE processing_watermarks
SET watermark_time = GREATEST(watermark_time, $2),
    last_processed_batch_at = $3
WHERE stream_id = $1
`, streamID, to.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance watermark affected rows: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "watermark.advance", fmt.Errorf("stream %s", streamID))
	}
	return nil
}
