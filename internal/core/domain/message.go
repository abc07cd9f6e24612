package domain

import "time"

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusCompleted MessageStatus = "completed"
)

// Message is a single chat message produced by an ingestion adapter.
// This subsystem only ever moves its status from pending to completed.
type Message struct {
	ID        string        `json:"id"`
	StreamID  string        `json:"stream_id"`
	Timestamp time.Time     `json:"timestamp"`
	Author    string        `json:"author"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status"`
}

// ProcessingWatermark marks the boundary below which every message in a
// stream is durably processed. WatermarkTime never decreases and never
// advances past a window in which any message failed.
type ProcessingWatermark struct {
	StreamID             string    `json:"stream_id"`
	WatermarkTime        time.Time `json:"watermark_time"`
	LastProcessedBatchAt time.Time `json:"last_processed_batch_at"`
}

// BatchWindow is a bounded time range of one stream's messages processed
// together in one pipeline run.
type BatchWindow struct {
	StreamID string    `json:"stream_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	HasWork  bool      `json:"has_work"`
}
