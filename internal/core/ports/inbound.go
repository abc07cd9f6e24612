package ports

import "context"

// BatchRunner drives one full batch run over every stream with pending
// work. A call while a run is active is a no-op returning
// domain.ErrRunInProgress.
type BatchRunner interface {
	Run(ctx context.Context) error
	ProcessStream(ctx context.Context, streamID string) error
}
