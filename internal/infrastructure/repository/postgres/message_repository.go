package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/sgolovin/community-docs/internal/core/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) StreamsWithPending(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT stream_id
FROM messages
WHERE status = $1
ORDER BY stream_id
`, string(domain.MessageStatusPending))
	if err != nil {
		return nil, fmt.Errorf("list streams with pending: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var streamID string
		if err := rows.Scan(&streamID); err != nil {
			return nil, fmt.Errorf("scan stream id: %w", err)
		}
		out = append(out, streamID)
	}
	return out, rows.Err()
}

func (r *MessageRepository) EarliestPendingSince(ctx context.Context, streamID string, since time.Time) (time.Time, bool, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT ts
FROM messages
WHERE stream_id = $1 AND status = $2 AND ts >= $3
ORDER BY ts
LIMIT 1
`, streamID, string(domain.MessageStatusPending), since)

	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("earliest pending since: %w", err)
	}
	return ts, true, nil
}

func (r *MessageRepository) EarliestMessageTime(ctx context.Context, streamID string) (time.Time, bool, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT ts
FROM messages
WHERE stream_id = $1
ORDER BY ts
LIMIT 1
`, streamID)

	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("earliest message time: %w", err)
	}
	return ts, true, nil
}

// ListPendingWindow returns pending messages in [from, to), oldest first.
func (r *MessageRepository) ListPendingWindow(ctx context.Context, streamID string, from, to time.Time, limit int) ([]domain.Message, error) {
	builder := r.windowQuery(streamID, from, to).
		Where(sq.Eq{"status": string(domain.MessageStatusPending)})
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return r.queryMessages(ctx, builder, "list pending window")
}

func (r *MessageRepository) CountPendingWindow(ctx context.Context, streamID string, from, to time.Time) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("messages").
		Where(sq.Eq{"stream_id": streamID}).
		Where(sq.Eq{"status": string(domain.MessageStatusPending)}).
		Where(sq.GtOrEq{"ts": from}).
		Where(sq.Lt{"ts": to}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending window: %w", err)
	}
	return count, nil
}

// ListContext returns messages of any status in [from, to), oldest first.
func (r *MessageRepository) ListContext(ctx context.Context, streamID string, from, to time.Time, limit int) ([]domain.Message, error) {
	builder := r.windowQuery(streamID, from, to)
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return r.queryMessages(ctx, builder, "list context window")
}

func (r *MessageRepository) MarkCompleted(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	query, args, err := psql.Update("messages").
		Set("status", string(domain.MessageStatusCompleted)).
		Where(sq.Eq{"id": messageIDs}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark completed query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark messages completed: %w", err)
	}
	return nil
}

func (r *MessageRepository) windowQuery(streamID string, from, to time.Time) sq.SelectBuilder {
	return psql.Select("id", "stream_id", "ts", "author", "content", "status").
		From("messages").
		Where(sq.Eq{"stream_id": streamID}).
		Where(sq.GtOrEq{"ts": from}).
		Where(sq.Lt{"ts": to}).
		OrderBy("ts")
}

func (r *MessageRepository) queryMessages(ctx context.Context, builder sq.SelectBuilder, operation string) ([]domain.Message, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", operation, err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var msg domain.Message
		var status string
		if err := rows.Scan(&msg.ID, &msg.StreamID, &msg.Timestamp, &msg.Author, &msg.Content, &status); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Status = domain.MessageStatus(status)
		out = append(out, msg)
	}
	return out, rows.Err()
}
