package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/core/ports"
)

type ResultRepository struct {
	db *sql.DB
}

func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// StoreThreadResults persists one thread's classifications, RAG context,
// proposals, and review logs in a single transaction. Classifications and
// the RAG context upsert so retried windows stay idempotent; proposals
// dedup on their natural key.
func (r *ResultRepository) StoreThreadResults(ctx context.Context, commit ports.ThreadCommit) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin thread tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, c := range commit.Classifications {
		_, err := tx.ExecContext(ctx, `
INSERT INTO message_classifications (message_id, batch_id, conversation_id, category, doc_value_reason, rag_search_criteria)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (message_id) DO UPDATE SET
	batch_id = EXCLUDED.batch_id,
	conversation_id = EXCLUDED.conversation_id,
	category = EXCLUDED.category,
	doc_value_reason = EXCLUDED.doc_value_reason,
	rag_search_criteria = EXCLUDED.rag_search_criteria
`, c.MessageID, c.BatchID, c.ConversationID, c.Category, c.DocValueReason, c.RagSearchCriteria)
		if err != nil {
			return fmt.Errorf("upsert classification %s: %w", c.MessageID, err)
		}
	}

	docsJSON, err := json.Marshal(commit.RagContext.RetrievedDocs)
	if err != nil {
		return fmt.Errorf("marshal retrieved docs: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO rag_contexts (conversation_id, batch_id, retrieved_docs, total_tokens_estimate, summary, rejected, rejection_reason)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (conversation_id) DO UPDATE SET
	batch_id = EXCLUDED.batch_id,
	retrieved_docs = EXCLUDED.retrieved_docs,
	total_tokens_estimate = EXCLUDED.total_tokens_estimate,
	summary = EXCLUDED.summary,
	rejected = EXCLUDED.rejected,
	rejection_reason = EXCLUDED.rejection_reason
`, commit.RagContext.ConversationID, commit.RagContext.BatchID, docsJSON,
		commit.RagContext.TotalTokensEstimate, commit.RagContext.Summary,
		commit.RagContext.Rejected, commit.RagContext.RejectionReason)
	if err != nil {
		return fmt.Errorf("upsert rag context %s: %w", commit.RagContext.ConversationID, err)
	}

	for _, p := range commit.Proposals {
		if err := insertProposal(ctx, tx, p); err != nil {
			return err
		}
	}

	for _, l := range commit.ReviewLogs {
		resultJSON, err := json.Marshal(l.Result)
		if err != nil {
			return fmt.Errorf("marshal review result: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO review_logs (id, conversation_id, batch_id, proposal_page, result, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, l.ID, l.ConversationID, l.BatchID, l.ProposalPage, resultJSON, l.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert review log %s: %w", l.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit thread tx: %w", err)
	}
	return nil
}

func insertProposal(ctx context.Context, tx *sql.Tx, p domain.Proposal) error {
	sourceIDs, err := json.Marshal(p.SourceMessageIDs)
	if err != nil {
		return fmt.Errorf("marshal source message ids: %w", err)
	}
	warnings, err := json.Marshal(p.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	enrichment, err := json.Marshal(p.Enrichment)
	if err != nil {
		return fmt.Errorf("marshal enrichment: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO proposals (
	id, stream_id, conversation_id, batch_id, page, update_type, section,
	suggested_text, raw_suggested_text, reasoning, source_message_ids,
	warnings, status, enrichment, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (conversation_id, batch_id, page, update_type, section) DO NOTHING
`,
		p.ID, p.StreamID, p.ConversationID, p.BatchID, p.Page, string(p.UpdateType), p.Section,
		p.SuggestedText, p.RawSuggestedText, p.Reasoning, sourceIDs,
		warnings, string(p.Status), enrichment, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert proposal %s: %w", p.ID, err)
	}
	return nil
}

// DeleteClassifications removes classification rows for a thread whose
// transaction failed so a retried window re-classifies from scratch.
func (r *ResultRepository) DeleteClassifications(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	query, args, err := psql.Delete("message_classifications").
		Where(sq.Eq{"message_id": messageIDs}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete classifications query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete classifications: %w", err)
	}
	return nil
}

func (r *ResultRepository) CountPendingProposals(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM proposals WHERE status = $1
`, string(domain.ProposalStatusPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending proposals: %w", err)
	}
	return count, nil
}

// ListProposals returns recent proposals, newest first, optionally scoped
// to one stream.
func (r *ResultRepository) ListProposals(ctx context.Context, streamID string, limit int) ([]domain.Proposal, error) {
	builder := psql.Select(
		"id", "stream_id", "conversation_id", "batch_id", "page", "update_type", "section",
		"suggested_text", "raw_suggested_text", "reasoning", "source_message_ids",
		"warnings", "status", "enrichment", "created_at",
	).From("proposals").OrderBy("created_at DESC")
	if streamID != "" {
		builder = builder.Where(sq.Eq{"stream_id": streamID})
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list proposals query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []domain.Proposal
	for rows.Next() {
		var p domain.Proposal
		var updateType, status string
		var sourceIDs, warnings, enrichment []byte
		err := rows.Scan(
			&p.ID, &p.StreamID, &p.ConversationID, &p.BatchID, &p.Page, &updateType, &p.Section,
			&p.SuggestedText, &p.RawSuggestedText, &p.Reasoning, &sourceIDs,
			&warnings, &status, &enrichment, &p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		if err := json.Unmarshal(sourceIDs, &p.SourceMessageIDs); err != nil {
			return nil, fmt.Errorf("unmarshal source message ids: %w", err)
		}
		if len(warnings) > 0 {
			if err := json.Unmarshal(warnings, &p.Warnings); err != nil {
				return nil, fmt.Errorf("unmarshal warnings: %w", err)
			}
		}
		if len(enrichment) > 0 {
			if err := json.Unmarshal(enrichment, &p.Enrichment); err != nil {
				return nil, fmt.Errorf("unmarshal enrichment: %w", err)
			}
		}
		p.UpdateType = domain.UpdateType(updateType)
		p.Status = domain.ProposalStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}
