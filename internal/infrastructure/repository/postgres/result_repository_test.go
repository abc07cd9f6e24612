package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/core/ports"
)

func sampleCommit() ports.ThreadCommit {
	created := time.Date(2026, 8, 2, 11, 0, 0, 0, time.UTC)
	return ports.ThreadCommit{
		BatchID:  "b1",
		StreamID: "s1",
		Classifications: []domain.MessageClassification{
			{MessageID: "m1", BatchID: "b1", ConversationID: "t1", Category: "configuration"},
		},
		RagContext: domain.RagContext{
			ConversationID: "t1",
			BatchID:        "b1",
			RetrievedDocs:  []domain.RetrievedDoc{{ID: "d1", FilePath: "guides/setup.md", Similarity: 0.9}},
		},
		Proposals: []domain.Proposal{
			{
				ID:             "p1",
				StreamID:       "s1",
				ConversationID: "t1",
				BatchID:        "b1",
				Page:           "guides/setup.md",
				UpdateType:     domain.UpdateTypeUpdate,
				SuggestedText:  "Set RETRY_ATTEMPTS to tune retries.",
				Status:         domain.ProposalStatusPending,
				CreatedAt:      created,
			},
		},
		ReviewLogs: []domain.ReviewLog{
			{ID: "r1", ConversationID: "t1", BatchID: "b1", ProposalPage: "guides/setup.md", CreatedAt: created},
		},
	}
}

func TestStoreThreadResultsCommitsSingleTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewResultRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO message_classifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO rag_contexts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO proposals").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO review_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.StoreThreadResults(context.Background(), sampleCommit()); err != nil {
		t.Fatalf("StoreThreadResults() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreThreadResultsRollsBackOnProposalFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewResultRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO message_classifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO rag_contexts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO proposals").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = repo.StoreThreadResults(context.Background(), sampleCommit())
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteClassificationsEmptyIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewResultRepository(db)
	if err := repo.DeleteClassifications(context.Background(), nil); err != nil {
		t.Fatalf("DeleteClassifications() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListProposalsScansJSONColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewResultRepository(db)
	created := time.Date(2026, 8, 2, 11, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "stream_id", "conversation_id", "batch_id", "page", "update_type", "section",
		"suggested_text", "raw_suggested_text", "reasoning", "source_message_ids",
		"warnings", "status", "enrichment", "created_at",
	}).AddRow(
		"p1", "s1", "t1", "b1", "guides/setup.md", "UPDATE", "retries",
		"Set RETRY_ATTEMPTS.", "Set RETRY_ATTEMPTS. ", "users keep asking",
		[]byte(`["m1","m2"]`), []byte(`["style divergence"]`), "pending",
		[]byte(`{"change_context":{"change_percentage":20}}`), created,
	)

	mock.ExpectQuery("FROM proposals").
		WithArgs("s1").
		WillReturnRows(rows)

	proposals, err := repo.ListProposals(context.Background(), "s1", 50)
	if err != nil {
		t.Fatalf("ListProposals() error = %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(proposals))
	}
	p := proposals[0]
	if p.UpdateType != domain.UpdateTypeUpdate || len(p.SourceMessageIDs) != 2 {
		t.Fatalf("unexpected proposal %+v", p)
	}
	if len(p.Warnings) != 1 || p.Warnings[0] != "style divergence" {
		t.Fatalf("unexpected warnings %v", p.Warnings)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
