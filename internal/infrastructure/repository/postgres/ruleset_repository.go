package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sgolovin/community-docs/internal/core/domain"
)

type RulesetRepository struct {
	db *sql.DB
}

func NewRulesetRepository(db *sql.DB) *RulesetRepository {
	return &RulesetRepository{db: db}
}

func (r *RulesetRepository) GetRuleset(ctx context.Context, tenantID string) (string, time.Time, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT content, updated_at
FROM rulesets
WHERE tenant_id = $1
`, tenantID)

	var content string
	var updatedAt time.Time
	if err := row.Scan(&content, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, domain.WrapError(domain.ErrNotFound, "ruleset.get", fmt.Errorf("tenant %s", tenantID))
		}
		return "", time.Time{}, fmt.Errorf("read ruleset: %w", err)
	}
	return content, updatedAt, nil
}

// UpsertRuleset replaces the tenant's rule text. Exposed through the ops
// API so tenants can edit rules without redeploying.
func (r *RulesetRepository) UpsertRuleset(ctx context.Context, tenantID, content string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO rulesets (tenant_id, content, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (tenant_id) DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at
`, tenantID, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert ruleset: %w", err)
	}
	return nil
}
