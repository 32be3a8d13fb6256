package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/agent-trust-auditor/internal/audit"
)

// WriteOperatorActions пишет пачку событий операторского следа одним
// round-trip'ом (pgx.Batch). Вызывается воркером audit.Trail.
func (r *Repo) WriteOperatorActions(ctx context.Context, actions []audit.OperatorAction) error {
	if len(actions) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range actions {
		batch.Queue(`
			INSERT INTO operator_actions (id, operator_id, action, target, detail, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			a.ID, a.OperatorID, a.Action, a.Target, a.Detail, a.Timestamp)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range actions {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: operator action batch failed: %w", err)
		}
	}
	return nil
}
