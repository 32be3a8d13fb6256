package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
)

const credentialColumns = `
	id, agent_address, type, tests_run, verified_capabilities, grade,
	response_quality, capability_accuracy, consistency, documentation,
	uptime_percent, tier, report_date, window_start, window_end,
	issued_at, valid_from, valid_until`

func scanCredential(row pgx.Row) (*domain.Credential, error) {
	c := &domain.Credential{}
	var verified []byte
	var reportDate, winStart, winEnd, validFrom, validUntil sql.NullTime
	err := row.Scan(
		&c.ID, &c.AgentAddress, &c.Type, &c.TestsRun, &verified, &c.Grade,
		&c.ResponseQuality, &c.CapabilityAccuracy, &c.Consistency, &c.Documentation,
		&c.UptimePercent, &c.Tier, &reportDate, &winStart, &winEnd,
		&c.IssuedAt, &validFrom, &validUntil,
	)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(verified, &c.VerifiedCapabilities)
	if reportDate.Valid {
		c.ReportDate = reportDate.Time
	}
	if winStart.Valid {
		c.WindowStart = winStart.Time
	}
	if winEnd.Valid {
		c.WindowEnd = winEnd.Time
	}
	if validFrom.Valid {
		c.ValidFrom = validFrom.Time
	}
	if validUntil.Valid {
		c.ValidUntil = validUntil.Time
	}
	return c, nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func (r *Repo) InsertCredential(ctx context.Context, c *domain.Credential) error {
	verified, _ := json.Marshal(c.VerifiedCapabilities)

	query := `
		INSERT INTO credentials (
			id, agent_address, type, tests_run, verified_capabilities, grade,
			response_quality, capability_accuracy, consistency, documentation,
			uptime_percent, tier, report_date, window_start, window_end,
			issued_at, valid_from, valid_until
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.AgentAddress, c.Type, c.TestsRun, verified, c.Grade,
		c.ResponseQuality, c.CapabilityAccuracy, c.Consistency, c.Documentation,
		c.UptimePercent, c.Tier, nullTime(c.ReportDate), nullTime(c.WindowStart),
		nullTime(c.WindowEnd), c.IssuedAt, nullTime(c.ValidFrom), nullTime(c.ValidUntil),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert credential: %w", err)
	}
	return nil
}

// UpdateCredential перезаписывает доказательную базу и окно действия на месте
// (rolling refresh). Запись остается той же строкой с тем же ID.
func (r *Repo) UpdateCredential(ctx context.Context, c *domain.Credential) error {
	verified, _ := json.Marshal(c.VerifiedCapabilities)

	query := `
		UPDATE credentials SET
			tests_run = $1, verified_capabilities = $2, grade = $3,
			response_quality = $4, capability_accuracy = $5, consistency = $6,
			documentation = $7, uptime_percent = $8, tier = $9,
			window_start = $10, window_end = $11,
			issued_at = $12, valid_from = $13, valid_until = $14
		WHERE id = $15`

	ct, err := r.pool.Exec(ctx, query,
		c.TestsRun, verified, c.Grade,
		c.ResponseQuality, c.CapabilityAccuracy, c.Consistency,
		c.Documentation, c.UptimePercent, c.Tier,
		nullTime(c.WindowStart), nullTime(c.WindowEnd),
		c.IssuedAt, nullTime(c.ValidFrom), nullTime(c.ValidUntil), c.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to update credential: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: credential %s not found", c.ID)
	}
	return nil
}

// GetActiveCredential — неистекший документ данного типа (для типов с
// инвариантом "максимум один активный на агента").
func (r *Repo) GetActiveCredential(ctx context.Context, agent string, ctype domain.CredentialType, now time.Time) (*domain.Credential, error) {
	query := `
		SELECT` + credentialColumns + `
		FROM credentials
		WHERE agent_address = $1 AND type = $2
		  AND (valid_until IS NULL OR valid_until > $3)
		ORDER BY issued_at DESC
		LIMIT 1`

	c, err := scanCredential(r.pool.QueryRow(ctx, query, agent, ctype, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// GetCredentialByReportDate — ключ уникальности api-quality-grade.
func (r *Repo) GetCredentialByReportDate(ctx context.Context, agent string, ctype domain.CredentialType, date time.Time) (*domain.Credential, error) {
	query := `
		SELECT` + credentialColumns + `
		FROM credentials
		WHERE agent_address = $1 AND type = $2 AND report_date = $3`

	c, err := scanCredential(r.pool.QueryRow(ctx, query, agent, ctype, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// ListActiveCredentials — все неистекшие документы агента для публичной выдачи.
func (r *Repo) ListActiveCredentials(ctx context.Context, agent string, now time.Time) ([]*domain.Credential, error) {
	query := `
		SELECT` + credentialColumns + `
		FROM credentials
		WHERE agent_address = $1 AND (valid_until IS NULL OR valid_until > $2)
		ORDER BY issued_at DESC`

	rows, err := r.pool.Query(ctx, query, agent, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}
