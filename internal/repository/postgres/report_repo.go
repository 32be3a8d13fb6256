package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
)

// UpsertDailyReport — идемпотентная запись отчета: пара (агент, дата)
// уникальна, повторная компиляция перезаписывает все производные поля.
func (r *Repo) UpsertDailyReport(ctx context.Context, d *domain.DailyReport) error {
	verified, _ := json.Marshal(d.VerifiedCapabilities)
	failed, _ := json.Marshal(d.FailedCapabilities)

	query := `
		INSERT INTO daily_reports (
			id, agent_address, report_date, tests_run, tests_succeeded, success_rate,
			avg_response_time_ms, avg_quality_score, consistency_score,
			verified_capabilities, failed_capabilities, trustworthiness, grade,
			fraud_risk_score, recommendation, compiled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (agent_address, report_date) DO UPDATE SET
			tests_run = EXCLUDED.tests_run,
			tests_succeeded = EXCLUDED.tests_succeeded,
			success_rate = EXCLUDED.success_rate,
			avg_response_time_ms = EXCLUDED.avg_response_time_ms,
			avg_quality_score = EXCLUDED.avg_quality_score,
			consistency_score = EXCLUDED.consistency_score,
			verified_capabilities = EXCLUDED.verified_capabilities,
			failed_capabilities = EXCLUDED.failed_capabilities,
			trustworthiness = EXCLUDED.trustworthiness,
			grade = EXCLUDED.grade,
			fraud_risk_score = EXCLUDED.fraud_risk_score,
			recommendation = EXCLUDED.recommendation,
			compiled_at = EXCLUDED.compiled_at`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.AgentAddress, d.ReportDate, d.TestsRun, d.TestsSucceeded, d.SuccessRate,
		d.AvgResponseTimeMs, d.AvgQualityScore, d.ConsistencyScore,
		verified, failed, d.Trustworthiness, d.Grade,
		d.FraudRiskScore, d.Recommendation, d.CompiledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert daily report: %w", err)
	}
	return nil
}

const reportColumns = `
	id, agent_address, report_date, tests_run, tests_succeeded, success_rate,
	avg_response_time_ms, avg_quality_score, consistency_score,
	verified_capabilities, failed_capabilities, trustworthiness, grade,
	fraud_risk_score, recommendation, compiled_at`

func scanReport(row pgx.Row) (*domain.DailyReport, error) {
	d := &domain.DailyReport{}
	var verified, failed []byte
	err := row.Scan(
		&d.ID, &d.AgentAddress, &d.ReportDate, &d.TestsRun, &d.TestsSucceeded,
		&d.SuccessRate, &d.AvgResponseTimeMs, &d.AvgQualityScore,
		&d.ConsistencyScore, &verified, &failed, &d.Trustworthiness, &d.Grade,
		&d.FraudRiskScore, &d.Recommendation, &d.CompiledAt,
	)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(verified, &d.VerifiedCapabilities)
	_ = json.Unmarshal(failed, &d.FailedCapabilities)
	return d, nil
}

func (r *Repo) GetDailyReport(ctx context.Context, agent string, date time.Time) (*domain.DailyReport, error) {
	query := `SELECT` + reportColumns + ` FROM daily_reports WHERE agent_address = $1 AND report_date = $2`

	d, err := scanReport(r.pool.QueryRow(ctx, query, agent, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

// ListReportWindow — отчеты агента за трейлинг-окно дней, заканчивающееся
// endDate включительно. Нужен движку аттестации аптайма.
func (r *Repo) ListReportWindow(ctx context.Context, agent string, endDate time.Time, days int) ([]*domain.DailyReport, error) {
	start := endDate.AddDate(0, 0, -(days - 1))
	query := `
		SELECT` + reportColumns + `
		FROM daily_reports
		WHERE agent_address = $1 AND report_date >= $2 AND report_date <= $3
		ORDER BY report_date ASC`

	rows, err := r.pool.Query(ctx, query, agent, start, endDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.DailyReport
	for rows.Next() {
		d, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// --- Фрод-сигналы ---

func (r *Repo) InsertFraudSignal(ctx context.Context, s *domain.FraudSignal) error {
	query := `
		INSERT INTO fraud_signals (id, agent_address, signal_type, severity, evidence, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.AgentAddress, s.SignalType, s.Severity, s.Evidence, s.DetectedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert fraud signal: %w", err)
	}
	return nil
}

// CountFraudSignalsBetween — сигналы агента в полуинтервале [from, to).
func (r *Repo) CountFraudSignalsBetween(ctx context.Context, agent string, from, to time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM fraud_signals WHERE agent_address = $1 AND detected_at >= $2 AND detected_at < $3`,
		agent, from, to,
	).Scan(&n)
	return n, err
}
