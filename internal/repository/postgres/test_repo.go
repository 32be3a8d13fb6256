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

// InsertTestResult сохраняет исход пробы. Issues и транскрипт — jsonb.
func (r *Repo) InsertTestResult(ctx context.Context, t *domain.TestResult) error {
	issues, _ := json.Marshal(t.Issues)
	transcript, _ := json.Marshal(t.Transcript)

	query := `
		INSERT INTO test_results (
			id, endpoint_id, agent_address, request_body, response_body, http_status,
			response_time_ms, success, capability_verified, quality_score,
			issues, notes, payment_signature, payment_amount_usdc, transcript,
			votes_up, votes_down, tested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 0, 0, $16)`

	_, err := r.pool.Exec(ctx, query,
		t.ID, t.EndpointID, t.AgentAddress, t.RequestBody, t.ResponseBody, t.HTTPStatus,
		t.ResponseTimeMs, t.Success, t.CapabilityVerified, t.QualityScore,
		issues, t.Notes, nullable(t.PaymentSignature), t.PaymentAmountUSDC, transcript,
		t.TestedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert test result: %w", err)
	}
	return nil
}

// nullable превращает пустую строку в NULL — иначе частичный уникальный
// индекс по подписи платежа сработал бы на пустых значениях.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanTestResult(row pgx.Row) (*domain.TestResult, error) {
	t := &domain.TestResult{}
	var issues, transcript []byte
	var sig *string
	err := row.Scan(
		&t.ID, &t.EndpointID, &t.AgentAddress, &t.RequestBody, &t.ResponseBody,
		&t.HTTPStatus, &t.ResponseTimeMs, &t.Success, &t.CapabilityVerified,
		&t.QualityScore, &issues, &t.Notes, &sig, &t.PaymentAmountUSDC,
		&transcript, &t.VotesUp, &t.VotesDown, &t.TestedAt,
	)
	if err != nil {
		return nil, err
	}
	if sig != nil {
		t.PaymentSignature = *sig
	}
	_ = json.Unmarshal(issues, &t.Issues)
	_ = json.Unmarshal(transcript, &t.Transcript)
	return t, nil
}

const testColumns = `
	id, endpoint_id, agent_address, request_body, response_body, http_status,
	response_time_ms, success, capability_verified, quality_score,
	issues, notes, payment_signature, payment_amount_usdc, transcript,
	votes_up, votes_down, tested_at`

// ListTestsByAgentBetween — пробы агента в полуинтервале [from, to).
func (r *Repo) ListTestsByAgentBetween(ctx context.Context, agent string, from, to time.Time) ([]*domain.TestResult, error) {
	query := `
		SELECT` + testColumns + `
		FROM test_results
		WHERE agent_address = $1 AND tested_at >= $2 AND tested_at < $3
		ORDER BY tested_at ASC`

	rows, err := r.pool.Query(ctx, query, agent, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.TestResult
	for rows.Next() {
		t, err := scanTestResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// DistinctAgentsBetween — агенты, по которым были пробы в интервале.
// Питает ежедневный компилятор отчетов.
func (r *Repo) DistinctAgentsBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT agent_address FROM test_results
		WHERE tested_at >= $1 AND tested_at < $2`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// AddTestVote — единственная разрешенная мутация записи пробы.
func (r *Repo) AddTestVote(ctx context.Context, id string, up bool) error {
	column := "votes_down"
	if up {
		column = "votes_up"
	}
	query := fmt.Sprintf(`UPDATE test_results SET %s = %s + 1 WHERE id = $1`, column, column)

	ct, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to add vote: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: test result %s not found", id)
	}
	return nil
}

// RecentTests — свежие пробы для публичного фида.
func (r *Repo) RecentTests(ctx context.Context, limit int) ([]*domain.TestResult, error) {
	query := `SELECT` + testColumns + ` FROM test_results ORDER BY tested_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.TestResult
	for rows.Next() {
		t, err := scanTestResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// --- Платежные записи ---

// PaymentSeen проверяет, записана ли уже подпись (защита от дублей).
func (r *Repo) PaymentSeen(ctx context.Context, signature string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM payment_records WHERE signature = $1)`, signature,
	).Scan(&exists)
	return exists, err
}

func (r *Repo) InsertPayment(ctx context.Context, p *domain.PaymentRecord) error {
	query := `
		INSERT INTO payment_records (id, signature, agent_address, endpoint_id, amount_usdc, payer_address, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.Signature, p.AgentAddress, p.EndpointID, p.AmountUSDC, p.PayerAddress, p.PaidAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert payment record: %w", err)
	}
	return nil
}

func (r *Repo) RecentPayments(ctx context.Context, limit int) ([]*domain.PaymentRecord, error) {
	query := `
		SELECT id, signature, agent_address, endpoint_id, amount_usdc, payer_address, paid_at
		FROM payment_records ORDER BY paid_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.PaymentRecord
	for rows.Next() {
		p := &domain.PaymentRecord{}
		if err := rows.Scan(&p.ID, &p.Signature, &p.AgentAddress, &p.EndpointID,
			&p.AmountUSDC, &p.PayerAddress, &p.PaidAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// GetTestResult нужен хендлеру голосования для проверки существования.
func (r *Repo) GetTestResult(ctx context.Context, id string) (*domain.TestResult, error) {
	query := `SELECT` + testColumns + ` FROM test_results WHERE id = $1`

	t, err := scanTestResult(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}
