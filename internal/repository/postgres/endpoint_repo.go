package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
)

const endpointColumns = `
	id, agent_address, base_url, path, method, price_usdc, description, category,
	is_active, total_tests, successful_tests, avg_response_time_ms,
	avg_quality_score, last_tested_at, created_at, updated_at`

func scanEndpoint(row pgx.Row) (*domain.Endpoint, error) {
	e := &domain.Endpoint{}
	var lastTested sql.NullTime
	err := row.Scan(
		&e.ID, &e.AgentAddress, &e.BaseURL, &e.Path, &e.Method, &e.PriceUSDC,
		&e.Description, &e.Category, &e.IsActive, &e.TotalTests,
		&e.SuccessfulTests, &e.AvgResponseTimeMs, &e.AvgQualityScore,
		&lastTested, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastTested.Valid {
		e.LastTestedAt = lastTested.Time
	}
	return e, nil
}

// CreateEndpoint создает запись каталога. ID генерирует база.
func (r *Repo) CreateEndpoint(ctx context.Context, e *domain.Endpoint) (string, error) {
	query := `
		INSERT INTO endpoints (id, agent_address, base_url, path, method, price_usdc, description, category, is_active)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, true)
		RETURNING id`

	var id string
	err := r.pool.QueryRow(ctx, query,
		e.AgentAddress, e.BaseURL, e.Path, e.Method, e.PriceUSDC, e.Description, e.Category,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("postgres: failed to create endpoint: %w", err)
	}
	return id, nil
}

func (r *Repo) GetEndpoint(ctx context.Context, id string) (*domain.Endpoint, error) {
	query := `SELECT` + endpointColumns + ` FROM endpoints WHERE id = $1`

	e, err := scanEndpoint(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // 404 решает вызывающий
		}
		return nil, err
	}
	return e, nil
}

// GetEndpointByURL — ключ идемпотентности регистрации.
func (r *Repo) GetEndpointByURL(ctx context.Context, baseURL, path string) (*domain.Endpoint, error) {
	query := `SELECT` + endpointColumns + ` FROM endpoints WHERE base_url = $1 AND path = $2`

	e, err := scanEndpoint(r.pool.QueryRow(ctx, query, baseURL, path))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// ListActiveCandidates возвращает ограниченное окно кандидатов на пробу,
// давно не проверенные — первыми (NULL = никогда не проверялся = верх списка).
// Это сознательный trade-off: полный скан активной популяции не выполняется,
// глобально самый старый эндпоинт может не попасть в окно.
func (r *Repo) ListActiveCandidates(ctx context.Context, limit int) ([]*domain.Endpoint, error) {
	query := `
		SELECT` + endpointColumns + `
		FROM endpoints
		WHERE is_active = true
		ORDER BY last_tested_at ASC NULLS FIRST
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func (r *Repo) ListEndpoints(ctx context.Context) ([]*domain.Endpoint, error) {
	query := `SELECT` + endpointColumns + ` FROM endpoints ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// SetEndpointActive включает/выключает эндпоинт (удаления не существует).
func (r *Repo) SetEndpointActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE endpoints SET is_active = $1, updated_at = NOW() WHERE id = $2`

	ct, err := r.pool.Exec(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update endpoint: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: endpoint %s not found", id)
	}
	return nil
}

// UpdateEndpointAggregates записывает пересчитанные рекордером скользящие
// агрегаты. Значения приходят готовыми: формула живет в рекордере, под
// пер-эндпоинтной блокировкой.
func (r *Repo) UpdateEndpointAggregates(
	ctx context.Context,
	id string,
	totalTests, successfulTests int64,
	avgResponseTimeMs, avgQualityScore float64,
	lastTestedAt time.Time,
) error {
	query := `
		UPDATE endpoints
		SET total_tests = $1, successful_tests = $2, avg_response_time_ms = $3,
		    avg_quality_score = $4, last_tested_at = $5, updated_at = NOW()
		WHERE id = $6`

	ct, err := r.pool.Exec(ctx, query,
		totalTests, successfulTests, avgResponseTimeMs, avgQualityScore, lastTestedAt, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update aggregates: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: endpoint %s not found", id)
	}
	return nil
}
