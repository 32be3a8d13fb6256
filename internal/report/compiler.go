package report

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
)

// ErrNoTests — за сутки по агенту не было ни одной пробы; отчет не компилируется.
var ErrNoTests = errors.New("report: no tests for the given day")

type TestStore interface {
	ListTestsByAgentBetween(ctx context.Context, agent string, from, to time.Time) ([]*domain.TestResult, error)
	DistinctAgentsBetween(ctx context.Context, from, to time.Time) ([]string, error)
}

type EndpointStore interface {
	GetEndpoint(ctx context.Context, id string) (*domain.Endpoint, error)
}

type ReportStore interface {
	UpsertDailyReport(ctx context.Context, d *domain.DailyReport) error
	CountFraudSignalsBetween(ctx context.Context, agent string, from, to time.Time) (int, error)
}

// CredentialIssuer дергается синхронно на каждой успешной компиляции —
// документы доверия никогда не должны отражать устаревший отчет.
type CredentialIssuer interface {
	EvaluateReport(ctx context.Context, report *domain.DailyReport)
}

// Compiler сворачивает пробы одного агента за одни календарные сутки в отчет.
type Compiler struct {
	tests       TestStore
	endpoints   EndpointStore
	reports     ReportStore
	credentials CredentialIssuer
	logger      *zap.Logger
}

func NewCompiler(tests TestStore, endpoints EndpointStore, reports ReportStore,
	credentials CredentialIssuer, logger *zap.Logger) *Compiler {
	return &Compiler{
		tests:       tests,
		endpoints:   endpoints,
		reports:     reports,
		credentials: credentials,
		logger:      logger.Named("report"),
	}
}

// Compile собирает отчет за сутки [day, day+24h). day — полночь опорной
// таймзоны. Если проб не было, возвращает ErrNoTests (это пропуск, не сбой).
// На каждой успешной записи синхронно вызывается движок документов доверия.
func (c *Compiler) Compile(ctx context.Context, agent string, day time.Time) (*domain.DailyReport, error) {
	dayEnd := day.Add(24 * time.Hour)

	tests, err := c.tests.ListTestsByAgentBetween(ctx, agent, day, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("report: test fetch failed: %w", err)
	}
	if len(tests) == 0 {
		return nil, ErrNoTests
	}

	report := c.build(ctx, agent, day, tests)

	fraudCount, err := c.reports.CountFraudSignalsBetween(ctx, agent, day, dayEnd)
	if err != nil {
		// Сигналы недоступны — считаем ноль, но отчет не блокируем
		c.logger.Warn("fraud signal count failed", zap.String("agent", agent), zap.Error(err))
		fraudCount = 0
	}
	report.FraudRiskScore = fraudRisk(fraudCount)

	if err := c.reports.UpsertDailyReport(ctx, report); err != nil {
		return nil, fmt.Errorf("report: upsert failed: %w", err)
	}

	c.logger.Info("daily report compiled",
		zap.String("agent", agent),
		zap.Time("date", day),
		zap.Int("tests", report.TestsRun),
		zap.String("grade", report.Grade),
		zap.Int("trustworthiness", report.Trustworthiness))

	if c.credentials != nil {
		c.credentials.EvaluateReport(ctx, report)
	}
	return report, nil
}

func (c *Compiler) build(ctx context.Context, agent string, day time.Time, tests []*domain.TestResult) *domain.DailyReport {
	var (
		successes int
		verified  int
		sumRt     float64
		sumQ      float64
		latencies = make([]float64, 0, len(tests))
	)
	verifiedCaps := map[string]struct{}{}
	failedCaps := map[string]struct{}{}

	for _, t := range tests {
		if t.Success {
			successes++
		}
		if t.CapabilityVerified {
			verified++
		}
		sumRt += float64(t.ResponseTimeMs)
		sumQ += float64(t.QualityScore)
		latencies = append(latencies, float64(t.ResponseTimeMs))

		if cap := c.capabilityOf(ctx, t.EndpointID); cap != "" {
			if t.CapabilityVerified {
				verifiedCaps[cap] = struct{}{}
			} else {
				failedCaps[cap] = struct{}{}
			}
		}
	}

	n := float64(len(tests))
	successRate := float64(successes) / n
	verificationRate := float64(verified) / n
	avgRt := sumRt / n
	avgQ := sumQ / n

	trust := int(math.Round(successRate*40 + verificationRate*40 + avgQ/100*20))
	grade := domain.GradeFor(trust)

	return &domain.DailyReport{
		ID:                   uuid.New().String(),
		AgentAddress:         agent,
		ReportDate:           day,
		TestsRun:             len(tests),
		TestsSucceeded:       successes,
		SuccessRate:          successRate,
		AvgResponseTimeMs:    avgRt,
		AvgQualityScore:      avgQ,
		ConsistencyScore:     consistency(latencies),
		VerifiedCapabilities: sortedKeys(verifiedCaps),
		FailedCapabilities:   sortedKeys(failedCaps),
		Trustworthiness:      trust,
		Grade:                grade,
		Recommendation:       domain.RecommendationFor(grade),
		CompiledAt:           time.Now().UTC(),
	}
}

// capabilityOf — человекочитаемое имя способности: описание эндпоинта,
// за его отсутствием путь.
func (c *Compiler) capabilityOf(ctx context.Context, endpointID string) string {
	ep, err := c.endpoints.GetEndpoint(ctx, endpointID)
	if err != nil || ep == nil {
		c.logger.Warn("endpoint lookup failed during compile", zap.String("endpoint_id", endpointID))
		return ""
	}
	if ep.Description != "" {
		return ep.Description
	}
	return ep.Path
}

// consistency — оценка стабильности времени ответа по коэффициенту вариации:
// round(100 * clamp01(1 - stddev/mean)). Нулевой разброс дает 100,
// разброс не меньше среднего — 0.
func consistency(latencies []float64) int {
	if len(latencies) == 0 {
		return 0
	}
	var sum float64
	for _, v := range latencies {
		sum += v
	}
	mean := sum / float64(len(latencies))
	if mean == 0 {
		return 100
	}

	var sqDiff float64
	for _, v := range latencies {
		d := v - mean
		sqDiff += d * d
	}
	stddev := math.Sqrt(sqDiff / float64(len(latencies)))

	cv := 1 - stddev/mean
	if cv < 0 {
		cv = 0
	}
	if cv > 1 {
		cv = 1
	}
	return int(math.Round(100 * cv))
}

// fraudRisk — каждый сигнал за сутки стоит 25 пунктов, потолок 100.
func fraudRisk(signals int) int {
	risk := signals * 25
	if risk > 100 {
		risk = 100
	}
	return risk
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
