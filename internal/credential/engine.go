package credential

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-trust-auditor/internal/domain"
	"github.com/xela07ax/agent-trust-auditor/internal/engine"
)

// CapabilityValidityDays — окно действия capability-verification.
const CapabilityValidityDays = 30

// UptimeWindowDays — трейлинг-окно аттестации аптайма.
const UptimeWindowDays = 7

// Минимальные объемы доказательной базы.
const (
	minTestsCapability = 5
	minTestsGrade      = 3
)

type Store interface {
	InsertCredential(ctx context.Context, c *domain.Credential) error
	UpdateCredential(ctx context.Context, c *domain.Credential) error
	GetActiveCredential(ctx context.Context, agent string, ctype domain.CredentialType, now time.Time) (*domain.Credential, error)
	GetCredentialByReportDate(ctx context.Context, agent string, ctype domain.CredentialType, date time.Time) (*domain.Credential, error)
}

type ReportStore interface {
	ListReportWindow(ctx context.Context, agent string, endDate time.Time, days int) ([]*domain.DailyReport, error)
}

// Action — что именно сделало правило.
type Action string

const (
	ActionIssued    Action = "issued"
	ActionRefreshed Action = "refreshed"
	ActionSkipped   Action = "skipped" // Пороги не пройдены
	ActionFailed    Action = "failed"
)

// Outcome — независимый результат одного правила.
type Outcome struct {
	Type   domain.CredentialType
	Action Action
	Err    error
}

// Engine выпускает и обновляет документы доверия по свежескомпилированному
// отчету. Три правила независимы: сбой одного не блокирует остальные.
type Engine struct {
	store   Store
	reports ReportStore
	metrics *engine.Metrics
	logger  *zap.Logger

	// Подменяется в тестах
	now func() time.Time
}

func NewEngine(store Store, reports ReportStore, metrics *engine.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		store:   store,
		reports: reports,
		metrics: metrics,
		logger:  logger.Named("credential"),
		now:     time.Now,
	}
}

// EvaluateReport — точка входа для компилятора отчетов (синхронный вызов).
func (e *Engine) EvaluateReport(ctx context.Context, report *domain.DailyReport) {
	e.Evaluate(ctx, report)
}

// Evaluate прогоняет все три правила и возвращает их исходы.
func (e *Engine) Evaluate(ctx context.Context, report *domain.DailyReport) []Outcome {
	outcomes := []Outcome{
		e.capabilityRule(ctx, report),
		e.qualityGradeRule(ctx, report),
		e.uptimeRule(ctx, report),
	}

	for _, o := range outcomes {
		switch o.Action {
		case ActionIssued, ActionRefreshed:
			e.metrics.CredentialsTotal.WithLabelValues(string(o.Type), string(o.Action)).Inc()
			e.logger.Info("credential rule applied",
				zap.String("agent", report.AgentAddress),
				zap.String("type", string(o.Type)),
				zap.String("action", string(o.Action)))
		case ActionFailed:
			e.logger.Error("credential rule failed",
				zap.String("agent", report.AgentAddress),
				zap.String("type", string(o.Type)),
				zap.Error(o.Err))
		}
	}
	return outcomes
}

// capabilityRule: testsRun >= 5 и хотя бы одна верифицированная способность.
// Валидность — ровно 30 дней от компиляции отчета. Неистекший документ
// обновляется на месте, дубль не создается.
func (e *Engine) capabilityRule(ctx context.Context, report *domain.DailyReport) Outcome {
	out := Outcome{Type: domain.CredCapabilityVerification}

	if report.TestsRun < minTestsCapability || len(report.VerifiedCapabilities) == 0 {
		out.Action = ActionSkipped
		return out
	}

	issuedAt := report.CompiledAt
	validUntil := issuedAt.AddDate(0, 0, CapabilityValidityDays)

	existing, err := e.store.GetActiveCredential(ctx, report.AgentAddress, domain.CredCapabilityVerification, e.now())
	if err != nil {
		return Outcome{Type: out.Type, Action: ActionFailed, Err: err}
	}

	if existing != nil {
		existing.TestsRun = report.TestsRun
		existing.VerifiedCapabilities = report.VerifiedCapabilities
		existing.IssuedAt = issuedAt
		existing.ValidFrom = issuedAt
		existing.ValidUntil = validUntil
		if err := e.store.UpdateCredential(ctx, existing); err != nil {
			return Outcome{Type: out.Type, Action: ActionFailed, Err: err}
		}
		out.Action = ActionRefreshed
		return out
	}

	c := &domain.Credential{
		ID:                   uuid.New().String(),
		AgentAddress:         report.AgentAddress,
		Type:                 domain.CredCapabilityVerification,
		TestsRun:             report.TestsRun,
		VerifiedCapabilities: report.VerifiedCapabilities,
		IssuedAt:             issuedAt,
		ValidFrom:            issuedAt,
		ValidUntil:           validUntil,
	}
	if err := e.store.InsertCredential(ctx, c); err != nil {
		return Outcome{Type: out.Type, Action: ActionFailed, Err: err}
	}
	out.Action = ActionIssued
	return out
}

// qualityGradeRule: testsRun >= 3, ключ уникальности — (агент, дата отчета),
// не истекает. Документационная компонента — прокси-смесь точности и качества
// (0.6/0.4), пока нет настоящего сигнала о документации.
func (e *Engine) qualityGradeRule(ctx context.Context, report *domain.DailyReport) Outcome {
	out := Outcome{Type: domain.CredAPIQualityGrade}

	if report.TestsRun < minTestsGrade {
		out.Action = ActionSkipped
		return out
	}

	accuracy := report.SuccessRate * 100
	quality := report.AvgQualityScore

	existing, err := e.store.GetCredentialByReportDate(ctx, report.AgentAddress, domain.CredAPIQualityGrade, report.ReportDate)
	if err != nil {
		return Outcome{Type: out.Type, Action: ActionFailed, Err: err}
	}

	apply := func(c *domain.Credential) {
		c.TestsRun = report.TestsRun
		c.Grade = report.Grade
		c.ResponseQuality = quality
		c.CapabilityAccuracy = accuracy
		c.Consistency = float64(report.ConsistencyScore)
		c.Documentation = 0.6*accuracy + 0.4*quality
		c.IssuedAt = report.CompiledAt
	}

	if existing != nil {
		apply(existing)
		if err := e.store.UpdateCredential(ctx, existing); err != nil {
			return Outcome{Type: out.Type, Action: ActionFailed, Err: err}
		}
		out.Action = ActionRefreshed
		return out
	}

	c := &domain.Credential{
		ID:           uuid.New().String(),
		AgentAddress: report.AgentAddress,
		Type:         domain.CredAPIQualityGrade,
		ReportDate:   report.ReportDate,
	}
	apply(c)
	if err := e.store.InsertCredential(ctx, c); err != nil {
		return Outcome{Type: out.Type, Action: ActionFailed, Err: err}
	}
	out.Action = ActionIssued
	return out
}

// uptimeRule: требует полных 7 дневных отчетов в трейлинг-окне. Тир того же
// или более высокого уровня обновляется на месте (rolling-документ); строго
// лучший тир порождает отдельную новую запись — исторические тиры
// сосуществуют с текущим.
func (e *Engine) uptimeRule(ctx context.Context, report *domain.DailyReport) Outcome {
	out := Outcome{Type: domain.CredUptimeAttestation}

	window, err := e.reports.ListReportWindow(ctx, report.AgentAddress, report.ReportDate, UptimeWindowDays)
	if err != nil {
		return Outcome{Type: out.Type, Action: ActionFailed, Err: err}
	}
	if len(window) < UptimeWindowDays {
		out.Action = ActionSkipped
		return out
	}

	var totalRun, totalOK int
	for _, d := range window {
		totalRun += d.TestsRun
		totalOK += d.TestsSucceeded
	}
	if totalRun == 0 {
		out.Action = ActionSkipped
		return out
	}

	uptimePct := float64(totalOK) / float64(totalRun) * 100
	tier := domain.TierForUptime(uptimePct)
	if tier == domain.TierNone {
		out.Action = ActionSkipped
		return out
	}

	windowStart := report.ReportDate.AddDate(0, 0, -(UptimeWindowDays - 1))

	existing, err := e.store.GetActiveCredential(ctx, report.AgentAddress, domain.CredUptimeAttestation, e.now())
	if err != nil {
		return Outcome{Type: out.Type, Action: ActionFailed, Err: err}
	}

	if existing != nil && !tier.Better(existing.Tier) {
		// Тот же или более низкий тир — освежаем окно и issued_at
		existing.UptimePercent = uptimePct
		existing.TestsRun = totalRun
		existing.WindowStart = windowStart
		existing.WindowEnd = report.ReportDate
		existing.IssuedAt = e.now()
		if err := e.store.UpdateCredential(ctx, existing); err != nil {
			return Outcome{Type: out.Type, Action: ActionFailed, Err: err}
		}
		out.Action = ActionRefreshed
		return out
	}

	c := &domain.Credential{
		ID:            uuid.New().String(),
		AgentAddress:  report.AgentAddress,
		Type:          domain.CredUptimeAttestation,
		TestsRun:      totalRun,
		UptimePercent: uptimePct,
		Tier:          tier,
		WindowStart:   windowStart,
		WindowEnd:     report.ReportDate,
		IssuedAt:      e.now(),
		ValidFrom:     e.now(),
	}
	if err := e.store.InsertCredential(ctx, c); err != nil {
		return Outcome{Type: out.Type, Action: ActionFailed, Err: err}
	}
	out.Action = ActionIssued
	return out
}
