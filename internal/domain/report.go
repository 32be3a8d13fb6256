package domain

import "time"

// DailyReport — агрегат всех проб одного агента за один календарный день.
// Пара (AgentAddress, ReportDate) уникальна: повторная компиляция за ту же
// дату перезаписывает все производные поля на месте (idempotent upsert).
type DailyReport struct {
	ID           string    `json:"id"`
	AgentAddress string    `json:"agent_address"`
	ReportDate   time.Time `json:"report_date"` // Полночь опорной таймзоны

	TestsRun       int     `json:"tests_run"`
	TestsSucceeded int     `json:"tests_succeeded"`
	SuccessRate    float64 `json:"success_rate"` // 0..1

	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	AvgQualityScore   float64 `json:"avg_quality_score"`

	// Консистентность времени ответа: 100 при нулевом разбросе,
	// 0 когда stddev >= mean (коэффициент вариации >= 1)
	ConsistencyScore int `json:"consistency_score"`

	VerifiedCapabilities []string `json:"verified_capabilities"`
	FailedCapabilities   []string `json:"failed_capabilities"`

	Trustworthiness int    `json:"trustworthiness"` // 0–100, веса 40/40/20
	Grade           string `json:"grade"`           // A..F по порогам 90/80/70/60
	FraudRiskScore  int    `json:"fraud_risk_score"`
	Recommendation  string `json:"recommendation"`

	CompiledAt time.Time `json:"compiled_at"`
}

// Пороговые значения грейдов. Грейд считается от Trustworthiness.
func GradeFor(trustworthiness int) string {
	switch {
	case trustworthiness >= 90:
		return "A"
	case trustworthiness >= 80:
		return "B"
	case trustworthiness >= 70:
		return "C"
	case trustworthiness >= 60:
		return "D"
	default:
		return "F"
	}
}

// RecommendationFor возвращает фиксированный текст рекомендации по грейду.
func RecommendationFor(grade string) string {
	switch grade {
	case "A":
		return "Highly reliable. Safe to integrate for production workloads."
	case "B":
		return "Reliable. Suitable for most workloads; monitor occasional failures."
	case "C":
		return "Acceptable. Use with fallbacks and verify critical responses."
	case "D":
		return "Unstable. Not recommended without a backup provider."
	default:
		return "Unreliable. Avoid until the operator addresses failing checks."
	}
}

// FraudSignalType классифицирует источник сигнала.
type FraudSignalType string

const (
	FraudSelfDealing       FraudSignalType = "self_dealing" // Накрутка объемов своими же кошельками
	FraudFakeVolume        FraudSignalType = "fake_volume"  // Подозрительные паттерны трафика
	FraudPriceManipulation FraudSignalType = "price_manipulation"
	FraudImpersonation     FraudSignalType = "impersonation" // Выдает себя за другого агента
	FraudOtherSignal       FraudSignalType = "other"
)

type FraudSeverity string

const (
	SeverityLow      FraudSeverity = "low"
	SeverityMedium   FraudSeverity = "medium"
	SeverityHigh     FraudSeverity = "high"
	SeverityCritical FraudSeverity = "critical"
)

// FraudSignal — append-only улика. Никогда не мутируется и не удаляется.
type FraudSignal struct {
	ID           string          `json:"id"`
	AgentAddress string          `json:"agent_address"`
	SignalType   FraudSignalType `json:"signal_type"`
	Severity     FraudSeverity   `json:"severity"`
	Evidence     string          `json:"evidence"`
	DetectedAt   time.Time       `json:"detected_at"`
}
