package domain

import "time"

type CredentialType string

const (
	CredCapabilityVerification CredentialType = "capability-verification"
	CredUptimeAttestation      CredentialType = "uptime-attestation"
	CredAPIQualityGrade        CredentialType = "api-quality-grade"
)

// UptimeTier — уровень аттестации аптайма. Порядок важен: Better() опирается
// на единственную таблицу рангов, чтобы логика сравнения не расползалась по
// вызывающим сторонам.
type UptimeTier string

const (
	TierNone   UptimeTier = ""
	TierBronze UptimeTier = "bronze"
	TierSilver UptimeTier = "silver"
	TierGold   UptimeTier = "gold"
)

var tierRank = map[UptimeTier]int{
	TierNone:   0,
	TierBronze: 1,
	TierSilver: 2,
	TierGold:   3,
}

// Better сообщает, строго ли тир t выше, чем other.
func (t UptimeTier) Better(other UptimeTier) bool {
	return tierRank[t] > tierRank[other]
}

// TierForUptime — границы тиров включительные: ровно 99.0% — уже silver.
func TierForUptime(pct float64) UptimeTier {
	switch {
	case pct >= 99.9:
		return TierGold
	case pct >= 99.0:
		return TierSilver
	case pct >= 95.0:
		return TierBronze
	default:
		return TierNone
	}
}

// Credential — выпущенный документ доверия.
// Инварианты:
//   - capability-verification и uptime-attestation: максимум один неистекший
//     документ на агента; повторная квалификация обновляет запись на месте;
//   - api-quality-grade: уникален по паре (агент, дата отчета), не истекает;
//   - записи никогда не удаляются.
type Credential struct {
	ID           string         `json:"id"`
	AgentAddress string         `json:"agent_address"`
	Type         CredentialType `json:"type"`

	// Доказательная база (заполняется по типу документа)
	TestsRun             int        `json:"tests_run,omitempty"`
	VerifiedCapabilities []string   `json:"verified_capabilities,omitempty"`
	Grade                string     `json:"grade,omitempty"`
	ResponseQuality      float64    `json:"response_quality,omitempty"`
	CapabilityAccuracy   float64    `json:"capability_accuracy,omitempty"`
	Consistency          float64    `json:"consistency,omitempty"`
	Documentation        float64    `json:"documentation,omitempty"`
	UptimePercent        float64    `json:"uptime_percent,omitempty"`
	Tier                 UptimeTier `json:"tier,omitempty"`

	ReportDate  time.Time `json:"report_date,omitempty"`  // Ключ для api-quality-grade
	WindowStart time.Time `json:"window_start,omitempty"` // Окно наблюдения аптайма
	WindowEnd   time.Time `json:"window_end,omitempty"`

	IssuedAt   time.Time `json:"issued_at"`
	ValidFrom  time.Time `json:"valid_from,omitempty"`
	ValidUntil time.Time `json:"valid_until,omitempty"` // Zero = бессрочный
}

// Expired сообщает, истек ли документ к моменту now.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ValidUntil.IsZero() && now.After(c.ValidUntil)
}
