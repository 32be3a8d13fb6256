package domain

import "time"

type Category string

const (
	CategoryResearch   Category = "research"    // Аналитика, отчеты, выжимки
	CategoryMarketData Category = "market-data" // Цены, котировки, он-чейн данные
	CategorySocial     Category = "social"      // Соцсигналы, упоминания
	CategoryUtility    Category = "utility"     // Конвертеры, валидаторы и прочие тулзы
	CategoryOther      Category = "other"
)

// ValidCategory проверяет значение перед записью в каталог.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryResearch, CategoryMarketData, CategorySocial, CategoryUtility, CategoryOther:
		return true
	}
	return false
}

// Endpoint — запись каталога платных HTTP-эндпоинтов под аудитом.
// Агрегатные поля (TotalTests..LastTestedAt) мутируются ТОЛЬКО рекордером
// по формуле скользящего среднего; пересчет из сырой истории не выполняется.
type Endpoint struct {
	ID           string   `json:"id"`            // UUID
	AgentAddress string   `json:"agent_address"` // Адрес кошелька владельца (идентичность агента)
	BaseURL      string   `json:"base_url"`
	Path         string   `json:"path"`
	Method       string   `json:"method"` // GET или POST
	PriceUSDC    float64  `json:"price_usdc"`
	Description  string   `json:"description"`
	Category     Category `json:"category"`

	// Эндпоинты никогда не удаляются — только деактивируются
	IsActive bool `json:"is_active"`

	// Скользящие агрегаты (владелец записи — Test Recorder)
	TotalTests        int64     `json:"total_tests"`
	SuccessfulTests   int64     `json:"successful_tests"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	AvgQualityScore   float64   `json:"avg_quality_score"`
	LastTestedAt      time.Time `json:"last_tested_at"` // Zero = еще не проверялся (высший приоритет планировщика)

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FullURL собирает адрес для пробы.
func (e *Endpoint) FullURL() string {
	return e.BaseURL + e.Path
}
