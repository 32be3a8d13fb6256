package executor

// Базовые оценки качества по исходу пробы. Итоговая оценка — базовая
// плюс поправка за латентность, с зажимом в [0, 100].
const (
	QualityPaid     = 100 // Оплаченный ретрай вернул 200
	QualityFree     = 80  // 200 без требования оплаты
	QualityDeclined = 80  // Валидное предложение дороже предохранителя — не платим
	QualityDegraded = 60  // Эндпоинт жив, но протокол/оплата не сложились
	QualityHTTPErr  = 20  // Завершенный ответ с ошибочным статусом
	QualityFailed   = 0   // Транспортная ошибка или таймаут
)

// Пороги поправки за латентность.
const (
	fastProbeMs = 500
	slowProbeMs = 5000
)

// AdjustForLatency — чистая функция пост-оценки: быстрый ответ поощряется,
// медленный штрафуется, результат зажимается в допустимый диапазон.
func AdjustForLatency(score int, latencyMs int64) int {
	switch {
	case latencyMs < fastProbeMs:
		score += 10
	case latencyMs > slowProbeMs:
		score -= 10
	}
	return clampScore(score)
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
