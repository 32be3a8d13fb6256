package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "auditor"
)

// Ключи для Sets (состояние) и блокировок
const (
	// Агенты, исключенные оператором из цикла проб
	RedisKeySuppressedAgents = RedisNamespace + ":agents:suppressed_set"
	RedisKeyLockSuppressed   = RedisNamespace + ":lock:warmup:suppressed"

	// Распределенные блокировки запусков (только один инстанс гоняет джобу)
	RedisKeyLockHourlyRun = RedisNamespace + ":lock:run:hourly"
	RedisKeyLockDailyRun  = RedisNamespace + ":lock:run:daily"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanSuppression — трансляция решений оператора о паузе аудита агента
	RedisChanSuppression = RedisNamespace + ":agents:suppression-signal"
)

// GetRunLockKey Генератор ключей блокировок для именованных джобов
func GetRunLockKey(job string) string {
	return fmt.Sprintf("%s:lock:run:%s", RedisNamespace, job)
}
