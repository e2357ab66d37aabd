package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "trustgate"
)

// Ключи для Sets/Lists (состояние)
const (
	RedisKeyDisabledResources = RedisNamespace + ":resources:disabled_set"
	RedisKeyLockWarmupDisable = RedisNamespace + ":lock:warmup:disabled"
	RedisKeySignatureRecent   = RedisNamespace + ":signatures:recent"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanResourceState — включение/выключение ресурса оператором, "host:port:on|off".
	RedisChanResourceState = RedisNamespace + ":resources:state-signal"
	// RedisChanResourceSync: пул должен перечитать список ресурсов из БД.
	RedisChanResourceSync = RedisNamespace + ":resources:sync"
	// RedisChanHealthRun: ручной запуск проверки здоровья ("run now").
	RedisChanHealthRun = RedisNamespace + ":health:run"
	// RedisChanHubRelay: межинстансная ретрансляция сообщений хаба.
	RedisChanHubRelay = RedisNamespace + ":hub:relay"
)

// SignatureHistoryKey: список отпечатков одного клиента (ограничен по длине).
func SignatureHistoryKey(clientKey string) string {
	return fmt.Sprintf("%s:signatures:client:%s", RedisNamespace, clientKey)
}

// GetWarmupLockKey Генератор ключей для блокировок (если нужны динамические)
func GetWarmupLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:warmup:%s", RedisNamespace, resource)
}
