package infra

import "fmt"

const (
	// RedisNamespace — базовый префикс для изоляции данных гейта в Redis
	RedisNamespace = "morpho-gate"
)

// Ключи для Sets (состояние)
const (
	RedisKeyConsumedProofs = RedisNamespace + ":proofs:consumed_set"
	RedisKeyRevokedAgents  = RedisNamespace + ":agents:revoked_set"
	RedisKeyLockWarmProofs = RedisNamespace + ":lock:warmup:proofs"
	RedisKeyLockWarmAgents = RedisNamespace + ":lock:warmup:agents"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanRevocation — трансляция отзыва агента на все инстансы гейта.
	RedisChanRevocation = RedisNamespace + ":agents:revocation-signal"
	// RedisChanProofConsumed — синхронизация леджера между инстансами.
	RedisChanProofConsumed = RedisNamespace + ":proofs:consumed-signal"
)

// GetWarmupLockKey — генератор ключей для динамических блокировок прогрева
func GetWarmupLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:warmup:%s", RedisNamespace, resource)
}
