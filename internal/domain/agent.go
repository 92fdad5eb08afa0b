package domain

import (
	"strings"
	"time"
)

// AgentConfig — запись авторизации агента. Одна запись на идентичность агента,
// перезаписывается при повторной авторизации владельцем.
type AgentConfig struct {
	Agent      string    `json:"agent"`
	Owner      string    `json:"owner"`
	PolicyHash string    `json:"policy_hash"`
	DailySpent uint64    `json:"daily_spent"`
	LastReset  time.Time `json:"last_reset"`
	IsActive   bool      `json:"is_active"`

	// Ed25519 публичный ключ агента для проверки подписи над (proofID, nonce).
	// Регистрируется владельцем вместе с авторизацией.
	SigningKey []byte `json:"signing_key"`
}

// EqualID сравнивает идентификаторы (адреса, хеши) без учета регистра hex.
func EqualID(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
