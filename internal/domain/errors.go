package domain

import "errors"

// Таксономия отказов гейта. Каждый отказ — это rollback без частичного
// применения; ретраи не выполняются внутри, это ответственность вызывающего.
var (
	ErrPolicyNotFound      = errors.New("policy not found")
	ErrAgentNotAuthorized  = errors.New("agent not authorized")
	ErrInvalidProof        = errors.New("invalid proof")
	ErrProofExpired        = errors.New("proof expired")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrMarketNotAllowed    = errors.New("market not allowed")
	ErrExceedsSingleTxLimit = errors.New("exceeds single tx limit")
	ErrExceedsDailyLimit   = errors.New("exceeds daily limit")
)

// RejectionKind возвращает машиночитаемый код отказа для API и метрик.
// Пустая строка означает внутреннюю ошибку, а не отказ политики.
func RejectionKind(err error) string {
	switch {
	case errors.Is(err, ErrPolicyNotFound):
		return "policy_not_found"
	case errors.Is(err, ErrAgentNotAuthorized):
		return "agent_not_authorized"
	case errors.Is(err, ErrProofExpired):
		return "proof_expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrInvalidProof):
		return "invalid_proof"
	case errors.Is(err, ErrMarketNotAllowed):
		return "market_not_allowed"
	case errors.Is(err, ErrExceedsSingleTxLimit):
		return "exceeds_single_tx_limit"
	case errors.Is(err, ErrExceedsDailyLimit):
		return "exceeds_daily_limit"
	default:
		return ""
	}
}

// IsRejection отличает отказ гейта (4xx для клиента) от сбоя инфраструктуры.
func IsRejection(err error) bool {
	return RejectionKind(err) != ""
}
