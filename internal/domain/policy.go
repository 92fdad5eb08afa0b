package domain

// OperationType — тип операции над кредитным протоколом.
type OperationType string

const (
	OpSupply   OperationType = "SUPPLY"
	OpBorrow   OperationType = "BORROW"
	OpWithdraw OperationType = "WITHDRAW"
	OpRepay    OperationType = "REPAY"
)

// Коды операций для public inputs доказательства (фиксированная ширина).
const (
	opCodeSupply   byte = 1
	opCodeBorrow   byte = 2
	opCodeWithdraw byte = 3
	opCodeRepay    byte = 4
)

// Code возвращает байтовый код операции для кодирования в public inputs.
// Неизвестная операция кодируется нулем — такой ввод гейт отвергнет при сверке.
func (o OperationType) Code() byte {
	switch o {
	case OpSupply:
		return opCodeSupply
	case OpBorrow:
		return opCodeBorrow
	case OpWithdraw:
		return opCodeWithdraw
	case OpRepay:
		return opCodeRepay
	default:
		return 0
	}
}

// OperationFromCode — обратное преобразование при декодировании public inputs.
func OperationFromCode(code byte) (OperationType, bool) {
	switch code {
	case opCodeSupply:
		return OpSupply, true
	case opCodeBorrow:
		return OpBorrow, true
	case opCodeWithdraw:
		return OpWithdraw, true
	case opCodeRepay:
		return OpRepay, true
	default:
		return "", false
	}
}

// SpendingPolicy — неизменяемый набор лимитов, под который авторизуется агент.
// После регистрации политика никогда не мутирует: «обновление» — это регистрация
// новой политики и повторная авторизация агента под новый хеш.
type SpendingPolicy struct {
	// Лимиты в минимальных единицах валюты займа
	DailyLimit  uint64 `json:"daily_limit"`
	MaxSingleTx uint64 `json:"max_single_tx"`

	// Риск-границы. Гейт их НЕ пересчитывает: они аттестуются внутри
	// zkML-доказательства и входят в хеш-коммитмент политики.
	MaxLTV          uint64 `json:"max_ltv"`           // basis points
	MinHealthFactor uint64 `json:"min_health_factor"` // 1e4-scaled

	// Белый список рынков (порядок не важен, при хешировании нормализуется)
	AllowedMarkets []string `json:"allowed_markets"`

	// Какие операции требуют проверки лимитов. Само доказательство
	// валидируется всегда, флаги управляют только LimitEnforcer'ом.
	RequireProofForSupply   bool `json:"require_proof_for_supply"`
	RequireProofForBorrow   bool `json:"require_proof_for_borrow"`
	RequireProofForWithdraw bool `json:"require_proof_for_withdraw"`
}

// AllowsMarket проверяет вхождение рынка в белый список политики.
func (p SpendingPolicy) AllowsMarket(marketID string) bool {
	for _, m := range p.AllowedMarkets {
		if EqualID(m, marketID) {
			return true
		}
	}
	return false
}
