package audit

import "time"

// Типы событий гейта. Каждое изменение состояния оставляет след.
const (
	EventPolicyRegistered  = "POLICY_REGISTERED"
	EventAgentAuthorized   = "AGENT_AUTHORIZED"
	EventAgentRevoked      = "AGENT_REVOKED"
	EventProofVerified     = "PROOF_VERIFIED"
	EventSupplyExecuted    = "SUPPLY_EXECUTED"
	EventBorrowExecuted    = "BORROW_EXECUTED"
	EventWithdrawExecuted  = "WITHDRAW_EXECUTED"
	EventRepayExecuted     = "REPAY_EXECUTED"
	EventOperationRejected = "OPERATION_REJECTED"
)

type Event struct {
	ID      string `json:"id"`       // UUID события
	TraceID string `json:"trace_id"` // Сквозной ID запроса
	Type    string `json:"type"`

	Agent      string `json:"agent"`
	Owner      string `json:"owner,omitempty"`
	PolicyHash string `json:"policy_hash,omitempty"`
	ProofID    string `json:"proof_id,omitempty"`

	Operation string `json:"operation,omitempty"`
	Market    string `json:"market,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`

	Status     string    `json:"status"` // "OK" либо код отказа
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Recorder — вход аудита для остальных компонентов гейта.
type Recorder interface {
	Record(event Event)
}

// Nop используется в тестах и как заглушка при выключенном аудите.
type Nop struct{}

func (Nop) Record(Event) {}
