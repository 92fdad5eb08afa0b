package gate

/*
Файл gate.go — ядро принятия решения по доказательству.

Validate — строгий упорядоченный гейт: проверки идут от дешевых к дорогим,
любой провал прерывает цепочку без единой мутации состояния. Доказательство
НЕ сжигается при отказе: валидное доказательство, отбитое по посторонней
причине (например, неактивный агент), остается пригодным после исправления.
Потребление (шаг 8) выполняет диспетчер внутри per-agent критической секции,
одним шагом с исполнением операции.
*/

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/hshadab/morpho/internal/domain"
	"github.com/hshadab/morpho/internal/ledger"
	"github.com/hshadab/morpho/internal/registry"
	"go.uber.org/zap"
)

// VerifierOracle — внешний zkML verifier. Для гейта это чистая функция:
// никаких побочных эффектов, "unknown" трактуется как "invalid".
type VerifierOracle interface {
	Verify(ctx context.Context, proof []byte, publicInputs []domain.Word, policyHash string) (bool, error)
}

type ProofGate struct {
	agents *registry.Registry
	ledger *ledger.Ledger
	oracle VerifierOracle

	verifyWrap *Wrapper

	freshness time.Duration // Окно свежести доказательства
	maxSkew   time.Duration // Допуск на рассинхрон часов

	now     func() time.Time // Инъекция часов для тестов
	metrics *Metrics
	logger  *zap.Logger
}

func NewProofGate(
	agents *registry.Registry,
	lg *ledger.Ledger,
	oracle VerifierOracle,
	verifyWrap *Wrapper,
	freshness, maxSkew time.Duration,
	metrics *Metrics,
	logger *zap.Logger,
) *ProofGate {
	if freshness <= 0 {
		freshness = 5 * time.Minute
	}
	if maxSkew <= 0 {
		maxSkew = 30 * time.Second
	}
	return &ProofGate{
		agents:     agents,
		ledger:     lg,
		oracle:     oracle,
		verifyWrap: verifyWrap,
		freshness:  freshness,
		maxSkew:    maxSkew,
		now:        time.Now,
		metrics:    metrics,
		logger:     logger.Named("proof-gate"),
	}
}

// SetClock подменяет источник времени (только тесты).
func (g *ProofGate) SetClock(now func() time.Time) { g.now = now }

// Validate прогоняет проверки 1–7 спорного пути. Возвращает снапшот конфига
// агента и аттестованное намерение; состояние не мутирует.
func (g *ProofGate) Validate(
	ctx context.Context,
	agentID string,
	proof domain.SpendingProof,
	op domain.OperationType,
	amount uint64,
	market string,
) (domain.AgentConfig, domain.ProofIntent, error) {
	var intent domain.ProofIntent

	// 1. Агент должен существовать и быть активным
	cfg, ok := g.agents.Get(agentID)
	if !ok || !cfg.IsActive {
		return cfg, intent, fmt.Errorf("%w: agent %s is not active", domain.ErrAgentNotAuthorized, agentID)
	}

	// 2. Replay: идентификатор доказательства уже в леджере
	proofID := proof.ID()
	if g.ledger.IsConsumed(proofID) {
		return cfg, intent, fmt.Errorf("%w: proof %s already consumed", domain.ErrInvalidProof, proofID)
	}

	// 3. Свежесть: просроченные и «из будущего» отбиваем одинаково жестко
	now := g.now()
	age := now.Sub(proof.Timestamp)
	if age > g.freshness {
		return cfg, intent, fmt.Errorf("%w: proof is %s old (window %s)", domain.ErrProofExpired, age, g.freshness)
	}
	if proof.Timestamp.After(now.Add(g.maxSkew)) {
		return cfg, intent, fmt.Errorf("%w: proof timestamp is in the future", domain.ErrProofExpired)
	}

	// 4. Внешний verifier-оракул. Таймаут и сбой консервативно считаем
	// невалидностью: "unknown" никогда не превращается в "valid"
	var valid bool
	verify := func(ctx context.Context) error {
		v, err := g.oracle.Verify(ctx, proof.Proof, proof.PublicInputs, proof.PolicyHash)
		if err != nil {
			return err
		}
		valid = v
		return nil
	}
	var err error
	if g.verifyWrap != nil {
		err = g.verifyWrap.Do(ctx, verify)
	} else {
		err = verify(ctx)
	}
	if err != nil {
		g.logger.Warn("verifier oracle unavailable",
			zap.String("agent", agentID), zap.Error(err))
		return cfg, intent, fmt.Errorf("%w: verifier unavailable: %v", domain.ErrInvalidProof, err)
	}
	if !valid {
		return cfg, intent, fmt.Errorf("%w: verifier rejected proof", domain.ErrInvalidProof)
	}

	// 5. Доказательство должно целиться в ТЕКУЩУЮ политику агента,
	// а не в любую когда-либо зарегистрированную
	if !domain.EqualID(proof.PolicyHash, cfg.PolicyHash) {
		return cfg, intent, fmt.Errorf("%w: proof targets policy %s, agent is bound to %s",
			domain.ErrInvalidProof, proof.PolicyHash, cfg.PolicyHash)
	}

	// 6. Привязка метаданных: аттестованное намерение обязано совпадать
	// с фактическими параметрами вызова. Иначе валидное доказательство
	// одной операции можно было бы переиграть против другой.
	intent, err = proof.DecodeIntent()
	if err != nil {
		return cfg, intent, err
	}
	if intent.Operation != op {
		return cfg, intent, fmt.Errorf("%w: attested operation %s, actual %s",
			domain.ErrInvalidProof, intent.Operation, op)
	}
	if intent.Amount != amount {
		return cfg, intent, fmt.Errorf("%w: attested amount %d, actual %d",
			domain.ErrInvalidProof, intent.Amount, amount)
	}
	if !domain.EqualID(intent.Market, market) {
		return cfg, intent, fmt.Errorf("%w: attested market %s, actual %s",
			domain.ErrInvalidProof, intent.Market, market)
	}
	if !domain.EqualID(intent.Agent, agentID) {
		return cfg, intent, fmt.Errorf("%w: attested agent %s, actual %s",
			domain.ErrInvalidProof, intent.Agent, agentID)
	}

	// 7. Подпись агента над (proofID, nonce) его зарегистрированным ключом
	digest := domain.SignedDigest(proofID, intent.Nonce)
	if len(cfg.SigningKey) != ed25519.PublicKeySize ||
		!ed25519.Verify(ed25519.PublicKey(cfg.SigningKey), digest, proof.Signature) {
		return cfg, intent, fmt.Errorf("%w: agent signature does not verify", domain.ErrInvalidSignature)
	}

	return cfg, intent, nil
}
