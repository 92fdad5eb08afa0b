package gate

/*
Файл dispatcher.go — диспетчер операций: последний рубеж перед внешним протоколом.

Последовательность для каждой операции:
ProofGate (всегда) -> LimitEnforcer (по флагам политики) -> вызов протокола ->
коммит (потребление доказательства + перезапись счетчиков) -> события.

Вся цепочка от входа в гейт до коммита идет под per-agent критической секцией:
два конкурентных запроса одного агента не могут прочитать один и тот же
dailySpent или одно и то же isConsumed == false (TOCTOU). Операции разных
агентов независимы и идут параллельно.

Откат: любой сбой (включая сбой протокола) оставляет состояние нетронутым —
нет «потребленного доказательства при неисполненном вызове», нет «обновленного
расхода при упавшем вызове».
*/

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hshadab/morpho/internal/audit"
	"github.com/hshadab/morpho/internal/domain"
	"github.com/hshadab/morpho/internal/ledger"
	"github.com/hshadab/morpho/internal/policy"
	"github.com/hshadab/morpho/internal/registry"
	"go.uber.org/zap"
)

// LendingProtocol — внешний кредитный протокол. Возвращаемые значения —
// shares либо assets, по семантике конкретной операции.
type LendingProtocol interface {
	Supply(ctx context.Context, market string, amount uint64, onBehalf string) (uint64, error)
	Borrow(ctx context.Context, market string, amount uint64, onBehalf, receiver string) (uint64, error)
	Withdraw(ctx context.Context, market string, amount uint64, onBehalf, receiver string) (uint64, error)
	Repay(ctx context.Context, market string, amount uint64, onBehalf string) (uint64, error)
}

// Request — полный запрос агента на операцию с доказательством.
type Request struct {
	TraceID   string
	Agent     string
	Operation domain.OperationType
	Market    string
	Amount    uint64
	OnBehalf  string
	Receiver  string
	Proof     domain.SpendingProof
}

// Result — итог успешной операции.
type Result struct {
	ProofID        string `json:"proof_id"`
	AssetsOrShares uint64 `json:"assets_or_shares"`
}

type Dispatcher struct {
	gate     *ProofGate
	limits   *LimitEnforcer
	policies *policy.Store
	agents   *registry.Registry
	ledger   *ledger.Ledger

	protocol  LendingProtocol
	protoWrap *Wrapper

	// Per-agent критические секции
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	metrics *Metrics
	auditor audit.Recorder
	logger  *zap.Logger
}

func NewDispatcher(
	g *ProofGate,
	limits *LimitEnforcer,
	policies *policy.Store,
	agents *registry.Registry,
	lg *ledger.Ledger,
	protocol LendingProtocol,
	protoWrap *Wrapper,
	metrics *Metrics,
	auditor audit.Recorder,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		gate:      g,
		limits:    limits,
		policies:  policies,
		agents:    agents,
		ledger:    lg,
		protocol:  protocol,
		protoWrap: protoWrap,
		locks:     make(map[string]*sync.Mutex),
		metrics:   metrics,
		auditor:   auditor,
		logger:    logger.Named("dispatcher"),
	}
}

// Execute проводит операцию через весь конвейер гейта.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (Result, error) {
	d.metrics.OperationsTotal.WithLabelValues(req.Agent, string(req.Operation)).Inc()
	start := time.Now()

	status := "OK"
	defer func() {
		d.metrics.OperationDuration.
			WithLabelValues(string(req.Operation), status).
			Observe(time.Since(start).Seconds())
	}()

	// Критическая секция на агента: от входа в гейт до коммита
	unlock := d.lockAgent(req.Agent)
	defer unlock()

	result, err := d.execute(ctx, req, start)
	if err != nil {
		kind := domain.RejectionKind(err)
		if kind == "" {
			status = "FAILED"
		} else {
			status = kind
			d.metrics.RejectionsTotal.WithLabelValues(kind).Inc()
		}
		d.auditor.Record(audit.Event{
			ID:         uuid.New().String(),
			TraceID:    req.TraceID,
			Type:       audit.EventOperationRejected,
			Agent:      req.Agent,
			Operation:  string(req.Operation),
			Market:     req.Market,
			Amount:     req.Amount,
			ProofID:    req.Proof.ID(),
			Status:     status,
			Error:      err.Error(),
			DurationMs: time.Since(start).Milliseconds(),
		})
		return Result{}, err
	}
	return result, nil
}

func (d *Dispatcher) execute(ctx context.Context, req Request, start time.Time) (Result, error) {
	// 1. Гейт доказательства — безусловно для всех четырех операций
	cfg, intent, err := d.gate.Validate(ctx, req.Agent, req.Proof, req.Operation, req.Amount, req.Market)
	if err != nil {
		return Result{}, err
	}

	pol, ok := d.policies.Get(cfg.PolicyHash)
	if !ok {
		// Запись агента ссылается на политику, которой нет в реестре —
		// рассинхрон хранилищ, операцию не пропускаем
		return Result{}, fmt.Errorf("%w: agent is bound to unregistered policy %s",
			domain.ErrPolicyNotFound, cfg.PolicyHash)
	}

	// 2. Лимиты — по флагам политики. Borrow проверяется всегда,
	// Supply/Withdraw по своим флагам, Repay — никогда (гашение долга
	// не является расходом).
	if limitsRequired(req.Operation, pol) {
		if err := d.limits.Check(cfg, pol, req.Amount, req.Market); err != nil {
			return Result{}, err
		}
	}

	// 3. Вызов внешнего протокола. До коммита: упавший вызов не должен
	// оставить ни потребленного доказательства, ни обновленных счетчиков.
	out, err := d.callProtocol(ctx, req)
	if err != nil {
		d.logger.Error("protocol call failed",
			zap.String("agent", req.Agent),
			zap.String("operation", string(req.Operation)),
			zap.Error(err))
		return Result{}, fmt.Errorf("protocol %s failed: %w", req.Operation, err)
	}

	// 4. Коммит: reset-then-add по окну, потребление доказательства.
	// Все еще под per-agent секцией — атомарно относительно других операций.
	newSpent := cfg.DailySpent
	resetAt := cfg.LastReset
	if d.limits.WindowElapsed(cfg) {
		newSpent = 0
		resetAt = d.limits.now()
	}
	if countsAsSpend(req.Operation) {
		newSpent += req.Amount
	}
	if err := d.agents.CommitSpend(ctx, req.Agent, newSpent, resetAt); err != nil {
		return Result{}, err
	}

	proofID := req.Proof.ID()
	if err := d.ledger.Consume(ctx, proofID); err != nil {
		return Result{}, err
	}
	d.metrics.ProofsConsumed.Inc()

	// 5. События: доказательство проверено + операция исполнена
	now := time.Now()
	d.auditor.Record(audit.Event{
		ID:         uuid.New().String(),
		TraceID:    req.TraceID,
		Type:       audit.EventProofVerified,
		Agent:      req.Agent,
		PolicyHash: cfg.PolicyHash,
		ProofID:    proofID,
		Status:     "OK",
		Timestamp:  now,
	})
	d.auditor.Record(audit.Event{
		ID:         uuid.New().String(),
		TraceID:    req.TraceID,
		Type:       executedEvent(req.Operation),
		Agent:      req.Agent,
		Owner:      cfg.Owner,
		PolicyHash: cfg.PolicyHash,
		ProofID:    proofID,
		Operation:  string(req.Operation),
		Market:     req.Market,
		Amount:     req.Amount,
		Status:     "OK",
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  now,
	})

	d.logger.Info("operation executed",
		zap.String("agent", req.Agent),
		zap.String("operation", string(req.Operation)),
		zap.String("market", req.Market),
		zap.Uint64("amount", req.Amount),
		zap.String("proof_id", proofID),
		zap.Uint64("nonce", intent.Nonce),
	)

	return Result{ProofID: proofID, AssetsOrShares: out}, nil
}

func (d *Dispatcher) callProtocol(ctx context.Context, req Request) (uint64, error) {
	var out uint64
	call := func(ctx context.Context) error {
		var err error
		switch req.Operation {
		case domain.OpSupply:
			out, err = d.protocol.Supply(ctx, req.Market, req.Amount, req.OnBehalf)
		case domain.OpBorrow:
			out, err = d.protocol.Borrow(ctx, req.Market, req.Amount, req.OnBehalf, req.Receiver)
		case domain.OpWithdraw:
			out, err = d.protocol.Withdraw(ctx, req.Market, req.Amount, req.OnBehalf, req.Receiver)
		case domain.OpRepay:
			out, err = d.protocol.Repay(ctx, req.Market, req.Amount, req.OnBehalf)
		default:
			err = fmt.Errorf("%w: unknown operation %q", domain.ErrInvalidProof, req.Operation)
		}
		return err
	}

	if d.protoWrap != nil {
		return out, d.protoWrap.Do(ctx, call)
	}
	return out, call(ctx)
}

// lockAgent возвращает unlock для per-agent критической секции.
func (d *Dispatcher) lockAgent(agent string) func() {
	d.locksMu.Lock()
	mu, ok := d.locks[agent]
	if !ok {
		mu = &sync.Mutex{}
		d.locks[agent] = mu
	}
	d.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// limitsRequired: Borrow — всегда, Supply/Withdraw — по флагу, Repay — никогда.
func limitsRequired(op domain.OperationType, p domain.SpendingPolicy) bool {
	switch op {
	case domain.OpBorrow:
		return true
	case domain.OpSupply:
		return p.RequireProofForSupply
	case domain.OpWithdraw:
		return p.RequireProofForWithdraw
	case domain.OpRepay:
		return false
	default:
		return true
	}
}

// countsAsSpend: гашение долга расходом не считается.
func countsAsSpend(op domain.OperationType) bool {
	return op != domain.OpRepay
}

func executedEvent(op domain.OperationType) string {
	switch op {
	case domain.OpSupply:
		return audit.EventSupplyExecuted
	case domain.OpBorrow:
		return audit.EventBorrowExecuted
	case domain.OpWithdraw:
		return audit.EventWithdrawExecuted
	case domain.OpRepay:
		return audit.EventRepayExecuted
	default:
		return audit.EventOperationRejected
	}
}
