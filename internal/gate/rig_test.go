package gate

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/hshadab/morpho/internal/audit"
	"github.com/hshadab/morpho/internal/domain"
	"github.com/hshadab/morpho/internal/ledger"
	"github.com/hshadab/morpho/internal/policy"
	"github.com/hshadab/morpho/internal/registry"
	"github.com/hshadab/morpho/internal/verifier"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Идентификаторы стенда: агент — 20 байт, рынок — полное 32-байтовое слово,
// чтобы аттестованное намерение сходилось с параметрами вызова бит в бит.
const (
	rigOwner  = "0x1111111111111111111111111111111111111111"
	rigAgent  = "0x00112233445566778899aabbccddeeff00112233"
	rigMarket = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

// rig — полный стенд гейта на in-memory хранилищах (repo и Redis == nil).
type rig struct {
	policies *policy.Store
	agents   *registry.Registry
	ledger   *ledger.Ledger
	oracle   *verifier.Static
	gate     *ProofGate
	limits   *LimitEnforcer

	priv       ed25519.PrivateKey
	policyHash string
	nowAt      time.Time
}

func defaultRigPolicy() domain.SpendingPolicy {
	return domain.SpendingPolicy{
		DailyLimit:              10_000,
		MaxSingleTx:             5_000,
		MaxLTV:                  7_000,
		MinHealthFactor:         11_000,
		AllowedMarkets:          []string{rigMarket},
		RequireProofForSupply:   true,
		RequireProofForBorrow:   true,
		RequireProofForWithdraw: true,
	}
}

func newRig(t *testing.T) *rig {
	t.Helper()
	logger := zap.NewNop()

	r := &rig{
		policies: policy.NewStore(nil, audit.Nop{}, logger),
		ledger:   ledger.New(nil, nil, logger),
		oracle:   &verifier.Static{},
		nowAt:    time.Now(),
	}
	r.agents = registry.New(r.policies, nil, nil, audit.Nop{}, logger)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	r.priv = priv

	r.rebind(t, defaultRigPolicy())

	r.gate = NewProofGate(r.agents, r.ledger, r.oracle, nil,
		5*time.Minute, 30*time.Second, NewMetrics(nil), logger)
	r.gate.SetClock(func() time.Time { return r.nowAt })

	r.limits = NewLimitEnforcer(24 * time.Hour)
	r.limits.SetClock(func() time.Time { return r.nowAt })
	return r
}

// rebind регистрирует политику и переавторизует стендового агента на нее.
func (r *rig) rebind(t *testing.T, p domain.SpendingPolicy) {
	t.Helper()
	hash, err := r.policies.Register(context.Background(), p)
	require.NoError(t, err)
	pub := r.priv.Public().(ed25519.PublicKey)
	require.NoError(t, r.agents.Authorize(context.Background(), rigOwner, rigAgent, hash, pub))
	r.policyHash = hash
}

// signedProof собирает валидный конверт: уникальные байты proof,
// аттестованное намерение и подпись агента над (proofID, nonce).
func (r *rig) signedProof(t *testing.T, op domain.OperationType, amount, nonce uint64) domain.SpendingProof {
	t.Helper()
	words, err := domain.EncodeIntent(domain.ProofIntent{
		Operation: op,
		Amount:    amount,
		Market:    rigMarket,
		Agent:     rigAgent,
		Nonce:     nonce,
	})
	require.NoError(t, err)

	proofBytes := make([]byte, 64)
	_, err = rand.Read(proofBytes)
	require.NoError(t, err)

	p := domain.SpendingProof{
		PolicyHash:   r.policyHash,
		Proof:        proofBytes,
		PublicInputs: words,
		Timestamp:    r.nowAt,
	}
	p.Signature = ed25519.Sign(r.priv, domain.SignedDigest(p.ID(), nonce))
	return p
}

func (r *rig) dispatcher(proto LendingProtocol) *Dispatcher {
	return NewDispatcher(r.gate, r.limits, r.policies, r.agents, r.ledger,
		proto, nil, NewMetrics(nil), audit.Nop{}, zap.NewNop())
}

func (r *rig) validate(p domain.SpendingProof, op domain.OperationType, amount uint64) error {
	_, _, err := r.gate.Validate(context.Background(), rigAgent, p, op, amount, rigMarket)
	return err
}
