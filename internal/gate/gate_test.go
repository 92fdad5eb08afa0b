package gate

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/hshadab/morpho/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestValidateFullPass(t *testing.T) {
	r := newRig(t)
	p := r.signedProof(t, domain.OpBorrow, 2_500, 1)

	cfg, intent, err := r.gate.Validate(context.Background(), rigAgent, p, domain.OpBorrow, 2_500, rigMarket)
	require.NoError(t, err)
	require.Equal(t, r.policyHash, cfg.PolicyHash)
	require.EqualValues(t, 2_500, intent.Amount)
	require.EqualValues(t, 1, intent.Nonce)

	// Validate — чистая проверка: доказательство НЕ потребляется
	require.False(t, r.ledger.IsConsumed(p.ID()))
}

func TestValidateRejectsInactiveAgent(t *testing.T) {
	r := newRig(t)
	p := r.signedProof(t, domain.OpSupply, 100, 1)

	require.NoError(t, r.agents.Revoke(context.Background(), rigOwner, rigAgent))

	err := r.validate(p, domain.OpSupply, 100)
	require.ErrorIs(t, err, domain.ErrAgentNotAuthorized)

	// Отказ по постороннему признаку не сжигает доказательство:
	// после повторной авторизации тот же конверт проходит
	require.False(t, r.ledger.IsConsumed(p.ID()))
	r.rebind(t, defaultRigPolicy())
	require.NoError(t, r.validate(p, domain.OpSupply, 100))
}

func TestValidateRejectsReplay(t *testing.T) {
	r := newRig(t)
	p := r.signedProof(t, domain.OpSupply, 100, 1)

	require.NoError(t, r.ledger.Consume(context.Background(), p.ID()))

	err := r.validate(p, domain.OpSupply, 100)
	require.ErrorIs(t, err, domain.ErrInvalidProof)
}

func TestValidateFreshnessWindow(t *testing.T) {
	r := newRig(t)

	// 301 секунда при окне в 5 минут — просрочено
	p := r.signedProof(t, domain.OpSupply, 100, 1)
	p.Timestamp = r.nowAt.Add(-301 * time.Second)
	require.ErrorIs(t, r.validate(p, domain.OpSupply, 100), domain.ErrProofExpired)

	// 299 секунд — еще в окне
	p = r.signedProof(t, domain.OpSupply, 100, 2)
	p.Timestamp = r.nowAt.Add(-299 * time.Second)
	require.NoError(t, r.validate(p, domain.OpSupply, 100))
}

func TestValidateRejectsFutureTimestamp(t *testing.T) {
	r := newRig(t)

	p := r.signedProof(t, domain.OpSupply, 100, 1)
	p.Timestamp = r.nowAt.Add(31 * time.Second)
	require.ErrorIs(t, r.validate(p, domain.OpSupply, 100), domain.ErrProofExpired)

	// Внутри допуска на рассинхрон часов — проходит
	p = r.signedProof(t, domain.OpSupply, 100, 2)
	p.Timestamp = r.nowAt.Add(29 * time.Second)
	require.NoError(t, r.validate(p, domain.OpSupply, 100))
}

func TestValidateOracleRejectionAndOutage(t *testing.T) {
	r := newRig(t)
	p := r.signedProof(t, domain.OpSupply, 100, 1)

	// Verifier отвечает "невалидно"
	r.oracle.Decide = func([]byte, []domain.Word, string) (bool, error) {
		return false, nil
	}
	require.ErrorIs(t, r.validate(p, domain.OpSupply, 100), domain.ErrInvalidProof)

	// Verifier недоступен: "unknown" == "invalid"
	r.oracle.Decide = func([]byte, []domain.Word, string) (bool, error) {
		return false, errors.New("verifier down")
	}
	require.ErrorIs(t, r.validate(p, domain.OpSupply, 100), domain.ErrInvalidProof)
}

func TestValidateRejectsForeignPolicyHash(t *testing.T) {
	r := newRig(t)

	// Вторая политика зарегистрирована, но агент привязан не к ней
	other := defaultRigPolicy()
	other.DailyLimit = 999_999
	otherHash, err := r.policies.Register(context.Background(), other)
	require.NoError(t, err)

	p := r.signedProof(t, domain.OpSupply, 100, 1)
	p.PolicyHash = otherHash

	require.ErrorIs(t, r.validate(p, domain.OpSupply, 100), domain.ErrInvalidProof)
}

func TestValidateBindsMetadata(t *testing.T) {
	r := newRig(t)

	// Оракул говорит "валидно", но аттестованные метаданные не совпадают
	// с фактическими параметрами вызова — гейт обязан отбить
	p := r.signedProof(t, domain.OpSupply, 1_000, 1)
	require.ErrorIs(t, r.validate(p, domain.OpSupply, 2_000), domain.ErrInvalidProof)
	require.ErrorIs(t, r.validate(p, domain.OpBorrow, 1_000), domain.ErrInvalidProof)

	otherMarket := "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	_, _, err := r.gate.Validate(context.Background(), rigAgent, p, domain.OpSupply, 1_000, otherMarket)
	require.ErrorIs(t, err, domain.ErrInvalidProof)
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	r := newRig(t)
	p := r.signedProof(t, domain.OpSupply, 100, 7)

	// Подпись чужим ключом
	_, foreign, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	p.Signature = ed25519.Sign(foreign, domain.SignedDigest(p.ID(), 7))
	require.ErrorIs(t, r.validate(p, domain.OpSupply, 100), domain.ErrInvalidSignature)

	// Подпись своим ключом, но над чужим nonce
	p = r.signedProof(t, domain.OpSupply, 100, 7)
	p.Signature = ed25519.Sign(r.priv, domain.SignedDigest(p.ID(), 8))
	require.ErrorIs(t, r.validate(p, domain.OpSupply, 100), domain.ErrInvalidSignature)
}
