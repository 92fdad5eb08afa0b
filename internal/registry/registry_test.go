package registry

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/hshadab/morpho/internal/audit"
	"github.com/hshadab/morpho/internal/domain"
	"github.com/hshadab/morpho/internal/policy"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testOwner = "0x1111111111111111111111111111111111111111"
	testAgent = "0x2222222222222222222222222222222222222222"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	policies := policy.NewStore(nil, audit.Nop{}, zap.NewNop())
	hash, err := policies.Register(context.Background(), domain.SpendingPolicy{
		DailyLimit:     10_000,
		MaxSingleTx:    5_000,
		AllowedMarkets: []string{"0xaaa"},
	})
	require.NoError(t, err)
	return New(policies, nil, nil, audit.Nop{}, zap.NewNop()), hash
}

func testKey(t *testing.T) ed25519.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub
}

func TestAuthorizeUnknownPolicy(t *testing.T) {
	r, _ := newTestRegistry(t)

	err := r.Authorize(context.Background(), testOwner, testAgent, "0xunknown", testKey(t))
	require.ErrorIs(t, err, domain.ErrPolicyNotFound)

	_, ok := r.Get(testAgent)
	require.False(t, ok)
}

func TestAuthorizeRejectsBadSigningKey(t *testing.T) {
	r, hash := newTestRegistry(t)

	err := r.Authorize(context.Background(), testOwner, testAgent, hash, []byte("short"))
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestAuthorizeOverwritesAndResetsCounters(t *testing.T) {
	r, hash := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Authorize(ctx, testOwner, testAgent, hash, testKey(t)))
	require.NoError(t, r.CommitSpend(ctx, testAgent, 7_000, time.Now()))

	cfg, ok := r.Get(testAgent)
	require.True(t, ok)
	require.EqualValues(t, 7_000, cfg.DailySpent)

	// Повторная авторизация сбрасывает счетчики и взводит isActive
	require.NoError(t, r.Revoke(ctx, testOwner, testAgent))
	require.NoError(t, r.Authorize(ctx, testOwner, testAgent, hash, testKey(t)))

	cfg, _ = r.Get(testAgent)
	require.True(t, cfg.IsActive)
	require.Zero(t, cfg.DailySpent)
}

func TestRevokeOwnerOnly(t *testing.T) {
	r, hash := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Authorize(ctx, testOwner, testAgent, hash, testKey(t)))

	err := r.Revoke(ctx, "0x9999999999999999999999999999999999999999", testAgent)
	require.ErrorIs(t, err, domain.ErrAgentNotAuthorized)

	cfg, _ := r.Get(testAgent)
	require.True(t, cfg.IsActive)

	// Отзыв не стирает историю, только гасит активность
	require.NoError(t, r.CommitSpend(ctx, testAgent, 500, time.Now()))
	require.NoError(t, r.Revoke(ctx, testOwner, testAgent))

	cfg, ok := r.Get(testAgent)
	require.True(t, ok)
	require.False(t, cfg.IsActive)
	require.EqualValues(t, 500, cfg.DailySpent)
}

func TestIsAuthorizedTruthTable(t *testing.T) {
	r, hash := newTestRegistry(t)
	ctx := context.Background()

	require.False(t, r.IsAuthorized(testAgent, testOwner))

	require.NoError(t, r.Authorize(ctx, testOwner, testAgent, hash, testKey(t)))
	require.True(t, r.IsAuthorized(testAgent, testOwner))
	require.False(t, r.IsAuthorized(testAgent, "0xother"))
	// Сверка идентичностей нечувствительна к регистру hex
	require.True(t, r.IsAuthorized(testAgent, "0x1111111111111111111111111111111111111111"))

	require.NoError(t, r.Revoke(ctx, testOwner, testAgent))
	require.False(t, r.IsAuthorized(testAgent, testOwner))
}

func TestMarkRevokedAppliesRemoteSignal(t *testing.T) {
	r, hash := newTestRegistry(t)
	require.NoError(t, r.Authorize(context.Background(), testOwner, testAgent, hash, testKey(t)))

	r.MarkRevoked(testAgent)

	cfg, _ := r.Get(testAgent)
	require.False(t, cfg.IsActive)
}
