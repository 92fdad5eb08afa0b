package policy

import (
	"testing"

	"github.com/hshadab/morpho/internal/domain"
	"github.com/stretchr/testify/require"
)

func basePolicy() domain.SpendingPolicy {
	return domain.SpendingPolicy{
		DailyLimit:            10_000,
		MaxSingleTx:           5_000,
		MaxLTV:                7_000,
		MinHealthFactor:       15_000,
		AllowedMarkets:        []string{"0xaaa", "0xbbb", "0xccc"},
		RequireProofForBorrow: true,
	}
}

func TestHashDeterminism(t *testing.T) {
	p := basePolicy()
	require.Equal(t, HashOf(p), HashOf(p))
}

func TestHashIndependentOfMarketOrder(t *testing.T) {
	a := basePolicy()
	b := basePolicy()
	b.AllowedMarkets = []string{"0xccc", "0xaaa", "0xbbb"}

	require.Equal(t, HashOf(a), HashOf(b))

	// Нормализация регистра hex тоже не должна влиять
	c := basePolicy()
	c.AllowedMarkets = []string{"0xAAA", "0xBBB", "0xCCC"}
	require.Equal(t, HashOf(a), HashOf(c))
}

func TestHashSensitiveToFields(t *testing.T) {
	a := basePolicy()

	b := basePolicy()
	b.DailyLimit++
	require.NotEqual(t, HashOf(a), HashOf(b))

	c := basePolicy()
	c.RequireProofForSupply = true
	require.NotEqual(t, HashOf(a), HashOf(c))

	d := basePolicy()
	d.AllowedMarkets = append(d.AllowedMarkets, "0xddd")
	require.NotEqual(t, HashOf(a), HashOf(d))
}
