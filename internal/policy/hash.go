package policy

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/hshadab/morpho/internal/domain"
	"golang.org/x/crypto/sha3"
)

// HashOf — каноничный content-addressed хеш политики (Keccak-256).
// Чистая функция: одинаковые поля всегда дают одинаковый хеш, порядок
// подачи AllowedMarkets не влияет на результат (нормализация + сортировка).
//
// Кодирование фиксированное: числовые поля big-endian uint64 в порядке
// объявления, затем байт флагов, затем отсортированные market id.
// Никакой сериализационной библиотеки: детерминизм здесь — контракт.
func HashOf(p domain.SpendingPolicy) string {
	h := sha3.NewLegacyKeccak256()

	var buf [8]byte
	writeU64 := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}

	writeU64(p.DailyLimit)
	writeU64(p.MaxSingleTx)
	writeU64(p.MaxLTV)
	writeU64(p.MinHealthFactor)

	var flags byte
	if p.RequireProofForSupply {
		flags |= 1 << 0
	}
	if p.RequireProofForBorrow {
		flags |= 1 << 1
	}
	if p.RequireProofForWithdraw {
		flags |= 1 << 2
	}
	h.Write([]byte{flags})

	markets := make([]string, 0, len(p.AllowedMarkets))
	for _, m := range p.AllowedMarkets {
		markets = append(markets, normalizeID(m))
	}
	sort.Strings(markets)

	writeU64(uint64(len(markets)))
	for _, m := range markets {
		writeU64(uint64(len(m)))
		h.Write([]byte(m))
	}

	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
