package protocol

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// MarketParams идентифицирует рынок кредитного протокола: пара токенов,
// оракул цены, модель процентной ставки и порог ликвидации.
type MarketParams struct {
	LoanToken       string `json:"loan_token"`
	CollateralToken string `json:"collateral_token"`
	Oracle          string `json:"oracle"`
	IRM             string `json:"irm"`
	LLTV            uint64 `json:"lltv"` // 1e18-scaled
}

// ID — каноничный идентификатор рынка: Keccak-256 от полей в фиксированном
// порядке. Тот же прием content addressing, что и у хеша политики.
func (m MarketParams) ID() string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(m.LoanToken))))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(m.CollateralToken))))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(m.Oracle))))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(m.IRM))))

	var lltv [8]byte
	for i := 0; i < 8; i++ {
		lltv[7-i] = byte(m.LLTV >> (8 * i))
	}
	h.Write(lltv[:])

	return "0x" + hex.EncodeToString(h.Sum(nil))
}
