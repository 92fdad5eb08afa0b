package domain

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// Word — 32-байтовое слово public inputs. Фиксированная ширина совпадает
// с полевыми элементами verifier'а, в JSON кодируется как "0x..."-hex.
type Word [32]byte

func (w Word) Hex() string {
	return "0x" + hex.EncodeToString(w[:])
}

func (w Word) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Hex())
}

func (w *Word) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := WordFromHex(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// WordFromHex разбирает "0x..."-строку ровно в 32 байта.
func WordFromHex(s string) (Word, error) {
	var w Word
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return w, fmt.Errorf("invalid hex word: %w", err)
	}
	if len(raw) != 32 {
		return w, fmt.Errorf("invalid word length: %d", len(raw))
	}
	copy(w[:], raw)
	return w, nil
}

// WordFromUint64 кладет значение в младшие 8 байт (big-endian).
func WordFromUint64(v uint64) Word {
	var w Word
	binary.BigEndian.PutUint64(w[24:], v)
	return w
}

// Uint64 извлекает значение из младших 8 байт.
// ok == false, если старшие байты не нулевые (переполнение аттестованной величины).
func (w Word) Uint64() (uint64, bool) {
	for _, b := range w[:24] {
		if b != 0 {
			return 0, false
		}
	}
	return binary.BigEndian.Uint64(w[24:]), true
}

// WordFromID упаковывает hex-идентификатор (адрес или хеш) в слово
// с выравниванием вправо, как в ABI-кодировании.
func WordFromID(id string) (Word, error) {
	var w Word
	s := strings.TrimPrefix(strings.TrimSpace(id), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return w, fmt.Errorf("invalid hex id: %w", err)
	}
	if len(raw) > 32 {
		return w, fmt.Errorf("id too long: %d bytes", len(raw))
	}
	copy(w[32-len(raw):], raw)
	return w, nil
}

// Разметка public inputs: строго пять слов в фиксированном порядке.
const (
	piOperation = 0
	piAmount    = 1
	piMarket    = 2
	piAgent     = 3
	piNonce     = 4

	PublicInputWords = 5
)

// SpendingProof — конверт одноразового доказательства, прикладываемый к операции.
// Байты proof непрозрачны для гейта (номинально ~48KB SNARK), гейт связывает их
// только через внешний verifier-оракул и метаданные public inputs.
type SpendingProof struct {
	PolicyHash   string    `json:"policy_hash"`
	Proof        []byte    `json:"proof"`
	PublicInputs []Word    `json:"public_inputs"`
	Timestamp    time.Time `json:"timestamp"`
	Signature    []byte    `json:"signature"`
}

// ID — идентификатор доказательства: Keccak-256 от байтов proof.
// Именно он попадает в ProofLedger и никогда не переиспользуется.
func (p SpendingProof) ID() string {
	h := sha3.NewLegacyKeccak256()
	h.Write(p.Proof)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// ProofIntent — аттестованное в доказательстве намерение: что именно
// одобрила off-chain модель. Гейт сверяет его с фактическими параметрами вызова.
type ProofIntent struct {
	Operation OperationType
	Amount    uint64
	Market    string
	Agent     string
	Nonce     uint64
}

// DecodeIntent разбирает public inputs в намерение.
// Любое отклонение формата трактуется как невалидное доказательство.
func (p SpendingProof) DecodeIntent() (ProofIntent, error) {
	var intent ProofIntent
	if len(p.PublicInputs) != PublicInputWords {
		return intent, fmt.Errorf("%w: expected %d public inputs, got %d",
			ErrInvalidProof, PublicInputWords, len(p.PublicInputs))
	}

	opVal, ok := p.PublicInputs[piOperation].Uint64()
	if !ok || opVal > 255 {
		return intent, fmt.Errorf("%w: malformed operation word", ErrInvalidProof)
	}
	op, ok := OperationFromCode(byte(opVal))
	if !ok {
		return intent, fmt.Errorf("%w: unknown operation code %d", ErrInvalidProof, opVal)
	}

	amount, ok := p.PublicInputs[piAmount].Uint64()
	if !ok {
		return intent, fmt.Errorf("%w: attested amount overflows uint64", ErrInvalidProof)
	}

	nonce, ok := p.PublicInputs[piNonce].Uint64()
	if !ok {
		return intent, fmt.Errorf("%w: malformed nonce word", ErrInvalidProof)
	}

	intent.Operation = op
	intent.Amount = amount
	intent.Market = p.PublicInputs[piMarket].Hex()
	intent.Agent = addressFromWord(p.PublicInputs[piAgent])
	intent.Nonce = nonce
	return intent, nil
}

// EncodeIntent — прямое кодирование намерения в public inputs.
// Используется прувером и тестами; должно быть зеркально DecodeIntent.
func EncodeIntent(intent ProofIntent) ([]Word, error) {
	market, err := WordFromID(intent.Market)
	if err != nil {
		return nil, fmt.Errorf("encode market: %w", err)
	}
	agent, err := WordFromID(intent.Agent)
	if err != nil {
		return nil, fmt.Errorf("encode agent: %w", err)
	}
	return []Word{
		WordFromUint64(uint64(intent.Operation.Code())),
		WordFromUint64(intent.Amount),
		market,
		agent,
		WordFromUint64(intent.Nonce),
	}, nil
}

// addressFromWord достает 20-байтовый адрес из правых байтов слова.
func addressFromWord(w Word) string {
	return "0x" + hex.EncodeToString(w[12:])
}

// SignedDigest — сообщение, которое агент подписывает своим Ed25519 ключом:
// Keccak-256 от (proofID || nonce). Привязывает подпись к конкретному
// доказательству и к аттестованному nonce.
func SignedDigest(proofID string, nonce uint64) []byte {
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(strings.ToLower(proofID)))
	h.Write(nonceBuf[:])
	return h.Sum(nil)
}
