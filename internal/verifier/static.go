package verifier

import (
	"context"

	"github.com/hshadab/morpho/internal/domain"
)

// Static — детерминированный оракул для тестов и локального стенда.
// Решение делегируется функции; nil-функция означает «всё валидно».
type Static struct {
	Decide func(proof []byte, publicInputs []domain.Word, policyHash string) (bool, error)
}

func (s *Static) Verify(_ context.Context, proof []byte, publicInputs []domain.Word, policyHash string) (bool, error) {
	if s.Decide == nil {
		return true, nil
	}
	return s.Decide(proof, publicInputs, policyHash)
}
