package verifier

/*
Файл http.go — адаптер внешнего zkML verifier-оракула.

Для гейта verify — чистая функция над (proof, publicInputs, policyHash).
Адаптер не интерпретирует криптографию: это контракт внешнего прувера.
*/

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hshadab/morpho/internal/domain"
	"github.com/hshadab/morpho/internal/infra"
)

type HTTPOracle struct {
	endpoint string
	client   *http.Client
}

func NewHTTPOracle(endpoint string, timeout time.Duration) *HTTPOracle {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPOracle{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type verifyRequest struct {
	Proof        []byte        `json:"proof"` // base64 в JSON
	PublicInputs []domain.Word `json:"public_inputs"`
	PolicyHash   string        `json:"policy_hash"`
}

type verifyResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Verify реализует gate.VerifierOracle.
func (o *HTTPOracle) Verify(ctx context.Context, proof []byte, publicInputs []domain.Word, policyHash string) (bool, error) {
	body, err := json.Marshal(verifyRequest{
		Proof:        proof,
		PublicInputs: publicInputs,
		PolicyHash:   policyHash,
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/verify", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("verifier call failed: %w", err)
	}
	defer resp.Body.Close()

	// Прувер может попросить подождать — отдаем управление retry-цепочке
	if resp.StatusCode == http.StatusTooManyRequests {
		return false, &infra.ThrottleError{
			RetryAfter: retryAfter(resp),
			Cause:      fmt.Errorf("verifier throttled"),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("verifier returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read verifier response: %w", err)
	}

	var out verifyResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, fmt.Errorf("failed to unmarshal verifier response: %w", err)
	}
	if out.Error != "" {
		return false, fmt.Errorf("verifier error: %s", out.Error)
	}
	return out.Valid, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if sec, err := strconv.Atoi(s); err == nil && sec > 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return 2 * time.Second
}
