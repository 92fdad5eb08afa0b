package protocol

/*
Файл http.go — адаптер внешнего кредитного протокола (RPC-релей).

Учет протокола (shares, проценты, оракульные цены) для гейта непрозрачен:
адаптер только передает уже авторизованную операцию и возвращает результат.
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

type HTTPAdapter struct {
	endpoint string
	client   *http.Client
}

func NewHTTPAdapter(endpoint string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPAdapter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type executeRequest struct {
	Operation string `json:"operation"`
	Market    string `json:"market"`
	Amount    uint64 `json:"amount"`
	OnBehalf  string `json:"on_behalf"`
	Receiver  string `json:"receiver,omitempty"`
}

type executeResponse struct {
	Result uint64 `json:"result"` // shares либо assets
	TxRef  string `json:"tx_ref"`
	Error  string `json:"error,omitempty"`
}

func (a *HTTPAdapter) Supply(ctx context.Context, market string, amount uint64, onBehalf string) (uint64, error) {
	return a.execute(ctx, domain.OpSupply, market, amount, onBehalf, "")
}

func (a *HTTPAdapter) Borrow(ctx context.Context, market string, amount uint64, onBehalf, receiver string) (uint64, error) {
	return a.execute(ctx, domain.OpBorrow, market, amount, onBehalf, receiver)
}

func (a *HTTPAdapter) Withdraw(ctx context.Context, market string, amount uint64, onBehalf, receiver string) (uint64, error) {
	return a.execute(ctx, domain.OpWithdraw, market, amount, onBehalf, receiver)
}

func (a *HTTPAdapter) Repay(ctx context.Context, market string, amount uint64, onBehalf string) (uint64, error) {
	return a.execute(ctx, domain.OpRepay, market, amount, onBehalf, "")
}

func (a *HTTPAdapter) execute(ctx context.Context, op domain.OperationType, market string, amount uint64, onBehalf, receiver string) (uint64, error) {
	body, err := json.Marshal(executeRequest{
		Operation: string(op),
		Market:    market,
		Amount:    amount,
		OnBehalf:  onBehalf,
		Receiver:  receiver,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/execute", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("protocol call failed: %w", err)
	}
	defer resp.Body.Close()

	// RPC-провайдер троттлит — передаем Retry-After наверх
	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, &infra.ThrottleError{
			RetryAfter: retryAfter(resp),
			Cause:      fmt.Errorf("protocol relay throttled"),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("protocol relay returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read protocol response: %w", err)
	}

	var out executeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("failed to unmarshal protocol response: %w", err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("protocol error: %s", out.Error)
	}
	return out.Result, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if sec, err := strconv.Atoi(s); err == nil && sec > 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return 2 * time.Second
}
