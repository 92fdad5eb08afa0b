package gate

import (
	"fmt"
	"time"

	"github.com/hshadab/morpho/internal/domain"
)

// LimitEnforcer — чистая проверка числовых границ политики.
// Никаких мутаций: сброс окна здесь только вычисляется, фактическую
// перезапись счетчиков делает диспетчер одним шагом с исполнением.
//
// LTV и health factor сюда сознательно не входят: платежеспособность
// аттестуется внутри zkML-доказательства, гейт проверяет лишь то,
// что дешево сверить по аттестованной сумме напрямую.
type LimitEnforcer struct {
	window time.Duration    // Скользящее окно от последнего сброса
	now    func() time.Time // Инъекция часов для тестов
}

func NewLimitEnforcer(window time.Duration) *LimitEnforcer {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &LimitEnforcer{window: window, now: time.Now}
}

// SetClock подменяет источник времени (только тесты).
func (e *LimitEnforcer) SetClock(now func() time.Time) { e.now = now }

// WindowElapsed — истекло ли окно с момента последнего сброса.
func (e *LimitEnforcer) WindowElapsed(cfg domain.AgentConfig) bool {
	return e.now().Sub(cfg.LastReset) >= e.window
}

// EffectiveSpent — расход, учитываемый лимитом: ноль, если окно истекло.
func (e *LimitEnforcer) EffectiveSpent(cfg domain.AgentConfig) uint64 {
	if e.WindowElapsed(cfg) {
		return 0
	}
	return cfg.DailySpent
}

// RemainingDaily — остаток суточного лимита с учетом окна.
func (e *LimitEnforcer) RemainingDaily(cfg domain.AgentConfig, p domain.SpendingPolicy) uint64 {
	spent := e.EffectiveSpent(cfg)
	if spent >= p.DailyLimit {
		return 0
	}
	return p.DailyLimit - spent
}

// Check прогоняет амаунт и рынок через границы политики.
func (e *LimitEnforcer) Check(cfg domain.AgentConfig, p domain.SpendingPolicy, amount uint64, market string) error {
	if !p.AllowsMarket(market) {
		return fmt.Errorf("%w: %s", domain.ErrMarketNotAllowed, market)
	}
	if amount > p.MaxSingleTx {
		return fmt.Errorf("%w: %d > %d", domain.ErrExceedsSingleTxLimit, amount, p.MaxSingleTx)
	}

	spent := e.EffectiveSpent(cfg)
	if spent+amount > p.DailyLimit || spent+amount < spent {
		return fmt.Errorf("%w: %d + %d > %d", domain.ErrExceedsDailyLimit, spent, amount, p.DailyLimit)
	}
	return nil
}
