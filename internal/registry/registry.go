package registry

/*
Файл registry.go — реестр авторизаций агентов.

Одна запись на агента: владелец, привязанный хеш политики, счетчики
скользящего суточного окна и флаг активности. Отзыв не удаляет историю —
он только гасит isActive и транслируется через Redis на все инстансы гейта
(механика мгновенной блокировки).
*/

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hshadab/morpho/internal/audit"
	"github.com/hshadab/morpho/internal/domain"
	"github.com/hshadab/morpho/internal/infra"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PolicyChecker — ровно та часть PolicyStore, что нужна реестру.
type PolicyChecker interface {
	Exists(hash string) bool
}

// Repository — персистентность реестра (Postgres).
type Repository interface {
	UpsertAgent(ctx context.Context, cfg domain.AgentConfig) error
	SetActive(ctx context.Context, agent string, active bool) error
	UpdateSpend(ctx context.Context, agent string, spent uint64, resetAt time.Time) error
	GetAllAgents(ctx context.Context) ([]domain.AgentConfig, error)
}

type Registry struct {
	mu     sync.RWMutex
	agents map[string]domain.AgentConfig // ключ — нормализованный адрес агента

	policies PolicyChecker
	repo     Repository    // nil в тестах
	rdb      *redis.Client // nil — single-instance режим без трансляции
	auditor  audit.Recorder
	logger   *zap.Logger
}

func New(policies PolicyChecker, repo Repository, rdb *redis.Client, auditor audit.Recorder, logger *zap.Logger) *Registry {
	return &Registry{
		agents:   make(map[string]domain.AgentConfig),
		policies: policies,
		repo:     repo,
		rdb:      rdb,
		auditor:  auditor,
		logger:   logger.Named("agent-registry"),
	}
}

// Authorize создает либо перезаписывает запись агента.
// Счетчики расходов сбрасываются, isActive взводится. Ссылка на политику
// проверяется явно через PolicyChecker — никакой магии нулевых значений.
func (r *Registry) Authorize(ctx context.Context, owner, agent, policyHash string, signingKey []byte) error {
	if !r.policies.Exists(policyHash) {
		return fmt.Errorf("%w: %s", domain.ErrPolicyNotFound, policyHash)
	}
	if len(signingKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: signing key must be %d bytes", domain.ErrInvalidSignature, ed25519.PublicKeySize)
	}

	cfg := domain.AgentConfig{
		Agent:      agent,
		Owner:      owner,
		PolicyHash: policyHash,
		DailySpent: 0,
		LastReset:  time.Now(),
		IsActive:   true,
		SigningKey: append([]byte(nil), signingKey...),
	}

	r.mu.Lock()
	r.agents[key(agent)] = cfg
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.UpsertAgent(ctx, cfg); err != nil {
			return fmt.Errorf("persist agent config: %w", err)
		}
	}

	// Повторная авторизация снимает возможный флаг отзыва на других инстансах
	if r.rdb != nil {
		r.rdb.SRem(ctx, infra.RedisKeyRevokedAgents, key(agent))
	}

	r.auditor.Record(audit.Event{
		ID:         uuid.New().String(),
		Type:       audit.EventAgentAuthorized,
		Agent:      agent,
		Owner:      owner,
		PolicyHash: policyHash,
		Status:     "OK",
		Timestamp:  time.Now(),
	})
	r.logger.Info("agent authorized",
		zap.String("agent", agent),
		zap.String("owner", owner),
		zap.String("policy_hash", policyHash),
	)
	return nil
}

// Revoke гасит isActive. Только записанный владелец имеет право отзыва;
// история и счетчики сохраняются.
func (r *Registry) Revoke(ctx context.Context, owner, agent string) error {
	r.mu.Lock()
	cfg, ok := r.agents[key(agent)]
	if !ok || !domain.EqualID(cfg.Owner, owner) {
		r.mu.Unlock()
		return fmt.Errorf("%w: caller is not the recorded owner of %s", domain.ErrAgentNotAuthorized, agent)
	}
	cfg.IsActive = false
	r.agents[key(agent)] = cfg
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.SetActive(ctx, agent, false); err != nil {
			return fmt.Errorf("persist revocation: %w", err)
		}
	}

	// Трансляция отзыва: остальные инстансы заблокируют агента мгновенно
	if r.rdb != nil {
		r.rdb.SAdd(ctx, infra.RedisKeyRevokedAgents, key(agent))
		r.rdb.Publish(ctx, infra.RedisChanRevocation, key(agent))
	}

	r.auditor.Record(audit.Event{
		ID:        uuid.New().String(),
		Type:      audit.EventAgentRevoked,
		Agent:     agent,
		Owner:     owner,
		Status:    "OK",
		Timestamp: time.Now(),
	})
	r.logger.Info("agent revoked", zap.String("agent", agent), zap.String("owner", owner))
	return nil
}

// IsAuthorized: true, только если владелец совпадает и запись активна.
func (r *Registry) IsAuthorized(agent, owner string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.agents[key(agent)]
	return ok && cfg.IsActive && domain.EqualID(cfg.Owner, owner)
}

// Get возвращает копию записи агента.
func (r *Registry) Get(agent string) (domain.AgentConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.agents[key(agent)]
	if !ok {
		return domain.AgentConfig{}, false
	}
	cfg.SigningKey = append([]byte(nil), cfg.SigningKey...)
	return cfg, true
}

// CommitSpend перезаписывает счетчики окна. Вызывается ТОЛЬКО диспетчером
// внутри per-agent критической секции, одним шагом с исполнением операции.
func (r *Registry) CommitSpend(ctx context.Context, agent string, spent uint64, resetAt time.Time) error {
	r.mu.Lock()
	cfg, ok := r.agents[key(agent)]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrAgentNotAuthorized, agent)
	}
	cfg.DailySpent = spent
	cfg.LastReset = resetAt
	r.agents[key(agent)] = cfg
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.UpdateSpend(ctx, agent, spent, resetAt); err != nil {
			// Память уже обновлена: лимит продолжит соблюдаться на этом
			// инстансе, расхождение с базой чиним логом и Warm при рестарте
			r.logger.Error("failed to persist spend counters",
				zap.String("agent", agent), zap.Error(err))
		}
	}
	return nil
}

// MarkRevoked — локальное применение сигнала отзыва с другого инстанса.
func (r *Registry) MarkRevoked(agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.agents[key(agent)]
	if !ok {
		return
	}
	cfg.IsActive = false
	r.agents[key(agent)] = cfg
}

// Warm — холодная загрузка реестра из Postgres при старте.
func (r *Registry) Warm(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	loaded, err := r.repo.GetAllAgents(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string]domain.AgentConfig, len(loaded))
	for _, cfg := range loaded {
		fresh[key(cfg.Agent)] = cfg
	}

	r.mu.Lock()
	r.agents = fresh
	r.mu.Unlock()

	r.logger.Info("agent registry warmed", zap.Int("count", len(loaded)))
	return nil
}

// key нормализует адрес агента: hex без учета регистра.
func key(agent string) string {
	return strings.ToLower(strings.TrimSpace(agent))
}
