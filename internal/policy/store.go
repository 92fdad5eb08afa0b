package policy

/*
Файл store.go — content-addressed реестр политик.

Hot Path гейта читает только из памяти. Postgres используется для
долговременного хранения и «холодной загрузки» при старте (Warm).
Существование политики отслеживается явным присутствием ключа в мапе,
а не проверкой нулевых полей: политика с нулевыми лимитами — это
легальная, осознанно зарегистрированная политика.
*/

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hshadab/morpho/internal/audit"
	"github.com/hshadab/morpho/internal/domain"
	"go.uber.org/zap"
)

// Repository — персистентность реестра (Postgres).
type Repository interface {
	SavePolicy(ctx context.Context, hash string, p domain.SpendingPolicy) error
	GetAllPolicies(ctx context.Context) (map[string]domain.SpendingPolicy, error)
}

type Store struct {
	mu       sync.RWMutex
	policies map[string]domain.SpendingPolicy

	repo    Repository // nil в тестах: работаем только с памятью
	auditor audit.Recorder
	logger  *zap.Logger
}

func NewStore(repo Repository, auditor audit.Recorder, logger *zap.Logger) *Store {
	return &Store{
		policies: make(map[string]domain.SpendingPolicy),
		repo:     repo,
		auditor:  auditor,
		logger:   logger.Named("policy-store"),
	}
}

// Register вычисляет каноничный хеш и сохраняет политику под ним.
// Идемпотентна: повторная регистрация идентичной политики — no-op,
// возвращающий тот же хеш без события.
func (s *Store) Register(ctx context.Context, p domain.SpendingPolicy) (string, error) {
	hash := HashOf(p)

	s.mu.Lock()
	if _, exists := s.policies[hash]; exists {
		s.mu.Unlock()
		return hash, nil
	}
	s.policies[hash] = clonePolicy(p)
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.SavePolicy(ctx, hash, p); err != nil {
			// Откатываем память: реестр и база не должны разъезжаться
			s.mu.Lock()
			delete(s.policies, hash)
			s.mu.Unlock()
			return "", fmt.Errorf("persist policy: %w", err)
		}
	}

	s.auditor.Record(audit.Event{
		ID:         uuid.New().String(),
		Type:       audit.EventPolicyRegistered,
		PolicyHash: hash,
		Status:     "OK",
		Timestamp:  time.Now(),
	})
	s.logger.Info("policy registered",
		zap.String("policy_hash", hash),
		zap.Uint64("daily_limit", p.DailyLimit),
		zap.Int("markets", len(p.AllowedMarkets)),
	)
	return hash, nil
}

// Get возвращает политику по хешу. ok == false — политика не регистрировалась.
func (s *Store) Get(hash string) (domain.SpendingPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[hash]
	if !ok {
		return domain.SpendingPolicy{}, false
	}
	return clonePolicy(p), true
}

// Exists — явная проверка присутствия, без суррогатов вида «нулевые лимиты».
func (s *Store) Exists(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.policies[hash]
	return ok
}

// Warm выполняет холодную загрузку реестра из Postgres при старте.
func (s *Store) Warm(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	loaded, err := s.repo.GetAllPolicies(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.policies = loaded
	s.mu.Unlock()

	s.logger.Info("policy registry warmed", zap.Int("count", len(loaded)))
	return nil
}

// clonePolicy защищает внутреннее состояние от мутаций слайса у вызывающего.
func clonePolicy(p domain.SpendingPolicy) domain.SpendingPolicy {
	cp := p
	cp.AllowedMarkets = append([]string(nil), p.AllowedMarkets...)
	return cp
}
