package ledger

/*
Файл ledger.go — леджер потребленных доказательств.

Монотонно растущее множество: proofID попадает сюда один раз и навсегда.
Hot Path проверяет только память (L1); Redis-сет (L2) и Postgres дают
живучесть между рестартами и синхронизацию между инстансами.
Consume идемпотентен — повторный вызов безопасен, но второй операции
он не пропустит: проверка и потребление выполняются диспетчером внутри
одной per-agent критической секции.
*/

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hshadab/morpho/internal/infra"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Repository — долговременное хранение множества (Postgres).
type Repository interface {
	MarkConsumed(ctx context.Context, proofID string, at time.Time) error
	ListConsumed(ctx context.Context) ([]string, error)
}

type Ledger struct {
	mu       sync.RWMutex
	consumed map[string]struct{}

	repo   Repository    // nil в тестах
	rdb    *redis.Client // nil — single-instance режим
	logger *zap.Logger
}

func New(repo Repository, rdb *redis.Client, logger *zap.Logger) *Ledger {
	return &Ledger{
		consumed: make(map[string]struct{}),
		repo:     repo,
		rdb:      rdb,
		logger:   logger.Named("proof-ledger"),
	}
}

func (l *Ledger) IsConsumed(proofID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.consumed[key(proofID)]
	return ok
}

// Consume помечает доказательство использованным. Идемпотентен.
func (l *Ledger) Consume(ctx context.Context, proofID string) error {
	id := key(proofID)

	l.mu.Lock()
	if _, ok := l.consumed[id]; ok {
		l.mu.Unlock()
		return nil // Уже потреблено: no-op
	}
	l.consumed[id] = struct{}{}
	l.mu.Unlock()

	// L2/L3 — best effort: память уже защищает этот инстанс, рассинхрон
	// с базой лечится логом и Warm при рестарте
	if l.rdb != nil {
		if err := l.rdb.SAdd(ctx, infra.RedisKeyConsumedProofs, id).Err(); err != nil {
			l.logger.Error("failed to mirror consumed proof to redis",
				zap.String("proof_id", id), zap.Error(err))
		}
		l.rdb.Publish(ctx, infra.RedisChanProofConsumed, id)
	}
	if l.repo != nil {
		if err := l.repo.MarkConsumed(ctx, id, time.Now()); err != nil {
			l.logger.Error("failed to persist consumed proof",
				zap.String("proof_id", id), zap.Error(err))
		}
	}
	return nil
}

// markLocal — применение сигнала с другого инстанса (без повторной записи в L2/L3).
func (l *Ledger) markLocal(proofID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consumed[key(proofID)] = struct{}{}
}

// Warm прогревает L1 из Postgres и L2 из Redis при старте.
// Распределенная блокировка (SetNX) оставляет заливку Redis одному инстансу.
func (l *Ledger) Warm(ctx context.Context) error {
	var fromDB []string
	if l.repo != nil {
		ids, err := l.repo.ListConsumed(ctx)
		if err != nil {
			return err
		}
		fromDB = ids
	}

	l.mu.Lock()
	for _, id := range fromDB {
		l.consumed[key(id)] = struct{}{}
	}
	l.mu.Unlock()

	if l.rdb == nil {
		return nil
	}

	// Подтягиваем то, что успели потребить другие инстансы
	fromRedis, err := l.rdb.SMembers(ctx, infra.RedisKeyConsumedProofs).Result()
	if err != nil {
		l.logger.Warn("could not read consumed set from redis, proceeding with DB state", zap.Error(err))
	} else {
		l.mu.Lock()
		for _, id := range fromRedis {
			l.consumed[key(id)] = struct{}{}
		}
		l.mu.Unlock()
	}

	ok, err := l.rdb.SetNX(ctx, infra.RedisKeyLockWarmProofs, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil // Либо сеть, либо другой инстанс уже греет кэш
	}

	count, err := l.rdb.SCard(ctx, infra.RedisKeyConsumedProofs).Result()
	if err != nil {
		count = 0
		l.logger.Warn("could not check redis set size, proceeding with warm-up", zap.Error(err))
	}

	// Redis пуст, а база — нет: заливаем пачкой через pipeline
	if count == 0 && len(fromDB) > 0 {
		l.logger.Info("redis ledger is empty, performing warm-up from DB",
			zap.Int("count", len(fromDB)))
		pipe := l.rdb.Pipeline()
		for _, id := range fromDB {
			pipe.SAdd(ctx, infra.RedisKeyConsumedProofs, key(id))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StartListener синхронизирует L1 с сигналами других инстансов.
func (l *Ledger) StartListener(ctx context.Context) {
	if l.rdb == nil {
		return
	}
	l.logger.Info("consumed-proof listener started")
	infra.ListenResilient(ctx, l.rdb, l.logger, infra.RedisChanProofConsumed,
		func() error {
			ids, err := l.rdb.SMembers(ctx, infra.RedisKeyConsumedProofs).Result()
			if err != nil {
				return err
			}
			for _, id := range ids {
				l.markLocal(id)
			}
			return nil
		},
		l.markLocal,
	)
}

func key(proofID string) string {
	return strings.ToLower(strings.TrimSpace(proofID))
}
