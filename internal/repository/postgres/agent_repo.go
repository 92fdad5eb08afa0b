package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/hshadab/morpho/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AgentRepo struct {
	pool *pgxpool.Pool
}

func NewAgentRepo(pool *pgxpool.Pool) *AgentRepo {
	return &AgentRepo{pool: pool}
}

// UpsertAgent перезаписывает запись авторизации целиком (семантика Authorize).
func (r *AgentRepo) UpsertAgent(ctx context.Context, cfg domain.AgentConfig) error {
	query := `
		INSERT INTO agents (agent, owner, policy_hash, daily_spent, last_reset, is_active, signing_key, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (agent) DO UPDATE SET
			owner = EXCLUDED.owner,
			policy_hash = EXCLUDED.policy_hash,
			daily_spent = EXCLUDED.daily_spent,
			last_reset = EXCLUDED.last_reset,
			is_active = EXCLUDED.is_active,
			signing_key = EXCLUDED.signing_key,
			updated_at = NOW()`

	_, err := r.pool.Exec(ctx, query,
		cfg.Agent, cfg.Owner, cfg.PolicyHash, int64(cfg.DailySpent), cfg.LastReset, cfg.IsActive, cfg.SigningKey,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert agent: %w", err)
	}
	return nil
}

// SetActive гасит/взводит флаг активности (отзыв не трогает историю).
func (r *AgentRepo) SetActive(ctx context.Context, agent string, active bool) error {
	query := `UPDATE agents SET is_active = $1, updated_at = NOW() WHERE agent = $2`

	ct, err := r.pool.Exec(ctx, query, active, agent)
	if err != nil {
		return fmt.Errorf("postgres: failed to update agent status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: agent %s not found", agent)
	}
	return nil
}

// UpdateSpend перезаписывает счетчики скользящего окна.
func (r *AgentRepo) UpdateSpend(ctx context.Context, agent string, spent uint64, resetAt time.Time) error {
	query := `UPDATE agents SET daily_spent = $1, last_reset = $2, updated_at = NOW() WHERE agent = $3`

	ct, err := r.pool.Exec(ctx, query, int64(spent), resetAt, agent)
	if err != nil {
		return fmt.Errorf("postgres: failed to update spend counters: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: agent %s not found", agent)
	}
	return nil
}

// GetAllAgents — холодная загрузка реестра при старте.
func (r *AgentRepo) GetAllAgents(ctx context.Context) ([]domain.AgentConfig, error) {
	query := `SELECT agent, owner, policy_hash, daily_spent, last_reset, is_active, signing_key FROM agents`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.AgentConfig
	for rows.Next() {
		var (
			cfg   domain.AgentConfig
			spent int64
		)
		if err := rows.Scan(&cfg.Agent, &cfg.Owner, &cfg.PolicyHash, &spent,
			&cfg.LastReset, &cfg.IsActive, &cfg.SigningKey); err != nil {
			return nil, err
		}
		cfg.DailySpent = uint64(spent)
		results = append(results, cfg)
	}
	return results, rows.Err()
}
