package postgres

/*
Файл policy_repo.go — долговременное хранение политик.

Слой отделяет хранение в PostgreSQL от мгновенных проверок в памяти гейта:
Hot Path в базу не ходит, репозиторий нужен регистрации и холодной загрузке.
*/

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hshadab/morpho/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PolicyRepo struct {
	pool *pgxpool.Pool
}

func NewPolicyRepo(pool *pgxpool.Pool) *PolicyRepo {
	return &PolicyRepo{pool: pool}
}

// SavePolicy — вставка под content-addressed ключом. Конфликт по хешу
// означает идентичную политику, поэтому DO NOTHING корректен.
func (r *PolicyRepo) SavePolicy(ctx context.Context, hash string, p domain.SpendingPolicy) error {
	markets, err := json.Marshal(p.AllowedMarkets)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal markets: %w", err)
	}

	query := `
		INSERT INTO policies (hash, daily_limit, max_single_tx, max_ltv, min_health_factor,
		                      allowed_markets, require_supply, require_borrow, require_withdraw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (hash) DO NOTHING`

	_, err = r.pool.Exec(ctx, query,
		hash, int64(p.DailyLimit), int64(p.MaxSingleTx), int64(p.MaxLTV), int64(p.MinHealthFactor),
		markets, p.RequireProofForSupply, p.RequireProofForBorrow, p.RequireProofForWithdraw,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save policy: %w", err)
	}
	return nil
}

// GetAllPolicies выполняет холодную загрузку всего реестра при старте.
func (r *PolicyRepo) GetAllPolicies(ctx context.Context) (map[string]domain.SpendingPolicy, error) {
	query := `
		SELECT hash, daily_limit, max_single_tx, max_ltv, min_health_factor,
		       allowed_markets, require_supply, require_borrow, require_withdraw
		FROM policies`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make(map[string]domain.SpendingPolicy)
	for rows.Next() {
		var (
			hash    string
			p       domain.SpendingPolicy
			daily   int64
			single  int64
			ltv     int64
			hf      int64
			markets []byte
		)
		if err := rows.Scan(&hash, &daily, &single, &ltv, &hf, &markets,
			&p.RequireProofForSupply, &p.RequireProofForBorrow, &p.RequireProofForWithdraw); err != nil {
			return nil, err
		}
		p.DailyLimit = uint64(daily)
		p.MaxSingleTx = uint64(single)
		p.MaxLTV = uint64(ltv)
		p.MinHealthFactor = uint64(hf)
		if err := json.Unmarshal(markets, &p.AllowedMarkets); err != nil {
			return nil, fmt.Errorf("postgres: malformed markets for policy %s: %w", hash, err)
		}
		results[hash] = p
	}
	return results, rows.Err()
}
