package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type ProofRepo struct {
	pool *pgxpool.Pool
}

func NewProofRepo(pool *pgxpool.Pool) *ProofRepo {
	return &ProofRepo{pool: pool}
}

// MarkConsumed — запись в монотонное множество. Повторная вставка — no-op:
// леджер идемпотентен по контракту.
func (r *ProofRepo) MarkConsumed(ctx context.Context, proofID string, at time.Time) error {
	query := `
		INSERT INTO consumed_proofs (proof_id, consumed_at)
		VALUES ($1, $2)
		ON CONFLICT (proof_id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query, proofID, at)
	if err != nil {
		return fmt.Errorf("postgres: failed to mark proof consumed: %w", err)
	}
	return nil
}

// ListConsumed — прогрев леджера при старте.
func (r *ProofRepo) ListConsumed(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT proof_id FROM consumed_proofs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
