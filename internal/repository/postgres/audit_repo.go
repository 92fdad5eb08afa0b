package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/hshadab/morpho/internal/audit"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// WriteBatch — пакетная вставка событий (Bulk Insert) одним запросом.
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице gate_events
	const numFields = 13
	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12, p+13)

		vals = append(vals,
			e.ID, e.TraceID, e.Type, e.Agent, e.Owner, e.PolicyHash, e.ProofID,
			e.Operation, e.Market, int64(e.Amount), e.Status, e.Error, e.Timestamp,
		)
	}

	query := fmt.Sprintf(
		`INSERT INTO gate_events (id, trace_id, type, agent, owner, policy_hash, proof_id,
		                          operation, market, amount, status, error, timestamp) VALUES %s`,
		strings.TrimSuffix(placeholders.String(), ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}
