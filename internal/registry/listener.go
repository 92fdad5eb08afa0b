package registry

import (
	"context"

	"github.com/hshadab/morpho/internal/infra"
	"go.uber.org/zap"
)

// StartRevocationListener подписывается на сигналы отзыва и держит локальный
// реестр в согласии с остальными инстансами гейта.
func (r *Registry) StartRevocationListener(ctx context.Context) {
	if r.rdb == nil {
		return
	}

	r.logger.Info("revocation listener started")
	infra.ListenResilient(ctx, r.rdb, r.logger, infra.RedisChanRevocation,
		func() error {
			// Подтягиваем полный набор отозванных из Redis-сета
			revoked, err := r.rdb.SMembers(ctx, infra.RedisKeyRevokedAgents).Result()
			if err != nil {
				return err
			}
			for _, agent := range revoked {
				r.MarkRevoked(agent)
			}
			return nil
		},
		func(payload string) {
			r.logger.Warn("revocation signal received", zap.String("agent", payload))
			r.MarkRevoked(payload)
		},
	)
}
