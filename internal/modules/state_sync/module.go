package state_sync

import (
	"screener_bot/internal/modules/config"
	storage "screener_bot/internal/modules/storage/service"
	"screener_bot/internal/modules/state_sync/service"

	"go.uber.org/fx"
)

// Module поднимает очереди и синкер. Цикл флаша запускает оркестратор.
func Module() fx.Option {
	return fx.Module("state_sync",
		fx.Provide(
			func(cfg *config.Config) *service.Queues {
				return service.NewQueues(cfg.Sync.QueueCap)
			},
			func(cfg *config.Config, q *service.Queues, repo *storage.Repository) *service.Syncer {
				return service.NewSyncer(cfg, q, repo)
			},
		),
	)
}
