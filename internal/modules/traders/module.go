package traders

import (
	"screener_bot/internal/modules/config"
	"screener_bot/internal/modules/sandbox/service"
	storage "screener_bot/internal/modules/storage/service"
	sync_service "screener_bot/internal/modules/state_sync/service"
	traders "screener_bot/internal/modules/traders/service"

	"go.uber.org/fx"
)

// Module поднимает реестр трейдеров. Перечитывание из БД по тикеру
// запускает оркестратор.
func Module() fx.Option {
	return fx.Module("traders",
		fx.Provide(
			func(cfg *config.Config, ex *service.Executor, repo *storage.Repository, q *sync_service.Queues) *traders.Registry {
				return traders.NewRegistry(cfg, ex, repo, q)
			},
		),
	)
}
