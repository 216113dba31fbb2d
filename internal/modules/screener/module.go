package screener

import (
	"screener_bot/internal/modules/config"
	market "screener_bot/internal/modules/market_ws/service"
	sandbox "screener_bot/internal/modules/sandbox/service"
	"screener_bot/internal/modules/screener/service"

	"go.uber.org/fx"
)

// Module поднимает скринер. Тики запускает оркестратор.
func Module() fx.Option {
	return fx.Module("screener",
		fx.Provide(
			func(cfg *config.Config, m *market.Client, ex *sandbox.Executor) *service.Screener {
				return service.NewScreener(cfg, m, ex)
			},
		),
	)
}
