package sandbox

import (
	"screener_bot/internal/modules/sandbox/service"

	"go.uber.org/fx"
)

// Module поднимает песочницу для кода стратегий.
func Module() fx.Option {
	return fx.Module("sandbox",
		fx.Provide(
			service.NewExecutor,
		),
	)
}
