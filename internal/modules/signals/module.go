package signals

import (
	"screener_bot/internal/modules/signals/service"

	"go.uber.org/fx"
)

// Module поднимает лайфсайкл сигналов.
func Module() fx.Option {
	return fx.Module("signals",
		fx.Provide(
			service.NewLifecycle,
		),
	)
}
