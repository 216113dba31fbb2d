package bootstrap

import (
	bootstrap "screener_bot/internal/modules/bootstrap/service"

	"go.uber.org/fx"
)

// Module поднимает REST-прогрев буферов свечей. Запускает его оркестратор
// после того, как узнает вселенную подписок.
func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(
			bootstrap.NewWarmuper,
		),
	)
}
