package market_ws

import (
	"screener_bot/internal/modules/market_ws/service"

	"go.uber.org/fx"
)

// Module поднимает websocket-клиент маркет-данных. Подключение запускает
// оркестратор после того, как соберёт вселенную подписок из реестра
// трейдеров, поэтому здесь только провайдер.
func Module() fx.Option {
	return fx.Module("market_ws",
		fx.Provide(
			service.NewClient,
		),
	)
}
