package storage

import (
	"screener_bot/internal/modules/storage/service"

	"go.uber.org/fx"
)

// Module поднимает репозиторий поверх пула из модуля postgres.
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			service.NewRepository,
		),
	)
}
