package runner

import (
	"context"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewRunner,
		),
		fx.Invoke(
			func(lc fx.Lifecycle, r *Runner) {
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						return r.Start(context.Background())
					},
					OnStop: func(ctx context.Context) error {
						r.Stop()
						return nil
					},
				})
			},
		),
	)
}
