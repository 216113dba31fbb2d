package main

import (
	"context"
	"log"

	"go.uber.org/fx"

	"screener_bot/internal/modules/bootstrap"
	"screener_bot/internal/modules/config"
	"screener_bot/internal/modules/health"
	"screener_bot/internal/modules/market_ws"
	"screener_bot/internal/modules/postgres"
	"screener_bot/internal/modules/sandbox"
	"screener_bot/internal/modules/screener"
	"screener_bot/internal/modules/signals"
	"screener_bot/internal/modules/state_sync"
	"screener_bot/internal/modules/storage"
	telegram "screener_bot/internal/modules/telegram_bot"
	"screener_bot/internal/modules/traders"
	"screener_bot/internal/runner"
	"screener_bot/pkg/logger"
	"screener_bot/pkg/tracing"
)

func main() {
	flush, err := logger.Init()
	if err != nil {
		log.Fatal(err)
	}
	defer flush()

	logger.SetServiceName("screener")
	tracing.SetServiceName("screener")

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		postgres.Module(),
		storage.Module(),
		sandbox.Module(),
		market_ws.Module(),
		bootstrap.Module(),
		traders.Module(),
		screener.Module(),
		signals.Module(),
		state_sync.Module(),
		health.Module(),
		telegram.Module(),
		runner.Module(),
		fx.Invoke(initTracing),
	)
	app.Run()
}

func initTracing(lc fx.Lifecycle, cfg *config.Config) error {
	if !cfg.Tracing.Enabled {
		return nil
	}

	_, closer, err := tracing.InitTracer(tracing.Config{
		Host: cfg.Tracing.Host,
		Port: cfg.Tracing.Port,
	})
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			closer()
			return nil
		},
	})
	return nil
}
