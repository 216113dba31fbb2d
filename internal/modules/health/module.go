package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"screener_bot/internal/models"
	"screener_bot/internal/modules/config"
	"screener_bot/internal/modules/health/service"
	sandbox "screener_bot/internal/modules/sandbox/service"
)

func NewMux(state *service.State, executor *sandbox.Executor) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: сервис готов обслуживать трафик
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		// полезный JSON для отладки
		resp := map[string]any{
			"ready":         state.Ready(),
			"wsConnected":   state.WSConnected(),
			"uptimeSec":     int64(state.Uptime().Seconds()),
			"activeTraders": state.ActiveTraders(),
			"ticksSkipped":  state.TicksSkipped(),
			"lastTickUnix": func() int64 {
				t := state.LastTick()
				if t.IsZero() {
					return 0
				}
				return t.Unix()
			}(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	// предварительная проверка кода стратегии: генератор дергает её до
	// записи трейдера в БД. Без marketData — только компиляция; с
	// marketData код выполняется над сэмплом, и наружу уходит класс
	// исхода (ok / compile_error / runtime_error / timeout).
	mux.HandleFunc("/evaluate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			FilterCode string                 `json:"filterCode"`
			SeriesCode string                 `json:"seriesCode"`
			MarketData *models.MarketSnapshot `json:"marketData"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.FilterCode == "" {
			http.Error(w, "filterCode is required", http.StatusBadRequest)
			return
		}

		resp := map[string]any{"valid": true}

		if req.MarketData == nil {
			if err := executor.ValidateFilter(req.FilterCode); err != nil {
				resp["valid"] = false
				resp["filterError"] = err.Error()
			}
			if req.SeriesCode != "" {
				if err := executor.ValidateSeries(req.SeriesCode); err != nil {
					resp["valid"] = false
					resp["seriesError"] = err.Error()
				}
			}
		} else {
			matched, class, err := executor.RunFilter(r.Context(), req.FilterCode, req.MarketData)
			resp["matched"] = matched
			resp["filterOutcome"] = string(class)
			if err != nil {
				resp["valid"] = false
				resp["filterError"] = err.Error()
			}
			if req.SeriesCode != "" && err == nil {
				ind, sClass, sErr := executor.RunSeries(r.Context(), req.SeriesCode, req.MarketData)
				resp["seriesOutcome"] = string(sClass)
				if sErr != nil {
					resp["valid"] = false
					resp["seriesError"] = sErr.Error()
				} else {
					resp["series"] = ind
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, mux *http.ServeMux) {
	srv := &http.Server{
		Addr:              cfg.Service.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Service.HTTPAddr)
			if err != nil {
				return err
			}
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewMux,
		),
		fx.Invoke(RunHTTP),
	)
}
