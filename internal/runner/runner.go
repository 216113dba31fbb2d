package runner

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"

	"screener_bot/internal/models"
	bootstrap "screener_bot/internal/modules/bootstrap/service"
	"screener_bot/internal/modules/config"
	health "screener_bot/internal/modules/health/service"
	market "screener_bot/internal/modules/market_ws/service"
	screener "screener_bot/internal/modules/screener/service"
	signals "screener_bot/internal/modules/signals/service"
	syncsvc "screener_bot/internal/modules/state_sync/service"
	telegram "screener_bot/internal/modules/telegram_bot/service"
	traders "screener_bot/internal/modules/traders/service"
	"screener_bot/pkg/logger"
)

// Runner — оркестратор: поднимает компоненты в правильном порядке и крутит
// три цикла — тики скрининга, перечитывание трейдеров и потребление
// закрытий свечей. Вся мутация истории сигналов происходит в одной
// горутине тик-цикла.
type Runner struct {
	cfg       *config.Config
	market    *market.Client
	screener  *screener.Screener
	lifecycle *signals.Lifecycle
	registry  *traders.Registry
	queues    *syncsvc.Queues
	syncer    *syncsvc.Syncer
	state     *health.State
	notifier  *telegram.Telegram
	warmuper  *bootstrap.Warmuper

	knownTraders map[string]struct{}
	tickBusy     atomic.Bool

	cancel context.CancelFunc
}

func NewRunner(
	cfg *config.Config,
	m *market.Client,
	s *screener.Screener,
	l *signals.Lifecycle,
	r *traders.Registry,
	q *syncsvc.Queues,
	sy *syncsvc.Syncer,
	st *health.State,
	n *telegram.Telegram,
	w *bootstrap.Warmuper,
) *Runner {
	return &Runner{
		cfg:          cfg,
		market:       m,
		screener:     s,
		lifecycle:    l,
		registry:     r,
		queues:       q,
		syncer:       sy,
		state:        st,
		notifier:     n,
		warmuper:     w,
		knownTraders: make(map[string]struct{}),
	}
}

// Start поднимает пайплайн: реестр -> вселенная подписок -> маркет-данные
// -> циклы. Ошибка начального Reload из БД не фатальна — встроенные
// трейдеры позволяют работать, пока БД догоняет.
func (r *Runner) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel

	if err := r.registry.LoadBuiltIns(r.cfg.Traders.BuiltInFile); err != nil {
		logger.Error("runner: failed to load builtin traders: %v", err)
	}
	if _, err := r.registry.Reload(ctx); err != nil {
		logger.Error("runner: initial trader reload failed: %v", err)
	}
	r.rememberTraders()

	r.market.SetUniverse(r.cfg.Market.Symbols, r.registry.Intervals())
	go func() {
		// websocket стартует сразу, история доезжает параллельно
		if err := r.warmuper.Warmup(ctx, r.cfg.Market.Symbols, r.registry.Intervals()); err != nil {
			logger.Error("runner: warmup failed: %v", err)
		}
	}()
	r.market.Start(ctx)

	r.syncer.SetStatsFn(r.stats)
	go r.syncer.Run(ctx)
	go r.consumeCloses(ctx)
	go r.tickLoop(ctx)
	go r.reloadLoop(ctx)

	r.state.SetActiveTraders(r.registry.Len())
	r.state.SetReady(true)
	logger.Info("runner: started, %d traders, %d symbols", r.registry.Len(), len(r.cfg.Market.Symbols))
	r.notifier.NotifyService("Скринер запущен: %d трейдеров, %d символов", r.registry.Len(), len(r.cfg.Market.Symbols))
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	_ = r.market.Close()
}

// tickLoop — основной цикл. Если предыдущий тик ещё не закончился,
// текущий пропускается целиком, а не ставится в очередь.
func (r *Runner) tickLoop(ctx context.Context) {
	t := time.NewTicker(r.cfg.Screener.Tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !r.tickBusy.CompareAndSwap(false, true) {
				r.state.NoteTickSkipped()
				logger.Warn("runner: previous tick still running, skipping")
				continue
			}
			r.runTick(ctx)
			r.tickBusy.Store(false)
		}
	}
}

func (r *Runner) runTick(ctx context.Context) {
	r.state.SetWSConnected(r.market.IsConnected())

	results := r.screener.Tick(ctx, r.registry.List(), r.cfg.Market.Symbols)
	for _, res := range results {
		r.handleResult(res)
	}

	r.state.TouchTick(time.Now())
}

// handleResult превращает результат прогона в события и сигналы.
// Выполняется последовательно в горутине тик-цикла.
func (r *Runner) handleResult(res *models.EvaluationResult) {
	if res.Outcome != models.OutcomeOK {
		r.publishEvalEvent(res)
		return
	}

	trader, ok := r.registry.Get(res.TraderID)
	if !ok {
		return
	}

	class, sig := r.lifecycle.Apply(trader, res)
	if class != models.SignalNew || sig == nil {
		return
	}

	ticker := r.market.Snapshot(res.Symbol, nil).Ticker
	signals.WithTicker(sig, ticker)
	r.queues.PublishSignal(*sig)

	var meta models.SignalMetadata
	_ = sonic.Unmarshal(sig.Metadata, &meta)
	r.notifier.NotifySignal(trader, sig, meta)

	logger.Info("runner: new signal %s trader=%s symbol=%s", sig.ID, sig.TraderID, sig.Symbol)
}

func (r *Runner) publishEvalEvent(res *models.EvaluationResult) {
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	details, _ := sonic.Marshal(map[string]any{
		"traderId":  res.TraderID,
		"symbol":    res.Symbol,
		"outcome":   string(res.Outcome),
		"error":     errText,
		"elapsedMs": res.Elapsed.Milliseconds(),
	})

	severity := models.SeverityError
	if res.Outcome == models.OutcomeTimeout {
		severity = models.SeverityWarn
	}
	r.queues.PublishEvent(models.Event{
		SourceID:  res.TraderID,
		Type:      "evaluation_" + string(res.Outcome),
		Severity:  severity,
		Timestamp: time.Now(),
		Details:   details,
	})
}

// consumeCloses двигает бар-счётчики дедупликации по закрытиям свечей.
func (r *Runner) consumeCloses(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.market.Closes():
			r.lifecycle.OnCandleClose(ev)
		}
	}
}

// reloadLoop перечитывает трейдеров из БД и на изменениях обновляет
// вселенную подписок и чистит состояние удалённых.
func (r *Runner) reloadLoop(ctx context.Context) {
	t := time.NewTicker(r.cfg.Traders.Reload)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			changed, err := r.registry.Reload(ctx)
			if err != nil {
				logger.Error("runner: trader reload failed: %v", err)
				continue
			}
			if !changed {
				continue
			}

			r.forgetRemoved()
			r.rememberTraders()
			r.market.SetUniverse(r.cfg.Market.Symbols, r.registry.Intervals())
			r.state.SetActiveTraders(r.registry.Len())
		}
	}
}

func (r *Runner) rememberTraders() {
	known := make(map[string]struct{}, r.registry.Len())
	for _, t := range r.registry.List() {
		known[t.ID] = struct{}{}
	}
	r.knownTraders = known
}

func (r *Runner) forgetRemoved() {
	current := make(map[string]struct{}, r.registry.Len())
	for _, t := range r.registry.List() {
		current[t.ID] = struct{}{}
	}
	for id := range r.knownTraders {
		if _, ok := current[id]; !ok {
			r.lifecycle.Forget(id)
			r.screener.Forget(id)
			logger.Info("runner: trader %s removed, state dropped", id)
		}
	}
}

// stats — счётчики компонентов для heartbeat-метрики синкера.
func (r *Runner) stats() map[string]int64 {
	ws := r.market.Stats()
	connected := int64(0)
	if ws.Connected {
		connected = 1
	}
	degraded := int64(0)
	if ws.Degraded {
		degraded = 1
	}
	return map[string]int64{
		"ws_connected":        connected,
		"ws_degraded":         degraded,
		"ws_frames_total":     ws.FramesTotal,
		"ws_frames_malformed": ws.FramesMalformed,
		"ws_closes_dropped":   ws.ClosesDropped,
		"ws_reconnects":       ws.Reconnects,
		"ws_buffers":          int64(ws.Buffers),
		"traders_active":      int64(r.registry.Len()),
		"traders_in_backoff":  int64(r.screener.InBackoff()),
		"signal_pairs":        int64(r.lifecycle.HistoryLen()),
		"ticks_skipped":       r.state.TicksSkipped(),
	}
}
