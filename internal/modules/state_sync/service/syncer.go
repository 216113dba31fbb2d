package service

import (
	"context"
	"sync/atomic"
	"time"

	"screener_bot/internal/models"
	"screener_bot/internal/modules/config"
	"screener_bot/pkg/logger"
)

// SyncStore — батчевые записи, которые синкеру нужны от хранилища.
type SyncStore interface {
	SaveSignals(ctx context.Context, batch []models.Signal) error
	SaveMetrics(ctx context.Context, batch []models.Metric) error
	SaveEvents(ctx context.Context, batch []models.Event) error
}

// StatsFn собирает счётчики компонентов для heartbeat-метрики.
// Назначает оркестратор после сборки всех компонентов.
type StatsFn func() map[string]int64

// потолок паузы между попытками флаша при лежащей БД
const maxFlushBackoff = 5 * time.Minute

// Syncer периодически сливает очереди в хранилище батчами. Неудачный
// батч возвращается в очередь, а следующая попытка откладывается с
// экспоненциальным бэкоффом; очереди ограничены, так что недоступная БД
// выливается в счётчик вытеснений, а не в рост памяти.
type Syncer struct {
	cfg    *config.Config
	queues *Queues
	store  SyncStore

	statsFn atomic.Pointer[StatsFn]

	flushes       atomic.Int64
	flushFailures atomic.Int64
	failStreak    atomic.Int64
	backoffUntil  atomic.Int64 // unix nano; 0 — бэкоффа нет

	nowFn func() time.Time
}

func NewSyncer(cfg *config.Config, queues *Queues, store SyncStore) *Syncer {
	return &Syncer{
		cfg:    cfg,
		queues: queues,
		store:  store,
		nowFn:  time.Now,
	}
}

// SetStatsFn подключает источник счётчиков для heartbeat.
func (s *Syncer) SetStatsFn(fn StatsFn) {
	s.statsFn.Store(&fn)
}

// Run крутит флаш и heartbeat до отмены контекста. Heartbeat живёт на
// своём тикере и не зависит от наполненности очередей данных.
func (s *Syncer) Run(ctx context.Context) {
	flushT := time.NewTicker(s.cfg.Sync.Flush)
	defer flushT.Stop()
	heartbeatT := time.NewTicker(s.cfg.Sync.Heartbeat)
	defer heartbeatT.Stop()

	for {
		select {
		case <-ctx.Done():
			// прощальный флаш с коротким дедлайном
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.FlushOnce(flushCtx)
			cancel()
			return
		case <-flushT.C:
			if s.InBackoff() {
				continue
			}
			s.FlushOnce(ctx)
		case <-heartbeatT.C:
			s.Heartbeat()
		}
	}
}

// FlushOnce сливает все три очереди. Очереди независимы: ошибка одной не
// мешает другим, но любая ошибка уводит следующий флаш в бэкофф.
func (s *Syncer) FlushOnce(ctx context.Context) {
	s.flushes.Add(1)

	attempted := false
	failed := false

	if batch := s.queues.Signals.Drain(); len(batch) > 0 {
		attempted = true
		if err := s.store.SaveSignals(ctx, batch); err != nil {
			failed = true
			s.flushFailures.Add(1)
			s.queues.Signals.Restore(batch)
			logger.Error("state_sync: failed to flush %d signals: %v", len(batch), err)
		}
	}

	if batch := s.queues.Metrics.Drain(); len(batch) > 0 {
		attempted = true
		if err := s.store.SaveMetrics(ctx, batch); err != nil {
			failed = true
			s.flushFailures.Add(1)
			s.queues.Metrics.Restore(batch)
			logger.Error("state_sync: failed to flush %d metrics: %v", len(batch), err)
		}
	}

	if batch := s.queues.Events.Drain(); len(batch) > 0 {
		attempted = true
		if err := s.store.SaveEvents(ctx, batch); err != nil {
			failed = true
			s.flushFailures.Add(1)
			s.queues.Events.Restore(batch)
			logger.Error("state_sync: failed to flush %d events: %v", len(batch), err)
		}
	}

	switch {
	case failed:
		s.noteFlushFailure()
	case attempted:
		s.failStreak.Store(0)
		s.backoffUntil.Store(0)
	}
}

// InBackoff — флаши приостановлены после серии неудач.
func (s *Syncer) InBackoff() bool {
	return s.nowFn().UnixNano() < s.backoffUntil.Load()
}

func (s *Syncer) noteFlushFailure() {
	streak := s.failStreak.Add(1)
	delay := s.cfg.Sync.Flush
	for i := int64(1); i < streak && delay < maxFlushBackoff; i++ {
		delay *= 2
	}
	if delay > maxFlushBackoff {
		delay = maxFlushBackoff
	}
	s.backoffUntil.Store(s.nowFn().Add(delay).UnixNano())
	logger.Warn("state_sync: flush failed %d time(s) in a row, backing off for %v", streak, delay)
}

// Heartbeat кладёт метрику живости в очередь метрик. Счётчики очередей
// добавляются всегда, остальное — что отдаст StatsFn.
func (s *Syncer) Heartbeat() {
	counters := map[string]int64{
		"queue_signals_len":       int64(s.queues.Signals.Len()),
		"queue_metrics_len":       int64(s.queues.Metrics.Len()),
		"queue_events_len":        int64(s.queues.Events.Len()),
		"queue_signals_evictions": s.queues.Signals.Evictions(),
		"queue_metrics_evictions": s.queues.Metrics.Evictions(),
		"queue_events_evictions":  s.queues.Events.Evictions(),
		"sync_flushes":            s.flushes.Load(),
		"sync_flush_failures":     s.flushFailures.Load(),
		"sync_fail_streak":        s.failStreak.Load(),
	}

	if fnPtr := s.statsFn.Load(); fnPtr != nil {
		for k, v := range (*fnPtr)() {
			counters[k] = v
		}
	}

	s.queues.PublishMetric(models.Metric{
		SourceID:  s.cfg.Service.Name,
		Timestamp: time.Now(),
		Counters:  counters,
	})
}
