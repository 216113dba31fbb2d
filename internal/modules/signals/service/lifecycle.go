package service

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"screener_bot/internal/helper"
	"screener_bot/internal/models"
	"screener_bot/internal/modules/config"
	"screener_bot/pkg/logger"
)

// Lifecycle классифицирует совпадения фильтров в new/continuing.
// Правило дедупликации: совпадение считается новым сигналом, если с
// прошлого сигнала прошло >= N закрытых баров ИЛИ >= N * длительность бара
// по настенным часам. Второе условие страхует от потери событий закрытия
// (реконнект, гэп в данных): время идёт всегда.
type Lifecycle struct {
	cfg *config.Config

	mu      sync.Mutex
	history map[string]*historyEntry // traderID:symbol

	nowFn func() time.Time
}

type historyEntry struct {
	lastSignalAt time.Time
	barsSince    int
	interval     string // по какому таймфрейму двигаем счётчик
	barDur       time.Duration
}

func NewLifecycle(cfg *config.Config) *Lifecycle {
	return &Lifecycle{
		cfg:     cfg,
		history: make(map[string]*historyEntry),
		nowFn:   time.Now,
	}
}

func historyKey(traderID, symbol string) string { return traderID + ":" + symbol }

// Apply обрабатывает результат одного прогона. Сигнал возвращается только
// для класса new; continuing ничего не персистит.
func (l *Lifecycle) Apply(trader models.Trader, res *models.EvaluationResult) (models.SignalClass, *models.Signal) {
	if !res.Matched {
		return "", nil
	}

	interval := trader.PrimaryInterval(l.cfg.Market.DefaultInterval)
	barDur, err := helper.ParseInterval(interval)
	if err != nil {
		logger.Error("signals: %s has invalid interval %q: %v", trader.ID, interval, err)
		barDur = 5 * time.Minute
	}

	now := l.nowFn()
	threshold := l.cfg.Signals.DedupeBars
	key := historyKey(trader.ID, res.Symbol)

	l.mu.Lock()
	entry, seen := l.history[key]
	isNew := !seen ||
		entry.barsSince >= threshold ||
		now.Sub(entry.lastSignalAt) >= time.Duration(threshold)*barDur

	if isNew {
		l.history[key] = &historyEntry{
			lastSignalAt: now,
			barsSince:    0,
			interval:     interval,
			barDur:       barDur,
		}
	}
	l.mu.Unlock()

	if !isNew {
		return models.SignalContinuing, nil
	}
	return models.SignalNew, l.buildSignal(trader, res, interval, now)
}

func (l *Lifecycle) buildSignal(trader models.Trader, res *models.EvaluationResult, interval string, now time.Time) *models.Signal {
	meta := models.SignalMetadata{
		Interval:  interval,
		Reason:    res.Reason,
		Indicator: res.Indicator,
	}
	if n := len(res.Window); n > 0 {
		meta.Price = res.Window[n-1].Close
	}
	return &models.Signal{
		ID:        uuid.NewString(),
		TraderID:  trader.ID,
		Symbol:    res.Symbol,
		Timestamp: now,
		Metadata:  marshalMeta(&meta),
	}
}

// WithTicker дополняет метаданные сигнала рыночным контекстом тикера.
func WithTicker(sig *models.Signal, ticker models.Ticker) {
	if sig == nil {
		return
	}
	var meta models.SignalMetadata
	if err := sonic.Unmarshal(sig.Metadata, &meta); err != nil {
		return
	}
	if ticker.LastPrice > 0 {
		meta.Price = ticker.LastPrice
	}
	meta.ChangePercent = ticker.PriceChangePercent
	meta.QuoteVolume = ticker.QuoteVolume
	sig.Metadata = marshalMeta(&meta)
}

func marshalMeta(meta *models.SignalMetadata) []byte {
	raw, err := sonic.Marshal(meta)
	if err != nil {
		logger.Error("signals: failed to marshal metadata: %v", err)
		return []byte("{}")
	}
	return raw
}

// OnCandleClose двигает бар-счётчики по событию закрытия свечи. Счётчик
// пары (trader, symbol) растёт один раз на каждый закрытый бар её
// таймфрейма — частота тиков скрининга на него не влияет.
func (l *Lifecycle) OnCandleClose(ev models.CandleClose) {
	suffix := ":" + ev.Symbol

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, entry := range l.history {
		if entry.interval != ev.Interval {
			continue
		}
		if len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix {
			entry.barsSince++
		}
	}
}

// HistoryLen — количество отслеживаемых пар (trader, symbol).
func (l *Lifecycle) HistoryLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}

// Forget выбрасывает историю трейдера (например, удалённого из реестра).
func (l *Lifecycle) Forget(traderID string) {
	prefix := traderID + ":"

	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.history {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(l.history, key)
		}
	}
}
