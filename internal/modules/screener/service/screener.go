package service

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"golang.org/x/sync/semaphore"

	"screener_bot/internal/models"
	"screener_bot/internal/modules/config"
	"screener_bot/pkg/logger"
)

// MarketSource — что скринеру нужно от маркет-данных.
type MarketSource interface {
	Snapshot(symbol string, intervals []string) *models.MarketSnapshot
}

// Evaluator — прогон кода стратегии. Реализация — песочница.
type Evaluator interface {
	RunFilter(ctx context.Context, code string, snap *models.MarketSnapshot) (bool, models.EvalOutcome, error)
	RunSeries(ctx context.Context, code string, snap *models.MarketSnapshot) (*models.IndicatorSnapshot, models.EvalOutcome, error)
}

// сколько свечей прикладываем к результату для метаданных сигнала
const resultWindowLen = 50

// Screener раз в тик прогоняет должных трейдеров по всем символам через
// пул воркеров. Каждая пара (trader, symbol) — независимый прогон:
// паника, ошибка или таймаут одного не трогает остальные.
type Screener struct {
	cfg     *config.Config
	market  MarketSource
	sandbox Evaluator

	mu           sync.Mutex
	lastRun      map[string]time.Time // traderID -> последний прогон
	timeoutRuns  map[string]int       // traderID -> таймауты подряд
	backoffUntil map[string]time.Time // traderID -> конец бэкоффа

	nowFn func() time.Time
}

func NewScreener(cfg *config.Config, market MarketSource, sandbox Evaluator) *Screener {
	return &Screener{
		cfg:          cfg,
		market:       market,
		sandbox:      sandbox,
		lastRun:      make(map[string]time.Time),
		timeoutRuns:  make(map[string]int),
		backoffUntil: make(map[string]time.Time),
		nowFn:        time.Now,
	}
}

// Tick прогоняет всех должных трейдеров по вселенной символов и возвращает
// результаты. Блокирует до завершения всех прогонов — оркестратор сам
// решает, пропускать ли следующий тик при перерасходе.
func (s *Screener) Tick(ctx context.Context, traders []models.Trader, symbols []string) []*models.EvaluationResult {
	due := s.dueTraders(traders)
	if len(due) == 0 || len(symbols) == 0 {
		return nil
	}

	span := opentracing.GlobalTracer().StartSpan("screener.tick")
	span.SetTag("traders", len(due))
	span.SetTag("symbols", len(symbols))
	defer span.Finish()

	sem := semaphore.NewWeighted(int64(s.cfg.Screener.Workers))
	var wg sync.WaitGroup
	var resMu sync.Mutex
	results := make([]*models.EvaluationResult, 0, len(due)*len(symbols))

	for _, trader := range due {
		for _, symbol := range symbols {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return results
			}

			wg.Add(1)
			go func(trader models.Trader, symbol string) {
				defer wg.Done()
				defer sem.Release(1)

				res := s.evaluate(ctx, trader, symbol)
				s.noteOutcome(trader.ID, res.Outcome)

				resMu.Lock()
				results = append(results, res)
				resMu.Unlock()
			}(trader, symbol)
		}
	}
	wg.Wait()

	span.SetTag("results", len(results))
	return results
}

// dueTraders отбирает трейдеров, которым пора: refresh истёк и бэкофф
// после серии таймаутов не активен. Отобранные сразу помечаются
// запущенными.
func (s *Screener) dueTraders(traders []models.Trader) []models.Trader {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]models.Trader, 0, len(traders))
	for _, t := range traders {
		if until, ok := s.backoffUntil[t.ID]; ok {
			if now.Before(until) {
				continue
			}
			delete(s.backoffUntil, t.ID)
			s.timeoutRuns[t.ID] = 0
		}
		if last, ok := s.lastRun[t.ID]; ok && now.Sub(last) < t.Refresh {
			continue
		}
		s.lastRun[t.ID] = now
		due = append(due, t)
	}
	return due
}

func (s *Screener) evaluate(ctx context.Context, trader models.Trader, symbol string) *models.EvaluationResult {
	intervals := trader.Intervals
	if len(intervals) == 0 {
		intervals = []string{s.cfg.Market.DefaultInterval}
	}
	snap := s.market.Snapshot(symbol, intervals)

	res := &models.EvaluationResult{
		TraderID: trader.ID,
		Symbol:   symbol,
	}

	started := s.nowFn()
	matched, outcome, err := s.sandbox.RunFilter(ctx, trader.FilterCode, snap)
	res.Elapsed = s.nowFn().Sub(started)
	res.Matched = matched
	res.Outcome = outcome
	res.Err = err

	if outcome != models.OutcomeOK {
		logger.Error("screener: %s/%s filter %s: %v", trader.ID, symbol, outcome, err)
		return res
	}
	if !matched {
		return res
	}

	primary := trader.PrimaryInterval(s.cfg.Market.DefaultInterval)
	res.Window = trimWindow(snap.Candles[primary], resultWindowLen)
	res.Reason = trader.Description

	// series-функция считается только для совпадений — дорогая
	if trader.SeriesCode != "" {
		ind, seriesOutcome, err := s.sandbox.RunSeries(ctx, trader.SeriesCode, snap)
		if seriesOutcome != models.OutcomeOK {
			// совпадение валидно и без визуализации
			logger.Error("screener: %s/%s series %s: %v", trader.ID, symbol, seriesOutcome, err)
		} else {
			res.Indicator = ind
		}
	}
	return res
}

// noteOutcome ведёт счётчик таймаутов подряд: после порога трейдер уходит
// в бэкофф, чтобы зависающий код не выедал пул на каждом тике.
func (s *Screener) noteOutcome(traderID string, outcome models.EvalOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if outcome != models.OutcomeTimeout {
		s.timeoutRuns[traderID] = 0
		return
	}

	s.timeoutRuns[traderID]++
	if s.timeoutRuns[traderID] >= s.cfg.Screener.TimeoutBackoffAfter {
		s.backoffUntil[traderID] = s.nowFn().Add(s.cfg.Screener.TimeoutBackoff)
		logger.Warn("screener: %s hit %d consecutive timeouts, backing off for %v",
			traderID, s.timeoutRuns[traderID], s.cfg.Screener.TimeoutBackoff)
	}
}

// InBackoff — для heartbeat-метрик.
func (s *Screener) InBackoff() int {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, until := range s.backoffUntil {
		if now.Before(until) {
			n++
		}
	}
	return n
}

// Forget сбрасывает состояние удалённого трейдера.
func (s *Screener) Forget(traderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastRun, traderID)
	delete(s.timeoutRuns, traderID)
	delete(s.backoffUntil, traderID)
}

func trimWindow(candles []models.Candle, max int) []models.Candle {
	if len(candles) <= max {
		return candles
	}
	return candles[len(candles)-max:]
}
