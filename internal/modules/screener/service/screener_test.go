package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screener_bot/internal/models"
	"screener_bot/internal/modules/config"
)

type fakeMarket struct{}

func (fakeMarket) Snapshot(symbol string, intervals []string) *models.MarketSnapshot {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, 60)
	for i := range candles {
		candles[i] = models.Candle{
			OpenTime: base.Add(time.Duration(i) * 5 * time.Minute),
			Close:    100 + float64(i),
			Closed:   true,
		}
	}
	snap := &models.MarketSnapshot{
		Symbol:    symbol,
		Candles:   make(map[string][]models.Candle, len(intervals)),
		Timestamp: time.Now(),
	}
	for _, tf := range intervals {
		snap.Candles[tf] = candles
	}
	return snap
}

// fakeEvaluator трактует код фильтра как команду: "match", "nomatch",
// "timeout", "runtime". Считает пиковую параллельность.
type fakeEvaluator struct {
	mu          sync.Mutex
	running     int
	peakRunning int
	calls       atomic.Int64
	delay       time.Duration
}

func (e *fakeEvaluator) RunFilter(_ context.Context, code string, _ *models.MarketSnapshot) (bool, models.EvalOutcome, error) {
	e.calls.Add(1)

	e.mu.Lock()
	e.running++
	if e.running > e.peakRunning {
		e.peakRunning = e.running
	}
	e.mu.Unlock()

	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	e.mu.Lock()
	e.running--
	e.mu.Unlock()

	switch {
	case strings.Contains(code, "timeout"):
		return false, models.OutcomeTimeout, errors.New("timed out")
	case strings.Contains(code, "runtime"):
		return false, models.OutcomeRuntimeError, errors.New("panicked")
	case strings.Contains(code, "nomatch"):
		return false, models.OutcomeOK, nil
	default:
		return true, models.OutcomeOK, nil
	}
}

func (e *fakeEvaluator) RunSeries(context.Context, string, *models.MarketSnapshot) (*models.IndicatorSnapshot, models.EvalOutcome, error) {
	return &models.IndicatorSnapshot{Latest: map[string]float64{"x": 1}}, models.OutcomeOK, nil
}

func screenerConfig(workers int) *config.Config {
	cfg := &config.Config{}
	cfg.Market.DefaultInterval = "5m"
	cfg.Screener.Workers = workers
	cfg.Screener.TimeoutBackoffAfter = 3
	cfg.Screener.TimeoutBackoff = 5 * time.Minute
	return cfg
}

func screenTrader(id, code string, refresh time.Duration) models.Trader {
	return models.Trader{
		ID:         id,
		Name:       id,
		FilterCode: code,
		Intervals:  []string{"5m"},
		Refresh:    refresh,
		Enabled:    true,
	}
}

func TestTickEvaluatesAllPairs(t *testing.T) {
	ev := &fakeEvaluator{}
	s := NewScreener(screenerConfig(4), fakeMarket{}, ev)

	traders := []models.Trader{screenTrader("a", "match", 0), screenTrader("b", "nomatch", 0)}
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

	results := s.Tick(context.Background(), traders, symbols)
	assert.Len(t, results, 6)
	assert.Equal(t, int64(6), ev.calls.Load())

	matched := 0
	for _, r := range results {
		require.Equal(t, models.OutcomeOK, r.Outcome)
		if r.Matched {
			matched++
			assert.NotEmpty(t, r.Window, "к совпадению прикладывается окно свечей")
		}
	}
	assert.Equal(t, 3, matched, "трейдер a совпал по всем трём символам")
}

func TestTickRespectsWorkerLimit(t *testing.T) {
	ev := &fakeEvaluator{delay: 20 * time.Millisecond}
	s := NewScreener(screenerConfig(2), fakeMarket{}, ev)

	traders := []models.Trader{screenTrader("a", "match", 0)}
	symbols := []string{"S1", "S2", "S3", "S4", "S5", "S6"}

	s.Tick(context.Background(), traders, symbols)

	ev.mu.Lock()
	peak := ev.peakRunning
	ev.mu.Unlock()
	assert.LessOrEqual(t, peak, 2, "параллельность ограничена пулом")
}

func TestRefreshCadence(t *testing.T) {
	ev := &fakeEvaluator{}
	s := NewScreener(screenerConfig(4), fakeMarket{}, ev)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return now }

	traders := []models.Trader{screenTrader("slow", "match", time.Hour)}

	results := s.Tick(context.Background(), traders, []string{"BTCUSDT"})
	require.Len(t, results, 1)

	// refresh не истёк — трейдер не должен запускаться
	now = now.Add(time.Minute)
	results = s.Tick(context.Background(), traders, []string{"BTCUSDT"})
	assert.Empty(t, results)

	now = now.Add(time.Hour)
	results = s.Tick(context.Background(), traders, []string{"BTCUSDT"})
	assert.Len(t, results, 1)
}

func TestTimeoutBackoff(t *testing.T) {
	ev := &fakeEvaluator{}
	s := NewScreener(screenerConfig(1), fakeMarket{}, ev)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return now }

	traders := []models.Trader{screenTrader("hang", "timeout", 0)}

	// три таймаута подряд — порог
	for i := 0; i < 3; i++ {
		results := s.Tick(context.Background(), traders, []string{"BTCUSDT"})
		require.Len(t, results, 1)
		assert.Equal(t, models.OutcomeTimeout, results[0].Outcome)
		now = now.Add(time.Second)
	}
	assert.Equal(t, 1, s.InBackoff())

	// в бэкоффе трейдер не запускается
	results := s.Tick(context.Background(), traders, []string{"BTCUSDT"})
	assert.Empty(t, results)

	// бэкофф истёк — снова пробуем
	now = now.Add(6 * time.Minute)
	results = s.Tick(context.Background(), traders, []string{"BTCUSDT"})
	assert.Len(t, results, 1)
}

func TestRuntimeErrorDoesNotKillOthers(t *testing.T) {
	ev := &fakeEvaluator{}
	s := NewScreener(screenerConfig(4), fakeMarket{}, ev)

	traders := []models.Trader{
		screenTrader("bad", "runtime", 0),
		screenTrader("good", "match", 0),
	}

	results := s.Tick(context.Background(), traders, []string{"BTCUSDT"})
	require.Len(t, results, 2)

	byID := map[string]*models.EvaluationResult{}
	for _, r := range results {
		byID[r.TraderID] = r
	}
	assert.Equal(t, models.OutcomeRuntimeError, byID["bad"].Outcome)
	assert.Equal(t, models.OutcomeOK, byID["good"].Outcome)
	assert.True(t, byID["good"].Matched)
}

func TestSeriesOnlyForMatches(t *testing.T) {
	ev := &fakeEvaluator{}
	s := NewScreener(screenerConfig(4), fakeMarket{}, ev)

	match := screenTrader("m", "match", 0)
	match.SeriesCode = "series"
	noMatch := screenTrader("n", "nomatch", 0)
	noMatch.SeriesCode = "series"

	results := s.Tick(context.Background(), []models.Trader{match, noMatch}, []string{"BTCUSDT"})
	require.Len(t, results, 2)

	for _, r := range results {
		if r.Matched {
			assert.NotNil(t, r.Indicator)
		} else {
			assert.Nil(t, r.Indicator)
		}
	}
}
