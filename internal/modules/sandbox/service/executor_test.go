package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screener_bot/internal/models"
	"screener_bot/internal/modules/config"
)

func testExecutor(filterTimeout time.Duration) *Executor {
	cfg := &config.Config{}
	cfg.Screener.FilterTimeout = filterTimeout
	cfg.Screener.SeriesTimeout = filterTimeout
	return NewExecutor(cfg)
}

func testSnapshot(closes []float64) *models.MarketSnapshot {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		candles[i] = models.Candle{
			OpenTime: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:     c, High: c + 1, Low: c - 1, Close: c,
			Volume: 100, Closed: true,
		}
	}
	return &models.MarketSnapshot{
		Symbol:    "BTCUSDT",
		Ticker:    models.Ticker{Symbol: "BTCUSDT", LastPrice: closes[len(closes)-1]},
		Candles:   map[string][]models.Candle{"5m": candles},
		Timestamp: time.Now(),
	}
}

func TestRunFilterMatch(t *testing.T) {
	e := testExecutor(5 * time.Second)
	snap := testSnapshot([]float64{1, 2, 3, 4, 5})

	matched, class, err := e.RunFilter(context.Background(), `
	candles := data.Candles["5m"]
	return len(candles) >= 5 && candles[len(candles)-1].Close > candles[0].Close
`, snap)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeOK, class)
	assert.True(t, matched)
}

func TestRunFilterNoMatch(t *testing.T) {
	e := testExecutor(5 * time.Second)
	snap := testSnapshot([]float64{5, 4, 3, 2, 1})

	matched, class, err := e.RunFilter(context.Background(), `
	candles := data.Candles["5m"]
	return candles[len(candles)-1].Close > candles[0].Close
`, snap)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeOK, class)
	assert.False(t, matched)
}

func TestRunFilterUsesIndicators(t *testing.T) {
	e := testExecutor(5 * time.Second)
	snap := testSnapshot([]float64{1, 2, 3, 4, 5, 6})

	matched, class, err := e.RunFilter(context.Background(), `
	sma := indicators.SMA(data.Candles["5m"], 3)
	if sma == nil {
		return false
	}
	return *sma > 4
`, snap)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeOK, class)
	assert.True(t, matched)
}

func TestRunFilterCompileError(t *testing.T) {
	e := testExecutor(5 * time.Second)
	snap := testSnapshot([]float64{1, 2, 3})

	_, class, err := e.RunFilter(context.Background(), `this is not go`, snap)
	require.Error(t, err)
	assert.Equal(t, models.OutcomeCompileError, class)
}

func TestRunFilterRuntimeError(t *testing.T) {
	e := testExecutor(5 * time.Second)
	snap := testSnapshot([]float64{1, 2, 3})

	_, class, err := e.RunFilter(context.Background(), `
	empty := data.Candles["1h"]
	return empty[10].Close > 0
`, snap)
	require.Error(t, err)
	assert.Equal(t, models.OutcomeRuntimeError, class, "выход за границы — рантайм, не компиляция")
}

func TestRunFilterTimeout(t *testing.T) {
	e := testExecutor(200 * time.Millisecond)
	snap := testSnapshot([]float64{1, 2, 3})

	start := time.Now()
	_, class, err := e.RunFilter(context.Background(), `
	n := 0
	for {
		n++
	}
	return n > 0
`, snap)
	require.Error(t, err)
	assert.Equal(t, models.OutcomeTimeout, class)
	assert.Less(t, time.Since(start), 2*time.Second, "таймаут должен сработать, а не ждать фильтр")
}

func TestRunFilterBlockedPackages(t *testing.T) {
	e := testExecutor(5 * time.Second)
	snap := testSnapshot([]float64{1, 2, 3})

	_, class, err := e.RunFilter(context.Background(), `
	f, _ := os.Open("/etc/passwd")
	_ = f
	return true
`, snap)
	require.Error(t, err)
	assert.Equal(t, models.OutcomeCompileError, class, "os в песочнице недоступен")
}

func TestValidateFilter(t *testing.T) {
	e := testExecutor(5 * time.Second)

	assert.NoError(t, e.ValidateFilter(`return true`))
	assert.Error(t, e.ValidateFilter(`return "not a bool"`))
	assert.Error(t, e.ValidateFilter(`{{`))
}

func TestRunSeries(t *testing.T) {
	e := testExecutor(5 * time.Second)
	snap := testSnapshot([]float64{1, 2, 3, 4, 5, 6, 7, 8})

	ind, class, err := e.RunSeries(context.Background(), `
	candles := data.Candles["5m"]
	sma := indicators.SMASeries(candles, 3)
	out := &models.IndicatorSnapshot{
		Series: map[string][]models.Point{"sma3": indicators.Points(candles, sma)},
		Latest: map[string]float64{},
	}
	if v := indicators.SMA(candles, 3); v != nil {
		out.Latest["sma3"] = *v
	}
	return out
`, snap)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeOK, class)
	require.NotNil(t, ind)
	assert.Len(t, ind.Series["sma3"], 6)
	assert.InDelta(t, 7.0, ind.Latest["sma3"], 1e-9)
}

func TestFilterCompileCacheReuse(t *testing.T) {
	e := testExecutor(5 * time.Second)
	snap := testSnapshot([]float64{1, 2, 3})
	code := `return data.Ticker.LastPrice > 0`

	_, _, err := e.RunFilter(context.Background(), code, snap)
	require.NoError(t, err)
	require.Len(t, e.filters, 1)

	var cached *compiledFilter
	for _, cf := range e.filters {
		cached = cf
	}

	_, _, err = e.RunFilter(context.Background(), code, snap)
	require.NoError(t, err)
	require.Len(t, e.filters, 1, "повторный прогон того же исходника не компилирует заново")
	assert.Same(t, cached, e.filters[code])

	// другой исходник — другая программа
	_, _, err = e.RunFilter(context.Background(), `return false`, snap)
	require.NoError(t, err)
	assert.Len(t, e.filters, 2)
}

func TestFilterTimeoutDropsCachedProgram(t *testing.T) {
	e := testExecutor(200 * time.Millisecond)
	snap := testSnapshot([]float64{1, 2, 3})
	code := `
	n := 0
	for {
		n++
	}
	return n > 0
`

	_, class, err := e.RunFilter(context.Background(), code, snap)
	require.Error(t, err)
	require.Equal(t, models.OutcomeTimeout, class)

	e.cacheMu.Lock()
	_, stillCached := e.filters[code]
	e.cacheMu.Unlock()
	assert.False(t, stillCached, "повисшая программа не должна блокировать следующие прогоны")
}

func TestSeriesCompileCacheReuse(t *testing.T) {
	e := testExecutor(5 * time.Second)
	snap := testSnapshot([]float64{1, 2, 3, 4, 5})
	code := `
	return &models.IndicatorSnapshot{
		Series: map[string][]models.Point{},
		Latest: map[string]float64{"last": data.Ticker.LastPrice},
	}
`

	_, _, err := e.RunSeries(context.Background(), code, snap)
	require.NoError(t, err)
	_, _, err = e.RunSeries(context.Background(), code, snap)
	require.NoError(t, err)
	assert.Len(t, e.series, 1)
}

// Сквозной сценарий: фильтр "RSI(14) < 30" не срабатывает на растущем
// рынке и срабатывает после серии падений, уводящей RSI под порог.
func TestRSIOversoldFilterScenario(t *testing.T) {
	e := testExecutor(5 * time.Second)
	code := `
	v := indicators.RSI(data.Candles["5m"], 14)
	if v == nil {
		return false
	}
	return *v < 30
`

	closes := make([]float64, 0, 31)
	for i := 0; i <= 20; i++ {
		closes = append(closes, 100+float64(i))
	}
	for i := 1; i <= 10; i++ {
		closes = append(closes, 120-float64(i)*5)
	}

	// только рост: RSI у 100, матча нет
	matched, class, err := e.RunFilter(context.Background(), code, testSnapshot(closes[:21]))
	require.NoError(t, err)
	require.Equal(t, models.OutcomeOK, class)
	assert.False(t, matched)

	// первые падения ещё не уводят RSI под 30
	matched, _, err = e.RunFilter(context.Background(), code, testSnapshot(closes[:24]))
	require.NoError(t, err)
	assert.False(t, matched)

	// после всей серии падений — перепроданность, матч
	matched, class, err = e.RunFilter(context.Background(), code, testSnapshot(closes))
	require.NoError(t, err)
	require.Equal(t, models.OutcomeOK, class)
	assert.True(t, matched)
}

func TestSandboxSymbolsBlocklist(t *testing.T) {
	syms := SandboxSymbols()

	_, hasOS := syms["os/os"]
	_, hasNet := syms["net/http/http"]
	_, hasFmt := syms["fmt/fmt"]
	_, hasMath := syms["math/math"]

	assert.False(t, hasOS)
	assert.False(t, hasNet)
	assert.True(t, hasFmt)
	assert.True(t, hasMath)
}
