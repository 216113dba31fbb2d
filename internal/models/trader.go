package models

import "time"

// Trader — сконфигурированная стратегия: динамический исходник фильтра,
// опциональный исходник series-функции и объявленные таймфреймы.
// Создаётся внешним генератором, сюда попадает уже готовый код.
type Trader struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	FilterCode  string        `json:"filterCode"`
	SeriesCode  string        `json:"seriesCode"`
	Intervals   []string      `json:"intervals"` // требуемые таймфреймы ("5m", "1h", ...)
	Refresh     time.Duration `json:"refresh"`   // как часто прогонять фильтр
	Enabled     bool          `json:"enabled"`
	BuiltIn     bool          `json:"builtIn"`
	Version     int           `json:"version"` // ключ кэша компиляции песочницы
}

// PrimaryInterval — первый объявленный таймфрейм; по нему считается
// длительность бара для дедупликации сигналов.
func (t *Trader) PrimaryInterval(fallback string) string {
	if len(t.Intervals) > 0 {
		return t.Intervals[0]
	}
	return fallback
}

// EvalOutcome классифицирует исход прогона стратегии. Ошибки компиляции
// ловятся при загрузке трейдера, рантайм-ошибки и таймауты — на каждом тике.
type EvalOutcome string

const (
	OutcomeOK           EvalOutcome = "ok"
	OutcomeCompileError EvalOutcome = "compile_error"
	OutcomeRuntimeError EvalOutcome = "runtime_error"
	OutcomeTimeout      EvalOutcome = "timeout"
)

// IndicatorSnapshot — именованные серии для визуализации плюс последние
// скалярные значения, результат series-функции стратегии.
type IndicatorSnapshot struct {
	Series map[string][]Point `json:"series"`
	Latest map[string]float64 `json:"latest"`
}

// Point — точка series-вывода стратегии: x — unix-миллисекунды,
// Y2/Y3 для многолинейных индикаторов (например, полосы Боллинджера).
type Point struct {
	X  int64   `json:"x"`
	Y  float64 `json:"y"`
	Y2 float64 `json:"y2,omitempty"`
	Y3 float64 `json:"y3,omitempty"`
}

// EvaluationResult — результат одного прогона (trader, symbol) за тик.
// Не персистится напрямую, его потребляет лайфсайкл сигналов.
type EvaluationResult struct {
	TraderID  string
	Symbol    string
	Matched   bool
	Outcome   EvalOutcome
	Err       error
	Indicator *IndicatorSnapshot
	Reason    string
	Window    []Candle // обрезанный срез свечей для отображения
	Elapsed   time.Duration
}
