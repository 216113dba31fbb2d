package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/traefik/yaegi/interp"

	"screener_bot/internal/models"
	"screener_bot/internal/modules/config"
)

// Шаблоны-обёртки: тело фильтра/series-функции приходит снаружи как
// голый исходник и подставляется в тело функции с фиксированной
// сигнатурой.
const (
	filterTemplate = `
package main

import (
	"screener_bot/internal/models"
	"screener_bot/pkg/indicators"
)

var _ = indicators.Closes

func evaluate(data *models.MarketSnapshot) bool {
	%s
}
`

	seriesTemplate = `
package main

import (
	"screener_bot/internal/models"
	"screener_bot/pkg/indicators"
)

var _ = indicators.Closes

func calculateSeries(data *models.MarketSnapshot) *models.IndicatorSnapshot {
	%s
}
`
)

// когда закэшированных программ больше — кэш сбрасывается целиком
const compileCacheCap = 512

// compiledFilter — скомпилированный фильтр со своим интерпретатором.
// Интерпретатор не потокобезопасен, поэтому вызовы одной и той же
// программы сериализуются мьютексом; разные трейдеры идут параллельно.
type compiledFilter struct {
	mu sync.Mutex
	fn func(*models.MarketSnapshot) bool
}

type compiledSeries struct {
	mu sync.Mutex
	fn func(*models.MarketSnapshot) *models.IndicatorSnapshot
}

// Executor гоняет динамический код стратегий в yaegi. Компиляция
// кэшируется по самому исходнику: смена версии трейдера меняет исходник
// и автоматически инвалидирует запись. Повисшая на таймауте программа
// выкидывается из кэша, чтобы её мьютекс не блокировал следующие прогоны.
type Executor struct {
	symbols       interp.Exports
	filterTimeout time.Duration
	seriesTimeout time.Duration

	cacheMu sync.Mutex
	filters map[string]*compiledFilter
	series  map[string]*compiledSeries
}

func NewExecutor(cfg *config.Config) *Executor {
	return &Executor{
		symbols:       SandboxSymbols(),
		filterTimeout: cfg.Screener.FilterTimeout,
		seriesTimeout: cfg.Screener.SeriesTimeout,
		filters:       make(map[string]*compiledFilter),
		series:        make(map[string]*compiledSeries),
	}
}

func (e *Executor) newInterp() (*interp.Interpreter, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(e.symbols); err != nil {
		return nil, errors.Wrap(err, "failed to load sandbox symbols")
	}
	return i, nil
}

// ValidateFilter компилирует тело фильтра без выполнения.
// Так ловим ошибки компиляции один раз при загрузке трейдера.
func (e *Executor) ValidateFilter(code string) error {
	return e.validate(fmt.Sprintf(filterTemplate, code))
}

// ValidateSeries — то же для series-функции.
func (e *Executor) ValidateSeries(code string) error {
	return e.validate(fmt.Sprintf(seriesTemplate, code))
}

func (e *Executor) validate(wrapped string) error {
	i, err := e.newInterp()
	if err != nil {
		return err
	}
	if _, err := i.Eval(wrapped); err != nil {
		return errors.Wrap(err, "code validation failed")
	}
	return nil
}

// RunFilter выполняет фильтр над снапшотом. Исход всегда классифицирован:
// ok / compile_error / runtime_error / timeout. При таймауте горутина
// с интерпретатором доживает своё — принудительно убить её нельзя,
// но результат уже никому не уйдёт.
func (e *Executor) RunFilter(ctx context.Context, code string, snap *models.MarketSnapshot) (bool, models.EvalOutcome, error) {
	type outcome struct {
		matched bool
		class   models.EvalOutcome
		err     error
	}
	resCh := make(chan outcome, 1)

	go func() {
		matched, class, err := e.runFilterBlocking(code, snap)
		resCh <- outcome{matched: matched, class: class, err: err}
	}()

	select {
	case r := <-resCh:
		return r.matched, r.class, r.err
	case <-ctx.Done():
		e.dropFilter(code)
		return false, models.OutcomeTimeout, errors.Wrap(ctx.Err(), "filter cancelled")
	case <-time.After(e.filterTimeout):
		e.dropFilter(code)
		return false, models.OutcomeTimeout, errors.Errorf("filter execution timed out after %v", e.filterTimeout)
	}
}

// filterProgram отдаёт скомпилированный фильтр из кэша или компилирует.
func (e *Executor) filterProgram(code string) (*compiledFilter, models.EvalOutcome, error) {
	e.cacheMu.Lock()
	if cf, ok := e.filters[code]; ok {
		e.cacheMu.Unlock()
		return cf, models.OutcomeOK, nil
	}
	e.cacheMu.Unlock()

	// компиляция вне общего лока: медленная, но не держит остальных
	i, err := e.newInterp()
	if err != nil {
		return nil, models.OutcomeRuntimeError, err
	}

	if _, err := i.Eval(fmt.Sprintf(filterTemplate, code)); err != nil {
		return nil, models.OutcomeCompileError, errors.Wrap(err, "failed to compile filter code")
	}

	v, err := i.Eval("evaluate")
	if err != nil {
		return nil, models.OutcomeCompileError, errors.Wrap(err, "failed to get evaluate function")
	}

	fn, ok := v.Interface().(func(*models.MarketSnapshot) bool)
	if !ok {
		return nil, models.OutcomeCompileError, errors.New("evaluate has unexpected signature")
	}

	cf := &compiledFilter{fn: fn}
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if existing, ok := e.filters[code]; ok {
		return existing, models.OutcomeOK, nil
	}
	if len(e.filters) >= compileCacheCap {
		e.filters = make(map[string]*compiledFilter)
	}
	e.filters[code] = cf
	return cf, models.OutcomeOK, nil
}

func (e *Executor) dropFilter(code string) {
	e.cacheMu.Lock()
	delete(e.filters, code)
	e.cacheMu.Unlock()
}

func (e *Executor) dropSeries(code string) {
	e.cacheMu.Lock()
	delete(e.series, code)
	e.cacheMu.Unlock()
}

func (e *Executor) runFilterBlocking(code string, snap *models.MarketSnapshot) (matched bool, class models.EvalOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			matched = false
			class = models.OutcomeRuntimeError
			err = errors.Errorf("filter panicked: %v", p)
		}
	}()

	cf, class, err := e.filterProgram(code)
	if err != nil {
		return false, class, err
	}

	cf.mu.Lock()
	defer cf.mu.Unlock()
	return cf.fn(snap), models.OutcomeOK, nil
}

// RunSeries считает индикаторные серии для совпавшего сигнала.
func (e *Executor) RunSeries(ctx context.Context, code string, snap *models.MarketSnapshot) (*models.IndicatorSnapshot, models.EvalOutcome, error) {
	type outcome struct {
		ind   *models.IndicatorSnapshot
		class models.EvalOutcome
		err   error
	}
	resCh := make(chan outcome, 1)

	go func() {
		ind, class, err := e.runSeriesBlocking(code, snap)
		resCh <- outcome{ind: ind, class: class, err: err}
	}()

	select {
	case r := <-resCh:
		return r.ind, r.class, r.err
	case <-ctx.Done():
		e.dropSeries(code)
		return nil, models.OutcomeTimeout, errors.Wrap(ctx.Err(), "series cancelled")
	case <-time.After(e.seriesTimeout):
		e.dropSeries(code)
		return nil, models.OutcomeTimeout, errors.Errorf("series execution timed out after %v", e.seriesTimeout)
	}
}

func (e *Executor) seriesProgram(code string) (*compiledSeries, models.EvalOutcome, error) {
	e.cacheMu.Lock()
	if cs, ok := e.series[code]; ok {
		e.cacheMu.Unlock()
		return cs, models.OutcomeOK, nil
	}
	e.cacheMu.Unlock()

	i, err := e.newInterp()
	if err != nil {
		return nil, models.OutcomeRuntimeError, err
	}

	if _, err := i.Eval(fmt.Sprintf(seriesTemplate, code)); err != nil {
		return nil, models.OutcomeCompileError, errors.Wrap(err, "failed to compile series code")
	}

	v, err := i.Eval("calculateSeries")
	if err != nil {
		return nil, models.OutcomeCompileError, errors.Wrap(err, "failed to get calculateSeries function")
	}

	fn, ok := v.Interface().(func(*models.MarketSnapshot) *models.IndicatorSnapshot)
	if !ok {
		return nil, models.OutcomeCompileError, errors.New("calculateSeries has unexpected signature")
	}

	cs := &compiledSeries{fn: fn}
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if existing, ok := e.series[code]; ok {
		return existing, models.OutcomeOK, nil
	}
	if len(e.series) >= compileCacheCap {
		e.series = make(map[string]*compiledSeries)
	}
	e.series[code] = cs
	return cs, models.OutcomeOK, nil
}

func (e *Executor) runSeriesBlocking(code string, snap *models.MarketSnapshot) (ind *models.IndicatorSnapshot, class models.EvalOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			ind = nil
			class = models.OutcomeRuntimeError
			err = errors.Errorf("series panicked: %v", p)
		}
	}()

	cs, class, err := e.seriesProgram(code)
	if err != nil {
		return nil, class, err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.fn(snap), models.OutcomeOK, nil
}
