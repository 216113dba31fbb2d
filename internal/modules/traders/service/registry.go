package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"screener_bot/internal/models"
	"screener_bot/internal/modules/config"
	"screener_bot/pkg/logger"
)

// TraderStore — то, что реестру нужно от хранилища: список включённых
// трейдеров. Реализация живёт в storage.
type TraderStore interface {
	ListEnabledTraders(ctx context.Context) ([]models.Trader, error)
}

// Validator — компиляционная проверка кода стратегии. Реализация —
// песочница.
type Validator interface {
	ValidateFilter(code string) error
	ValidateSeries(code string) error
}

// EventSink принимает события для внешнего наблюдения. Реализация —
// очередь стейт-синка; nil-синк допустим в тестах.
type EventSink interface {
	PublishEvent(ev models.Event)
}

// Registry держит рабочий набор трейдеров: встроенные из yaml плюс
// включённые из БД. Трейдер попадает в набор только если его код
// компилируется; невалидные исключаются с событием, но не валят остальных.
type Registry struct {
	cfg       *config.Config
	validator Validator
	store     TraderStore
	events    EventSink

	mu      sync.RWMutex
	traders map[string]models.Trader
	builtin []models.Trader
}

func NewRegistry(cfg *config.Config, validator Validator, store TraderStore, events EventSink) *Registry {
	return &Registry{
		cfg:       cfg,
		validator: validator,
		store:     store,
		events:    events,
		traders:   make(map[string]models.Trader),
	}
}

// Reload перечитывает трейдеров из БД, мёржит со встроенными и применяет
// новый набор. Возвращает true, если набор (и потенциально вселенная
// подписок) изменился. Ошибка БД не трогает текущий набор.
func (r *Registry) Reload(ctx context.Context) (bool, error) {
	fromDB, err := r.store.ListEnabledTraders(ctx)
	if err != nil {
		return false, err
	}

	r.mu.RLock()
	builtin := r.builtin
	r.mu.RUnlock()

	return r.apply(append(append([]models.Trader(nil), builtin...), fromDB...)), nil
}

// apply валидирует и сравнивает набор с текущим.
func (r *Registry) apply(candidates []models.Trader) bool {
	next := make(map[string]models.Trader, len(candidates))
	for _, t := range candidates {
		if !t.Enabled {
			continue
		}
		if err := r.validate(t); err != nil {
			logger.Error("traders: %s (%s) excluded, validation failed: %v", t.Name, t.ID, err)
			r.publishInvalid(t, err)
			continue
		}
		next[t.ID] = t
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	changed := len(next) != len(r.traders)
	if !changed {
		for id, t := range next {
			old, ok := r.traders[id]
			if !ok || old.Version != t.Version || !equalIntervals(old.Intervals, t.Intervals) {
				changed = true
				break
			}
		}
	}
	if changed {
		logger.Info("traders: registry updated, %d -> %d active", len(r.traders), len(next))
		r.traders = next
	}
	return changed
}

func (r *Registry) validate(t models.Trader) error {
	if err := r.validator.ValidateFilter(t.FilterCode); err != nil {
		return err
	}
	if t.SeriesCode != "" {
		return r.validator.ValidateSeries(t.SeriesCode)
	}
	return nil
}

func (r *Registry) publishInvalid(t models.Trader, err error) {
	if r.events == nil {
		return
	}
	details, _ := sonic.Marshal(map[string]string{
		"traderId": t.ID,
		"name":     t.Name,
		"error":    err.Error(),
	})
	r.events.PublishEvent(models.Event{
		SourceID:  t.ID,
		Type:      "trader_validation_failed",
		Severity:  models.SeverityError,
		Timestamp: time.Now(),
		Details:   details,
	})
}

// List — копия активного набора в стабильном порядке.
func (r *Registry) List() []models.Trader {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Trader, 0, len(r.traders))
	for _, t := range r.traders {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Get(id string) (models.Trader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.traders[id]
	return t, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.traders)
}

// Intervals — объединение таймфреймов всех активных трейдеров.
// Трейдер без таймфреймов получает дефолтный из конфига.
func (r *Registry) Intervals() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make(map[string]struct{})
	for _, t := range r.traders {
		if len(t.Intervals) == 0 {
			set[r.cfg.Market.DefaultInterval] = struct{}{}
			continue
		}
		for _, tf := range t.Intervals {
			set[tf] = struct{}{}
		}
	}
	if len(set) == 0 {
		set[r.cfg.Market.DefaultInterval] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for tf := range set {
		out = append(out, tf)
	}
	sort.Strings(out)
	return out
}

func equalIntervals(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
