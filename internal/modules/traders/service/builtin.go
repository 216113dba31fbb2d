package service

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"screener_bot/internal/models"
)

// builtinFile — формат configs/traders.yaml со встроенными стратегиями.
type builtinFile struct {
	Traders []builtinTrader `yaml:"traders"`
}

type builtinTrader struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	FilterCode  string   `yaml:"filter_code"`
	SeriesCode  string   `yaml:"series_code"`
	Intervals   []string `yaml:"intervals"`
	Refresh     string   `yaml:"refresh"`
	Enabled     *bool    `yaml:"enabled"` // по умолчанию включён
}

// LoadBuiltIns читает встроенных трейдеров из yaml и применяет их вместе
// с текущим набором из БД. Отсутствие файла — не ошибка: встроенных просто
// нет.
func (r *Registry) LoadBuiltIns(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "failed to read builtin traders file")
	}

	var file builtinFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return errors.Wrap(err, "failed to decode builtin traders file")
	}

	builtin := make([]models.Trader, 0, len(file.Traders))
	for _, bt := range file.Traders {
		refresh := time.Minute
		if bt.Refresh != "" {
			if d, err := time.ParseDuration(bt.Refresh); err == nil {
				refresh = d
			}
		}
		enabled := true
		if bt.Enabled != nil {
			enabled = *bt.Enabled
		}
		builtin = append(builtin, models.Trader{
			ID:          bt.ID,
			Name:        bt.Name,
			Description: bt.Description,
			FilterCode:  bt.FilterCode,
			SeriesCode:  bt.SeriesCode,
			Intervals:   bt.Intervals,
			Refresh:     refresh,
			Enabled:     enabled,
			BuiltIn:     true,
			Version:     1,
		})
	}

	r.mu.Lock()
	r.builtin = builtin
	current := make([]models.Trader, 0, len(r.traders))
	for _, t := range r.traders {
		if !t.BuiltIn {
			current = append(current, t)
		}
	}
	r.mu.Unlock()

	r.apply(append(append([]models.Trader(nil), builtin...), current...))
	return nil
}
