package service

import (
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"screener_bot/internal/models"
	"screener_bot/pkg/indicators"
)

// Пакеты stdlib, которые код стратегии видеть не должен: никакого I/O,
// сети и запуска процессов из песочницы.
var blockedPrefixes = []string{
	"os",
	"net",
	"syscall",
	"plugin",
	"io/fs",
	"io/ioutil",
	"runtime/debug",
}

// SandboxSymbols собирает таблицу символов интерпретатора: урезанная
// stdlib плюс наши типы и индикаторы. Ключи stdlib имеют вид
// "net/http/http" — фильтруем по пути пакета без последнего сегмента.
func SandboxSymbols() interp.Exports {
	out := make(interp.Exports, len(stdlib.Symbols)+2)

	for key, symbols := range stdlib.Symbols {
		pkgPath := key
		if i := strings.LastIndex(key, "/"); i >= 0 {
			pkgPath = key[:i]
		}
		if blockedPackage(pkgPath) {
			continue
		}
		out[key] = symbols
	}

	out["screener_bot/internal/models/models"] = map[string]reflect.Value{
		"Candle":            reflect.ValueOf((*models.Candle)(nil)),
		"Ticker":            reflect.ValueOf((*models.Ticker)(nil)),
		"MarketSnapshot":    reflect.ValueOf((*models.MarketSnapshot)(nil)),
		"IndicatorSnapshot": reflect.ValueOf((*models.IndicatorSnapshot)(nil)),
		"Point":             reflect.ValueOf((*models.Point)(nil)),
	}

	out["screener_bot/pkg/indicators/indicators"] = map[string]reflect.Value{
		"Closes": reflect.ValueOf(indicators.Closes),

		"SMA":       reflect.ValueOf(indicators.SMA),
		"SMASeries": reflect.ValueOf(indicators.SMASeries),
		"EMA":       reflect.ValueOf(indicators.EMA),
		"EMASeries": reflect.ValueOf(indicators.EMASeries),

		"RSI":       reflect.ValueOf(indicators.RSI),
		"RSISeries": reflect.ValueOf(indicators.RSISeries),

		"MACD":       reflect.ValueOf(indicators.MACD),
		"MACDSeries": reflect.ValueOf(indicators.MACDSeries),

		"Bollinger":       reflect.ValueOf(indicators.Bollinger),
		"BollingerSeries": reflect.ValueOf(indicators.BollingerSeries),

		"AvgVolume": reflect.ValueOf(indicators.AvgVolume),
		"VWAP":      reflect.ValueOf(indicators.VWAP),

		"HighestHigh": reflect.ValueOf(indicators.HighestHigh),
		"LowestLow":   reflect.ValueOf(indicators.LowestLow),

		"ATR":        reflect.ValueOf(indicators.ATR),
		"Stochastic": reflect.ValueOf(indicators.Stochastic),
		"Engulfing":  reflect.ValueOf(indicators.Engulfing),

		"Points":     reflect.ValueOf(indicators.Points),
		"BandPoints": reflect.ValueOf(indicators.BandPoints),
	}

	return out
}

func blockedPackage(pkgPath string) bool {
	for _, p := range blockedPrefixes {
		if pkgPath == p || strings.HasPrefix(pkgPath, p+"/") {
			return true
		}
	}
	return false
}
