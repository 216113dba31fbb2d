// Package indicators — чистые функции технических индикаторов поверх
// упорядоченных последовательностей свечей. Две семьи на индикатор:
// Latest* возвращает *float64 (nil, пока данных меньше периода прогрева —
// отсутствие значения это контракт, не ошибка), *Series возвращает срез
// длины входа с нулевым префиксом на время прогрева. Никаких паник и I/O.
package indicators

import (
	"math"

	"screener_bot/internal/models"
)

// Closes извлекает цены закрытия.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// SMA — простая скользящая средняя последних period закрытий.
func SMA(candles []models.Candle, period int) *float64 {
	if period <= 0 || len(candles) < period {
		return nil
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	v := sum / float64(period)
	return &v
}

// SMASeries — серия SMA; первые period-1 позиций остаются нулевыми.
func SMASeries(candles []models.Candle, period int) []float64 {
	out := make([]float64, len(candles))
	if period <= 0 || len(candles) < period {
		return out
	}
	sum := 0.0
	for i, c := range candles {
		sum += c.Close
		if i >= period {
			sum -= candles[i-period].Close
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA — экспоненциальная скользящая средняя, прогретая по всей истории.
func EMA(candles []models.Candle, period int) *float64 {
	s := EMASeries(candles, period)
	if len(s) == 0 || period <= 0 || len(candles) < period {
		return nil
	}
	v := s[len(s)-1]
	return &v
}

// EMASeries — серия EMA, стартует от SMA первых period закрытий.
func EMASeries(candles []models.Candle, period int) []float64 {
	out := make([]float64, len(candles))
	if period <= 0 || len(candles) < period {
		return out
	}
	k := 2.0 / float64(period+1)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += candles[i].Close
	}
	out[period-1] = sum / float64(period)

	for i := period; i < len(candles); i++ {
		out[i] = candles[i].Close*k + out[i-1]*(1-k)
	}
	return out
}

// RSI — последнее значение индекса относительной силы (Уайлдер).
func RSI(candles []models.Candle, period int) *float64 {
	s := RSISeries(candles, period)
	if period <= 0 || len(candles) < period+1 {
		return nil
	}
	v := s[len(s)-1]
	return &v
}

// RSISeries — серия RSI; значения появляются с индекса period.
func RSISeries(candles []models.Candle, period int) []float64 {
	out := make([]float64, len(candles))
	if period <= 0 || len(candles) < period+1 {
		return out
	}

	gains, losses := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain > 0 {
			return 100
		}
		return 50
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult — линии MACD, сигнальная и гистограмма.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACDSeries считает MACD по закрытиям; при нехватке данных возвращает nil.
func MACDSeries(candles []models.Candle, fast, slow, signal int) *MACDResult {
	if fast <= 0 || slow <= 0 || signal <= 0 || len(candles) < slow {
		return nil
	}
	fastEMA := EMASeries(candles, fast)
	slowEMA := EMASeries(candles, slow)

	macd := make([]float64, len(candles))
	for i := slow - 1; i < len(candles); i++ {
		macd[i] = fastEMA[i] - slowEMA[i]
	}
	sig := emaOfValues(macd[slow-1:], signal)

	res := &MACDResult{
		MACD:      macd,
		Signal:    make([]float64, len(candles)),
		Histogram: make([]float64, len(candles)),
	}
	copy(res.Signal[slow-1:], sig)
	for i := slow - 1; i < len(candles); i++ {
		res.Histogram[i] = res.MACD[i] - res.Signal[i]
	}
	return res
}

// MACD возвращает последние значения (macd, signal, histogram).
func MACD(candles []models.Candle, fast, slow, signal int) (m, s, h *float64) {
	res := MACDSeries(candles, fast, slow, signal)
	if res == nil || len(candles) < slow+signal-1 {
		return nil, nil, nil
	}
	i := len(candles) - 1
	return &res.MACD[i], &res.Signal[i], &res.Histogram[i]
}

func emaOfValues(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	k := 2.0 / float64(period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// BollingerResult — верхняя/средняя/нижняя полосы.
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// BollingerSeries — полосы Боллинджера по SMA и стандартному отклонению.
func BollingerSeries(candles []models.Candle, period int, stdDev float64) *BollingerResult {
	if period <= 0 || len(candles) < period {
		return nil
	}
	middle := SMASeries(candles, period)
	upper := make([]float64, len(candles))
	lower := make([]float64, len(candles))

	for i := period - 1; i < len(candles); i++ {
		sum := 0.0
		for j := 0; j < period; j++ {
			d := candles[i-j].Close - middle[i]
			sum += d * d
		}
		sd := math.Sqrt(sum / float64(period))
		upper[i] = middle[i] + stdDev*sd
		lower[i] = middle[i] - stdDev*sd
	}
	return &BollingerResult{Upper: upper, Middle: middle, Lower: lower}
}

// Bollinger — последние значения полос (upper, middle, lower).
func Bollinger(candles []models.Candle, period int, stdDev float64) (u, m, l *float64) {
	res := BollingerSeries(candles, period, stdDev)
	if res == nil {
		return nil, nil, nil
	}
	i := len(candles) - 1
	return &res.Upper[i], &res.Middle[i], &res.Lower[i]
}

// AvgVolume — средний объём последних period свечей.
func AvgVolume(candles []models.Candle, period int) *float64 {
	if period <= 0 || len(candles) < period {
		return nil
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Volume
	}
	v := sum / float64(period)
	return &v
}

// VWAP — средневзвешенная по объёму цена за всё окно; nil при нулевом объёме.
func VWAP(candles []models.Candle) *float64 {
	if len(candles) == 0 {
		return nil
	}
	tpv, vol := 0.0, 0.0
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		tpv += typical * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		return nil
	}
	v := tpv / vol
	return &v
}

// HighestHigh — максимум хаёв за последние period свечей.
func HighestHigh(candles []models.Candle, period int) *float64 {
	if period <= 0 || len(candles) < period {
		return nil
	}
	hh := candles[len(candles)-period].High
	for i := len(candles) - period + 1; i < len(candles); i++ {
		if candles[i].High > hh {
			hh = candles[i].High
		}
	}
	return &hh
}

// LowestLow — минимум лоёв за последние period свечей.
func LowestLow(candles []models.Candle, period int) *float64 {
	if period <= 0 || len(candles) < period {
		return nil
	}
	ll := candles[len(candles)-period].Low
	for i := len(candles) - period + 1; i < len(candles); i++ {
		if candles[i].Low < ll {
			ll = candles[i].Low
		}
	}
	return &ll
}

// ATR — средний истинный диапазон (Уайлдер) за period.
func ATR(candles []models.Candle, period int) *float64 {
	if period <= 0 || len(candles) < period+1 {
		return nil
	}
	atr := 0.0
	for i := 1; i <= period; i++ {
		atr += trueRange(candles[i], candles[i-1])
	}
	atr /= float64(period)
	for i := period + 1; i < len(candles); i++ {
		atr = (atr*float64(period-1) + trueRange(candles[i], candles[i-1])) / float64(period)
	}
	return &atr
}

func trueRange(cur, prev models.Candle) float64 {
	hl := cur.High - cur.Low
	hc := math.Abs(cur.High - prev.Close)
	lc := math.Abs(cur.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// Stochastic — последние %K и %D стохастического осциллятора.
// %D — SMA(3) от %K.
func Stochastic(candles []models.Candle, kPeriod int) (k, d *float64) {
	if kPeriod <= 0 || len(candles) < kPeriod+2 {
		return nil, nil
	}
	kv := make([]float64, 3)
	for off := 0; off < 3; off++ {
		end := len(candles) - off
		kv[2-off] = stochasticK(candles[:end], kPeriod)
	}
	dv := (kv[0] + kv[1] + kv[2]) / 3
	return &kv[2], &dv
}

func stochasticK(candles []models.Candle, period int) float64 {
	hh := candles[len(candles)-period].High
	ll := candles[len(candles)-period].Low
	for i := len(candles) - period + 1; i < len(candles); i++ {
		if candles[i].High > hh {
			hh = candles[i].High
		}
		if candles[i].Low < ll {
			ll = candles[i].Low
		}
	}
	if hh <= ll {
		return 50
	}
	return (candles[len(candles)-1].Close - ll) / (hh - ll) * 100
}

// Engulfing ищет паттерн поглощения на двух последних закрытых свечах.
// Возвращает "bullish", "bearish" или "".
func Engulfing(candles []models.Candle) string {
	if len(candles) < 3 {
		return ""
	}
	cur := candles[len(candles)-2]
	prev := candles[len(candles)-3]

	curBull := cur.Close > cur.Open
	prevBull := prev.Close > prev.Open

	if !prevBull && curBull && cur.Open < prev.Close && cur.Close > prev.Open {
		return "bullish"
	}
	if prevBull && !curBull && cur.Open > prev.Close && cur.Close < prev.Open {
		return "bearish"
	}
	return ""
}

// Points спаривает серию с таймстемпами свечей, пропуская нулевой префикс
// прогрева — вызывающая сторона получает точки, готовые к отрисовке.
func Points(candles []models.Candle, series []float64) []models.Point {
	n := len(candles)
	if len(series) < n {
		n = len(series)
	}
	start := 0
	for start < n && series[start] == 0 {
		start++
	}
	out := make([]models.Point, 0, n-start)
	for i := start; i < n; i++ {
		out = append(out, models.Point{
			X: candles[i].OpenTime.UnixMilli(),
			Y: series[i],
		})
	}
	return out
}

// BandPoints — то же для трёхлинейных серий (например, Боллинджер):
// Y — средняя, Y2 — верхняя, Y3 — нижняя.
func BandPoints(candles []models.Candle, middle, upper, lower []float64) []models.Point {
	n := len(candles)
	for _, s := range [][]float64{middle, upper, lower} {
		if len(s) < n {
			n = len(s)
		}
	}
	start := 0
	for start < n && middle[start] == 0 {
		start++
	}
	out := make([]models.Point, 0, n-start)
	for i := start; i < n; i++ {
		out = append(out, models.Point{
			X:  candles[i].OpenTime.UnixMilli(),
			Y:  middle[i],
			Y2: upper[i],
			Y3: lower[i],
		})
	}
	return out
}
