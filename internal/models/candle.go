package models

import (
	"sync"
	"time"
)

// Candle — одна OHLCV-свеча фиксированного интервала.
// Закрытая свеча неизменяема; последняя (формирующаяся) свеча буфера
// может обновляться на месте, пока Closed == false.
type Candle struct {
	OpenTime    time.Time `json:"openTime"`
	CloseTime   time.Time `json:"closeTime"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	QuoteVolume float64   `json:"quoteVolume"`
	Closed      bool      `json:"closed"`
}

// Ticker — последний снимок цены по символу, истории не храним.
type Ticker struct {
	Symbol             string    `json:"symbol"`
	LastPrice          float64   `json:"lastPrice"`
	PriceChangePercent float64   `json:"priceChangePercent"`
	QuoteVolume        float64   `json:"quoteVolume"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// CandleBuffer хранит свечи одной пары (symbol, interval) с фиксированным
// максимумом. Инварианты: open-time строго возрастает, длина <= cap.
// Единственный писатель — ингест маркет-данных; запись в последний слот
// защищена мьютексом, читатели получают копию окна через Window().
type CandleBuffer struct {
	mu      sync.Mutex
	candles []Candle
	cap     int
}

func NewCandleBuffer(capacity int) *CandleBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &CandleBuffer{
		candles: make([]Candle, 0, capacity),
		cap:     capacity,
	}
}

// Upsert добавляет новую свечу или заменяет последнюю формирующуюся.
// Ключ — OpenTime: совпадает с последней свечой => replace, новее => append
// (с вытеснением самой старой при переполнении), старее => отбрасываем.
// Возвращает true, если свеча была добавлена (а не заменена).
func (b *CandleBuffer) Upsert(c Candle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.candles)
	if n > 0 {
		last := b.candles[n-1].OpenTime
		if c.OpenTime.Equal(last) {
			b.candles[n-1] = c
			return false
		}
		if c.OpenTime.Before(last) {
			// опоздавшее сообщение, закрытые свечи не трогаем
			return false
		}
	}

	if n == b.cap {
		copy(b.candles, b.candles[1:])
		b.candles[n-1] = c
		return true
	}
	b.candles = append(b.candles, c)
	return true
}

// Window возвращает копию текущего окна свечей. Копия нужна из-за
// единственного мутабельного слота (последней свечи): дальше по пайплайну
// данные читаются без блокировок.
func (b *CandleBuffer) Window() []Candle {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Candle, len(b.candles))
	copy(out, b.candles)
	return out
}

func (b *CandleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.candles)
}

// Last возвращает последнюю свечу буфера, ok == false для пустого буфера.
func (b *CandleBuffer) Last() (Candle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.candles) == 0 {
		return Candle{}, false
	}
	return b.candles[len(b.candles)-1], true
}

// MarketSnapshot — неизменяемый point-in-time срез рынка по одному символу,
// который получает стратегия на оценку. Потребители не должны его менять.
type MarketSnapshot struct {
	Symbol    string              `json:"symbol"`
	Ticker    Ticker              `json:"ticker"`
	Candles   map[string][]Candle `json:"candles"` // interval -> окно свечей
	Timestamp time.Time           `json:"timestamp"`
}

// CandleClose — уведомление о закрытии свечи, по нему лайфсайкл сигналов
// двигает бар-счётчики независимо от частоты скрининга.
type CandleClose struct {
	Symbol    string
	Interval  string
	CloseTime time.Time
}
