package service

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"screener_bot/internal/helper"
	"screener_bot/internal/models"
)

type klineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime   int64  `json:"t"`
		CloseTime   int64  `json:"T"`
		Interval    string `json:"i"`
		Open        string `json:"o"`
		Close       string `json:"c"`
		High        string `json:"h"`
		Low         string `json:"l"`
		Volume      string `json:"v"`
		QuoteVolume string `json:"q"`
		IsClosed    bool   `json:"x"`
	} `json:"k"`
}

type tickerEvent struct {
	Symbol             string `json:"s"`
	LastPrice          string `json:"c"`
	PriceChangePercent string `json:"P"`
	QuoteVolume        string `json:"q"`
}

// handleFrame разбирает один кадр combined-стрима. Кадры подписочных
// подтверждений ({"result":null,"id":N}) молча пропускаем. Любая ошибка
// разбора — кадр отброшен, соединение живёт дальше.
func (c *Client) handleFrame(msg []byte) error {
	var raw struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := sonic.Unmarshal(msg, &raw); err != nil {
		return errors.Wrap(err, "failed to unmarshal stream message")
	}
	if raw.Stream == "" {
		// подтверждение SUBSCRIBE/UNSUBSCRIBE или пинг — не данные
		return nil
	}

	switch {
	case strings.Contains(raw.Stream, "@kline_"):
		return c.handleKline(raw.Data)
	case strings.HasSuffix(raw.Stream, "@ticker"):
		return c.handleTicker(raw.Data)
	default:
		return errors.Errorf("unknown stream %q", raw.Stream)
	}
}

func (c *Client) handleKline(data []byte) error {
	var event klineEvent
	if err := sonic.Unmarshal(data, &event); err != nil {
		return errors.Wrap(err, "failed to unmarshal kline event")
	}
	if event.Symbol == "" || event.Kline.Interval == "" {
		return errors.New("kline event missing symbol or interval")
	}

	open, err1 := strconv.ParseFloat(event.Kline.Open, 64)
	high, err2 := strconv.ParseFloat(event.Kline.High, 64)
	low, err3 := strconv.ParseFloat(event.Kline.Low, 64)
	closep, err4 := strconv.ParseFloat(event.Kline.Close, 64)
	vol, err5 := strconv.ParseFloat(event.Kline.Volume, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return errors.New("kline event has non-numeric OHLCV")
	}
	quoteVol, _ := strconv.ParseFloat(event.Kline.QuoteVolume, 64)

	candle := models.Candle{
		OpenTime:    time.UnixMilli(event.Kline.StartTime),
		CloseTime:   time.UnixMilli(event.Kline.CloseTime),
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closep,
		Volume:      vol,
		QuoteVolume: quoteVol,
		Closed:      event.Kline.IsClosed,
	}

	key := helper.BufferKey(event.Symbol, event.Kline.Interval)
	c.buffer(key).Upsert(candle)

	if event.Kline.IsClosed {
		c.emitClose(key, event.Symbol, event.Kline.Interval, event.Kline.CloseTime)
	}
	return nil
}

// emitClose дедуплицирует закрытия (биржа может прислать финальный апдейт
// свечи дважды) и шлёт уведомление без блокировки read-loop.
func (c *Client) emitClose(key, symbol, interval string, closeTimeMs int64) {
	c.lastClosedMu.Lock()
	if c.lastClosed[key] == closeTimeMs {
		c.lastClosedMu.Unlock()
		return
	}
	c.lastClosed[key] = closeTimeMs
	c.lastClosedMu.Unlock()

	select {
	case c.closes <- models.CandleClose{
		Symbol:    symbol,
		Interval:  interval,
		CloseTime: time.UnixMilli(closeTimeMs),
	}:
	default:
		c.closesDropped.Add(1)
	}
}

func (c *Client) handleTicker(data []byte) error {
	var event tickerEvent
	if err := sonic.Unmarshal(data, &event); err != nil {
		return errors.Wrap(err, "failed to unmarshal ticker event")
	}
	if event.Symbol == "" {
		return errors.New("ticker event missing symbol")
	}

	last, err1 := strconv.ParseFloat(event.LastPrice, 64)
	change, err2 := strconv.ParseFloat(event.PriceChangePercent, 64)
	if err1 != nil || err2 != nil {
		return errors.New("ticker event has non-numeric fields")
	}
	quoteVol, _ := strconv.ParseFloat(event.QuoteVolume, 64)

	c.tickersMu.Lock()
	c.tickers[event.Symbol] = models.Ticker{
		Symbol:             event.Symbol,
		LastPrice:          last,
		PriceChangePercent: change,
		QuoteVolume:        quoteVol,
		UpdatedAt:          time.Now(),
	}
	c.tickersMu.Unlock()
	return nil
}

func (c *Client) buffer(key string) *models.CandleBuffer {
	c.buffersMu.RLock()
	b, ok := c.buffers[key]
	c.buffersMu.RUnlock()
	if ok {
		return b
	}

	c.buffersMu.Lock()
	defer c.buffersMu.Unlock()
	if b, ok = c.buffers[key]; ok {
		return b
	}
	b = models.NewCandleBuffer(c.cfg.Market.CandleCap)
	c.buffers[key] = b
	return b
}
