package service

import (
	"time"

	"screener_bot/internal/helper"
	"screener_bot/internal/models"
)

// Snapshot собирает point-in-time срез рынка по символу: тикер плюс копии
// окон свечей по всем запрошенным таймфреймам. Копии дальше читаются без
// блокировок, пока read-loop продолжает писать в буферы.
func (c *Client) Snapshot(symbol string, intervals []string) *models.MarketSnapshot {
	snap := &models.MarketSnapshot{
		Symbol:    symbol,
		Candles:   make(map[string][]models.Candle, len(intervals)),
		Timestamp: time.Now(),
	}

	c.tickersMu.RLock()
	snap.Ticker = c.tickers[symbol]
	c.tickersMu.RUnlock()

	c.buffersMu.RLock()
	defer c.buffersMu.RUnlock()
	for _, tf := range intervals {
		if b, ok := c.buffers[helper.BufferKey(symbol, tf)]; ok {
			snap.Candles[tf] = b.Window()
		}
	}
	return snap
}

// Seed засеивает буфер историческими свечами из REST-прогрева. Upsert сам
// отбрасывает то, что websocket уже успел записать поверх.
func (c *Client) Seed(symbol, interval string, candles []models.Candle) {
	b := c.buffer(helper.BufferKey(symbol, interval))
	for _, candle := range candles {
		b.Upsert(candle)
	}
}

// WindowLen — сколько свечей накоплено по паре (symbol, interval).
func (c *Client) WindowLen(symbol, interval string) int {
	c.buffersMu.RLock()
	defer c.buffersMu.RUnlock()
	if b, ok := c.buffers[helper.BufferKey(symbol, interval)]; ok {
		return b.Len()
	}
	return 0
}
