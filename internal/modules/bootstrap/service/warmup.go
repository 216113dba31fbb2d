package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"screener_bot/internal/models"
	"screener_bot/internal/modules/config"
	market "screener_bot/internal/modules/market_ws/service"
	"screener_bot/pkg/logger"
)

// Warmuper засеивает буферы свечей историей через REST до того, как
// websocket начнёт их дописывать: фильтрам с длинным прогревом (EMA200
// на 1h) не приходится ждать живых данных часами.
type Warmuper struct {
	cfg    *config.Config
	market *market.Client
	http   *http.Client
}

func NewWarmuper(cfg *config.Config, m *market.Client) *Warmuper {
	return &Warmuper{
		cfg:    cfg,
		market: m,
		http:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Warmup тянет историю по всем парам (symbol, interval) с ограниченным
// параллелизмом, чтобы не словить rate limit. Ошибка по одной паре не
// прерывает остальные — стартовать с частичной историей лучше, чем не
// стартовать.
func (w *Warmuper) Warmup(ctx context.Context, symbols, intervals []string) error {
	if len(symbols) == 0 || len(intervals) == 0 {
		return nil
	}

	started := time.Now()
	var g errgroup.Group
	g.SetLimit(8)

	for _, sym := range symbols {
		for _, tf := range intervals {
			sym, tf := sym, tf
			g.Go(func() error {
				candles, err := w.getKlines(ctx, sym, tf, w.cfg.Market.WarmupCandles)
				if err != nil {
					logger.Error("warmup: %s %s: %v", sym, tf, err)
					return nil
				}
				w.market.Seed(sym, tf, candles)
				return nil
			})
		}
	}
	_ = g.Wait()

	logger.Info("warmup: done, %d symbols x %d intervals in %v", len(symbols), len(intervals), time.Since(started))
	return nil
}

// getKlines — GET /api/v3/klines. Ответ — массив массивов:
// [openTime, o, h, l, c, v, closeTime, quoteVolume, ...].
func (w *Warmuper) getKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	reqURL := fmt.Sprintf("%s/api/v3/klines?%s", w.cfg.Market.RESTURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "klines request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("klines request returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	return ParseKlines(body)
}

// ParseKlines разбирает REST-ответ в свечи. Последняя свеча ответа может
// быть ещё не закрыта — Closed ставится по её closeTime.
func ParseKlines(body []byte) ([]models.Candle, error) {
	var rows [][]any
	if err := sonic.Unmarshal(body, &rows); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal klines")
	}

	out := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 8 {
			return nil, errors.New("kline row too short")
		}

		openMs, ok1 := asInt64(row[0])
		closeMs, ok2 := asInt64(row[6])
		open, ok3 := asFloat(row[1])
		high, ok4 := asFloat(row[2])
		low, ok5 := asFloat(row[3])
		closep, ok6 := asFloat(row[4])
		vol, ok7 := asFloat(row[5])
		quoteVol, ok8 := asFloat(row[7])
		if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8) {
			return nil, errors.New("kline row has unexpected field types")
		}

		closeTime := time.UnixMilli(closeMs)
		out = append(out, models.Candle{
			OpenTime:    time.UnixMilli(openMs),
			CloseTime:   closeTime,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       closep,
			Volume:      vol,
			QuoteVolume: quoteVol,
			Closed:      closeTime.Before(time.Now()),
		})
	}
	return out, nil
}

func asInt64(v any) (int64, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
