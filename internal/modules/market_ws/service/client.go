package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"screener_bot/internal/models"
	"screener_bot/internal/modules/config"
	"screener_bot/pkg/logger"
)

const (
	reconnectInitialBackoff = 3 * time.Second
	reconnectMaxBackoff     = 60 * time.Second

	// тикер-стримы шлют кадры примерно раз в секунду: если кадров нет
	// дольше этого, соединение живо только формально
	frameStallAfter = 30 * time.Second
)

// Client держит одно websocket-соединение с combined-стримами Binance:
// kline-стримы по каждой паре (symbol, interval) плюс ticker-стрим на
// символ. Единственный писатель в буферы свечей — read-loop этого клиента.
type Client struct {
	cfg *config.Config

	wsDialer *websocket.Dialer

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	symbols   []string
	intervals []string
	subID     int64 // id для SUBSCRIBE/UNSUBSCRIBE кадров

	buffersMu sync.RWMutex
	buffers   map[string]*models.CandleBuffer // BufferKey(symbol, interval)

	tickersMu sync.RWMutex
	tickers   map[string]models.Ticker

	lastClosedMu sync.Mutex
	lastClosed   map[string]int64 // дедуп закрытий: BufferKey -> closeTime ms

	closes chan models.CandleClose

	framesTotal     atomic.Int64
	framesMalformed atomic.Int64
	closesDropped   atomic.Int64
	reconnects      atomic.Int64
	lastFrame       atomic.Int64 // unix nano последнего кадра с сокета

	reconnectCh chan struct{}
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg:         cfg,
		wsDialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		buffers:     make(map[string]*models.CandleBuffer),
		tickers:     make(map[string]models.Ticker),
		lastClosed:  make(map[string]int64),
		closes:      make(chan models.CandleClose, 1024),
		reconnectCh: make(chan struct{}, 1),
	}
}

// Closes — поток уведомлений о закрытых свечах для лайфсайкла сигналов.
func (c *Client) Closes() <-chan models.CandleClose { return c.closes }

// Start подключается и запускает цикл переподключений. Блокирующих
// операций в вызывающей горутине нет.
func (c *Client) Start(ctx context.Context) {
	go c.reconnectLoop(ctx)
	if err := c.connect(ctx); err != nil {
		logger.Error("market_ws: initial connect failed: %v", err)
		c.triggerReconnect()
	}
}

// SetUniverse меняет набор подписок. На живом соединении шлём
// SUBSCRIBE/UNSUBSCRIBE только по разнице, без полного реконнекта;
// если отправка не удалась — переподключаемся с новым набором.
func (c *Client) SetUniverse(symbols, intervals []string) {
	c.mu.Lock()
	oldStreams := buildStreams(c.symbols, c.intervals)
	c.symbols = append([]string(nil), symbols...)
	c.intervals = append([]string(nil), intervals...)
	newStreams := buildStreams(c.symbols, c.intervals)
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return
	}

	added, removed := diffStreams(oldStreams, newStreams)
	if len(added) == 0 && len(removed) == 0 {
		return
	}

	if len(removed) > 0 {
		if err := c.writeSubFrame(conn, "UNSUBSCRIBE", removed); err != nil {
			logger.Error("market_ws: unsubscribe failed: %v", err)
			c.triggerReconnect()
			return
		}
	}
	if len(added) > 0 {
		if err := c.writeSubFrame(conn, "SUBSCRIBE", added); err != nil {
			logger.Error("market_ws: subscribe failed: %v", err)
			c.triggerReconnect()
			return
		}
	}
	logger.Info("market_ws: universe updated, +%d/-%d streams", len(added), len(removed))
}

func (c *Client) writeSubFrame(conn *websocket.Conn, method string, streams []string) error {
	id := atomic.AddInt64(&c.subID, 1)
	frame := map[string]any{
		"method": method,
		"params": streams,
		"id":     id,
	}
	payload, err := sonic.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.RLock()
	streams := buildStreams(c.symbols, c.intervals)
	c.mu.RUnlock()

	if len(streams) == 0 {
		return fmt.Errorf("empty stream universe")
	}

	url := fmt.Sprintf("%s/stream?streams=%s", c.cfg.Market.WSURL, strings.Join(streams, "/"))
	logger.Info("market_ws: connecting, %d streams", len(streams))

	conn, _, err := c.wsDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.cfg.Market.WSURL, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(ctx, conn)
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.connected = false
		}
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("market_ws: read error: %v", err)
			_ = conn.Close()
			c.triggerReconnect()
			return
		}

		c.framesTotal.Add(1)
		c.lastFrame.Store(time.Now().UnixNano())
		if err := c.handleFrame(msg); err != nil {
			// битый кадр не валит соединение, только счётчик
			c.framesMalformed.Add(1)
		}
	}
}

func (c *Client) triggerReconnect() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
}

func (c *Client) reconnectLoop(ctx context.Context) {
	backoff := reconnectInitialBackoff

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.reconnectCh:
			c.reconnects.Add(1)
			logger.Info("market_ws: reconnecting in %v", backoff)

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := c.connect(ctx); err != nil {
				logger.Error("market_ws: reconnect failed: %v", err)
				backoff *= 2
				if backoff > reconnectMaxBackoff {
					backoff = reconnectMaxBackoff
				}
				c.triggerReconnect()
				continue
			}
			backoff = reconnectInitialBackoff
		}
	}
}

// Close шлёт close-кадр и закрывает соединение.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		err := c.conn.Close()
		c.conn = nil
		c.connected = false
		return err
	}
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Stats — счётчики для heartbeat-метрик. Degraded — деградация:
// соединение установлено, но кадры с сокета перестали приходить.
type Stats struct {
	Connected       bool
	Degraded        bool
	FramesTotal     int64
	FramesMalformed int64
	ClosesDropped   int64
	Reconnects      int64
	Buffers         int
}

func (c *Client) Stats() Stats {
	c.buffersMu.RLock()
	buffers := len(c.buffers)
	c.buffersMu.RUnlock()

	connected := c.IsConnected()
	last := c.lastFrame.Load()
	degraded := connected && last > 0 &&
		time.Since(time.Unix(0, last)) > frameStallAfter

	return Stats{
		Connected:       connected,
		Degraded:        degraded,
		FramesTotal:     c.framesTotal.Load(),
		FramesMalformed: c.framesMalformed.Load(),
		ClosesDropped:   c.closesDropped.Load(),
		Reconnects:      c.reconnects.Load(),
		Buffers:         buffers,
	}
}

func buildStreams(symbols, intervals []string) []string {
	streams := make([]string, 0, len(symbols)*(len(intervals)+1))
	for _, s := range symbols {
		ls := strings.ToLower(s)
		for _, tf := range intervals {
			streams = append(streams, ls+"@kline_"+tf)
		}
		streams = append(streams, ls+"@ticker")
	}
	sort.Strings(streams)
	return streams
}

func diffStreams(old, new []string) (added, removed []string) {
	oldSet := make(map[string]struct{}, len(old))
	for _, s := range old {
		oldSet[s] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(new))
	for _, s := range new {
		newSet[s] = struct{}{}
		if _, ok := oldSet[s]; !ok {
			added = append(added, s)
		}
	}
	for _, s := range old {
		if _, ok := newSet[s]; !ok {
			removed = append(removed, s)
		}
	}
	return added, removed
}
