package models

import "time"

// SignalHistoryEntry — состояние дедупликации для пары (trader, symbol):
// время последнего сигнала и сколько баров прошло с него. Бары двигаются
// только по событиям закрытия свечи, не по тикам скрининга.
type SignalHistoryEntry struct {
	LastSignalAt time.Time
	BarsSince    int
}

// SignalClass — итог классификации совпадения за тик.
type SignalClass string

const (
	SignalNew        SignalClass = "new"
	SignalContinuing SignalClass = "continuing"
)

// Signal — персистируемая запись о новом совпадении. После создания
// не изменяется.
type Signal struct {
	ID        string    `json:"id"`
	TraderID  string    `json:"traderId"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  []byte    `json:"metadata"` // JSON: цена/объём, индикаторы, reasoning
}

// SignalMetadata — содержимое Signal.Metadata до сериализации.
type SignalMetadata struct {
	Price         float64            `json:"price"`
	ChangePercent float64            `json:"changePercent"`
	QuoteVolume   float64            `json:"quoteVolume"`
	Interval      string             `json:"interval"`
	Reason        string             `json:"reason,omitempty"`
	Indicator     *IndicatorSnapshot `json:"indicator,omitempty"`
}

// Metric — запись метрик/heartbeat для стейт-синка.
type Metric struct {
	SourceID  string           `json:"sourceId"`
	Timestamp time.Time        `json:"timestamp"`
	Counters  map[string]int64 `json:"counters"`
}

// Event — событие для внешнего наблюдения (ошибки компиляции, эвикции,
// переподключения и т.п.).
type Event struct {
	SourceID  string    `json:"sourceId"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // "info" | "warn" | "error"
	Timestamp time.Time `json:"timestamp"`
	Details   []byte    `json:"details"` // JSON
}

const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
