package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

// Config ...
type Config struct {
	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`
	DB      string `mapstructure:"db_dsn"`
	Service struct {
		Name     string `mapstructure:"name"`
		HTTPAddr string `mapstructure:"http_addr"`
	} `mapstructure:"service"`

	Tracing struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"tracing"`

	// Маркет-данные
	Market struct {
		WSURL           string   `mapstructure:"ws_url"`
		RESTURL         string   `mapstructure:"rest_url"`
		Symbols         []string `mapstructure:"symbols"`
		CandleCap       int      `mapstructure:"candle_cap"`       // максимум свечей на (symbol, interval)
		DefaultInterval string   `mapstructure:"default_interval"` // для трейдеров без таймфреймов
		WarmupCandles   int      `mapstructure:"warmup_candles"`   // сколько свечей тянуть REST-прогревом
	} `mapstructure:"market"`

	// Скрининг
	Screener struct {
		Workers       int           `mapstructure:"workers"`        // размер пула на тик
		Tick          time.Duration `mapstructure:"tick"`           // частота тиков
		FilterTimeout time.Duration `mapstructure:"filter_timeout"` // жёсткий лимит на прогон фильтра
		SeriesTimeout time.Duration `mapstructure:"series_timeout"`
		// После стольких таймаутов подряд трейдер уходит в бэкофф
		TimeoutBackoffAfter int           `mapstructure:"timeout_backoff_after"`
		TimeoutBackoff      time.Duration `mapstructure:"timeout_backoff"`
	} `mapstructure:"screener"`

	// Дедупликация сигналов: повторный матч снова становится new, как
	// только прошло dedupe_bars баров ИЛИ истекло dedupe_bars *
	// длительность бара по времени — любое из условий достаточно.
	Signals struct {
		DedupeBars int `mapstructure:"dedupe_bars"`
	} `mapstructure:"signals"`

	// Стейт-синк
	Sync struct {
		Flush     time.Duration `mapstructure:"flush"`
		Heartbeat time.Duration `mapstructure:"heartbeat"`
		QueueCap  int           `mapstructure:"queue_cap"` // на каждую из очередей
	} `mapstructure:"sync"`

	// Реестр трейдеров
	Traders struct {
		Reload      time.Duration `mapstructure:"reload"`       // период опроса БД
		BuiltInFile string        `mapstructure:"builtin_file"` // yaml со встроенными трейдерами
	} `mapstructure:"traders"`
}

func NewConfig() (*Config, error) {
	v := viper.New()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local"
	}
	v.SetConfigName(strings.TrimSuffix(configFileName, ".yaml"))
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	v.AddConfigPath(".")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to decode config file")
	}

	token := os.Getenv(tokenTelegramENV)
	if token != "" {
		config.Telegram.Token = token
	}

	dsn := os.Getenv(databaseDSN)
	if dsn != "" {
		config.DB = dsn
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "screener")
	v.SetDefault("service.http_addr", ":8080")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.host", "127.0.0.1")
	v.SetDefault("tracing.port", 6831)

	v.SetDefault("market.ws_url", "wss://stream.binance.com:9443")
	v.SetDefault("market.rest_url", "https://api.binance.com")
	v.SetDefault("market.candle_cap", 500)
	v.SetDefault("market.default_interval", "5m")
	v.SetDefault("market.warmup_candles", 200)

	v.SetDefault("screener.workers", 8)
	v.SetDefault("screener.tick", "10s")
	v.SetDefault("screener.filter_timeout", "5s")
	v.SetDefault("screener.series_timeout", "10s")
	v.SetDefault("screener.timeout_backoff_after", 3)
	v.SetDefault("screener.timeout_backoff", "5m")

	v.SetDefault("signals.dedupe_bars", 3)

	v.SetDefault("sync.flush", "15s")
	v.SetDefault("sync.heartbeat", "30s")
	v.SetDefault("sync.queue_cap", 1000)

	v.SetDefault("traders.reload", "30s")
	v.SetDefault("traders.builtin_file", "configs/traders.yaml")
}
