package helper

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

func NormTF(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "kline_")
	switch s {
	case "60m", "1h":
		return "1h"
	case "24h", "1d":
		return "1d"
	default:
		return s
	}
}

// ParseInterval переводит таймфрейм биржи в длительность: "5m", "1h", "4h",
// "1d", "1w". По этой длительности считается окно дедупликации сигналов.
func ParseInterval(tf string) (time.Duration, error) {
	s := NormTF(tf)
	if len(s) < 2 {
		return 0, errors.Errorf("invalid interval %q", tf)
	}

	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, errors.Errorf("invalid interval %q", tf)
	}

	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, errors.Errorf("invalid interval %q", tf)
	}
}

// BufferKey — ключ буфера свечей "SYMBOL:interval".
func BufferKey(symbol, interval string) string { return symbol + ":" + interval }

func SplitBufferKey(key string) (symbol string, interval string, ok bool) {
	i := strings.LastIndexByte(key, ':')
	if i <= 0 || i >= len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
