package helper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	cases := map[string]time.Duration{
		"1m":  time.Minute,
		"5m":  5 * time.Minute,
		"15m": 15 * time.Minute,
		"1h":  time.Hour,
		"60m": time.Hour,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for tf, want := range cases {
		got, err := ParseInterval(tf)
		require.NoError(t, err, tf)
		assert.Equal(t, want, got, tf)
	}

	for _, tf := range []string{"", "m", "0m", "-5m", "5x", "abc"} {
		_, err := ParseInterval(tf)
		assert.Error(t, err, tf)
	}
}

func TestBufferKey(t *testing.T) {
	key := BufferKey("BTCUSDT", "5m")
	assert.Equal(t, "BTCUSDT:5m", key)

	sym, tf, ok := SplitBufferKey(key)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", sym)
	assert.Equal(t, "5m", tf)

	_, _, ok = SplitBufferKey("noseparator")
	assert.False(t, ok)
}
