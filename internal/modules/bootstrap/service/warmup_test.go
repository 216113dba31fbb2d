package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKlines(t *testing.T) {
	// формат /api/v3/klines: числа и строки вперемешку
	body := []byte(`[
		[1717200000000, "100.1", "101.5", "99.8", "100.9", "1234.5", 1717200299999, "124567.8", 500, "600.0", "60500.0", "0"],
		[1717200300000, "100.9", "102.0", "100.5", "101.7", "2000.0", 1717200599999, "203000.0", 700, "900.0", "91500.0", "0"]
	]`)

	candles, err := ParseKlines(body)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	first := candles[0]
	assert.Equal(t, time.UnixMilli(1717200000000), first.OpenTime)
	assert.Equal(t, time.UnixMilli(1717200299999), first.CloseTime)
	assert.InDelta(t, 100.1, first.Open, 1e-9)
	assert.InDelta(t, 101.5, first.High, 1e-9)
	assert.InDelta(t, 99.8, first.Low, 1e-9)
	assert.InDelta(t, 100.9, first.Close, 1e-9)
	assert.InDelta(t, 1234.5, first.Volume, 1e-9)
	assert.InDelta(t, 124567.8, first.QuoteVolume, 1e-9)
	assert.True(t, first.Closed, "свеча из прошлого закрыта")

	assert.True(t, candles[1].OpenTime.After(first.OpenTime))
}

func TestParseKlinesMalformed(t *testing.T) {
	_, err := ParseKlines([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseKlines([]byte(`[[1717200000000, "100.1"]]`))
	assert.Error(t, err, "короткая строка")

	_, err = ParseKlines([]byte(`[["oops", "a", "b", "c", "d", "e", 1, "f"]]`))
	assert.Error(t, err, "неожиданные типы полей")
}

func TestParseKlinesEmpty(t *testing.T) {
	candles, err := ParseKlines([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, candles)
}
