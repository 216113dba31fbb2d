package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufCandle(openMin int, closePrice float64, closed bool) Candle {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return Candle{
		OpenTime:  base.Add(time.Duration(openMin) * time.Minute),
		CloseTime: base.Add(time.Duration(openMin+5) * time.Minute),
		Close:     closePrice,
		Closed:    closed,
	}
}

func TestCandleBufferAppend(t *testing.T) {
	b := NewCandleBuffer(10)

	assert.True(t, b.Upsert(bufCandle(0, 100, true)))
	assert.True(t, b.Upsert(bufCandle(5, 101, true)))
	assert.Equal(t, 2, b.Len())

	last, ok := b.Last()
	require.True(t, ok)
	assert.InDelta(t, 101.0, last.Close, 1e-9)
}

func TestCandleBufferReplaceLast(t *testing.T) {
	b := NewCandleBuffer(10)

	b.Upsert(bufCandle(0, 100, false))
	assert.False(t, b.Upsert(bufCandle(0, 105, false)), "тот же OpenTime — замена, не добавление")
	assert.False(t, b.Upsert(bufCandle(0, 110, true)))

	assert.Equal(t, 1, b.Len())
	last, _ := b.Last()
	assert.InDelta(t, 110.0, last.Close, 1e-9)
	assert.True(t, last.Closed)
}

func TestCandleBufferDropsLateCandle(t *testing.T) {
	b := NewCandleBuffer(10)

	b.Upsert(bufCandle(0, 100, true))
	b.Upsert(bufCandle(5, 101, true))
	assert.False(t, b.Upsert(bufCandle(0, 999, true)), "опоздавшая свеча отбрасывается")

	w := b.Window()
	require.Len(t, w, 2)
	assert.InDelta(t, 100.0, w[0].Close, 1e-9, "закрытая свеча не перезаписана")
}

func TestCandleBufferEvictsOldest(t *testing.T) {
	b := NewCandleBuffer(3)

	for i := 0; i < 5; i++ {
		b.Upsert(bufCandle(i*5, float64(100+i), true))
	}

	w := b.Window()
	require.Len(t, w, 3)
	assert.InDelta(t, 102.0, w[0].Close, 1e-9)
	assert.InDelta(t, 104.0, w[2].Close, 1e-9)

	// open-time строго возрастает
	for i := 1; i < len(w); i++ {
		assert.True(t, w[i].OpenTime.After(w[i-1].OpenTime))
	}
}

func TestCandleBufferWindowIsCopy(t *testing.T) {
	b := NewCandleBuffer(10)
	b.Upsert(bufCandle(0, 100, false))

	w := b.Window()
	b.Upsert(bufCandle(0, 200, false))

	assert.InDelta(t, 100.0, w[0].Close, 1e-9, "копия не видит последующих обновлений")
}

func TestCandleBufferEmpty(t *testing.T) {
	b := NewCandleBuffer(0) // кламп до 1

	_, ok := b.Last()
	assert.False(t, ok)
	assert.Empty(t, b.Window())

	b.Upsert(bufCandle(0, 100, true))
	b.Upsert(bufCandle(5, 101, true))
	assert.Equal(t, 1, b.Len(), "вместимость 1 держит только последнюю")
}

func TestPrimaryInterval(t *testing.T) {
	tr := Trader{Intervals: []string{"1h", "5m"}}
	assert.Equal(t, "1h", tr.PrimaryInterval("5m"))

	empty := Trader{}
	assert.Equal(t, "5m", empty.PrimaryInterval("5m"))
}
