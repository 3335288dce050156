package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qxtrader/model"
)

func seq(from, to float64) model.Series[float64] {
	var out model.Series[float64]
	for v := from; v <= to; v++ {
		out = append(out, v)
	}
	return out
}

func TestSMA(t *testing.T) {
	got := SMA(seq(1, 5), 3)
	require.Len(t, got, 5)
	assert.InDelta(t, 2.0, got[2], 1e-9)
	assert.InDelta(t, 4.0, got[4], 1e-9)

	assert.Len(t, SMA(seq(1, 2), 3), 2)
}

func TestEMA(t *testing.T) {
	got := EMA(seq(1, 10), 3)
	require.Len(t, got, 10)
	assert.InDelta(t, 2.0, got[2], 1e-9)
	assert.InDelta(t, 9.0, got[9], 1e-9)
}

func TestRSI_MonotonicRise(t *testing.T) {
	got := RSI(seq(1, 30), 14)
	assert.InDelta(t, 100.0, got.Last(0), 1e-9)
}

func TestKeltner_FlatPriceCollapsesBands(t *testing.T) {
	flat := make(model.Series[float64], 40)
	for i := range flat {
		flat[i] = 1.5
	}
	ch := Keltner(flat, flat, flat, 20, 10, 1)
	assert.InDelta(t, 1.5, ch.Middle.Last(0), 1e-9)
	assert.InDelta(t, 1.5, ch.Upper.Last(0), 1e-9)
	assert.InDelta(t, 1.5, ch.Lower.Last(0), 1e-9)
}

func TestKeltner_BandsAroundMiddle(t *testing.T) {
	closes := seq(1, 40)
	highs := make(model.Series[float64], len(closes))
	lows := make(model.Series[float64], len(closes))
	for i, c := range closes {
		highs[i] = c + 1
		lows[i] = c - 1
	}
	ch := Keltner(highs, lows, closes, 20, 10, 2)
	last := len(closes) - 1
	assert.Greater(t, ch.Upper[last], ch.Middle[last])
	assert.InDelta(t, ch.Upper[last]-ch.Middle[last], ch.Middle[last]-ch.Lower[last], 1e-9)
}

func TestZigZag(t *testing.T) {
	highs := model.Series[float64]{1, 2, 3, 10, 4, 3, 2, 1}
	lows := make(model.Series[float64], len(highs))
	for i, h := range highs {
		lows[i] = h - 0.5
	}
	got := ZigZag(highs, lows, 0.5, 2, 1)
	require.Len(t, got, len(highs))

	assert.True(t, math.IsNaN(got[0]))
	assert.Equal(t, 3.0, got[2])
	assert.Equal(t, 10.0, got[3])
	assert.True(t, math.IsNaN(got[4]))
	assert.Equal(t, 2.5, got[5])
	assert.Equal(t, 1.5, got[6])
	assert.True(t, math.IsNaN(got[7]))

	v, ok := LastValid(got)
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)
}
