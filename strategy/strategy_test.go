package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qxtrader/model"
)

func trend(n int, start, step float64) []model.Candle {
	candles := make([]model.Candle, n)
	for i := range candles {
		c := start + float64(i)*step
		candles[i] = model.Candle{
			Asset: "EURUSD_otc", Time: int64(i * 60), Period: 60,
			Open: c - step/2, High: c + 0.1, Low: c - 0.1, Close: c,
		}
	}
	return candles
}

func dataframe(candles []model.Candle) *model.Dataframe {
	return model.NewDataframe("EURUSD_otc", 60, candles)
}

func TestKeltnerRSI_CheckSignal(t *testing.T) {
	s := NewKeltnerRSI(60)
	require.Equal(t, 20, s.WarmupPeriod())

	tests := []struct {
		name      string
		candles   []model.Candle
		direction model.Direction
		rsi       float64
		ok        bool
	}{
		{"uptrend overbought", trend(30, 1, 1), model.DirectionCall, 100, true},
		{"downtrend oversold", trend(30, 100, -1), model.DirectionPut, 0, true},
		{"flat", trend(30, 5, 0), "", 0, false},
		{"too short", trend(5, 1, 1), "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			df := dataframe(tt.candles)
			s.Indicators(df)
			direction, rsi, ok := s.CheckSignal(df)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.direction, direction)
			assert.InDelta(t, tt.rsi, rsi, 1e-6)
		})
	}
}

func TestKeltnerRSI_IndicatorsFillMetadata(t *testing.T) {
	df := dataframe(trend(30, 1, 1))
	charts := NewKeltnerRSI(60).Indicators(df)

	require.Len(t, charts, 2)
	for _, key := range []string{"sma", "rsi", "kc_upper", "kc_mid", "kc_lower"} {
		assert.Len(t, df.Metadata[key], 30, key)
	}
	assert.GreaterOrEqual(t, df.Metadata["kc_upper"].Last(0), df.Metadata["kc_mid"].Last(0))
	assert.GreaterOrEqual(t, df.Metadata["kc_mid"].Last(0), df.Metadata["kc_lower"].Last(0))
}

func TestZigZagCross_NoSignalWithoutCross(t *testing.T) {
	s := NewZigZagCross(60)
	assert.Equal(t, "zigzag_cross", s.GetName())
	assert.Equal(t, 21, s.WarmupPeriod())

	df := dataframe(trend(40, 5, 0))
	charts := s.Indicators(df)
	assert.Len(t, charts, 3)
	_, _, ok := s.CheckSignal(df)
	assert.False(t, ok)

	short := dataframe(trend(3, 1, 1))
	s.Indicators(short)
	_, _, ok = s.CheckSignal(short)
	assert.False(t, ok)
}

func TestController(t *testing.T) {
	c := NewStrategyController("EURUSD_otc", NewKeltnerRSI(60))
	candles := trend(30, 1, 1)

	c.Load(candles)
	_, ok := c.Evaluate()
	assert.False(t, ok, "not started")

	c.Start()
	sig, ok := c.Evaluate()
	require.True(t, ok)
	assert.Equal(t, "EURUSD_otc", sig.Asset)
	assert.Equal(t, "keltner_rsi", sig.Strategy)
	assert.Equal(t, model.DirectionCall, sig.Direction)
	assert.Equal(t, 30.0, sig.Close)
	assert.NotEmpty(t, c.LastIndicators())

	// 같은 시각의 봉은 덮어쓴다
	last := candles[29]
	last.Close = 31
	_, _ = c.OnCandle(last)
	assert.Equal(t, 30, c.Dataframe.Len())
	assert.Equal(t, 31.0, c.Dataframe.Close.Last(0))

	// 늦게 온 봉은 버린다
	_, ok = c.OnCandle(candles[0])
	assert.False(t, ok)
	assert.Equal(t, 30, c.Dataframe.Len())

	// 이미 가진 구간을 다시 로드해도 길이는 그대로
	c.Load(candles)
	assert.Equal(t, 30, c.Dataframe.Len())
}
