package candle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qxtrader/model"
)

func tick(ts, price float64) model.Tick {
	return model.Tick{Asset: "EURUSD", Time: ts, Price: price}
}

func TestAggregator_TickBucketing(t *testing.T) {
	a := NewAggregator()
	a.Subscribe("EURUSD", 60)

	prices := []float64{1.10, 1.15, 1.05, 1.12}
	for i, p := range prices {
		a.ApplyTick(tick(960+float64(i*10)+0.5, p))
	}

	series := a.Series("EURUSD", 60, 0, 0)
	require.Len(t, series, 1)
	c := series[0]
	assert.Equal(t, int64(960), c.Time)
	assert.Equal(t, 1.10, c.Open)
	assert.Equal(t, 1.15, c.High)
	assert.Equal(t, 1.05, c.Low)
	assert.Equal(t, 1.12, c.Close)
	assert.Equal(t, 4, c.Ticks)
	assert.False(t, c.Complete)
	assert.Zero(t, c.Time%c.Period)
}

func TestAggregator_SealsOnNextBucket(t *testing.T) {
	a := NewAggregator()
	a.Subscribe("EURUSD", 60)

	a.ApplyTick(tick(961, 1.0))
	a.ApplyTick(tick(1021, 2.0))
	// 이미 지나간 버킷의 늦은 틱은 무시
	a.ApplyTick(tick(1000, 9.0))

	series := a.Series("EURUSD", 60, 0, 0)
	require.Len(t, series, 2)
	assert.True(t, series[0].Complete)
	assert.Equal(t, 1.0, series[0].High)
	assert.False(t, series[1].Complete)
	require.NoError(t, CheckContinuity(series))
}

func TestAggregator_ServerBlockWinsRegardlessOfOrder(t *testing.T) {
	server := model.Candle{Time: 960, Open: 2, High: 3, Low: 1, Close: 2.5, Ticks: 30}

	// 틱 먼저, 블록 나중
	a := NewAggregator()
	a.Subscribe("EURUSD", 60)
	a.ApplyTick(tick(965, 1.7))
	a.ApplyBlock(model.CandleBlock{Asset: "EURUSD", Period: 60, Candles: []model.Candle{server}})
	first := a.Series("EURUSD", 60, 0, 0)

	// 블록 먼저, 틱 나중
	b := NewAggregator()
	b.Subscribe("EURUSD", 60)
	b.ApplyBlock(model.CandleBlock{Asset: "EURUSD", Period: 60, Candles: []model.Candle{server}})
	b.ApplyTick(tick(965, 1.7))
	second := b.Series("EURUSD", 60, 0, 0)

	require.Len(t, first, 1)
	require.Equal(t, first, second)
	assert.Equal(t, model.SourceServer, first[0].Source)
	assert.True(t, first[0].SameOHLC(model.Candle{Time: 960, Period: 60, Open: 2, High: 3, Low: 1, Close: 2.5}))
}

func TestAggregator_MergeHistoryIdempotent(t *testing.T) {
	batch := model.HistoricalBatch{
		Asset:  "EURUSD",
		Period: 60,
		Candles: []model.Candle{
			{Time: 900, Open: 1, High: 2, Low: 0.5, Close: 1.5},
			{Time: 960, Open: 1.5, High: 2.5, Low: 1, Close: 2},
			// 겹치는 중복
			{Time: 960, Open: 1.5, High: 2.5, Low: 1, Close: 2},
		},
		Ticks: []model.Tick{tick(1021, 2.1), tick(1030, 2.3), tick(1025, 1.9)},
	}

	a := NewAggregator()
	changed := a.MergeHistory(batch)
	require.Equal(t, 3, changed)
	once := a.Series("EURUSD", 60, 0, 0)

	require.Equal(t, 0, a.MergeHistory(batch))
	twice := a.Series("EURUSD", 60, 0, 0)

	require.Equal(t, once, twice)
	require.Len(t, twice, 3)
	// 히스토리 틱은 시간순으로 집계
	assert.Equal(t, 2.1, twice[2].Open)
	assert.Equal(t, 2.3, twice[2].Close)
	assert.Equal(t, 1.9, twice[2].Low)
	assert.Equal(t, uint64(2), a.HistoryEpoch("EURUSD", 60))
}

func TestAggregator_HistoryTicksDoNotOverwriteServerCandles(t *testing.T) {
	a := NewAggregator()
	a.ApplyBlock(model.CandleBlock{Asset: "EURUSD", Period: 60, Candles: []model.Candle{{Time: 960, Open: 1, High: 1, Low: 1, Close: 1}}})

	changed := a.MergeHistory(model.HistoricalBatch{Asset: "EURUSD", Period: 60, Ticks: []model.Tick{tick(970, 5)}})
	require.Zero(t, changed)
	require.Equal(t, 1.0, a.Series("EURUSD", 60, 0, 0)[0].Close)
}

func TestAggregator_SeriesWindow(t *testing.T) {
	a := NewAggregator()
	var candles []model.Candle
	for ts := int64(0); ts < 600; ts += 60 {
		candles = append(candles, model.Candle{Time: ts, Open: 1, High: 1, Low: 1, Close: 1})
	}
	a.MergeHistory(model.HistoricalBatch{Asset: "EURUSD", Period: 60, Candles: candles})

	window := a.Series("EURUSD", 60, 300, 180)
	require.Len(t, window, 3)
	assert.Equal(t, int64(180), window[0].Time)
	assert.Equal(t, int64(300), window[2].Time)
	assert.Nil(t, a.Series("GBPUSD", 60, 0, 0))
}

func TestCheckContinuity_ReportsGap(t *testing.T) {
	candles := []model.Candle{
		{Asset: "EURUSD", Time: 0, Period: 60},
		{Asset: "EURUSD", Time: 60, Period: 60},
		{Asset: "EURUSD", Time: 180, Period: 60},
	}
	require.ErrorIs(t, CheckContinuity(candles), model.ErrDataGap)
	require.NoError(t, CheckContinuity(candles[:2]))
}

func TestAggregator_WaitSeriesTimesOut(t *testing.T) {
	a := NewAggregator()

	start := time.Now()
	_, err := a.WaitSeries(context.Background(), "EURUSD", 60, 0, 0, 1, 30*time.Millisecond)
	require.ErrorIs(t, err, model.ErrTimeout)
	require.Less(t, time.Since(start), time.Second)
}

func TestAggregator_WaitSeriesWakesOnData(t *testing.T) {
	a := NewAggregator()
	a.Subscribe("EURUSD", 5)

	go func() {
		time.Sleep(20 * time.Millisecond)
		a.ApplyTick(tick(1001, 1.5))
	}()

	got, err := a.WaitSeries(context.Background(), "EURUSD", 5, 0, 0, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(1000), got[0].Time)
}

func TestAggregator_WaitHonoursContext(t *testing.T) {
	a := NewAggregator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.WaitPrice(ctx, "EURUSD", time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAggregator_RealtimePricesBounded(t *testing.T) {
	a := NewAggregator(WithPriceBuffer(3))
	for i := 0; i < 5; i++ {
		a.ApplyTick(tick(float64(1000+i), float64(i)))
	}
	prices := a.RealtimePrices("EURUSD")
	require.Len(t, prices, 3)
	require.Equal(t, 2.0, prices[0].Price)

	last, ok := a.LastPrice("EURUSD")
	require.True(t, ok)
	require.Equal(t, 4.0, last.Price)
}

func TestAggregator_WaitBlock(t *testing.T) {
	a := NewAggregator()
	_, seq, _ := a.LastBlock("EURUSD")

	go func() {
		time.Sleep(10 * time.Millisecond)
		a.ApplyBlock(model.CandleBlock{Asset: "EURUSD", Period: 60, Candles: []model.Candle{{Time: 60, Open: 1, High: 1, Low: 1, Close: 1}}})
	}()
	b, err := a.WaitBlock(context.Background(), "EURUSD", seq, time.Second)
	require.NoError(t, err)
	require.Len(t, b.Candles, 1)
}

func TestAggregator_UnsubscribedTicksOnlyUpdatePrice(t *testing.T) {
	a := NewAggregator()
	a.ApplyTick(tick(1000, 1))
	require.Empty(t, a.Keys())
	_, ok := a.LastPrice("EURUSD")
	require.True(t, ok)
}

func contiguous(n int, period int64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := 1 + float64(i)/1000
		out[i] = model.Candle{Time: int64(i) * period, Open: p, High: p + 0.01, Low: p - 0.01, Close: p}
	}
	return out
}

func TestAggregator_SeriesCapDropsOldestAndReportsRetained(t *testing.T) {
	a := NewAggregator()
	batch := model.HistoricalBatch{Asset: "EURUSD", Period: 60, Candles: contiguous(6000, 60)}

	merged := a.MergeHistory(batch)
	series := a.Series("EURUSD", 60, 0, 0)
	require.Len(t, series, 5000)
	assert.Equal(t, 5000, merged)
	assert.Equal(t, int64(1000*60), series[0].Time)
	assert.Equal(t, 5000, a.Capacity("EURUSD", 60))

	small := NewAggregator(WithMaxCandles(10))
	assert.Equal(t, 10, small.MergeHistory(model.HistoricalBatch{Asset: "EURUSD", Period: 60, Candles: contiguous(25, 60)}))
	assert.Len(t, small.Series("EURUSD", 60, 0, 0), 10)
}

func TestAggregator_ReserveKeepsLongBackfill(t *testing.T) {
	a := NewAggregator()
	a.Reserve("EURUSD", 60, 6000)
	a.Reserve("EURUSD", 60, 100)
	assert.Equal(t, 6000, a.Capacity("EURUSD", 60))

	merged := a.MergeHistory(model.HistoricalBatch{Asset: "EURUSD", Period: 60, Candles: contiguous(6000, 60)})
	assert.Equal(t, 6000, merged)
	series := a.Series("EURUSD", 60, 0, 0)
	require.Len(t, series, 6000)
	assert.Zero(t, series[0].Time)
	require.NoError(t, CheckContinuity(series))

	// 다른 시리즈는 기본 한도 그대로
	assert.Equal(t, 5000, a.Capacity("EURUSD", 5))
}
