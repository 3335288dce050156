package indicator

import (
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"qxtrader/model"
)

type MetricStyle string

const (
	StyleBar     = "bar"
	StyleScatter = "scatter"
	StyleLine    = "line"
)

type IndicatorMetric struct {
	Name   string
	Color  string
	Style  MetricStyle // default: line
	Values model.Series[float64]
}

type ChartIndicator struct {
	Time      []time.Time
	Metrics   []IndicatorMetric
	Overlay   bool
	GroupName string
	Warmup    int
}

// 아래 함수들은 입력과 같은 길이를 돌려준다. 워밍업 구간은 0 (talib 규칙), ZigZag 는 NaN.

func SMA(input model.Series[float64], period int) model.Series[float64] {
	if len(input) < period || period <= 0 {
		return make(model.Series[float64], len(input))
	}
	return talib.Sma(input, period)
}

func EMA(input model.Series[float64], period int) model.Series[float64] {
	if len(input) < period || period <= 0 {
		return make(model.Series[float64], len(input))
	}
	return talib.Ema(input, period)
}

func RSI(input model.Series[float64], period int) model.Series[float64] {
	if len(input) <= period || period <= 0 {
		return make(model.Series[float64], len(input))
	}
	return talib.Rsi(input, period)
}

func ATR(high, low, close model.Series[float64], period int) model.Series[float64] {
	if len(close) <= period || period <= 0 || len(high) != len(close) || len(low) != len(close) {
		return make(model.Series[float64], len(close))
	}
	return talib.Atr(high, low, close, period)
}

// KeltnerChannel EMA 중심선과 ATR 배수 밴드
type KeltnerChannel struct {
	Upper  model.Series[float64]
	Middle model.Series[float64]
	Lower  model.Series[float64]
}

// Keltner 기본값은 EMA 20, ATR 10, 배수 1
func Keltner(high, low, close model.Series[float64], emaPeriod, atrPeriod int, multiplier float64) KeltnerChannel {
	middle := EMA(close, emaPeriod)
	atr := ATR(high, low, close, atrPeriod)

	ch := KeltnerChannel{
		Upper:  make(model.Series[float64], len(close)),
		Middle: middle,
		Lower:  make(model.Series[float64], len(close)),
	}
	for i := range close {
		ch.Upper[i] = middle[i] + multiplier*atr[i]
		ch.Lower[i] = middle[i] - multiplier*atr[i]
	}
	return ch
}

// ZigZag 최근 depth 봉의 최고/최저이면서 직전 꼭짓점보다 deviation 이상 벗어난 지점만 값이 있고 나머지는 NaN.
// 마지막 backstep 봉은 확정되지 않아 항상 NaN. 기본값 5, 12, 3.
func ZigZag(high, low model.Series[float64], deviation float64, depth, backstep int) model.Series[float64] {
	out := make(model.Series[float64], len(high))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(low) != len(high) {
		return out
	}

	var lastHigh, lastLow float64
	hasHigh, hasLow := false, false
	for i := depth; i < len(high)-backstep; i++ {
		if high[i] == maxOf(high[i-depth:i+1]) && (!hasHigh || high[i] > lastHigh+deviation) {
			lastHigh, hasHigh = high[i], true
			out[i] = lastHigh
		}
		if low[i] == minOf(low[i-depth:i+1]) && (!hasLow || low[i] < lastLow-deviation) {
			lastLow, hasLow = low[i], true
			out[i] = lastLow
		}
	}
	return out
}

// LastValid NaN 이 아닌 마지막 값
func LastValid(s model.Series[float64]) (float64, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if !math.IsNaN(s[i]) {
			return s[i], true
		}
	}
	return 0, false
}

func maxOf(values []float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		m = math.Max(m, v)
	}
	return m
}

func minOf(values []float64) float64 {
	m := math.Inf(1)
	for _, v := range values {
		m = math.Min(m, v)
	}
	return m
}
