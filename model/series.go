package model

import (
	"time"

	"golang.org/x/exp/constraints"
)

// Series is a time series of values
type Series[T constraints.Ordered] []T

// Values returns the values of the series
func (s Series[T]) Values() []T {
	return s
}

// Length returns the number of values in the series
func (s Series[T]) Length() int {
	return len(s)
}

// Last returns the value `position` steps back from the newest one
func (s Series[T]) Last(position int) T {
	return s[len(s)-1-position]
}

// LastValues returns the newest `size` values
func (s Series[T]) LastValues(size int) []T {
	if l := len(s); l > size {
		return s[l-size:]
	}
	return s
}

// Crossover: 마지막 값이 ref 를 상향 돌파
func (s Series[T]) Crossover(ref Series[T]) bool {
	return s.Last(0) > ref.Last(0) && s.Last(1) <= ref.Last(1)
}

// Crossunder: 마지막 값이 ref 를 하향 돌파
func (s Series[T]) Crossunder(ref Series[T]) bool {
	return s.Last(0) <= ref.Last(0) && s.Last(1) > ref.Last(1)
}

// Dataframe 은 지표 계산용 컬럼 뷰.
type Dataframe struct {
	Asset  string
	Period int64

	Close Series[float64]
	Open  Series[float64]
	High  Series[float64]
	Low   Series[float64]
	Ticks Series[int]

	Time       []time.Time
	LastUpdate time.Time

	Metadata map[string]Series[float64]
}

// NewDataframe 캔들 시리즈를 컬럼 단위로 펼친다. 입력 순서를 그대로 유지.
func NewDataframe(asset string, period int64, candles []Candle) *Dataframe {
	df := &Dataframe{
		Asset:    asset,
		Period:   period,
		Close:    make(Series[float64], 0, len(candles)),
		Open:     make(Series[float64], 0, len(candles)),
		High:     make(Series[float64], 0, len(candles)),
		Low:      make(Series[float64], 0, len(candles)),
		Ticks:    make(Series[int], 0, len(candles)),
		Time:     make([]time.Time, 0, len(candles)),
		Metadata: make(map[string]Series[float64]),
	}
	for _, c := range candles {
		df.Open = append(df.Open, c.Open)
		df.High = append(df.High, c.High)
		df.Low = append(df.Low, c.Low)
		df.Close = append(df.Close, c.Close)
		df.Ticks = append(df.Ticks, c.Ticks)
		df.Time = append(df.Time, c.OpenTime())
	}
	if n := len(df.Time); n > 0 {
		df.LastUpdate = df.Time[n-1]
	}
	return df
}

func (df *Dataframe) Len() int {
	return len(df.Close)
}

func (df Dataframe) Sample(positions int) Dataframe {
	size := len(df.Time)
	start := size - positions
	if start <= 0 {
		return df
	}

	sample := Dataframe{
		Asset:      df.Asset,
		Period:     df.Period,
		Close:      df.Close.LastValues(positions),
		Open:       df.Open.LastValues(positions),
		High:       df.High.LastValues(positions),
		Low:        df.Low.LastValues(positions),
		Ticks:      df.Ticks.LastValues(positions),
		Time:       df.Time[start:],
		LastUpdate: df.LastUpdate,
		Metadata:   make(map[string]Series[float64]),
	}

	for key := range df.Metadata {
		sample.Metadata[key] = df.Metadata[key].LastValues(positions)
	}

	return sample
}
