package model

import "time"

// CandleSource 는 캔들을 만든 주체. 값이 클수록 우선순위가 높다.
type CandleSource int

const (
	SourceTick CandleSource = iota + 1
	SourceServer
)

func (s CandleSource) String() string {
	switch s {
	case SourceTick:
		return "tick"
	case SourceServer:
		return "server"
	}
	return "unknown"
}

// Candle 은 (Asset, Period) 시리즈의 한 버킷. Time 은 Period 경계에 정렬된 open time(초).
type Candle struct {
	Asset    string       `json:"asset,omitempty"`
	Time     int64        `json:"time"`
	Period   int64        `json:"period"`
	Open     float64      `json:"open"`
	High     float64      `json:"high"`
	Low      float64      `json:"low"`
	Close    float64      `json:"close"`
	Ticks    int          `json:"ticks"`
	Source   CandleSource `json:"source"`
	Complete bool         `json:"complete"`
}

func (c Candle) OpenTime() time.Time {
	return time.Unix(c.Time, 0)
}

func (c Candle) CloseTime() time.Time {
	return time.Unix(c.Time+c.Period, 0)
}

// SameOHLC 는 히스토리 중복 판정용. 출처/완료 여부는 비교하지 않는다.
func (c Candle) SameOHLC(o Candle) bool {
	return c.Time == o.Time && c.Period == o.Period &&
		c.Open == o.Open && c.High == o.High && c.Low == o.Low && c.Close == o.Close
}

// AlignTime returns the bucket open time for ts.
func AlignTime(ts float64, period int64) int64 {
	sec := int64(ts)
	if ts < 0 && float64(sec) != ts {
		sec--
	}
	if period <= 0 {
		return sec
	}
	m := sec % period
	if m < 0 {
		m += period
	}
	return sec - m
}

// Tick is a single realtime price observation.
type Tick struct {
	Asset string  `json:"asset"`
	Time  float64 `json:"time"`
	Price float64 `json:"price"`
}

// CandleBlock 는 서버가 미리 집계해서 내려주는 캔들 묶음.
type CandleBlock struct {
	Asset   string
	Period  int64
	Candles []Candle
}

// HistoricalBatch 는 history/load 응답. 캔들 또는 (time, price) 틱 둘 중 하나 이상을 가진다.
type HistoricalBatch struct {
	Asset   string
	Period  int64
	Index   int64
	Candles []Candle
	Ticks   []Tick
}
