package strategy

import (
	"sync"
	"time"

	"qxtrader/indicator"
	"qxtrader/interfaces"
	"qxtrader/model"
	"qxtrader/utils/log"
)

// Signal 은 한 번의 평가 결과.
type Signal struct {
	Asset      string
	Strategy   string
	Direction  model.Direction
	Confidence float64
	Close      float64
	Time       time.Time
}

type IndicatorValue struct {
	Name  string
	Value float64
}

// Controller 는 자산 하나의 Dataframe 을 유지하면서 전략을 평가한다.
type Controller struct {
	Strategy  interfaces.Strategy
	Dataframe *model.Dataframe

	mu         sync.Mutex
	started    bool
	lastValues []IndicatorValue
}

func NewStrategyController(asset string, strategy interfaces.Strategy) *Controller {
	return &Controller{
		Strategy:  strategy,
		Dataframe: model.NewDataframe(asset, strategy.Period(), nil),
	}
}

func (c *Controller) Start() {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
}

func (c *Controller) updateDataFrame(candle model.Candle) {
	df := c.Dataframe
	t := candle.OpenTime()
	if n := len(df.Time); n > 0 && t.Equal(df.Time[n-1]) {
		last := n - 1
		df.Close[last] = candle.Close
		df.Open[last] = candle.Open
		df.High[last] = candle.High
		df.Low[last] = candle.Low
		df.Ticks[last] = candle.Ticks
		return
	}
	df.Close = append(df.Close, candle.Close)
	df.Open = append(df.Open, candle.Open)
	df.High = append(df.High, candle.High)
	df.Low = append(df.Low, candle.Low)
	df.Ticks = append(df.Ticks, candle.Ticks)
	df.Time = append(df.Time, t)
	df.LastUpdate = t
}

// Load 는 시계열 스냅샷을 반영한다. 이미 가진 봉보다 오래된 봉은 건너뛴다.
func (c *Controller) Load(candles []model.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, candle := range candles {
		if n := len(c.Dataframe.Time); n > 0 && candle.OpenTime().Before(c.Dataframe.Time[n-1]) {
			continue
		}
		c.updateDataFrame(candle)
	}
}

// OnCandle 봉 하나를 반영하고 신호를 평가한다.
func (c *Controller) OnCandle(candle model.Candle) (Signal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(c.Dataframe.Time); n > 0 && candle.OpenTime().Before(c.Dataframe.Time[n-1]) {
		log.Errorf("[STRATEGY] late candle received: %#v", candle)
		return Signal{}, false
	}
	c.updateDataFrame(candle)
	return c.evaluateLocked()
}

// Evaluate 현재 Dataframe 으로 신호를 평가한다.
func (c *Controller) Evaluate() (Signal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evaluateLocked()
}

func (c *Controller) evaluateLocked() (Signal, bool) {
	warmup := c.Strategy.WarmupPeriod()
	if !c.started || c.Dataframe.Len() < warmup {
		return Signal{}, false
	}

	sample := c.Dataframe.Sample(warmup)
	charts := c.Strategy.Indicators(&sample)
	c.lastValues = lastIndicatorValues(&sample, charts)

	direction, confidence, ok := c.Strategy.CheckSignal(&sample)
	if !ok {
		return Signal{}, false
	}
	return Signal{
		Asset:      sample.Asset,
		Strategy:   c.Strategy.GetName(),
		Direction:  direction,
		Confidence: confidence,
		Close:      sample.Close.Last(0),
		Time:       sample.LastUpdate,
	}, true
}

// Snapshot 최근 size 봉의 복사본
func (c *Controller) Snapshot(size int) model.Dataframe {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Dataframe.Sample(size)
}

// LastIndicators 마지막 평가 시점의 지표 값
func (c *Controller) LastIndicators() []IndicatorValue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]IndicatorValue(nil), c.lastValues...)
}

func lastIndicatorValues(sample *model.Dataframe, chartIndics []indicator.ChartIndicator) []IndicatorValue {
	lastIndex := sample.Close.Length() - 1
	if lastIndex < 0 {
		return nil
	}

	var results []IndicatorValue
	for _, ci := range chartIndics {
		for _, metric := range ci.Metrics {
			if metric.Values.Length() > lastIndex {
				results = append(results, IndicatorValue{
					Name:  metric.Name,
					Value: metric.Values[lastIndex],
				})
			}
		}
	}
	return results
}
