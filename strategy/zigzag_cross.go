package strategy

import (
	"qxtrader/indicator"
	"qxtrader/model"
)

// ZigZagCross 종가가 SMA 와 켈트너 밴드를 동시에 돌파하고 RSI 가 극단이며
// 마지막 ZigZag 꼭짓점이 지지(매수) 또는 저항(매도)으로 작동할 때만 신호를 낸다.
type ZigZagCross struct {
	KeltnerRSI
	Deviation float64
	Depth     int
	Backstep  int
}

func NewZigZagCross(period int64) *ZigZagCross {
	return &ZigZagCross{
		KeltnerRSI: *NewKeltnerRSI(period),
		Deviation:  5,
		Depth:      12,
		Backstep:   3,
	}
}

func (e ZigZagCross) GetName() string {
	return "zigzag_cross"
}

func (e ZigZagCross) WarmupPeriod() int {
	return max(e.KeltnerRSI.WarmupPeriod()+1, e.Depth+e.Backstep+1)
}

func (e ZigZagCross) Indicators(df *model.Dataframe) []indicator.ChartIndicator {
	charts := e.KeltnerRSI.Indicators(df)
	df.Metadata["zigzag"] = indicator.ZigZag(df.High, df.Low, e.Deviation, e.Depth, e.Backstep)

	return append(charts, indicator.ChartIndicator{
		Overlay:   true,
		GroupName: "ZigZag",
		Time:      df.Time,
		Warmup:    e.WarmupPeriod(),
		Metrics: []indicator.IndicatorMetric{
			{Values: df.Metadata["zigzag"], Name: "ZigZag", Color: "orange", Style: indicator.StyleScatter},
		},
	})
}

func (e ZigZagCross) CheckSignal(df *model.Dataframe) (model.Direction, float64, bool) {
	if df.Len() < e.WarmupPeriod() || df.Len() < 2 {
		return "", 0, false
	}
	level, ok := indicator.LastValid(df.Metadata["zigzag"])
	if !ok {
		return "", 0, false
	}

	closePrice := df.Close.Last(0)
	rsi := df.Metadata["rsi"].Last(0)
	sma := df.Metadata["sma"]

	if df.Close.Crossover(sma) && df.Close.Crossover(df.Metadata["kc_upper"]) &&
		rsi > e.Overbought && closePrice <= level {
		return model.DirectionCall, rsi, true
	}
	if df.Close.Crossunder(sma) && df.Close.Crossunder(df.Metadata["kc_lower"]) &&
		rsi < e.Oversold && closePrice >= level {
		return model.DirectionPut, rsi, true
	}
	return "", 0, false
}
