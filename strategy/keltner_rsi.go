package strategy

import (
	"qxtrader/indicator"
	"qxtrader/model"
)

// KeltnerRSI 종가가 SMA 위/아래 이고 켈트너 중심선 또는 밴드를 넘어서며 RSI 가 과열/과매도일 때 진입.
type KeltnerRSI struct {
	Timeframe  int64
	SMAPeriod  int
	EMAPeriod  int
	ATRPeriod  int
	Multiplier float64
	RSIPeriod  int
	Overbought float64
	Oversold   float64
}

func NewKeltnerRSI(period int64) *KeltnerRSI {
	return &KeltnerRSI{
		Timeframe:  period,
		SMAPeriod:  10,
		EMAPeriod:  20,
		ATRPeriod:  10,
		Multiplier: 1,
		RSIPeriod:  14,
		Overbought: 70,
		Oversold:   30,
	}
}

func (e KeltnerRSI) GetName() string {
	return "keltner_rsi"
}

func (e KeltnerRSI) Period() int64 {
	return e.Timeframe
}

func (e KeltnerRSI) WarmupPeriod() int {
	return max(e.SMAPeriod, e.EMAPeriod, e.ATRPeriod+1, e.RSIPeriod+1)
}

func (e KeltnerRSI) Indicators(df *model.Dataframe) []indicator.ChartIndicator {
	kc := indicator.Keltner(df.High, df.Low, df.Close, e.EMAPeriod, e.ATRPeriod, e.Multiplier)
	df.Metadata["sma"] = indicator.SMA(df.Close, e.SMAPeriod)
	df.Metadata["rsi"] = indicator.RSI(df.Close, e.RSIPeriod)
	df.Metadata["kc_upper"] = kc.Upper
	df.Metadata["kc_mid"] = kc.Middle
	df.Metadata["kc_lower"] = kc.Lower

	return []indicator.ChartIndicator{
		{
			Overlay:   true,
			GroupName: "Keltner",
			Time:      df.Time,
			Warmup:    e.WarmupPeriod(),
			Metrics: []indicator.IndicatorMetric{
				{Values: df.Metadata["kc_upper"], Name: "KC Upper", Color: "green", Style: indicator.StyleLine},
				{Values: df.Metadata["kc_mid"], Name: "KC Mid", Color: "gray", Style: indicator.StyleLine},
				{Values: df.Metadata["kc_lower"], Name: "KC Lower", Color: "green", Style: indicator.StyleLine},
				{Values: df.Metadata["sma"], Name: "SMA", Color: "blue", Style: indicator.StyleLine},
			},
		},
		{
			GroupName: "RSI",
			Time:      df.Time,
			Warmup:    e.WarmupPeriod(),
			Metrics: []indicator.IndicatorMetric{
				{Values: df.Metadata["rsi"], Name: "RSI", Color: "purple", Style: indicator.StyleLine},
			},
		},
	}
}

func (e KeltnerRSI) CheckSignal(df *model.Dataframe) (model.Direction, float64, bool) {
	if df.Len() < e.WarmupPeriod() {
		return "", 0, false
	}
	closePrice := df.Close.Last(0)
	sma := df.Metadata["sma"].Last(0)
	rsi := df.Metadata["rsi"].Last(0)
	upper := df.Metadata["kc_upper"].Last(0)
	mid := df.Metadata["kc_mid"].Last(0)
	lower := df.Metadata["kc_lower"].Last(0)

	if closePrice > sma && (closePrice > upper || closePrice > mid) && rsi >= e.Overbought {
		return model.DirectionCall, rsi, true
	}
	if closePrice < sma && (closePrice < lower || closePrice < mid) && rsi <= e.Oversold {
		return model.DirectionPut, rsi, true
	}
	return "", 0, false
}
