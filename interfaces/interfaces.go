package interfaces

import (
	"context"

	"qxtrader/indicator"
	"qxtrader/model"
)

type Exchange interface {
	Broker
	DataFeeder
}

type Broker interface {
	Buy(ctx context.Context, amount float64, asset string, direction model.Direction, duration int64,
		mode model.TimeMode) (bool, model.Operation, error)
	CheckWin(ctx context.Context, id string) (model.Operation, error)
	GetBalance(ctx context.Context) (float64, error)
}

type DataFeeder interface {
	OpenOTCAssets(ctx context.Context) ([]string, error)
	StartCandlesStream(ctx context.Context, asset string, period int64) error
	GetCandles(ctx context.Context, asset string, end float64, offset, period int64) ([]model.Candle, error)
	GetRealtimeCandles(ctx context.Context, asset string, period int64) ([]model.Candle, error)
}

type Notifier interface {
	SendNotification(message string) error
	OperationNotifier(op model.Operation, err error)
}

// Journal 정산된 거래 기록
type Journal interface {
	Record(op model.Operation) error
}

type Strategy interface {
	GetName() string
	// Period is the candle period in seconds the strategy is evaluated on.
	Period() int64
	// WarmupPeriod is the number of candles needed before CheckSignal is meaningful.
	WarmupPeriod() int
	// Indicators fills df.Metadata before CheckSignal is called.
	Indicators(df *model.Dataframe) []indicator.ChartIndicator
	// CheckSignal returns the direction to trade and a confidence value (the last RSI for the
	// bundled strategies). ok is false when there is no signal.
	CheckSignal(df *model.Dataframe) (direction model.Direction, confidence float64, ok bool)
}
