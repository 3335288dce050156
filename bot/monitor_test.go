package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qxtrader/mocks"
	"qxtrader/model"
	"qxtrader/strategy"
)

func uptrend(asset string, n int) []model.Candle {
	candles := make([]model.Candle, n)
	for i := range candles {
		c := 1 + float64(i)
		candles[i] = model.Candle{Asset: asset, Time: int64(i * 60), Period: 60, Open: c - 0.5, High: c + 0.1, Low: c - 0.1, Close: c}
	}
	return candles
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMonitor_RunNotifiesAndSharesCooldown(t *testing.T) {
	ex := mocks.NewMockExchange("EURUSD_otc", "GBPUSD_otc")
	ex.SetCandles("EURUSD_otc", uptrend("EURUSD_otc", 40))
	ex.SetCandles("GBPUSD_otc", uptrend("GBPUSD_otc", 40))
	notifier := &mocks.MockNotifier{}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}

	m := NewMonitor(ex, strategy.NewKeltnerRSI(60), notifier,
		Config{Interval: 10 * time.Millisecond, AutoTrade: true}, WithClock(clock.Now))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Run(ctx))

	signals, trades := m.Stats()
	assert.Equal(t, 2, signals, "one signal per asset for the same candle")
	assert.Equal(t, 1, trades, "cooldown is shared by all assets")
	assert.Equal(t, 1, ex.Buys())
	assert.Len(t, notifier.Sent(), 2)
	assert.Contains(t, notifier.Sent()[0], "CALL Signal for")
	assert.Len(t, notifier.Notified(), 1)

}

func TestMonitor_CheckWithoutAutoTrade(t *testing.T) {
	ex := mocks.NewMockExchange()
	ex.SetCandles("EURUSD_otc", uptrend("EURUSD_otc", 40))
	notifier := &mocks.MockNotifier{}
	m := NewMonitor(ex, strategy.NewKeltnerRSI(60), notifier, Config{})

	ctrl := m.controller("EURUSD_otc")
	require.NoError(t, m.Check(context.Background(), "EURUSD_otc", ctrl))
	require.NoError(t, m.Check(context.Background(), "EURUSD_otc", ctrl))

	assert.Len(t, notifier.Sent(), 1)
	assert.Equal(t, 0, ex.Buys())
}

func TestMonitor_CheckErrors(t *testing.T) {
	ex := mocks.NewMockExchange()
	m := NewMonitor(ex, strategy.NewKeltnerRSI(60), nil, Config{})

	err := m.Check(context.Background(), "EURUSD_otc", m.controller("EURUSD_otc"))
	assert.ErrorIs(t, err, model.ErrTimeout)

	ex.SetCandles("EURUSD_otc", uptrend("EURUSD_otc", 40))
	ex.CandlesErr = model.ErrDataGap
	err = m.Check(context.Background(), "EURUSD_otc", m.controller("EURUSD_otc"))
	assert.NoError(t, err, "data gaps are tolerated")
}

func TestMonitor_RunWithoutAssets(t *testing.T) {
	m := NewMonitor(mocks.NewMockExchange(), strategy.NewKeltnerRSI(60), nil, Config{})
	assert.Error(t, m.Run(context.Background()))
}

func TestMonitor_Cooldown(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := NewMonitor(mocks.NewMockExchange(), strategy.NewKeltnerRSI(60), nil, Config{}, WithClock(clock.Now))

	assert.True(t, m.takeCooldown())
	clock.Advance(30 * time.Second)
	assert.False(t, m.takeCooldown())
	clock.Advance(31 * time.Second)
	assert.True(t, m.takeCooldown())
}

func TestMonitor_FailedTradeIsNotified(t *testing.T) {
	ex := mocks.NewMockExchange()
	ex.SetCandles("EURUSD_otc", uptrend("EURUSD_otc", 40))
	ex.BuyErr = errors.New("asset closed")
	notifier := &mocks.MockNotifier{}
	m := NewMonitor(ex, strategy.NewKeltnerRSI(60), notifier, Config{AutoTrade: true})

	require.NoError(t, m.Check(context.Background(), "EURUSD_otc", m.controller("EURUSD_otc")))
	_, trades := m.Stats()
	assert.Equal(t, 0, trades)
	require.Len(t, notifier.Notified(), 1)
	assert.Equal(t, model.StatusRejected, notifier.Notified()[0].Status)
}

func TestMonitor_SchedulerRunsOnCheck(t *testing.T) {
	ex := mocks.NewMockExchange()
	ex.SetCandles("EURUSD_otc", uptrend("EURUSD_otc", 40))
	m := NewMonitor(ex, strategy.NewKeltnerRSI(60), nil, Config{})

	m.Scheduler("EURUSD_otc").PutWhen(3, 30, func(df *model.Dataframe) bool {
		return df.Close.Last(0) >= 40
	})
	require.NoError(t, m.Check(context.Background(), "EURUSD_otc", m.controller("EURUSD_otc")))
	assert.Equal(t, 1, ex.Buys())
	assert.Equal(t, model.DirectionPut, ex.LastBuy.Direction)
	assert.Equal(t, 0, m.Scheduler("EURUSD_otc").Pending())
}
