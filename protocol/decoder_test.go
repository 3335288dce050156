package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qxtrader/model"
)

func TestDecoder_Ticks(t *testing.T) {
	d := NewDecoder(DefaultNames())

	ev, err := d.Decode("quotes/stream", []byte(`[["EURUSD_otc",1700000000.5,1.0812,0],["USDBRL_otc","1700000001",5.1,1]]`))
	require.NoError(t, err)

	ticks, ok := ev.(Ticks)
	require.True(t, ok)
	require.Len(t, ticks.Ticks, 2)
	assert.Equal(t, model.Tick{Asset: "EURUSD_otc", Time: 1700000000.5, Price: 1.0812}, ticks.Ticks[0])
	assert.Equal(t, 1700000001.0, ticks.ServerTime())
}

func TestDecoder_Block(t *testing.T) {
	d := NewDecoder(DefaultNames())

	ev, err := d.Decode("chart_notification", []byte(`{"asset":"EURUSD","period":60,"candles":[[1020,1.2,1.3,1.4,1.1],[960,1.0,1.1,1.2,0.9,14]]}`))
	require.NoError(t, err)

	block := ev.(Block).Block
	require.Equal(t, "EURUSD", block.Asset)
	require.Len(t, block.Candles, 2)
	// 시간순 정렬
	first := block.Candles[0]
	assert.Equal(t, int64(960), first.Time)
	assert.Equal(t, 1.0, first.Open)
	assert.Equal(t, 1.1, first.Close)
	assert.Equal(t, 1.2, first.High)
	assert.Equal(t, 0.9, first.Low)
	assert.Equal(t, 14, first.Ticks)
	assert.Equal(t, model.SourceServer, first.Source)
}

func TestDecoder_HistoryWithObjectCandlesAndTicks(t *testing.T) {
	d := NewDecoder(DefaultNames())

	raw := `{"asset":"EURUSD","period":60,"index":17,
		"data":[{"time":120,"open":1,"close":2,"high":3,"low":0.5}],
		"history":[[121.2,2.1],[125,2.2]]}`
	ev, err := d.Decode("history/list/v2", []byte(raw))
	require.NoError(t, err)

	batch := ev.(History).Batch
	assert.Equal(t, int64(17), batch.Index)
	require.Len(t, batch.Candles, 1)
	assert.Equal(t, 3.0, batch.Candles[0].High)
	require.Len(t, batch.Ticks, 2)
	assert.Equal(t, 2.2, batch.Ticks[1].Price)
}

func TestDecoder_Instruments(t *testing.T) {
	d := NewDecoder(DefaultNames())

	raw := `[[5,"EURUSD_otc","EUR/USD\n(OTC)","currency",5,87,0,0,0,0,0,0,0,0,true],
		[7,"GBPUSD","GBP/USD","currency",5,80,0,0,0,0,0,0,0,0,0]]`
	ev, err := d.Decode("instruments/list", []byte(raw))
	require.NoError(t, err)

	assets := ev.(Instruments).Assets
	require.Len(t, assets, 2)
	assert.Equal(t, model.AssetDescriptor{ID: 5, Symbol: "EURUSD_otc", DisplayName: "EUR/USD(OTC)", IsOpen: true, Payout: 87}, assets[0])
	assert.False(t, assets[1].IsOpen)
}

func TestDecoder_BuyConfirmedAndError(t *testing.T) {
	d := NewDecoder(DefaultNames())

	ev, err := d.Decode("s_orders/open", []byte(`{"id":"abc-1","requestId":42,"asset":"EURUSD","amount":10,"command":1,"openPrice":1.1,"openTimestamp":1000,"closeTimestamp":1060,"isDemo":1}`))
	require.NoError(t, err)
	buy := ev.(BuyConfirmed)
	assert.Equal(t, "abc-1", buy.ID)
	assert.Equal(t, int64(42), buy.RequestID)
	assert.Equal(t, model.DirectionPut, buy.Direction())
	assert.True(t, buy.IsDemo)
	assert.Equal(t, 1000.0, buy.ServerTime())

	ev, err = d.Decode("s_orders/open", []byte(`{"error":"Not money","requestId":42}`))
	require.NoError(t, err)
	assert.Equal(t, ServerError{Reason: "Not money", RequestID: 42}, ev)
}

func TestDecoder_Deals(t *testing.T) {
	d := NewDecoder(DefaultNames())

	ev, err := d.Decode("s_orders/close", []byte(`{"deals":[{"id":"abc-1","profit":8.5,"closePrice":1.2}],"profit":8.5}`))
	require.NoError(t, err)
	settled := ev.(DealsSettled)
	require.Len(t, settled.Deals, 1)
	assert.Equal(t, 8.5, settled.Deals[0].Profit)
}

func TestDecoder_MalformedIsProtocolError(t *testing.T) {
	d := NewDecoder(DefaultNames())

	_, err := d.Decode("quotes/stream", []byte(`{"oops":`))
	require.ErrorIs(t, err, model.ErrProtocol)

	_, err = d.Decode("instruments/list", []byte(`[[1,"X"]]`))
	require.ErrorIs(t, err, model.ErrProtocol)
}

func TestDecoder_UnknownName(t *testing.T) {
	d := NewDecoder(DefaultNames())

	ev, err := d.Decode("something/new", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "something/new", ev.(Unknown).Name)
}

func TestDecoder_Classify(t *testing.T) {
	d := NewDecoder(DefaultNames())
	n := DefaultNames()

	tests := []struct {
		raw  string
		want string
	}{
		{`[["EURUSD",1.0,1.1,0]]`, n.Ticks},
		{`{"liveBalance":10,"demoBalance":10000}`, n.Balance},
		{`{"deals":[]}`, n.DealsSettled},
		{`{"asset":"EURUSD","period":60,"history":[]}`, n.History},
		{`{"asset":"EURUSD","period":60,"candles":[]}`, n.Block},
		{`{"asset":"EURUSD","index":3,"candles":[]}`, n.History},
		{`{"signals":[]}`, n.Signals},
		{`{"asset":"EURUSD","sentiment":{"buy":60,"sell":40}}`, n.Sentiment},
		{`{"error":"bad"}`, n.ServerError},
		{`{"ticket":"t-1"}`, n.PendingConfirmed},
		{`{"id":"x","openPrice":1.1}`, n.BuyConfirmed},
		{`{"hello":1}`, ""},
		{`garbage`, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, d.Classify([]byte(tt.raw)), tt.raw)
	}

	ev, err := d.Decode("", []byte(`{"liveBalance":"12.5","demoBalance":10000}`))
	require.NoError(t, err)
	assert.Equal(t, Balance{Demo: 10000, Live: 12.5}, ev)
}

func TestNames_MergeAndCommands(t *testing.T) {
	n := DefaultNames().Merge(Names{OrdersOpen: "orders/open/v2"})
	require.Equal(t, "orders/open/v2", n.OrdersOpen)
	require.Equal(t, "tick", n.Tick)

	cmd := n.OrdersOpenCommand(OpenOrder{Asset: "EURUSD", Amount: 5, Direction: model.DirectionPut, Time: 60, Mode: model.TimeModeTimer, IsDemo: true, RequestID: 7})
	require.Equal(t, "orders/open/v2", cmd.Name)
	payload := cmd.Payload.(map[string]any)
	assert.Equal(t, 100, payload["optionType"])
	assert.Equal(t, 1, payload["isDemo"])
	assert.Equal(t, "put", payload["action"])

	auth := n.AuthorizationCommand("tok", false, 0).Payload.(map[string]any)
	assert.Equal(t, 0, auth["isDemo"])
}
