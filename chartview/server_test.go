package chartview

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qxtrader/candle"
	"qxtrader/model"
	"qxtrader/strategy"
)

func seededAggregator(t *testing.T) *candle.Aggregator {
	agg := candle.NewAggregator()
	agg.Subscribe("EURUSD_otc", 60)
	candles := make([]model.Candle, 40)
	for i := range candles {
		c := 1 + float64(i)*0.01
		candles[i] = model.Candle{Time: int64(1700000040 + i*60), Period: 60, Open: c, High: c + 0.005, Low: c - 0.005, Close: c + 0.002}
	}
	agg.ApplyBlock(model.CandleBlock{Asset: "EURUSD_otc", Period: 60, Candles: candles})
	require.Len(t, agg.Series("EURUSD_otc", 60, 0, 0), 40)
	return agg
}

func get(t *testing.T, s *Server, target string) (*http.Response, string) {
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, target, nil), -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServer_Chart(t *testing.T) {
	store := NewChartDataStore(seededAggregator(t), strategy.NewKeltnerRSI(60), 30)
	s := NewServer(store, "EURUSD_otc", 60)

	resp, body := get(t, s, "/chart")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "echarts")
	assert.Contains(t, body, "KLine")
	assert.Contains(t, body, "RSI")
}

func TestServer_CandlesAPI(t *testing.T) {
	store := NewChartDataStore(seededAggregator(t), nil, 30)
	s := NewServer(store, "EURUSD_otc", 60)

	resp, body := get(t, s, "/api/candles?asset=EURUSD_otc&period=60")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var candles []model.Candle
	require.NoError(t, json.Unmarshal([]byte(body), &candles))
	assert.Len(t, candles, 30, "limited to the newest candles")
	assert.Equal(t, int64(1700000040+39*60), candles[29].Time)

	resp, body = get(t, s, "/api/candles?asset=GBPUSD&period=60")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", body)

	resp, _ = get(t, s, "/api/candles?period=-5")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_IndexListsStreams(t *testing.T) {
	s := NewServer(NewChartDataStore(seededAggregator(t), nil, 0), "EURUSD_otc", 60)

	resp, body := get(t, s, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `/chart?asset=EURUSD_otc&period=60`)

	_, body = get(t, s, "/api/streams")
	var streams []Stream
	require.NoError(t, json.Unmarshal([]byte(body), &streams))
	assert.Equal(t, []Stream{{Asset: "EURUSD_otc", Period: 60}}, streams)
}

func TestChartValue(t *testing.T) {
	assert.Equal(t, "-", chartValue(0))
	assert.Equal(t, 1.5, chartValue(1.5))
}
