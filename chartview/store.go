package chartview

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"qxtrader/indicator"
	"qxtrader/interfaces"
	"qxtrader/model"
)

// SeriesSource 캔들 시리즈 제공자. candle.Aggregator 가 구현한다.
type SeriesSource interface {
	Series(asset string, period int64, end, span int64) []model.Candle
	Keys() []string
}

// ChartDataStore 차트 한 장에 필요한 캔들과 지표를 모은다.
type ChartDataStore struct {
	source   SeriesSource
	strategy interfaces.Strategy

	mu    sync.Mutex
	limit int
}

func NewChartDataStore(source SeriesSource, strategy interfaces.Strategy, limit int) *ChartDataStore {
	if limit <= 0 {
		limit = 200
	}
	return &ChartDataStore{source: source, strategy: strategy, limit: limit}
}

// GetCandles 최근 limit 개 봉, 시간 오름차순
func (ds *ChartDataStore) GetCandles(asset string, period int64) []model.Candle {
	ds.mu.Lock()
	limit := ds.limit
	ds.mu.Unlock()

	out := ds.source.Series(asset, period, 0, 0)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Time < out[j].Time
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// GetIndicators 전략이 있으면 전략 지표를 계산해 돌려준다
func (ds *ChartDataStore) GetIndicators(asset string, period int64, candles []model.Candle) []indicator.ChartIndicator {
	if ds.strategy == nil || len(candles) < ds.strategy.WarmupPeriod() {
		return nil
	}
	df := model.NewDataframe(asset, period, candles)
	return ds.strategy.Indicators(df)
}

// Streams 집계 중인 (asset, period) 목록
func (ds *ChartDataStore) Streams() []Stream {
	var out []Stream
	for _, k := range ds.source.Keys() {
		// 키는 "<asset>_<period>", asset 에도 '_' 가 들어간다
		i := strings.LastIndex(k, "_")
		if i <= 0 {
			continue
		}
		period, err := strconv.ParseInt(k[i+1:], 10, 64)
		if err != nil {
			continue
		}
		asset := k[:i]
		out = append(out, Stream{Asset: asset, Period: period})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].Period < out[j].Period
	})
	return out
}

type Stream struct {
	Asset  string `json:"asset"`
	Period int64  `json:"period"`
}
