package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"qxtrader/candle"
	"qxtrader/feed"
	"qxtrader/model"
	"qxtrader/utils/log"
)

// AssetName instruments 의 (심볼, 표시 이름)
type AssetName struct {
	Symbol      string
	DisplayName string
}

// -----------------------------------------------------------------------------
// 구독
// -----------------------------------------------------------------------------

// SubscribeEntry 구독 한 건을 실제 명령으로 보낸다. 재연결 후 재생에도 쓰인다.
func (q *Quotex) SubscribeEntry(ctx context.Context, e feed.Entry) error {
	switch e.Kind {
	case feed.KindCandle:
		q.candles.Subscribe(e.Asset, e.Period)
		if err := q.conn.Emit(ctx, q.names.InstrumentsUpdateCommand(e.Asset, e.Period)); err != nil {
			return err
		}
		if err := q.conn.Emit(ctx, q.names.FollowCommand(e.Asset)); err != nil {
			return err
		}
		return q.conn.Emit(ctx, q.names.ChartNotificationCommand(e.Asset))
	case feed.KindPrice:
		return q.conn.Emit(ctx, q.names.FollowCommand(e.Asset))
	case feed.KindSentiment:
		return q.conn.Emit(ctx, q.names.DepthFollowCommand(e.Asset))
	}
	return fmt.Errorf("unknown stream kind %q", e.Kind)
}

// startStream 레지스트리에 올리고 바로 보낸다. 연결 전이면 다음 연결 때 재생된다.
func (q *Quotex) startStream(ctx context.Context, e feed.Entry) error {
	if e.Kind == feed.KindCandle {
		q.candles.Subscribe(e.Asset, e.Period)
	}
	if q.registry.Register(e) {
		log.Debugf("[QUOTEX] registered %s", e)
	}
	err := q.SubscribeEntry(ctx, e)
	if errors.Is(err, model.ErrNotConnected) {
		log.Debugf("[QUOTEX] %s deferred until connected", e)
		return nil
	}
	return err
}

func (q *Quotex) StartCandlesStream(ctx context.Context, asset string, period int64) error {
	if period <= 0 {
		period = q.cfg.DefaultPeriod
	}
	return q.startStream(ctx, feed.Entry{Asset: normalizeAsset(asset), Period: period, Kind: feed.KindCandle})
}

func (q *Quotex) StartRealtimePrice(ctx context.Context, asset string) error {
	return q.startStream(ctx, feed.Entry{Asset: normalizeAsset(asset), Kind: feed.KindPrice})
}

func (q *Quotex) StartMoodStream(ctx context.Context, asset string) error {
	return q.startStream(ctx, feed.Entry{Asset: normalizeAsset(asset), Kind: feed.KindSentiment})
}

// Unsubscribe asset 의 캔들(period), 가격, 심리 구독을 모두 해제한다.
func (q *Quotex) Unsubscribe(ctx context.Context, asset string, period int64) error {
	asset = normalizeAsset(asset)
	q.registry.Unregister(feed.Entry{Asset: asset, Period: period, Kind: feed.KindCandle})
	q.registry.Unregister(feed.Entry{Asset: asset, Kind: feed.KindPrice})
	sentiment := q.registry.Unregister(feed.Entry{Asset: asset, Kind: feed.KindSentiment})
	q.candles.Unsubscribe(asset, period)

	err := q.conn.Emit(ctx, q.names.UnfollowCommand(asset))
	if sentiment && err == nil {
		err = q.conn.Emit(ctx, q.names.DepthUnfollowCommand(asset))
	}
	if errors.Is(err, model.ErrNotConnected) {
		return nil
	}
	return err
}

func (q *Quotex) StartSignalsData(ctx context.Context) error {
	return q.conn.Emit(ctx, q.names.SignalSubscribeCommand())
}

// GetSignalData 자산별로 받은 시그널. asset 이 비어 있으면 전부.
func (q *Quotex) GetSignalData(asset string) map[string][]model.Signal {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if asset != "" {
		asset = normalizeAsset(asset)
		return map[string][]model.Signal{asset: append([]model.Signal(nil), q.signals[asset]...)}
	}
	out := make(map[string][]model.Signal, len(q.signals))
	for k, v := range q.signals {
		out[k] = append([]model.Signal(nil), v...)
	}
	return out
}

// -----------------------------------------------------------------------------
// 캔들
// -----------------------------------------------------------------------------

// GetCandles (end-offset, end] 구간의 캔들을 히스토리 요청으로 받아 병합한 뒤 돌려준다.
// 구간에 빈 버킷이 있으면 캔들과 함께 ErrDataGap 을 돌려준다.
func (q *Quotex) GetCandles(ctx context.Context, asset string, end float64, offset, period int64) ([]model.Candle, error) {
	asset = normalizeAsset(asset)
	if period <= 0 {
		period = q.cfg.DefaultPeriod
	}
	if end <= 0 {
		end = q.clock.ServerTimestamp()
	}
	if err := q.StartCandlesStream(ctx, asset, period); err != nil {
		return nil, err
	}

	since := q.candles.HistoryEpoch(asset, period)
	index := q.expectHistory(asset, period)
	defer q.forgetHistory(index)
	cmd := q.names.HistoryLoadCommand(asset, index, int64(end), offset, period)
	if err := q.conn.Emit(ctx, cmd); err != nil {
		return nil, err
	}
	if err := q.candles.WaitHistory(ctx, asset, period, since, q.cfg.Ceiling); err != nil {
		return nil, err
	}

	candles := q.candles.Series(asset, period, int64(end), offset)
	if err := candle.CheckContinuity(candles); err != nil {
		return candles, err
	}
	return candles, nil
}

// GetCandlesProgressive from 부터 offset 창 단위로 steps 번 앞으로 가며 채운 뒤 전체 구간을 돌려준다.
// 시리즈 한도는 구간 전체가 들어가도록 늘린다. 구간 앞부분이 비면 ErrDataGap.
func (q *Quotex) GetCandlesProgressive(ctx context.Context, asset string, from float64, offset, period int64, steps int) ([]model.Candle, error) {
	asset = normalizeAsset(asset)
	if period <= 0 {
		period = q.cfg.DefaultPeriod
	}
	if offset <= 0 || steps <= 0 {
		return nil, fmt.Errorf("offset and steps must be positive")
	}
	start := model.AlignTime(from, period)
	span := offset * int64(steps)
	q.candles.Reserve(asset, period, int(span/period)+1)

	end := start + offset
	for i := 0; i < steps; i++ {
		_, err := q.GetCandles(ctx, asset, float64(end), offset, period)
		if err != nil && !errors.Is(err, model.ErrDataGap) {
			return nil, fmt.Errorf("step %d/%d: %w", i+1, steps, err)
		}
		end += offset
	}
	last := end - offset
	candles := q.candles.Series(asset, period, last, span)
	if len(candles) == 0 {
		return candles, fmt.Errorf("%w: %s_%d no candles in (%d, %d]", model.ErrDataGap, asset, period, start, last)
	}
	if first := candles[0].Time; first > start+period {
		return candles, fmt.Errorf("%w: %s_%d starts at %d, want %d", model.ErrDataGap, asset, period, first, start+period)
	}
	if err := candle.CheckContinuity(candles); err != nil {
		return candles, err
	}
	return candles, nil
}

// GetHistoryLine 히스토리 요청의 원본 배치
func (q *Quotex) GetHistoryLine(ctx context.Context, asset string, end float64, offset int64) (model.HistoricalBatch, error) {
	asset = normalizeAsset(asset)
	if end <= 0 {
		end = q.clock.ServerTimestamp()
	}
	period := q.cfg.DefaultPeriod
	if err := q.StartCandlesStream(ctx, asset, period); err != nil {
		return model.HistoricalBatch{}, err
	}

	q.mu.RLock()
	since := q.historySeq
	q.mu.RUnlock()
	index := q.expectHistory(asset, period)
	defer q.forgetHistory(index)

	cmd := q.names.HistoryLoadCommand(asset, index, int64(end), offset, period)
	if err := q.conn.Emit(ctx, cmd); err != nil {
		return model.HistoricalBatch{}, err
	}
	var out model.HistoricalBatch
	err := q.wait(ctx, "history line "+asset, func() bool {
		q.mu.RLock()
		defer q.mu.RUnlock()
		out = q.history
		return q.historySeq > since && out.Asset == asset
	})
	return out, err
}

// GetCandleV2 서버가 집계한 새 블록이 올 때까지 기다린 뒤 시리즈를 돌려준다.
func (q *Quotex) GetCandleV2(ctx context.Context, asset string, period int64) ([]model.Candle, error) {
	asset = normalizeAsset(asset)
	if period <= 0 {
		period = q.cfg.DefaultPeriod
	}
	_, since, _ := q.candles.LastBlock(asset)
	if err := q.StartCandlesStream(ctx, asset, period); err != nil {
		return nil, err
	}
	if _, err := q.candles.WaitBlock(ctx, asset, since, q.cfg.Ceiling); err != nil {
		return nil, err
	}
	return q.candles.Series(asset, period, 0, 0), nil
}

// GetRealtimeCandles 스트림을 열고 캔들이 하나라도 생기면 현재 시리즈를 돌려준다.
func (q *Quotex) GetRealtimeCandles(ctx context.Context, asset string, period int64) ([]model.Candle, error) {
	asset = normalizeAsset(asset)
	if period <= 0 {
		period = q.cfg.DefaultPeriod
	}
	if err := q.StartCandlesStream(ctx, asset, period); err != nil {
		return nil, err
	}
	return q.candles.WaitSeries(ctx, asset, period, 0, 0, 1, q.cfg.Ceiling)
}

// GetRealtimePrice 최근 실시간 가격들 (오래된 것부터)
func (q *Quotex) GetRealtimePrice(ctx context.Context, asset string) ([]model.Tick, error) {
	asset = normalizeAsset(asset)
	if err := q.StartRealtimePrice(ctx, asset); err != nil {
		return nil, err
	}
	if _, err := q.candles.WaitPrice(ctx, asset, q.cfg.Ceiling); err != nil {
		return nil, err
	}
	return q.candles.RealtimePrices(asset), nil
}

func (q *Quotex) GetRealtimeSentiment(ctx context.Context, asset string) (model.Sentiment, error) {
	asset = normalizeAsset(asset)
	if err := q.StartMoodStream(ctx, asset); err != nil {
		return model.Sentiment{}, err
	}
	var out model.Sentiment
	err := q.wait(ctx, "sentiment "+asset, func() bool {
		q.mu.RLock()
		defer q.mu.RUnlock()
		s, ok := q.sentiments[asset]
		out = s
		return ok
	})
	return out, err
}

// expectHistory 요청 index 를 발급하고 응답이 올 때까지 자산/주기를 기억한다.
func (q *Quotex) expectHistory(asset string, period int64) int64 {
	index := requestIndex()
	q.mu.Lock()
	q.historyReqs[index] = historyRequest{asset: asset, period: period}
	q.mu.Unlock()
	return index
}

func (q *Quotex) forgetHistory(index int64) {
	q.mu.Lock()
	delete(q.historyReqs, index)
	q.mu.Unlock()
}

// resolveHistoryLocked 응답의 요청을 index 로 찾는다. q.mu 를 잡은 채로 부른다.
// index 로 못 찾으면 같은 자산의 요청, 자산과 index 가 모두 없으면 대기 중인 요청이 하나뿐일 때만 그 요청으로 본다.
func (q *Quotex) resolveHistoryLocked(index int64, asset string) (historyRequest, bool) {
	if req, ok := q.historyReqs[index]; ok {
		delete(q.historyReqs, index)
		return req, true
	}
	for k, req := range q.historyReqs {
		if asset != "" && req.asset != asset {
			continue
		}
		if asset == "" && (index != 0 || len(q.historyReqs) > 1) {
			break
		}
		delete(q.historyReqs, k)
		return req, true
	}
	return historyRequest{}, false
}

var lastRequestIndex atomic.Int64

// requestIndex ms 타임스탬프 기반, 같은 ms 에 불려도 겹치지 않게 단조 증가한다.
func requestIndex() int64 {
	for {
		last := lastRequestIndex.Load()
		next := time.Now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if lastRequestIndex.CompareAndSwap(last, next) {
			return next
		}
	}
}

// -----------------------------------------------------------------------------
// instruments
// -----------------------------------------------------------------------------

func (q *Quotex) GetInstruments(ctx context.Context) ([]model.AssetDescriptor, error) {
	var out []model.AssetDescriptor
	err := q.wait(ctx, "instruments", func() bool {
		q.mu.RLock()
		defer q.mu.RUnlock()
		out = append([]model.AssetDescriptor(nil), q.instruments...)
		return len(out) > 0
	})
	return out, err
}

func (q *Quotex) lookupAsset(symbol string) (model.AssetDescriptor, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return lo.Find(q.instruments, func(a model.AssetDescriptor) bool {
		return a.Symbol == symbol
	})
}

func (q *Quotex) GetAllAssetNames(ctx context.Context) ([]AssetName, error) {
	assets, err := q.GetInstruments(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(assets, func(a model.AssetDescriptor, _ int) AssetName {
		return AssetName{Symbol: a.Symbol, DisplayName: a.DisplayName}
	}), nil
}

// CheckAssetOpen 자산 정보와 함께 instruments 에 있는지 돌려준다. 열려 있는지는 IsOpen.
func (q *Quotex) CheckAssetOpen(ctx context.Context, asset string) (model.AssetDescriptor, bool, error) {
	if _, err := q.GetInstruments(ctx); err != nil {
		return model.AssetDescriptor{}, false, err
	}
	desc, ok := q.lookupAsset(normalizeAsset(asset))
	return desc, ok, nil
}

// GetAvailableAsset forceOpen 이고 요청한 자산이 닫혀 있으면 _otc 쪽(또는 반대)으로 바꿔 본다.
func (q *Quotex) GetAvailableAsset(ctx context.Context, asset string, forceOpen bool) (string, model.AssetDescriptor, bool, error) {
	asset = normalizeAsset(asset)
	desc, ok, err := q.CheckAssetOpen(ctx, asset)
	if err != nil {
		return asset, desc, false, err
	}
	if forceOpen && (!ok || !desc.IsOpen) {
		asset = model.ToggleOTC(asset)
		desc, ok = q.lookupAsset(asset)
	}
	return asset, desc, ok, nil
}

// GetAllAssets 심볼 -> instrument id
func (q *Quotex) GetAllAssets(ctx context.Context) (map[string]int64, error) {
	assets, err := q.GetInstruments(ctx)
	if err != nil {
		return nil, err
	}
	withID := lo.Filter(assets, func(a model.AssetDescriptor, _ int) bool { return a.ID != 0 })
	return lo.Associate(withID, func(a model.AssetDescriptor) (string, int64) {
		return a.Symbol, a.ID
	}), nil
}

// OpenOTCAssets 지금 거래 가능한 OTC 자산 심볼
func (q *Quotex) OpenOTCAssets(ctx context.Context) ([]string, error) {
	assets, err := q.GetInstruments(ctx)
	if err != nil {
		return nil, err
	}
	return lo.FilterMap(assets, func(a model.AssetDescriptor, _ int) (string, bool) {
		return a.Symbol, a.IsOpen && model.IsOTC(a.Symbol)
	}), nil
}

func (q *Quotex) GetPayout(ctx context.Context, asset string) (float64, error) {
	desc, ok, err := q.CheckAssetOpen(ctx, asset)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", model.ErrUnknownAsset, asset)
	}
	return desc.Payout, nil
}
