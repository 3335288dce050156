package candle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"qxtrader/model"
	"qxtrader/utils/broadcast"
	"qxtrader/utils/log"
)

const (
	DefaultCeiling     = 30 * time.Second
	defaultPriceBuffer = 1000
	defaultMaxCandles  = 5000
)

type key struct {
	asset  string
	period int64
}

func (k key) String() string {
	return fmt.Sprintf("%s_%d", k.asset, k.period)
}

type blockEntry struct {
	block model.CandleBlock
	seq   uint64
}

// Aggregator 는 (asset, period) 별 캔들 시리즈를 관리한다.
// 쓰기는 디스패치 경로 하나에서만 하고, 읽기는 여러 고루틴이 동시에 한다.
type Aggregator struct {
	mu      sync.RWMutex
	series  map[key]*series
	subs    map[string]map[int64]struct{}
	last    map[string]model.Tick
	prices  map[string][]model.Tick
	blocks  map[string]blockEntry
	epochs  map[key]uint64
	changes *broadcast.Broadcaster

	ceiling     time.Duration
	priceBuffer int
	maxCandles  int
	blockSeq    uint64
}

type Option func(*Aggregator)

// WithCeiling 대기 작업의 기본 상한
func WithCeiling(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.ceiling = d
		}
	}
}

func WithPriceBuffer(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.priceBuffer = n
		}
	}
}

func WithMaxCandles(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxCandles = n
		}
	}
}

func NewAggregator(options ...Option) *Aggregator {
	a := &Aggregator{
		series:      make(map[key]*series),
		subs:        make(map[string]map[int64]struct{}),
		last:        make(map[string]model.Tick),
		prices:      make(map[string][]model.Tick),
		blocks:      make(map[string]blockEntry),
		epochs:      make(map[key]uint64),
		changes:     broadcast.New(),
		ceiling:     DefaultCeiling,
		priceBuffer: defaultPriceBuffer,
		maxCandles:  defaultMaxCandles,
	}
	for _, option := range options {
		option(a)
	}
	return a
}

func (a *Aggregator) Ceiling() time.Duration {
	return a.ceiling
}

func (a *Aggregator) seriesLocked(asset string, period int64) *series {
	k := key{asset, period}
	s, ok := a.series[k]
	if !ok {
		s = &series{period: period}
		a.series[k] = s
	}
	return s
}

// Subscribe 이후 들어오는 틱을 (asset, period) 버킷으로 집계한다.
func (a *Aggregator) Subscribe(asset string, period int64) {
	if period <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.subs[asset] == nil {
		a.subs[asset] = make(map[int64]struct{})
	}
	a.subs[asset][period] = struct{}{}
	a.seriesLocked(asset, period)
}

func (a *Aggregator) Unsubscribe(asset string, period int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.subs[asset], period)
	if len(a.subs[asset]) == 0 {
		delete(a.subs, asset)
	}
}

func (a *Aggregator) Subscribed(asset string, period int64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.subs[asset][period]
	return ok
}

// ApplyTicks 실시간 가격을 반영한다.
func (a *Aggregator) ApplyTicks(ticks []model.Tick) {
	if len(ticks) == 0 {
		return
	}
	a.mu.Lock()
	for _, t := range ticks {
		a.applyTickLocked(t)
	}
	a.mu.Unlock()
	a.changes.Notify()
}

func (a *Aggregator) ApplyTick(t model.Tick) {
	a.ApplyTicks([]model.Tick{t})
}

func (a *Aggregator) applyTickLocked(t model.Tick) {
	if prev, ok := a.last[t.Asset]; !ok || t.Time >= prev.Time {
		a.last[t.Asset] = t
	}
	buf := append(a.prices[t.Asset], t)
	if len(buf) > a.priceBuffer {
		buf = append([]model.Tick(nil), buf[len(buf)-a.priceBuffer:]...)
	}
	a.prices[t.Asset] = buf

	for period := range a.subs[t.Asset] {
		s := a.seriesLocked(t.Asset, period)
		if !s.applyTick(t.Asset, t) {
			log.Debugf("[CANDLE] %s_%d drop tick %.3f (server-owned or late bucket)", t.Asset, period, t.Time)
		}
		s.trim(a.maxCandles)
	}
}

// ApplyBlock 서버가 집계한 캔들로 같은 버킷의 로컬 캔들을 덮어쓴다.
func (a *Aggregator) ApplyBlock(b model.CandleBlock) {
	if b.Period <= 0 || b.Asset == "" {
		return
	}
	a.mu.Lock()
	s := a.seriesLocked(b.Asset, b.Period)
	for _, c := range b.Candles {
		c.Asset = b.Asset
		c.Time = model.AlignTime(float64(c.Time), b.Period)
		s.upsertServer(c)
	}
	s.seal()
	s.trim(a.maxCandles)

	a.blockSeq++
	a.blocks[b.Asset] = blockEntry{block: b, seq: a.blockSeq}
	a.mu.Unlock()
	a.changes.Notify()
}

// MergeHistory 히스토리 배치를 병합하고 바뀐 버킷 수를 돌려준다.
// 시리즈 한도 때문에 바로 잘려 나간 버킷은 세지 않는다.
// 같은 배치를 여러 번 병합해도 결과는 한 번 병합한 것과 같다.
func (a *Aggregator) MergeHistory(batch model.HistoricalBatch) int {
	if batch.Asset == "" || batch.Period <= 0 {
		return 0
	}
	a.mu.Lock()
	k := key{batch.Asset, batch.Period}
	s := a.seriesLocked(batch.Asset, batch.Period)

	var changed []int64
	for _, c := range dedupe(batch.Candles) {
		c.Asset = batch.Asset
		c.Time = model.AlignTime(float64(c.Time), batch.Period)
		if s.upsertServer(c) {
			changed = append(changed, c.Time)
		}
	}
	if len(batch.Ticks) > 0 {
		for _, c := range BuildFromTicks(batch.Asset, batch.Period, batch.Ticks) {
			if s.fillMissing(c) {
				changed = append(changed, c.Time)
			}
		}
	}
	s.seal()
	merged := len(changed)
	if dropped := s.trim(a.maxCandles); dropped > 0 {
		first := s.candles[0].Time
		merged = 0
		for _, t := range changed {
			if t >= first {
				merged++
			}
		}
		log.Warnf("[CANDLE] %s full (%d candles), dropped %d oldest", k, len(s.candles), dropped)
	}
	a.epochs[k]++
	a.mu.Unlock()

	a.changes.Notify()
	return merged
}

// Reserve (asset, period) 시리즈가 최소 n 개를 보관하게 한다. 줄이지는 않는다.
func (a *Aggregator) Reserve(asset string, period int64, n int) {
	if period <= 0 || n <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.seriesLocked(asset, period)
	if n > s.capacity {
		s.capacity = n
	}
}

// Capacity (asset, period) 시리즈의 보관 한도
func (a *Aggregator) Capacity(asset string, period int64) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if s, ok := a.series[key{asset, period}]; ok && s.capacity > a.maxCandles {
		return s.capacity
	}
	return a.maxCandles
}

// dedupe 같은 open time 이면서 값까지 같은 캔들은 하나만 남긴다. 값이 다르면 뒤의 것이 이긴다.
func dedupe(candles []model.Candle) []model.Candle {
	out := make([]model.Candle, 0, len(candles))
	for _, c := range candles {
		dup := false
		for i := range out {
			if out[i].Time != c.Time {
				continue
			}
			if !out[i].SameOHLC(c) {
				out[i] = c
			}
			dup = true
			break
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

// HistoryEpoch 히스토리 병합 횟수. 새 응답을 기다릴 때 기준값으로 쓴다.
func (a *Aggregator) HistoryEpoch(asset string, period int64) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.epochs[key{asset, period}]
}

// Series end 이하, end-span 초과 구간의 복사본. end<=0 이면 전체.
func (a *Aggregator) Series(asset string, period int64, end, span int64) []model.Candle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.series[key{asset, period}]
	if !ok {
		return nil
	}
	return s.window(end, span)
}

func (a *Aggregator) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.series))
	for k := range a.series {
		out = append(out, k.String())
	}
	return out
}

func (a *Aggregator) LastPrice(asset string) (model.Tick, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.last[asset]
	return t, ok
}

func (a *Aggregator) RealtimePrices(asset string) []model.Tick {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]model.Tick(nil), a.prices[asset]...)
}

// LastBlock 가장 최근 서버 캔들 블록과 순번
func (a *Aggregator) LastBlock(asset string) (model.CandleBlock, uint64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.blocks[asset]
	return e.block, e.seq, ok
}

// Wait cond 가 참이 될 때까지 변경 알림을 기다린다. ceiling<=0 이면 기본 상한.
func (a *Aggregator) Wait(ctx context.Context, ceiling time.Duration, what string, cond func() bool) error {
	if ceiling <= 0 {
		ceiling = a.ceiling
	}
	timer := time.NewTimer(ceiling)
	defer timer.Stop()

	for {
		changed := a.changes.Wait()
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: %s after %s", model.ErrTimeout, what, ceiling)
		case <-changed:
		}
	}
}

// WaitSeries 구간 안에 캔들이 minCount 개 이상 생길 때까지 기다린다.
func (a *Aggregator) WaitSeries(ctx context.Context, asset string, period, end, span int64, minCount int, ceiling time.Duration) ([]model.Candle, error) {
	if minCount <= 0 {
		minCount = 1
	}
	var out []model.Candle
	err := a.Wait(ctx, ceiling, fmt.Sprintf("candles %s_%d", asset, period), func() bool {
		out = a.Series(asset, period, end, span)
		return len(out) >= minCount
	})
	return out, err
}

// WaitHistory since 이후의 히스토리 병합을 기다린다.
func (a *Aggregator) WaitHistory(ctx context.Context, asset string, period int64, since uint64, ceiling time.Duration) error {
	return a.Wait(ctx, ceiling, fmt.Sprintf("history %s_%d", asset, period), func() bool {
		return a.HistoryEpoch(asset, period) > since
	})
}

func (a *Aggregator) WaitPrice(ctx context.Context, asset string, ceiling time.Duration) (model.Tick, error) {
	var t model.Tick
	err := a.Wait(ctx, ceiling, "price "+asset, func() bool {
		var ok bool
		t, ok = a.LastPrice(asset)
		return ok
	})
	return t, err
}

// WaitBlock since 보다 새로운 블록을 기다린다.
func (a *Aggregator) WaitBlock(ctx context.Context, asset string, since uint64, ceiling time.Duration) (model.CandleBlock, error) {
	var b model.CandleBlock
	err := a.Wait(ctx, ceiling, "candle block "+asset, func() bool {
		block, seq, ok := a.LastBlock(asset)
		if ok && seq > since {
			b = block
			return true
		}
		return false
	})
	return b, err
}
