package candle

import (
	"fmt"
	"sort"

	"qxtrader/model"
)

// series 는 open time 기준 오름차순. 마지막 캔들만 진행 중일 수 있다.
type series struct {
	period  int64
	candles []model.Candle
	// capacity Reserve 로 늘린 보관 한도. 전역 한도보다 작으면 무시
	capacity int
}

func (s *series) find(openTime int64) (int, bool) {
	i := sort.Search(len(s.candles), func(i int) bool { return s.candles[i].Time >= openTime })
	return i, i < len(s.candles) && s.candles[i].Time == openTime
}

func (s *series) last() (model.Candle, bool) {
	if len(s.candles) == 0 {
		return model.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

func (s *series) insertAt(i int, c model.Candle) {
	s.candles = append(s.candles, model.Candle{})
	copy(s.candles[i+1:], s.candles[i:])
	s.candles[i] = c
}

// seal 마지막 하나를 제외하고 모두 완료 처리
func (s *series) seal() {
	for i := range s.candles {
		s.candles[i].Complete = i < len(s.candles)-1
	}
}

// trim 한도를 넘는 오래된 캔들을 버리고 버린 개수를 돌려준다
func (s *series) trim(limit int) int {
	if s.capacity > limit {
		limit = s.capacity
	}
	if limit <= 0 || len(s.candles) <= limit {
		return 0
	}
	dropped := len(s.candles) - limit
	s.candles = append([]model.Candle(nil), s.candles[dropped:]...)
	return dropped
}

// applyTick 틱 하나를 버킷에 반영한다. 반영했으면 true.
// 서버 캔들이 있는 버킷과 이미 지나간 버킷은 건드리지 않는다.
func (s *series) applyTick(asset string, t model.Tick) bool {
	openTime := model.AlignTime(t.Time, s.period)

	if last, ok := s.last(); ok {
		switch {
		case openTime < last.Time:
			return false
		case openTime == last.Time:
			if last.Source == model.SourceServer {
				return false
			}
			c := &s.candles[len(s.candles)-1]
			c.High = max(c.High, t.Price)
			c.Low = min(c.Low, t.Price)
			c.Close = t.Price
			c.Ticks++
			return true
		}
	}

	s.candles = append(s.candles, model.Candle{
		Asset:  asset,
		Time:   openTime,
		Period: s.period,
		Open:   t.Price,
		High:   t.Price,
		Low:    t.Price,
		Close:  t.Price,
		Ticks:  1,
		Source: model.SourceTick,
	})
	s.seal()
	return true
}

// upsertServer 서버 캔들은 같은 버킷의 어떤 캔들이든 덮어쓴다. 완전히 같으면 변경 없음.
func (s *series) upsertServer(c model.Candle) bool {
	c.Period = s.period
	c.Source = model.SourceServer
	i, found := s.find(c.Time)
	if found {
		old := s.candles[i]
		if old.Source == model.SourceServer && old.SameOHLC(c) && old.Ticks == c.Ticks {
			return false
		}
		s.candles[i] = c
	} else {
		s.insertAt(i, c)
	}
	return true
}

// fillMissing 빈 버킷만 채운다 (히스토리 틱으로 만든 캔들용)
func (s *series) fillMissing(c model.Candle) bool {
	c.Period = s.period
	i, found := s.find(c.Time)
	if found {
		return false
	}
	s.insertAt(i, c)
	return true
}

func (s *series) window(end, span int64) []model.Candle {
	out := make([]model.Candle, 0, len(s.candles))
	for _, c := range s.candles {
		if end > 0 && c.Time > end {
			break
		}
		if end > 0 && span > 0 && c.Time <= end-span {
			continue
		}
		out = append(out, c)
	}
	return out
}

// CheckContinuity 연속 캔들 사이 간격이 period 가 아니면 ErrDataGap. 보간하지 않는다.
func CheckContinuity(candles []model.Candle) error {
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1], candles[i]
		period := cur.Period
		if period <= 0 {
			period = prev.Period
		}
		if cur.Time-prev.Time != period {
			return fmt.Errorf("%w: %s %d -> %d (period %d)", model.ErrDataGap, cur.Asset, prev.Time, cur.Time, period)
		}
	}
	return nil
}

// BuildFromTicks 틱 목록으로 캔들을 만든다. 시간순으로 정렬해서 처리한다.
func BuildFromTicks(asset string, period int64, ticks []model.Tick) []model.Candle {
	sorted := append([]model.Tick(nil), ticks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	s := &series{period: period}
	for _, t := range sorted {
		s.applyTick(asset, t)
	}
	return s.candles
}
