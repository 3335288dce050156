package timesync

import (
	"context"
	"math"
	"sync"
	"time"

	"qxtrader/model"
)

// DriftThreshold 보다 큰 오프셋이면 로컬 시각을 믿지 않고 보정한다.
const DriftThreshold = 1.0

// Synchronizer 는 서버 시각과 로컬 시각의 차이(server - local, 초)를 추적한다.
type Synchronizer struct {
	mu       sync.RWMutex
	now      func() time.Time
	offset   float64
	serverTs float64
	observed bool
}

type Option func(*Synchronizer)

// WithClock 테스트용 시계 주입
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

func New(options ...Option) *Synchronizer {
	s := &Synchronizer{now: time.Now}
	for _, option := range options {
		option(s)
	}
	return s
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixFloat(ts float64) time.Time {
	return time.Unix(0, int64(ts*float64(time.Second)))
}

// Observe 수신 시점의 로컬 시각과 비교해 오프셋을 다시 계산한다.
func (s *Synchronizer) Observe(serverTs float64) {
	if serverTs <= 0 {
		return
	}
	// ms 단위로 오는 프레임도 있다
	if serverTs > 1e12 {
		serverTs /= 1000
	}
	local := unixFloat(s.now())

	s.mu.Lock()
	s.serverTs = serverTs
	s.offset = serverTs - local
	s.observed = true
	s.mu.Unlock()
}

func (s *Synchronizer) Offset() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

func (s *Synchronizer) Observed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.observed
}

// LastServerTimestamp 마지막으로 받은 서버 타임스탬프 원본
func (s *Synchronizer) LastServerTimestamp() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverTs
}

// ServerTimestamp 현재 서버 시각 추정치(초).
func (s *Synchronizer) ServerTimestamp() float64 {
	return unixFloat(s.now()) + s.Offset()
}

func (s *Synchronizer) ServerTime() time.Time {
	return fromUnixFloat(s.ServerTimestamp())
}

func (s *Synchronizer) Drifted() bool {
	return math.Abs(s.Offset()) > DriftThreshold
}

// AdjustDeadline 로컬 기준 데드라인을 오프셋만큼 옮긴다. 드리프트가 임계값 이하면 그대로.
func (s *Synchronizer) AdjustDeadline(deadline time.Time) time.Time {
	offset := s.Offset()
	if math.Abs(offset) <= DriftThreshold {
		return deadline
	}
	return deadline.Add(time.Duration(offset * float64(time.Second)))
}

// Expiration 만기 시각(서버 기준 unix 초).
// TIMER 는 지금 + duration, TIME 은 분 경계로 올림하고 30초 미만 남으면 한 분 더 민다.
func (s *Synchronizer) Expiration(duration int64, mode model.TimeMode) int64 {
	now := int64(s.ServerTimestamp())
	if mode != model.TimeModeTime {
		return now + duration
	}
	exp := now + duration
	if rem := exp % 60; rem != 0 {
		exp += 60 - rem
	}
	if exp-now < 30 {
		exp += 60
	}
	return exp
}

// WaitForDrift 드리프트 크기만큼만 호출한 작업 범위에서 기다린다. 음수 sleep 은 하지 않는다.
func (s *Synchronizer) WaitForDrift(ctx context.Context) error {
	offset := math.Abs(s.Offset())
	if offset <= DriftThreshold {
		return nil
	}
	timer := time.NewTimer(time.Duration(offset * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
