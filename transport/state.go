package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"qxtrader/model"
	"qxtrader/utils/broadcast"
)

type Status int32

const (
	Disconnected Status = iota
	Authenticating
	Connected
	Reconnecting
	Failed
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Authenticating:
		return "AUTHENTICATING"
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	case Failed:
		return "FAILED"
	}
	return fmt.Sprintf("STATUS(%d)", int32(s))
}

// State 는 연결 관련 공유 상태. 쓰기는 Manager 와 디스패치 경로에서만 일어나고
// 나머지는 읽기와 Changed() 대기만 한다.
type State struct {
	status   atomic.Int32
	accepted atomic.Bool

	mu        sync.RWMutex
	errReason string
	rejected  string
	changes   *broadcast.Broadcaster
}

func NewState() *State {
	return &State{changes: broadcast.New()}
}

func (s *State) Changed() <-chan struct{} {
	return s.changes.Wait()
}

func (s *State) Status() Status {
	return Status(s.status.Load())
}

func (s *State) SetStatus(status Status) {
	if Status(s.status.Swap(int32(status))) != status {
		s.changes.Notify()
	}
}

// Accepted 마지막으로 알려진 "서버가 인증을 받아들였다" 플래그
func (s *State) Accepted() bool {
	return s.accepted.Load()
}

func (s *State) SetAccepted(accepted bool) {
	if accepted {
		s.mu.Lock()
		s.rejected = ""
		s.mu.Unlock()
	}
	if s.accepted.Swap(accepted) != accepted {
		s.changes.Notify()
	}
}

func (s *State) SetRejected(reason string) {
	s.mu.Lock()
	s.rejected = reason
	s.mu.Unlock()
	s.accepted.Store(false)
	s.changes.Notify()
}

// ResetAuth 새 핸드셰이크 전에 이전 시도의 수락/거절 기록을 지운다.
func (s *State) ResetAuth() {
	s.mu.Lock()
	s.rejected = ""
	s.mu.Unlock()
	if s.accepted.Swap(false) {
		s.changes.Notify()
	}
}

func (s *State) Rejected() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rejected, s.rejected != ""
}

func (s *State) SetError(reason string) {
	s.mu.Lock()
	s.errReason = reason
	s.mu.Unlock()
	s.changes.Notify()
}

func (s *State) ClearError() {
	s.mu.Lock()
	s.errReason = ""
	s.mu.Unlock()
}

// Error 트랜스포트 에러 플래그. 대기 중인 작업은 이것을 보고 바로 빠져나간다.
func (s *State) Error() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errReason, s.errReason != ""
}

// WaitAccepted 인증 응답을 기다린다. 거절은 ErrAuth, 시간 초과는 재시도 가능한 ErrTransport.
func (s *State) WaitAccepted(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		changed := s.Changed()
		if s.Accepted() {
			return nil
		}
		if reason, ok := s.Rejected(); ok {
			return fmt.Errorf("%w: %s", model.ErrAuth, reason)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: no authorization answer within %s", model.ErrTransport, timeout)
		case <-changed:
		}
	}
}
