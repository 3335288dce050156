package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/StudioSol/set"

	"qxtrader/utils/log"
)

type Kind string

const (
	KindCandle    Kind = "realtime_candle"
	KindPrice     Kind = "realtime_price"
	KindSentiment Kind = "sentiment"
)

// Entry 구독 한 건. (Asset, Period, Kind) 가 키.
type Entry struct {
	Asset  string
	Period int64
	Kind   Kind
}

func (e Entry) key() string {
	return fmt.Sprintf("%s|%d|%s", e.Asset, e.Period, e.Kind)
}

func (e Entry) String() string {
	return fmt.Sprintf("%s(%s,%d)", e.Kind, e.Asset, e.Period)
}

// Subscriber 는 실제로 구독 명령을 보내는 쪽
type Subscriber interface {
	SubscribeEntry(ctx context.Context, e Entry) error
}

// Registry 활성 구독 목록. 재연결 후 ReplayAll 로 다시 보낸다.
type Registry struct {
	mu      sync.RWMutex
	Feeds   *set.LinkedHashSetString
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{
		Feeds:   set.NewLinkedHashSetString(),
		entries: make(map[string]Entry),
	}
}

// Register 이미 있으면 아무것도 하지 않고 false
func (r *Registry) Register(e Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := e.key()
	if r.Feeds.InArray(k) {
		return false
	}
	r.Feeds.Add(k)
	r.entries[k] = e
	return true
}

func (r *Registry) Unregister(e Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := e.key()
	if !r.Feeds.InArray(k) {
		return false
	}
	r.Feeds.Remove(k)
	delete(r.entries, k)
	return true
}

func (r *Registry) Has(e Entry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Feeds.InArray(e.key())
}

// Entries 등록 순서대로
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, r.Feeds.Length())
	for k := range r.Feeds.Iter() {
		out = append(out, r.entries[k])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Feeds.Length()
}

// ReplayAll 항목별 실패는 로그만 남기고 계속 진행한다. 실패들은 합쳐서 돌려준다.
func (r *Registry) ReplayAll(ctx context.Context, sub Subscriber) error {
	var errs []error
	for _, e := range r.Entries() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := sub.SubscribeEntry(ctx, e); err != nil {
			log.Warnf("[FEED] replay %s failed: %v", e, err)
			errs = append(errs, fmt.Errorf("%s: %w", e, err))
			continue
		}
		log.Debugf("[FEED] replayed %s", e)
	}
	return errors.Join(errs...)
}
