package broadcast

import "sync"

// Broadcaster 는 "무언가 바뀌었다"를 여러 대기자에게 한 번에 알린다.
// Wait 가 돌려준 채널은 다음 Notify 때 닫히고 새 채널로 교체된다.
type Broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func New() *Broadcaster {
	return &Broadcaster{ch: make(chan struct{})}
}

func (b *Broadcaster) Wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

func (b *Broadcaster) Notify() {
	b.mu.Lock()
	close(b.ch)
	b.ch = make(chan struct{})
	b.mu.Unlock()
}
