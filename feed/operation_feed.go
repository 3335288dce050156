package feed

import (
	"context"
	"sync"

	"qxtrader/model"
)

// AllAssets 로 구독하면 모든 자산의 정산 결과를 받는다
const AllAssets = "*"

type OperationFeed struct {
	Data chan model.Operation
}

type OperationConsumer func(op model.Operation)

type operationSubscription struct {
	consumer OperationConsumer
	lastID   string
}

// OperationFeedSubscription 정산된 거래를 구독자에게 순서대로 전달한다.
type OperationFeedSubscription struct {
	feeds         map[string]*OperationFeed
	subscriptions map[string][]*operationSubscription

	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	mu sync.RWMutex
	wg sync.WaitGroup
}

func NewOperationFeed() *OperationFeedSubscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &OperationFeedSubscription{
		feeds:         make(map[string]*OperationFeed),
		subscriptions: make(map[string][]*operationSubscription),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// 흐름: New -> Subscribe -> Start -> Publish -> Stop

func (d *OperationFeedSubscription) Subscribe(asset string, consumer OperationConsumer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.feeds[asset]; !ok {
		d.feeds[asset] = &OperationFeed{
			Data: make(chan model.Operation, 100),
		}
		if d.started {
			d.run(asset, d.feeds[asset])
		}
	}
	d.subscriptions[asset] = append(d.subscriptions[asset], &operationSubscription{consumer: consumer})
}

func (d *OperationFeedSubscription) Publish(op model.Operation) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, asset := range []string{op.Asset, AllAssets} {
		feed, ok := d.feeds[asset]
		if !ok {
			continue
		}
		select {
		case feed.Data <- op:
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *OperationFeedSubscription) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.started = true
	for asset, feed := range d.feeds {
		d.run(asset, feed)
	}
}

func (d *OperationFeedSubscription) run(asset string, feed *OperationFeed) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.ctx.Done():
				return
			case op := <-feed.Data:
				d.deliver(asset, op)
			}
		}
	}()
}

func (d *OperationFeedSubscription) deliver(asset string, op model.Operation) {
	d.mu.RLock()
	subs := d.subscriptions[asset]
	d.mu.RUnlock()

	for _, sub := range subs {
		// 같은 거래가 연달아 두 번 오면 한 번만
		id := op.ID
		if id == "" {
			id = op.LocalID.String()
		}
		if sub.lastID == id {
			continue
		}
		sub.lastID = id
		sub.consumer(op)
	}
}

func (d *OperationFeedSubscription) Stop() {
	d.cancel()
	d.wg.Wait()
}
