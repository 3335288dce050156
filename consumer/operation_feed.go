package consumer

import (
	"sync"

	"qxtrader/interfaces"
	"qxtrader/model"
	"qxtrader/utils/log"
)

type OperationSettledCallback func(op model.Operation)

// OperationFeedConsumer 정산된 거래를 저널에 남기고 알림을 보낸다.
type OperationFeedConsumer struct {
	journal   interfaces.Journal
	notifier  interfaces.Notifier
	callbacks []OperationSettledCallback

	mu     sync.Mutex
	wins   int
	losses int
	draws  int
	profit float64
}

// journal, notifier 는 nil 이어도 된다
func NewOperationFeedConsumer(journal interfaces.Journal, notifier interfaces.Notifier) *OperationFeedConsumer {
	return &OperationFeedConsumer{
		journal:  journal,
		notifier: notifier,
	}
}

func (o *OperationFeedConsumer) AddOperationSettledCallback(cb OperationSettledCallback) {
	o.callbacks = append(o.callbacks, cb)
}

func (o *OperationFeedConsumer) OnOperation(op model.Operation) {
	log.Infof("[CONSUMER] settled - Asset: %s, Direction: %s, Amount: %.2f, Result: %s, Profit: %.2f",
		op.Asset, op.Direction, op.Amount, op.Result, op.Profit)

	o.mu.Lock()
	switch op.Result {
	case model.ResultWin:
		o.wins++
	case model.ResultLoss:
		o.losses++
	case model.ResultDoji:
		o.draws++
	}
	o.profit += op.Profit
	o.mu.Unlock()

	if o.journal != nil {
		if err := o.journal.Record(op); err != nil {
			log.Errorf("[CONSUMER] journal: %v", err)
		}
	}
	if o.notifier != nil {
		o.notifier.OperationNotifier(op, nil)
	}
	for _, cb := range o.callbacks {
		cb(op)
	}
}

// Summary 누적 승/패/무 와 손익
func (o *OperationFeedConsumer) Summary() (wins, losses, draws int, profit float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.wins, o.losses, o.draws, o.profit
}
