package tools

import (
	"context"

	"github.com/samber/lo"

	"qxtrader/interfaces"
	"qxtrader/model"
	"qxtrader/utils/log"
)

type OrderCondition struct {
	Condition func(df *model.Dataframe) bool
	Amount    float64
	Duration  int64
	Direction model.Direction
}

// Scheduler 조건이 처음 참이 되는 봉에서 한 번만 매수한다. 매수에 실패한 조건은 남겨둔다.
type Scheduler struct {
	asset           string
	orderConditions []OrderCondition
}

func NewScheduler(asset string) *Scheduler {
	return &Scheduler{asset: asset}
}

func (s *Scheduler) PutWhen(amount float64, duration int64, condition func(df *model.Dataframe) bool) {
	s.orderConditions = append(
		s.orderConditions,
		OrderCondition{Condition: condition, Amount: amount, Duration: duration, Direction: model.DirectionPut},
	)
}

func (s *Scheduler) CallWhen(amount float64, duration int64, condition func(df *model.Dataframe) bool) {
	s.orderConditions = append(
		s.orderConditions,
		OrderCondition{Condition: condition, Amount: amount, Duration: duration, Direction: model.DirectionCall},
	)
}

func (s *Scheduler) Pending() int {
	return len(s.orderConditions)
}

func (s *Scheduler) Update(ctx context.Context, df *model.Dataframe, broker interfaces.Broker) {
	s.orderConditions = lo.Filter(s.orderConditions, func(oc OrderCondition, _ int) bool {
		if !oc.Condition(df) {
			return true
		}
		ok, op, err := broker.Buy(ctx, oc.Amount, s.asset, oc.Direction, oc.Duration, model.TimeModeTimer)
		if err != nil || !ok {
			log.Errorf("[SCHEDULER] %s %s failed: %v %s", s.asset, oc.Direction, err, op.Reason)
			return true
		}
		log.Infof("[SCHEDULER] %s %s placed: %s", s.asset, oc.Direction, op.ID)
		return false
	})
}
