package backtest

import (
	"fmt"

	"github.com/shopspring/decimal"

	"qxtrader/interfaces"
	"qxtrader/model"
	"qxtrader/strategy"
	"qxtrader/utils/log"
)

type Config struct {
	Amount   float64
	Duration int64
	// Payout 수익률(%). 82 면 이기면 금액의 0.82 를 번다
	Payout  float64
	Balance float64
}

// Report 백테스트 결과. Operations 는 정산 순서.
type Report struct {
	Asset      string
	Strategy   string
	Candles    int
	Operations []model.Operation
	Wins       int
	Losses     int
	Draws      int
	Skipped    int
	// Unsettled 데이터가 끝날 때 만기 전이던 포지션
	Unsettled  int
	Balance    float64
	NetProfit  float64
}

func (r Report) WinRate() float64 {
	decided := r.Wins + r.Losses
	if decided == 0 {
		return 0
	}
	return float64(r.Wins) / float64(decided) * 100
}

func (r Report) String() string {
	return fmt.Sprintf("%s %s: %d candles, %d trades (W/L/D %d/%d/%d, skipped %d, open %d), win rate %.1f%%, net %.2f, balance %.2f",
		r.Asset, r.Strategy, r.Candles, len(r.Operations), r.Wins, r.Losses, r.Draws, r.Skipped, r.Unsettled, r.WinRate(), r.NetProfit, r.Balance)
}

// Broker 과거 캔들로 바이너리 옵션을 체결/정산하는 가상 브로커.
// 진입가는 신호 봉 종가, 만기가는 만기 시각을 포함하는 첫 봉의 종가.
type Broker struct {
	cfg     Config
	balance decimal.Decimal
	open    []model.Operation
	seq     int
}

func NewBroker(cfg Config) *Broker {
	return &Broker{cfg: cfg, balance: decimal.NewFromFloat(cfg.Balance)}
}

func (b *Broker) Balance() float64 {
	return b.balance.InexactFloat64()
}

// Open 금액이 잔고보다 크면 거절
func (b *Broker) Open(asset string, direction model.Direction, price float64, at int64) (model.Operation, bool) {
	amount := decimal.NewFromFloat(b.cfg.Amount)
	op := model.NewOperation(b.cfg.Amount, asset, direction, b.cfg.Duration)
	if amount.GreaterThan(b.balance) {
		op.Status = model.StatusRejected
		op.Reason = "not enough balance"
		return op, false
	}
	b.seq++
	op.ID = fmt.Sprintf("bt-%d", b.seq)
	op.Status = model.StatusConfirmed
	op.OpenPrice = price
	op.OpenTime = at
	op.CloseTime = at + b.cfg.Duration
	op.IsDemo = true
	b.balance = b.balance.Sub(amount)
	b.open = append(b.open, op)
	return op, true
}

// Settle closeTime 까지 만기된 포지션을 price 로 정산한다
func (b *Broker) Settle(closeTime int64, price float64) []model.Operation {
	var settled []model.Operation
	remaining := b.open[:0]
	for _, op := range b.open {
		if op.CloseTime > closeTime {
			remaining = append(remaining, op)
			continue
		}
		amount := decimal.NewFromFloat(op.Amount)
		profit := decimal.Zero
		switch {
		case price == op.OpenPrice:
		case (op.Direction == model.DirectionCall) == (price > op.OpenPrice):
			profit = amount.Mul(decimal.NewFromFloat(b.cfg.Payout)).Div(decimal.NewFromInt(100)).Round(2)
		default:
			profit = amount.Neg()
		}
		b.balance = b.balance.Add(amount).Add(profit)
		op.Profit = profit.InexactFloat64()
		op.Result = model.ResultFromProfit(op.Profit)
		settled = append(settled, op)
	}
	b.open = remaining
	return settled
}

// Pending 아직 만기되지 않은 포지션 수
func (b *Broker) Pending() int {
	return len(b.open)
}

// Run 캔들을 순서대로 전략에 흘려 신호마다 한 번 매수하고 만기에 정산한다.
// 봉마다 평가는 한 번이므로 같은 봉의 중복 신호는 없다.
func Run(asset string, candles []model.Candle, strat interfaces.Strategy, cfg Config) Report {
	broker := NewBroker(cfg)
	ctrl := strategy.NewStrategyController(asset, strat)
	ctrl.Start()

	report := Report{Asset: asset, Strategy: strat.GetName(), Candles: len(candles)}
	for _, c := range candles {
		closeTime := c.CloseTime().Unix()
		for _, op := range broker.Settle(closeTime, c.Close) {
			report.add(op)
		}

		sig, ok := ctrl.OnCandle(c)
		if !ok {
			continue
		}
		if _, ok := broker.Open(asset, sig.Direction, sig.Close, closeTime); !ok {
			report.Skipped++
			log.Debugf("[BACKTEST] %s %s skipped: not enough balance", asset, sig.Direction)
		}
	}
	report.Unsettled = broker.Pending()
	report.Balance = broker.Balance()
	return report
}

func (r *Report) add(op model.Operation) {
	r.Operations = append(r.Operations, op)
	switch op.Result {
	case model.ResultWin:
		r.Wins++
	case model.ResultLoss:
		r.Losses++
	default:
		r.Draws++
	}
	r.NetProfit = decimal.NewFromFloat(r.NetProfit).Add(decimal.NewFromFloat(op.Profit)).InexactFloat64()
}
