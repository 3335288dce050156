package exchange

import (
	"context"
	"fmt"

	"qxtrader/model"
	"qxtrader/protocol"
	"qxtrader/trade"
	"qxtrader/utils/log"
)

// Buy 바이너리 옵션 매수. 닫힌 자산이나 잘못된 방향/금액은 전송 전에 거절한다.
// 반환값은 (확인 여부, 주문 기록, 사유). 확인이 duration 안에 오지 않으면 (false, TimedOut, nil).
func (q *Quotex) Buy(ctx context.Context, amount float64, asset string, direction model.Direction, duration int64, mode model.TimeMode) (bool, model.Operation, error) {
	if mode == "" {
		mode = model.TimeModeTimer
	}
	req := trade.BuyRequest{
		Amount:    amount,
		Asset:     normalizeAsset(asset),
		Direction: direction,
		Duration:  duration,
		Mode:      mode,
	}
	// 방향/금액은 인스트루먼트 없이도 판단할 수 있다
	if !direction.Valid() || amount <= 0 {
		return q.trades.Buy(ctx, req)
	}

	if _, err := q.GetInstruments(ctx); err != nil {
		log.Warnf("[QUOTEX] buy without instruments: %v", err)
	}
	if desc, ok := q.lookupAsset(req.Asset); ok && desc.IsOpen {
		// 결과 추정(MonitorTrade)에 쓸 실시간 가격
		if err := q.StartRealtimePrice(ctx, req.Asset); err != nil {
			log.Warnf("[QUOTEX] price stream for %s: %v", req.Asset, err)
		}
	}
	return q.trades.Buy(ctx, req)
}

// CheckWin 정산 결과를 기다린다.
func (q *Quotex) CheckWin(ctx context.Context, id string) (model.Operation, error) {
	return q.trades.CheckWin(ctx, id)
}

func (q *Quotex) GetResult(id string) (model.Operation, bool) {
	return q.trades.GetResult(id)
}

func (q *Quotex) LastBuyID() string {
	return q.trades.LastBuyID()
}

func (q *Quotex) Operations() []model.Operation {
	return q.trades.Operations()
}

// OpenPending openTime 에 열리는 대기 주문
func (q *Quotex) OpenPending(ctx context.Context, amount float64, asset string, direction model.Direction, duration, openTime int64) (protocol.PendingConfirmed, error) {
	asset = normalizeAsset(asset)
	if _, err := q.GetInstruments(ctx); err != nil {
		return protocol.PendingConfirmed{}, err
	}
	if openTime <= 0 {
		return protocol.PendingConfirmed{}, fmt.Errorf("%w: open time required", model.ErrRejected)
	}
	return q.trades.OpenPending(ctx, trade.PendingRequest{
		Amount:    amount,
		Asset:     asset,
		Direction: direction,
		Duration:  duration,
		OpenTime:  openTime,
	})
}

func (q *Quotex) SellOption(ctx context.Context, id string) (model.Operation, error) {
	return q.trades.SellOption(ctx, id)
}

// MonitorTrade 만기 시점 실시간 가격으로 본 WIN/LOSS/DOJI 추정치. 정산 결과가 아니다.
func (q *Quotex) MonitorTrade(ctx context.Context, op model.Operation) (model.OperationResult, error) {
	return q.trades.MonitorTrade(ctx, op)
}
