package exchange

import (
	"qxtrader/model"
	"qxtrader/protocol"
	"qxtrader/utils/log"
)

// onFrame 은 읽기 루프에서만 불리는 유일한 쓰기 경로다.
// 디코드 오류는 트랜스포트가 연속 횟수를 세어 재연결 여부를 정한다.
func (q *Quotex) onFrame(name string, payload []byte) error {
	ev, err := q.decoder.Decode(name, payload)
	if err != nil {
		return err
	}
	if ts, ok := ev.(protocol.Timestamped); ok {
		if server := ts.ServerTime(); server > 0 {
			q.clock.Observe(server)
		}
	}

	switch e := ev.(type) {
	case protocol.AuthAccepted:
		log.Info("[QUOTEX] authorization accepted")
		q.conn.State().SetAccepted(true)
	case protocol.AuthRejected:
		log.Warnf("[QUOTEX] authorization rejected: %s", e.Reason)
		q.conn.State().SetRejected(e.Reason)
	case protocol.Instruments:
		q.setInstruments(e.Assets)
	case protocol.Ticks:
		q.candles.ApplyTicks(e.Ticks)
	case protocol.Block:
		q.candles.ApplyBlock(e.Block)
	case protocol.History:
		q.onHistory(e.Batch)
	case protocol.Balance:
		q.trades.OnBalance(e)
	case protocol.BuyConfirmed:
		q.trades.OnBuyConfirmed(e)
	case protocol.PendingConfirmed:
		q.trades.OnPendingConfirmed(e)
	case protocol.DealsSettled:
		q.trades.OnDealsSettled(e)
	case protocol.RefillAck:
		q.trades.OnRefill(e)
	case protocol.ServerError:
		q.trades.OnServerError(e)
	case protocol.Sentiment:
		q.mu.Lock()
		q.sentiments[e.Sentiment.Asset] = e.Sentiment
		q.mu.Unlock()
		q.changes.Notify()
	case protocol.Signals:
		q.mu.Lock()
		for _, s := range e.Signals {
			q.signals[s.Asset] = append(q.signals[s.Asset], s)
		}
		q.mu.Unlock()
		q.changes.Notify()
	case protocol.Unknown:
		log.Debugf("[QUOTEX] unhandled event %q (%d bytes)", e.Name, len(e.Raw))
	}
	return nil
}

func (q *Quotex) setInstruments(assets []model.AssetDescriptor) {
	q.mu.Lock()
	q.instruments = assets
	q.mu.Unlock()
	log.Infof("[QUOTEX] %d instruments", len(assets))
	q.changes.Notify()
}

// onHistory 자산/주기가 빠진 응답은 index 가 같은 요청의 값으로 채운다.
// 어느 요청의 응답인지 모르면 버린다.
func (q *Quotex) onHistory(batch model.HistoricalBatch) {
	q.mu.Lock()
	if req, ok := q.resolveHistoryLocked(batch.Index, batch.Asset); ok {
		if batch.Asset == "" {
			batch.Asset = req.asset
		}
		if batch.Period <= 0 && req.asset == batch.Asset {
			batch.Period = req.period
		}
	}
	if batch.Asset == "" || batch.Period <= 0 {
		q.mu.Unlock()
		log.Warnf("[CANDLE] history index %d without a matching request (asset %q, period %d), dropped", batch.Index, batch.Asset, batch.Period)
		return
	}
	for i := range batch.Candles {
		if batch.Candles[i].Asset == "" {
			batch.Candles[i].Asset = batch.Asset
		}
		if batch.Candles[i].Period <= 0 {
			batch.Candles[i].Period = batch.Period
			batch.Candles[i].Time = model.AlignTime(float64(batch.Candles[i].Time), batch.Period)
		}
	}
	for i := range batch.Ticks {
		if batch.Ticks[i].Asset == "" {
			batch.Ticks[i].Asset = batch.Asset
		}
	}
	q.history = batch
	q.historySeq++
	q.mu.Unlock()

	merged := q.candles.MergeHistory(batch)
	log.Debugf("[CANDLE] history %s_%d merged %d buckets", batch.Asset, batch.Period, merged)
	q.changes.Notify()
}
