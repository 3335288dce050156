package mocks

import (
	"context"
	"fmt"
	"sync"

	"qxtrader/model"
)

// MockExchange 는 interfaces.Exchange 를 흉내낸다.
// - Candles 에 자산별 캔들을 넣어두면 GetCandles / GetRealtimeCandles 가 그대로 돌려준다
// - Buy 호출은 횟수와 마지막 요청을 기록한다
type MockExchange struct {
	mu sync.Mutex

	Assets      []string
	Candles     map[string][]model.Candle
	Balance     float64
	BuyResult   model.OperationResult
	BuyProfit   float64
	BuyErr      error
	CandlesErr  error
	StreamCalls map[string]int

	// 테스트 관찰용
	BuyCount      int
	LastBuy       model.Operation
	CheckWinCount int
}

func NewMockExchange(assets ...string) *MockExchange {
	return &MockExchange{
		Assets:      assets,
		Candles:     make(map[string][]model.Candle),
		Balance:     1000,
		BuyResult:   model.ResultWin,
		StreamCalls: make(map[string]int),
	}
}

func (m *MockExchange) SetCandles(asset string, candles []model.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Candles[asset] = candles
}

func (m *MockExchange) Buy(ctx context.Context, amount float64, asset string, direction model.Direction, duration int64,
	mode model.TimeMode) (bool, model.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.BuyCount++
	op := model.NewOperation(amount, asset, direction, duration)
	if m.BuyErr != nil {
		op.Status = model.StatusRejected
		op.Reason = m.BuyErr.Error()
		m.LastBuy = op
		return false, op, m.BuyErr
	}
	op.ID = fmt.Sprintf("mock-%d", m.BuyCount)
	op.Status = model.StatusConfirmed
	m.LastBuy = op
	return true, op, nil
}

func (m *MockExchange) CheckWin(ctx context.Context, id string) (model.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CheckWinCount++
	if m.LastBuy.ID != id {
		return model.Operation{}, model.ErrTimeout
	}
	op := m.LastBuy
	op.Result = m.BuyResult
	op.Profit = m.BuyProfit
	m.Balance += m.BuyProfit
	return op, nil
}

func (m *MockExchange) GetBalance(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Balance, nil
}

func (m *MockExchange) OpenOTCAssets(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Assets...), nil
}

func (m *MockExchange) StartCandlesStream(ctx context.Context, asset string, period int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StreamCalls[asset]++
	return nil
}

func (m *MockExchange) GetCandles(ctx context.Context, asset string, end float64, offset, period int64) ([]model.Candle, error) {
	return m.candles(asset)
}

func (m *MockExchange) GetRealtimeCandles(ctx context.Context, asset string, period int64) ([]model.Candle, error) {
	return m.candles(asset)
}

func (m *MockExchange) candles(asset string) ([]model.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CandlesErr != nil {
		return nil, m.CandlesErr
	}
	candles, ok := m.Candles[asset]
	if !ok {
		return nil, model.ErrTimeout
	}
	return append([]model.Candle(nil), candles...), nil
}

func (m *MockExchange) Buys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.BuyCount
}

// MockNotifier 보낸 메시지를 모아둔다
type MockNotifier struct {
	mu         sync.Mutex
	Messages   []string
	Operations []model.Operation
}

func (n *MockNotifier) SendNotification(message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, message)
	return nil
}

func (n *MockNotifier) OperationNotifier(op model.Operation, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Operations = append(n.Operations, op)
}

func (n *MockNotifier) Sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.Messages...)
}

func (n *MockNotifier) Notified() []model.Operation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Operation(nil), n.Operations...)
}

// MockJournal 기록된 거래를 메모리에 둔다
type MockJournal struct {
	mu      sync.Mutex
	Records []model.Operation
	Err     error
}

func (j *MockJournal) Record(op model.Operation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Err != nil {
		return j.Err
	}
	j.Records = append(j.Records, op)
	return nil
}

func (j *MockJournal) Recorded() []model.Operation {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]model.Operation(nil), j.Records...)
}
