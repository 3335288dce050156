package trade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"qxtrader/model"
	"qxtrader/protocol"
	"qxtrader/utils/broadcast"
	"qxtrader/utils/log"
)

type Emitter interface {
	Emit(ctx context.Context, cmd protocol.Command) error
}

// ConnState 트랜스포트 에러 플래그와 변경 알림
type ConnState interface {
	Error() (string, bool)
	Changed() <-chan struct{}
}

type Clock interface {
	ServerTimestamp() float64
	Expiration(duration int64, mode model.TimeMode) int64
	AdjustDeadline(deadline time.Time) time.Time
}

type PriceSource interface {
	LastPrice(asset string) (model.Tick, bool)
}

// AssetLookup 은 instruments 목록에서 자산을 찾는다.
type AssetLookup func(symbol string) (model.AssetDescriptor, bool)

type Publisher interface {
	Publish(op model.Operation)
}

type Config struct {
	// 확인 슬롯을 들여다보는 간격
	PollInterval time.Duration
	// 폴링 한 번이 예산에서 차감하는 양. 예산은 duration 초.
	PollUnit time.Duration
	// 잔고, 결과 등 나머지 대기의 상한
	Ceiling time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.PollUnit <= 0 {
		c.PollUnit = 100 * time.Millisecond
	}
	if c.Ceiling <= 0 {
		c.Ceiling = 30 * time.Second
	}
	return c
}

type BuyRequest struct {
	Amount    float64
	Asset     string
	Direction model.Direction
	Duration  int64
	Mode      model.TimeMode
}

type PendingRequest struct {
	Amount    float64
	Asset     string
	Direction model.Direction
	Duration  int64
	OpenTime  int64
}

// Manager 는 매수 요청의 Pending -> Confirmed | Rejected | TimedOut 전이를 관리한다.
// On* 메서드는 디스패치 경로에서만 호출된다.
type Manager struct {
	cfg       Config
	names     protocol.Names
	emitter   Emitter
	conn      ConnState
	clock     Clock
	prices    PriceSource
	assets    AssetLookup
	publisher Publisher

	requestSeq atomic.Int64
	changes    *broadcast.Broadcaster

	mu         sync.RWMutex
	mode       model.AccountMode
	pending    map[int64]*model.Operation
	ops        map[string]*model.Operation
	lastBuyID  string
	balance    model.Balance
	hasBalance bool
	inFlight   float64

	pendingSeq  uint64
	lastPending protocol.PendingConfirmed
	errorSeq    uint64
	lastError   string
	refillSeq   uint64
	lastRefill  protocol.RefillAck
}

type Option func(*Manager)

func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

func WithPrices(p PriceSource) Option {
	return func(m *Manager) {
		m.prices = p
	}
}

func NewManager(cfg Config, names protocol.Names, emitter Emitter, conn ConnState, clock Clock, assets AssetLookup, options ...Option) *Manager {
	m := &Manager{
		cfg:     cfg.withDefaults(),
		names:   names,
		emitter: emitter,
		conn:    conn,
		clock:   clock,
		assets:  assets,
		changes: broadcast.New(),
		mode:    model.AccountPractice,
		pending: make(map[int64]*model.Operation),
		ops:     make(map[string]*model.Operation),
	}
	m.requestSeq.Store(time.Now().Unix())
	for _, option := range options {
		option(m)
	}
	return m
}

func (m *Manager) SetMode(mode model.AccountMode) {
	m.mu.Lock()
	m.mode = mode
	m.balance.Mode = mode
	m.mu.Unlock()
	m.changes.Notify()
}

func (m *Manager) Mode() model.AccountMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// validate 전송 전에 로컬에서 거절할 수 있는 것은 여기서 거절한다.
func (m *Manager) validate(amount float64, asset string, direction model.Direction) error {
	if !direction.Valid() {
		return fmt.Errorf("%w: %q", model.ErrInvalidDirection, direction)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: %.2f", model.ErrInvalidAmount, amount)
	}
	if m.assets != nil {
		desc, ok := m.assets(asset)
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrUnknownAsset, asset)
		}
		if !desc.IsOpen {
			return fmt.Errorf("%w: %s", model.ErrAssetClosed, asset)
		}
	}
	return nil
}

// Buy 주문을 보내고 서버 확인을 기다린다.
// 확인이 오면 true, 서버 거절이나 트랜스포트 에러, 예산 소진이면 false 와 사유를 돌려준다.
func (m *Manager) Buy(ctx context.Context, req BuyRequest) (bool, model.Operation, error) {
	op := model.NewOperation(req.Amount, req.Asset, req.Direction, req.Duration)
	op.IsDemo = m.Mode().IsDemo()

	if err := m.validate(req.Amount, req.Asset, req.Direction); err != nil {
		op.Status = model.StatusRejected
		op.Reason = err.Error()
		return false, op, err
	}
	if req.Duration <= 0 {
		op.Status = model.StatusRejected
		op.Reason = "duration must be positive"
		return false, op, fmt.Errorf("%w: %s", model.ErrRejected, op.Reason)
	}

	expiry := req.Duration
	if req.Mode == model.TimeModeTime {
		expiry = m.clock.Expiration(req.Duration, model.TimeModeTime)
	}
	op.RequestID = m.requestSeq.Add(1)

	m.mu.Lock()
	tracked := op
	m.pending[op.RequestID] = &tracked
	m.mu.Unlock()

	cmd := m.names.OrdersOpenCommand(protocol.OpenOrder{
		Asset:     req.Asset,
		Amount:    req.Amount,
		Direction: req.Direction,
		Time:      expiry,
		Mode:      req.Mode,
		IsDemo:    op.IsDemo,
		RequestID: op.RequestID,
	})
	if err := m.emitter.Emit(ctx, cmd); err != nil {
		m.dropPending(op.RequestID)
		op.Status = model.StatusRejected
		op.Reason = err.Error()
		return false, op, err
	}
	log.Infof("[TRADE] buy sent %s %s %.2f %ds (request %d)", req.Asset, req.Direction, req.Amount, req.Duration, op.RequestID)

	return m.awaitConfirmation(ctx, op.RequestID, req.Duration)
}

func (m *Manager) awaitConfirmation(ctx context.Context, requestID int64, duration int64) (bool, model.Operation, error) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	budget := time.Duration(duration) * time.Second
	var spent time.Duration

	for {
		changed := m.changes.Wait()
		connChanged := m.conn.Changed()

		op, status := m.pendingState(requestID)
		switch status {
		case model.StatusConfirmed:
			m.dropPending(requestID)
			return true, op, nil
		case model.StatusRejected:
			m.dropPending(requestID)
			return false, op, fmt.Errorf("%w: %s", model.ErrRejected, op.Reason)
		}
		// 에러 플래그가 타임아웃보다 우선
		if reason, ok := m.conn.Error(); ok {
			op = m.finishPending(requestID, model.StatusPending, reason)
			return false, op, fmt.Errorf("%w: %s", model.ErrTransport, reason)
		}
		if spent >= budget {
			op = m.finishPending(requestID, model.StatusTimedOut, "no confirmation before expiry")
			log.Warnf("[TRADE] buy request %d timed out", requestID)
			return false, op, nil
		}

		select {
		case <-ctx.Done():
			op = m.finishPending(requestID, model.StatusPending, ctx.Err().Error())
			return false, op, ctx.Err()
		case <-ticker.C:
			spent += m.cfg.PollUnit
		case <-changed:
		case <-connChanged:
		}
	}
}

// pendingState 확인/거절이 끝났으면 해당 상태를, 아직이면 Pending 을 돌려준다.
func (m *Manager) pendingState(requestID int64) (model.Operation, model.OperationStatus) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.pending[requestID]
	if !ok {
		return model.Operation{}, model.StatusPending
	}
	return *op, op.Status
}

func (m *Manager) finishPending(requestID int64, status model.OperationStatus, reason string) model.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.pending[requestID]
	if !ok {
		return model.Operation{RequestID: requestID, Status: status, Result: model.ResultUnknown, Reason: reason}
	}
	delete(m.pending, requestID)
	op.Status = status
	op.Reason = reason
	return *op
}

func (m *Manager) dropPending(requestID int64) {
	m.mu.Lock()
	delete(m.pending, requestID)
	m.mu.Unlock()
}

// oldestPendingLocked requestId 가 없는 응답을 가장 오래된 요청에 붙인다.
func (m *Manager) oldestPendingLocked(asset string) *model.Operation {
	ids := make([]int64, 0, len(m.pending))
	for id, op := range m.pending {
		if op.Status == model.StatusPending && (asset == "" || op.Asset == asset) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return m.pending[ids[0]]
}

func (m *Manager) OnBuyConfirmed(e protocol.BuyConfirmed) {
	m.mu.Lock()
	op, ok := m.pending[e.RequestID]
	if !ok && e.RequestID == 0 {
		op = m.oldestPendingLocked(e.Asset)
	}
	if op == nil {
		// 다른 세션에서 연 거래
		fresh := model.NewOperation(e.Amount, e.Asset, e.Direction(), e.CloseTime-e.OpenTime)
		op = &fresh
	}
	op.ID = e.ID
	op.OpenPrice = e.OpenPrice
	op.OpenTime = e.OpenTime
	op.CloseTime = e.CloseTime
	op.IsDemo = e.IsDemo
	op.Status = model.StatusConfirmed
	m.ops[e.ID] = op
	m.lastBuyID = e.ID
	m.mu.Unlock()

	log.Infof("[TRADE] buy confirmed id=%s open=%.5f", e.ID, e.OpenPrice)
	m.changes.Notify()
}

func (m *Manager) OnServerError(e protocol.ServerError) {
	m.mu.Lock()
	op, ok := m.pending[e.RequestID]
	if !ok && e.RequestID == 0 {
		op = m.oldestPendingLocked("")
	}
	if op != nil {
		op.Status = model.StatusRejected
		op.Reason = e.Reason
	}
	m.errorSeq++
	m.lastError = e.Reason
	m.mu.Unlock()

	log.Warnf("[TRADE] server rejected request: %s", e.Reason)
	m.changes.Notify()
}

func (m *Manager) OnDealsSettled(e protocol.DealsSettled) {
	var settled []model.Operation

	m.mu.Lock()
	for _, d := range e.Deals {
		op, ok := m.ops[d.ID]
		if !ok {
			fresh := model.NewOperation(0, "", "", 0)
			fresh.ID = d.ID
			fresh.Status = model.StatusConfirmed
			op = &fresh
			m.ops[d.ID] = op
		}
		if op.Settled() {
			continue
		}
		op.Profit = d.Profit
		op.Result = model.ResultFromProfit(d.Profit)
		if d.CloseTime > 0 {
			op.CloseTime = d.CloseTime
		}
		m.inFlight += d.Profit
		settled = append(settled, *op)
	}
	m.mu.Unlock()

	for _, op := range settled {
		log.Infof("[TRADE] %s settled %s profit=%.2f", op.ID, op.Result, op.Profit)
		if m.publisher != nil {
			m.publisher.Publish(op)
		}
	}
	m.changes.Notify()
}

// OnBalance 서버 잔고는 이미 정산 손익을 포함하므로 진행 중 손익을 0으로 되돌린다.
func (m *Manager) OnBalance(e protocol.Balance) {
	m.mu.Lock()
	m.balance.Demo = e.Demo
	m.balance.Live = e.Live
	m.balance.Mode = m.mode
	m.hasBalance = true
	m.inFlight = 0
	m.mu.Unlock()
	m.changes.Notify()
}

func (m *Manager) OnPendingConfirmed(e protocol.PendingConfirmed) {
	m.mu.Lock()
	m.pendingSeq++
	m.lastPending = e
	m.mu.Unlock()
	m.changes.Notify()
}

func (m *Manager) OnRefill(e protocol.RefillAck) {
	m.mu.Lock()
	m.refillSeq++
	m.lastRefill = e
	m.mu.Unlock()
	m.changes.Notify()
}

// TruncateBalance (stored + profit) 를 소수 둘째 자리에서 버린다. 반올림하지 않는다.
func TruncateBalance(stored, profit float64) float64 {
	return decimal.NewFromFloat(stored).Add(decimal.NewFromFloat(profit)).Truncate(2).InexactFloat64()
}

func (m *Manager) wait(ctx context.Context, ceiling time.Duration, what string, cond func() bool) error {
	if ceiling <= 0 {
		ceiling = m.cfg.Ceiling
	}
	timer := time.NewTimer(ceiling)
	defer timer.Stop()
	for {
		changed := m.changes.Wait()
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: %s after %s", model.ErrTimeout, what, ceiling)
		case <-changed:
		}
	}
}

// Balance 잔고 push 를 기다린 뒤 활성 계좌 잔고 + 진행 중 손익을 돌려준다.
func (m *Manager) Balance(ctx context.Context) (float64, error) {
	err := m.wait(ctx, 0, "balance", func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.hasBalance
	})
	if err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return TruncateBalance(m.balance.Stored(), m.inFlight), nil
}

func (m *Manager) RawBalance() (model.Balance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b := m.balance
	b.InFlight = m.inFlight
	return b, m.hasBalance
}

// Profit 진행 중(잔고 미반영) 손익
func (m *Manager) Profit() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inFlight
}

func (m *Manager) LastBuyID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastBuyID
}

func (m *Manager) GetResult(id string) (model.Operation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.ops[id]
	if !ok {
		return model.Operation{}, false
	}
	return *op, true
}

func (m *Manager) Operations() []model.Operation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Operation, 0, len(m.ops))
	for _, op := range m.ops {
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out
}

// CheckWin 정산 프레임을 기다린다. 만기까지 남은 시간(서버 시각 기준)에 상한을 더해 기다린다.
func (m *Manager) CheckWin(ctx context.Context, id string) (model.Operation, error) {
	ceiling := m.cfg.Ceiling
	if op, ok := m.GetResult(id); ok && op.CloseTime > 0 && m.clock != nil {
		if remaining := float64(op.CloseTime) - m.clock.ServerTimestamp(); remaining > 0 {
			ceiling += time.Duration(remaining * float64(time.Second))
		}
	}

	var out model.Operation
	err := m.wait(ctx, ceiling, "result of "+id, func() bool {
		op, ok := m.GetResult(id)
		out = op
		return ok && op.Settled()
	})
	return out, err
}

// OpenPending 지정 시각에 열리는 대기 주문
func (m *Manager) OpenPending(ctx context.Context, req PendingRequest) (protocol.PendingConfirmed, error) {
	if err := m.validate(req.Amount, req.Asset, req.Direction); err != nil {
		return protocol.PendingConfirmed{}, err
	}
	m.mu.RLock()
	pendingSince, errSince := m.pendingSeq, m.errorSeq
	m.mu.RUnlock()

	cmd := m.names.PendingCreateCommand(req.Asset, req.Amount, req.Direction, req.Duration, req.OpenTime)
	if err := m.emitter.Emit(ctx, cmd); err != nil {
		return protocol.PendingConfirmed{}, err
	}

	var (
		out    protocol.PendingConfirmed
		reason string
	)
	err := m.wait(ctx, 0, "pending order", func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		if m.errorSeq > errSince {
			reason = m.lastError
			return true
		}
		if m.pendingSeq > pendingSince {
			out = m.lastPending
			return true
		}
		return false
	})
	if err != nil {
		return out, err
	}
	if reason != "" {
		return out, fmt.Errorf("%w: %s", model.ErrRejected, reason)
	}
	return out, nil
}

// SellOption 만기 전 조기 청산. 정산 프레임이 올 때까지 기다린다.
func (m *Manager) SellOption(ctx context.Context, id string) (model.Operation, error) {
	if id == "" {
		return model.Operation{}, fmt.Errorf("%w: empty operation id", model.ErrRejected)
	}
	if err := m.emitter.Emit(ctx, m.names.OrdersCancelCommand(id)); err != nil {
		return model.Operation{}, err
	}
	var out model.Operation
	err := m.wait(ctx, 0, "sell of "+id, func() bool {
		op, ok := m.GetResult(id)
		out = op
		return ok && op.Settled()
	})
	return out, err
}

// EditPracticeBalance 데모 잔고 충전. 실계좌 모드에서는 보내지 않는다.
func (m *Manager) EditPracticeBalance(ctx context.Context, amount float64) (protocol.RefillAck, error) {
	if !m.Mode().IsDemo() {
		return protocol.RefillAck{}, fmt.Errorf("%w: refill is only available on the practice account", model.ErrRejected)
	}
	if amount <= 0 {
		return protocol.RefillAck{}, fmt.Errorf("%w: %.2f", model.ErrInvalidAmount, amount)
	}
	m.mu.RLock()
	since := m.refillSeq
	m.mu.RUnlock()

	if err := m.emitter.Emit(ctx, m.names.DemoRefillCommand(amount)); err != nil {
		return protocol.RefillAck{}, err
	}
	var out protocol.RefillAck
	err := m.wait(ctx, 0, "refill ack", func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		out = m.lastRefill
		return m.refillSeq > since
	})
	return out, err
}

// MonitorTrade 만기 시점의 실시간 가격을 진입가와 비교해 결과를 추정한다.
// 근사치일 뿐 정산 결과가 아니다. 확정 결과는 CheckWin 을 쓴다.
func (m *Manager) MonitorTrade(ctx context.Context, op model.Operation) (model.OperationResult, error) {
	if m.prices == nil {
		return model.ResultUnknown, errors.New("no price source configured")
	}
	deadline := time.Now().Add(time.Duration(op.Duration) * time.Second)
	if m.clock != nil {
		deadline = m.clock.AdjustDeadline(deadline)
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return model.ResultUnknown, ctx.Err()
	case <-timer.C:
	}

	last, ok := m.prices.LastPrice(op.Asset)
	if !ok {
		return model.ResultUnknown, fmt.Errorf("%w: no realtime price for %s", model.ErrTimeout, op.Asset)
	}
	return Estimate(op.Direction, op.OpenPrice, last.Price), nil
}

// Estimate 진입가 대비 현재가로 본 결과. 같으면 DOJI.
func Estimate(direction model.Direction, openPrice, price float64) model.OperationResult {
	switch {
	case price == openPrice:
		return model.ResultDoji
	case (price > openPrice) == (direction == model.DirectionCall):
		return model.ResultWin
	}
	return model.ResultLoss
}
