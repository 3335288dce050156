package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"qxtrader/interfaces"
	"qxtrader/model"
	"qxtrader/notification"
	"qxtrader/strategy"
	"qxtrader/utils/log"
	"qxtrader/utils/tools"
)

const (
	DefaultInterval = time.Second
	DefaultCooldown = 60 * time.Second
	DefaultAmount   = 10
	DefaultDuration = 60
)

type Config struct {
	// Assets 가 비어 있으면 열린 OTC 자산 전체를 감시한다
	Assets    []string
	Amount    float64
	Duration  int64
	Interval  time.Duration
	Cooldown  time.Duration
	AutoTrade bool
	// Lookback 평가에 가져올 캔들 수. 0 이면 전략 워밍업의 두 배
	Lookback int
}

func (c Config) withDefaults() Config {
	if c.Amount <= 0 {
		c.Amount = DefaultAmount
	}
	if c.Duration <= 0 {
		c.Duration = DefaultDuration
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	return c
}

// Monitor 자산마다 고루틴 하나로 신호를 확인하고 알림/자동매수를 한다.
type Monitor struct {
	exchange interfaces.Exchange
	strat    interfaces.Strategy
	notifier interfaces.Notifier
	cfg      Config
	now      func() time.Time

	mu          sync.Mutex
	controllers map[string]*strategy.Controller
	schedulers  map[string]*tools.Scheduler
	lastSignal  map[string]signalKey
	lastTrade   time.Time
	signals     int
	trades      int
}

type signalKey struct {
	time      time.Time
	direction model.Direction
}

type Option func(*Monitor)

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// notifier 는 nil 이어도 된다
func NewMonitor(exchange interfaces.Exchange, strat interfaces.Strategy, notifier interfaces.Notifier, cfg Config, options ...Option) *Monitor {
	m := &Monitor{
		exchange:    exchange,
		strat:       strat,
		notifier:    notifier,
		cfg:         cfg.withDefaults(),
		now:         time.Now,
		controllers: make(map[string]*strategy.Controller),
		schedulers:  make(map[string]*tools.Scheduler),
		lastSignal:  make(map[string]signalKey),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Scheduler 자산별 조건부 1회 매수. 감시 루프가 매 평가마다 실행한다.
func (m *Monitor) Scheduler(asset string) *tools.Scheduler {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedulers[asset]
	if !ok {
		s = tools.NewScheduler(asset)
		m.schedulers[asset] = s
	}
	return s
}

// Run ctx 가 끝날 때까지 감시한다. 감시할 자산이 없으면 바로 에러.
func (m *Monitor) Run(ctx context.Context) error {
	assets := m.cfg.Assets
	if len(assets) == 0 {
		var err error
		if assets, err = m.exchange.OpenOTCAssets(ctx); err != nil {
			return fmt.Errorf("fetch otc assets: %w", err)
		}
	}
	if len(assets) == 0 {
		return errors.New("no assets to monitor")
	}
	log.Infof("[BOT] monitoring %d assets with %s (autotrade=%v)", len(assets), m.strat.GetName(), m.cfg.AutoTrade)

	g, gctx := errgroup.WithContext(ctx)
	for _, asset := range assets {
		ctrl := m.controller(asset)
		if err := m.exchange.StartCandlesStream(gctx, asset, m.strat.Period()); err != nil {
			log.Warnf("[BOT] %s stream: %v", asset, err)
		}
		g.Go(func() error {
			m.monitor(gctx, asset, ctrl)
			return nil
		})
	}
	err := g.Wait()
	log.Infof("[BOT] stopped")
	return err
}

func (m *Monitor) controller(asset string) *strategy.Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctrl, ok := m.controllers[asset]
	if !ok {
		ctrl = strategy.NewStrategyController(asset, m.strat)
		ctrl.Start()
		m.controllers[asset] = ctrl
	}
	return ctrl
}

func (m *Monitor) monitor(ctx context.Context, asset string, ctrl *strategy.Controller) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := m.Check(ctx, asset, ctrl); err != nil && ctx.Err() == nil {
			log.Errorf("[BOT] error checking %s: %v", asset, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Check 한 번 평가한다. 같은 봉의 같은 신호는 한 번만 알린다.
func (m *Monitor) Check(ctx context.Context, asset string, ctrl *strategy.Controller) error {
	period := m.strat.Period()
	lookback := m.cfg.Lookback
	if lookback <= 0 {
		lookback = 2 * m.strat.WarmupPeriod()
	}
	end := float64(m.now().Unix())
	candles, err := m.exchange.GetCandles(ctx, asset, end, int64(lookback)*period, period)
	if err != nil && !errors.Is(err, model.ErrDataGap) {
		return err
	}
	if errors.Is(err, model.ErrDataGap) {
		log.Debugf("[BOT] %s: %v", asset, err)
	}
	ctrl.Load(candles)

	m.mu.Lock()
	scheduler := m.schedulers[asset]
	m.mu.Unlock()
	if scheduler != nil && scheduler.Pending() > 0 {
		sample := ctrl.Snapshot(lookback)
		scheduler.Update(ctx, &sample, m.exchange)
	}

	sig, ok := ctrl.Evaluate()
	if !ok || !m.firstSignal(asset, sig) {
		return nil
	}

	message := notification.FormatSignal(asset, sig.Direction, sig.Confidence)
	log.Infof("[BOT] %s", message)
	m.notify(message)

	if m.cfg.AutoTrade && m.takeCooldown() {
		m.trade(ctx, asset, sig)
	}
	return nil
}

func (m *Monitor) firstSignal(asset string, sig strategy.Signal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := signalKey{time: sig.Time, direction: sig.Direction}
	if m.lastSignal[asset] == key {
		return false
	}
	m.lastSignal[asset] = key
	m.signals++
	return true
}

// takeCooldown 모든 자산이 쿨다운 하나를 공유한다
func (m *Monitor) takeCooldown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if !m.lastTrade.IsZero() && now.Sub(m.lastTrade) <= m.cfg.Cooldown {
		return false
	}
	m.lastTrade = now
	return true
}

func (m *Monitor) trade(ctx context.Context, asset string, sig strategy.Signal) {
	ok, op, err := m.exchange.Buy(ctx, m.cfg.Amount, asset, sig.Direction, m.cfg.Duration, model.TimeModeTimer)
	if err == nil && !ok {
		err = fmt.Errorf("%w: %s", model.ErrRejected, op.Reason)
	}
	if err != nil {
		log.Errorf("[BOT] %s %s failed: %v", asset, sig.Direction, err)
	} else {
		m.mu.Lock()
		m.trades++
		m.mu.Unlock()
		log.Infof("[BOT] trade %s on %s: %s", sig.Direction, asset, op.ID)
	}
	if m.notifier != nil {
		m.notifier.OperationNotifier(op, err)
	}
}

func (m *Monitor) notify(message string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.SendNotification(message); err != nil {
		log.Warnf("[BOT] notify: %v", err)
	}
}

// Stats 지금까지 보낸 신호 수와 체결된 자동매수 수
func (m *Monitor) Stats() (signals, trades int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signals, m.trades
}
