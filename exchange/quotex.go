package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"qxtrader/candle"
	"qxtrader/feed"
	"qxtrader/model"
	"qxtrader/protocol"
	"qxtrader/session"
	"qxtrader/timesync"
	"qxtrader/trade"
	"qxtrader/transport"
	"qxtrader/utils/broadcast"
	"qxtrader/utils/log"
	"qxtrader/utils/resty"
)

const (
	DefaultHost      = "qxbroker.com"
	DefaultLang      = "pt"
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

	handshakeTimeout = 10 * time.Second
)

type Config struct {
	Email       string
	Password    string
	Host        string
	Lang        string
	UserAgent   string
	SessionPath string
	AccountMode model.AccountMode

	DefaultAsset  string
	DefaultPeriod int64

	// 재연결 시도 횟수와 고정 간격
	Attempts int
	Delay    time.Duration
	// 데이터 대기 상한. 넘으면 ErrTimeout
	Ceiling      time.Duration
	PollInterval time.Duration
	SendRate     float64
	// 연속으로 해석하지 못한 프레임이 이만큼이면 재연결
	MaxProtocolErrors int
	// (asset, period) 시리즈 하나가 보관하는 캔들 수
	MaxCandles int

	Names protocol.Names
	Trace bool
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Lang == "" {
		c.Lang = DefaultLang
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.SessionPath == "" {
		c.SessionPath = "session.json"
	}
	if c.AccountMode == "" {
		c.AccountMode = model.AccountPractice
	}
	if c.DefaultAsset == "" {
		c.DefaultAsset = "EURUSD"
	}
	if c.DefaultPeriod <= 0 {
		c.DefaultPeriod = 60
	}
	if c.Attempts <= 0 {
		c.Attempts = 5
	}
	if c.Delay == 0 {
		c.Delay = 5 * time.Second
	}
	if c.Ceiling <= 0 {
		c.Ceiling = candle.DefaultCeiling
	}
	c.Names = protocol.DefaultNames().Merge(c.Names)
	return c
}

// Quotex 는 세션, 트랜스포트, 캔들 집계, 구독, 거래 관리를 묶은 클라이언트.
type Quotex struct {
	cfg     Config
	http    resty.RestyClient
	auth    *authenticator
	names   protocol.Names
	decoder *protocol.Decoder

	clock      *timesync.Synchronizer
	candles    *candle.Aggregator
	registry   *feed.Registry
	operations *feed.OperationFeedSubscription
	trades     *trade.Manager
	conn       *transport.Manager

	baseURL string
	wsURL   string

	changes *broadcast.Broadcaster

	mu          sync.RWMutex
	instruments []model.AssetDescriptor
	sentiments  map[string]model.Sentiment
	signals     map[string][]model.Signal
	history     model.HistoricalBatch
	historySeq  uint64
	// historyReqs 응답을 기다리는 히스토리 요청 (요청 index 별)
	historyReqs map[int64]historyRequest
}

type historyRequest struct {
	asset  string
	period int64
}

type QuotexOption func(*Quotex)

func WithRestyClient(client resty.RestyClient) QuotexOption {
	return func(q *Quotex) {
		q.http = client
	}
}

// WithBaseURL 로그인/설정 HTTP 주소를 바꾼다 (테스트용)
func WithBaseURL(url string) QuotexOption {
	return func(q *Quotex) {
		q.baseURL = url
	}
}

// WithWebsocketURL 웹소켓 주소를 바꾼다 (테스트용)
func WithWebsocketURL(url string) QuotexOption {
	return func(q *Quotex) {
		q.wsURL = url
	}
}

func NewQuotex(cfg Config, opts ...QuotexOption) *Quotex {
	cfg = cfg.withDefaults()
	q := &Quotex{
		cfg:         cfg,
		names:       cfg.Names,
		decoder:     protocol.NewDecoder(cfg.Names),
		clock:       timesync.New(),
		candles:     candle.NewAggregator(candle.WithCeiling(cfg.Ceiling), candle.WithMaxCandles(cfg.MaxCandles)),
		registry:    feed.NewRegistry(),
		operations:  feed.NewOperationFeed(),
		baseURL:     "https://" + cfg.Host,
		wsURL:       fmt.Sprintf("wss://ws2.%s/socket.io/?EIO=3&transport=websocket", cfg.Host),
		changes:     broadcast.New(),
		sentiments:  make(map[string]model.Sentiment),
		historyReqs: make(map[int64]historyRequest),
		signals:     make(map[string][]model.Signal),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.http == nil {
		q.http = resty.NewDefaultRestyClient(cfg.Trace, 15*time.Second)
	}
	q.auth = newAuthenticator(q.http, session.NewStore(cfg.SessionPath), q.baseURL, cfg)

	q.conn = transport.NewManager(transport.ManagerConfig{
		Conn: transport.ConnConfig{
			URL:               q.wsURL,
			SendRate:          cfg.SendRate,
			Trace:             cfg.Trace,
			MaxProtocolErrors: cfg.MaxProtocolErrors,
		},
		Attempts: cfg.Attempts,
		Delay:    cfg.Delay,
	}, q.onFrame, transport.Hooks{
		Authenticate:      q.auth.Authenticate,
		Handshake:         q.handshake,
		Replay:            q.replay,
		InvalidateSession: q.auth.Invalidate,
		Heartbeat:         q.heartbeat,
	})

	q.trades = trade.NewManager(trade.Config{
		PollInterval: cfg.PollInterval,
		Ceiling:      cfg.Ceiling,
	}, q.names, q.conn, q.conn.State(), q.clock, q.lookupAsset,
		trade.WithPublisher(q.operations),
		trade.WithPrices(q.candles),
	)
	q.trades.SetMode(cfg.AccountMode)
	q.operations.Start()

	log.Infof("[SETUP] Using Quotex exchange (%s, %s account)", cfg.Host, cfg.AccountMode)
	return q
}

// -----------------------------------------------------------------------------
// 연결
// -----------------------------------------------------------------------------

// Connect 인증부터 구독 재생까지 끝나면 (true, "").
func (q *Quotex) Connect(ctx context.Context) (bool, string) {
	ok, reason := q.conn.Connect(ctx)
	if !ok {
		log.Errorf("[QUOTEX] connect failed: %s", reason)
		return false, reason
	}
	log.Info("[QUOTEX] connected")
	return true, ""
}

func (q *Quotex) CheckConnect() bool {
	return q.conn.CheckConnect()
}

func (q *Quotex) Status() transport.Status {
	return q.conn.State().Status()
}

func (q *Quotex) Close() {
	q.conn.Close()
	q.operations.Stop()
}

func (q *Quotex) handshake(ctx context.Context, conn *transport.Conn) error {
	creds := q.auth.current()
	cmd := q.names.AuthorizationCommand(creds.Token, q.trades.Mode().IsDemo(), 0)
	if err := conn.Emit(ctx, cmd); err != nil {
		return err
	}
	if err := q.conn.State().WaitAccepted(ctx, handshakeTimeout); err != nil {
		return err
	}
	return conn.Emit(ctx, q.names.TickCommand())
}

func (q *Quotex) replay(ctx context.Context) error {
	return q.registry.ReplayAll(ctx, q)
}

func (q *Quotex) heartbeat(ctx context.Context, conn *transport.Conn) error {
	return conn.Emit(ctx, q.names.TickCommand())
}

// SetAccountMode 연결 전에 계좌를 고른다. PRACTICE 또는 REAL.
func (q *Quotex) SetAccountMode(mode string) error {
	m, ok := model.ParseAccountMode(mode)
	if !ok {
		return fmt.Errorf("unknown account mode %q", mode)
	}
	q.trades.SetMode(m)
	return nil
}

// ChangeAccount 연결 중에 계좌를 바꾼다. 인증을 다시 보내 서버 쪽 계좌도 바꾼다.
func (q *Quotex) ChangeAccount(ctx context.Context, mode string) error {
	if err := q.SetAccountMode(mode); err != nil {
		return err
	}
	cmd := q.names.AuthorizationCommand(q.auth.current().Token, q.trades.Mode().IsDemo(), 0)
	return q.conn.Emit(ctx, cmd)
}

func (q *Quotex) AccountMode() model.AccountMode {
	return q.trades.Mode()
}

func (q *Quotex) GetProfile(ctx context.Context) (model.Profile, error) {
	return q.auth.Profile(ctx)
}

func (q *Quotex) GetBalance(ctx context.Context) (float64, error) {
	return q.trades.Balance(ctx)
}

// GetProfit 잔고에 아직 반영되지 않은 정산 손익
func (q *Quotex) GetProfit() float64 {
	return q.trades.Profit()
}

func (q *Quotex) EditPracticeBalance(ctx context.Context, amount float64) (protocol.RefillAck, error) {
	return q.trades.EditPracticeBalance(ctx, amount)
}

// -----------------------------------------------------------------------------
// 구성 요소 접근
// -----------------------------------------------------------------------------

func (q *Quotex) Candles() *candle.Aggregator {
	return q.candles
}

func (q *Quotex) Clock() *timesync.Synchronizer {
	return q.clock
}

func (q *Quotex) Registry() *feed.Registry {
	return q.registry
}

// OperationFeed 정산된 거래 구독
func (q *Quotex) OperationFeed() *feed.OperationFeedSubscription {
	return q.operations
}

func (q *Quotex) DefaultAsset() string {
	return q.cfg.DefaultAsset
}

func (q *Quotex) DefaultPeriod() int64 {
	return q.cfg.DefaultPeriod
}

// SynchronizeTime 1초마다 서버 시각과의 차이를 확인하고, 1초를 넘으면 그만큼만 이 호출 안에서 기다린다.
func (q *Quotex) SynchronizeTime(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if q.clock.Observed() {
			offset := q.clock.Offset()
			log.Debugf("[TIME] local=%s server=%s offset=%.3fs",
				time.Now().Format(time.DateTime), q.clock.ServerTime().UTC().Format(time.DateTime), offset)
			if q.clock.Drifted() {
				log.Infof("[TIME] drift %.3fs, adjusting", offset)
				if err := q.clock.WaitForDrift(ctx); err != nil {
					return err
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// wait 디스패치 경로가 갱신하는 스냅샷(instruments, sentiment 등)을 기다린다.
func (q *Quotex) wait(ctx context.Context, what string, cond func() bool) error {
	timer := time.NewTimer(q.cfg.Ceiling)
	defer timer.Stop()
	for {
		changed := q.changes.Wait()
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: %s after %s", model.ErrTimeout, what, q.cfg.Ceiling)
		case <-changed:
		}
	}
}

func normalizeAsset(asset string) string {
	upper := strings.ToUpper(strings.TrimSpace(asset))
	if base, ok := strings.CutSuffix(upper, strings.ToUpper(model.OTCSuffix)); ok {
		return base + model.OTCSuffix
	}
	return upper
}
