package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"qxtrader/model"
	"qxtrader/protocol"
	"qxtrader/utils/log"
)

// Session 은 다이얼에 필요한 인증 결과. Fresh 는 방금 로그인해서 받은 것인지 여부.
type Session struct {
	Header http.Header
	Fresh  bool
}

// Hooks 로 인증, 핸드셰이크, 구독 재생을 바깥에서 주입한다.
type Hooks struct {
	// forceFresh 면 저장된 세션을 무시하고 새로 로그인한다
	Authenticate func(ctx context.Context, forceFresh bool) (Session, error)
	Handshake    func(ctx context.Context, conn *Conn) error
	// 실패해도 연결은 성공으로 본다
	Replay            func(ctx context.Context) error
	InvalidateSession func() error
	Heartbeat         func(ctx context.Context, conn *Conn) error
}

type ManagerConfig struct {
	Conn              ConnConfig
	Attempts          int
	Delay             time.Duration
	HeartbeatInterval time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.Attempts <= 0 {
		c.Attempts = 5
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 20 * time.Second
	}
	return c
}

// Manager 는 연결 상태 머신을 소유한다.
// Disconnected -> Authenticating -> Connected -> (끊김) Reconnecting -> Connected | Failed
type Manager struct {
	cfg     ManagerConfig
	hooks   Hooks
	handler Handler
	state   *State

	mu   sync.RWMutex
	conn *Conn

	connectMu  sync.Mutex
	supervised atomic.Bool
	closed     atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewManager(cfg ManagerConfig, handler Handler, hooks Hooks) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg.withDefaults(),
		hooks:   hooks,
		handler: handler,
		state:   NewState(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (m *Manager) State() *State {
	return m.state
}

// CheckConnect 마지막으로 알려진 인증 수락 플래그만 본다. 재연결은 하지 않는다.
func (m *Manager) CheckConnect() bool {
	return m.state.Accepted()
}

// Connect 인증, 다이얼, 핸드셰이크, 구독 재생까지 끝나야 성공을 돌려준다.
func (m *Manager) Connect(ctx context.Context) (bool, string) {
	if m.closed.Load() {
		return false, "connection manager is closed"
	}
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if m.state.Accepted() && m.current() != nil {
		return true, ""
	}
	if err := m.connectWithRetry(ctx); err != nil {
		return false, err.Error()
	}
	if m.supervised.CompareAndSwap(false, true) {
		go m.supervise()
	}
	return true, ""
}

func (m *Manager) connectWithRetry(ctx context.Context) error {
	forceFresh := false
	var lastErr error

	for attempt := 1; attempt <= m.cfg.Attempts; attempt++ {
		if attempt > 1 {
			m.state.SetStatus(Reconnecting)
		} else if m.state.Status() != Reconnecting {
			m.state.SetStatus(Authenticating)
		}

		fresh, err := m.connectOnce(ctx, forceFresh)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			m.state.SetStatus(Disconnected)
			return ctx.Err()
		}

		if errors.Is(err, model.ErrAuth) {
			if !fresh && !forceFresh {
				// 저장된 토큰이 거절됨: 세션 파일을 지우고 한 번만 새로 로그인
				log.Warnf("[WS] stored session rejected, forcing fresh login: %v", err)
				m.invalidate()
				forceFresh = true
				continue
			}
			m.state.SetStatus(Failed)
			log.Errorf("[WS] authentication failed: %v", err)
			return err
		}

		log.Warnf("[WS] connect attempt %d/%d failed: %v", attempt, m.cfg.Attempts, err)
		if attempt == m.cfg.Attempts {
			break
		}
		if err := sleepCtx(ctx, m.cfg.Delay); err != nil {
			m.state.SetStatus(Disconnected)
			return err
		}
	}

	m.invalidate()
	m.state.SetStatus(Failed)
	return fmt.Errorf("%w: giving up after %d attempts: %v", model.ErrTransport, m.cfg.Attempts, lastErr)
}

func (m *Manager) connectOnce(ctx context.Context, forceFresh bool) (bool, error) {
	m.state.ResetAuth()

	sess := Session{Fresh: forceFresh}
	if m.hooks.Authenticate != nil {
		var err error
		sess, err = m.hooks.Authenticate(ctx, forceFresh)
		if err != nil {
			// HTTP 로그인 단계 실패는 항상 새 로그인이었던 것으로 본다
			return true, err
		}
	}

	cfg := m.cfg.Conn
	cfg.Header = sess.Header
	conn, err := Dial(ctx, cfg, m.handler)
	if err != nil {
		return sess.Fresh, err
	}

	if m.hooks.Handshake != nil {
		if err := m.hooks.Handshake(ctx, conn); err != nil {
			conn.Close()
			return sess.Fresh, err
		}
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.state.ClearError()
	m.state.SetStatus(Connected)

	go m.heartbeat(conn)

	if m.hooks.Replay != nil {
		if err := m.hooks.Replay(ctx); err != nil {
			log.Warnf("[WS] subscription replay incomplete: %v", err)
		}
	}
	return sess.Fresh, nil
}

func (m *Manager) invalidate() {
	if m.hooks.InvalidateSession == nil {
		return
	}
	if err := m.hooks.InvalidateSession(); err != nil {
		log.Warnf("[WS] invalidate session: %v", err)
	}
}

func (m *Manager) current() *Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

// supervise 끊김을 감지하면 같은 정책으로 다시 연결한다.
func (m *Manager) supervise() {
	for {
		conn := m.current()
		if conn == nil {
			return
		}
		select {
		case <-m.ctx.Done():
			return
		case <-conn.Done():
		}
		if m.closed.Load() {
			return
		}

		reason := "connection lost"
		if err := conn.Err(); err != nil {
			reason = err.Error()
		}
		log.Warnf("[WS] %s, reconnecting", reason)
		m.state.SetAccepted(false)
		m.state.SetError(reason)
		m.state.SetStatus(Reconnecting)

		m.connectMu.Lock()
		err := m.connectWithRetry(m.ctx)
		m.connectMu.Unlock()
		if err != nil {
			if !m.closed.Load() {
				log.Errorf("[WS] reconnect failed: %v", err)
			}
			m.mu.Lock()
			m.conn = nil
			m.mu.Unlock()
			m.supervised.Store(false)
			return
		}
		log.Info("[WS] reconnected")
	}
}

func (m *Manager) heartbeat(conn *Conn) {
	if m.hooks.Heartbeat == nil {
		return
	}
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.Done():
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.hooks.Heartbeat(m.ctx, conn); err != nil {
				log.Warnf("[WS] heartbeat: %v", err)
			}
		}
	}
}

// Emit 현재 연결로 보낸다. 연결이 없으면 ErrNotConnected.
func (m *Manager) Emit(ctx context.Context, cmd protocol.Command) error {
	conn := m.current()
	if conn == nil {
		return model.ErrNotConnected
	}
	return conn.Emit(ctx, cmd)
}

func (m *Manager) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	m.cancel()
	if conn := m.current(); conn != nil {
		conn.Close()
	}
	m.state.SetAccepted(false)
	m.state.SetStatus(Disconnected)
	log.Info("[WS] closed")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
