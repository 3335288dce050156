package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"qxtrader/model"
	"qxtrader/protocol"
	"qxtrader/utils/log"
)

// Handler 는 읽기 루프에서만 호출된다. 이름 없는 바이너리 프레임은 name 이 "" 이다.
// 해석할 수 없는 이벤트면 ErrProtocol 을 돌려준다.
type Handler func(name string, payload []byte) error

type ConnConfig struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// 서버 handshake 의 pingInterval 이 없을 때 쓰는 값
	PingInterval time.Duration
	ReadTimeout  time.Duration
	SendRate     float64
	SendBurst    int
	Trace        bool
	// 연속으로 이만큼 프레임을 해석하지 못하면 연결을 끊는다
	MaxProtocolErrors int
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.SendRate <= 0 {
		c.SendRate = 10
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 5
	}
	if c.MaxProtocolErrors <= 0 {
		c.MaxProtocolErrors = 20
	}
	return c
}

// Conn 하나의 Socket.IO 세션. 끊어지면 Done 이 닫히고 다시 쓰지 않는다.
type Conn struct {
	cfg     ConnConfig
	ws      *websocket.Conn
	handler Handler
	limiter *rate.Limiter

	writeMu sync.Mutex

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error

	pingInterval chan time.Duration
	// 읽기 루프 전용
	pendingBinary  string
	protocolErrors int
}

// Dial 웹소켓을 열고 Socket.IO connect 패킷까지 기다린다.
func Dial(ctx context.Context, cfg ConnConfig, handler Handler) (*Conn, error) {
	cfg = cfg.withDefaults()
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: websocket handshake status %d", model.ErrAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", model.ErrTransport, cfg.URL, err)
	}

	c := &Conn{
		cfg:          cfg,
		ws:           ws,
		handler:      handler,
		limiter:      rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
		pingInterval: make(chan time.Duration, 1),
	}
	go c.readLoop()
	go c.pingLoop()

	timer := time.NewTimer(cfg.HandshakeTimeout)
	defer timer.Stop()
	select {
	case <-c.ready:
		log.Infof("[WS] connected %s", cfg.URL)
		return c, nil
	case <-c.done:
		return nil, c.Err()
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	case <-timer.C:
		c.Close()
		return nil, fmt.Errorf("%w: socket.io connect not received within %s", model.ErrTransport, cfg.HandshakeTimeout)
	}
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) fail(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		_ = c.ws.Close()
		close(c.done)
	})
}

func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.fail(fmt.Errorf("%w: closed by client", model.ErrTransport))
	return nil
}

// Emit 송신 속도 제한을 거쳐 이벤트를 보낸다.
func (c *Conn) Emit(ctx context.Context, cmd protocol.Command) error {
	data, err := encodeEvent(cmd)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", model.ErrProtocol, cmd.Name, err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if c.cfg.Trace {
		log.Debugf("[WS] >> %s", data)
	}
	return c.write(data)
}

func (c *Conn) write(data []byte) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		err = fmt.Errorf("%w: write: %v", model.ErrTransport, err)
		go c.fail(err)
		return err
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("%w: read: %v", model.ErrTransport, err))
			return
		}

		if mt == websocket.BinaryMessage {
			if len(data) > 0 && data[0] == binaryPrefix {
				data = data[1:]
			}
			name := c.pendingBinary
			c.pendingBinary = ""
			if c.cfg.Trace {
				log.Debugf("[WS] << binary %q %d bytes", name, len(data))
			}
			if !c.dispatch(name, data) {
				return
			}
			continue
		}

		if c.cfg.Trace {
			log.Debugf("[WS] << %s", data)
		}
		f, err := parseFrame(data)
		if err != nil {
			if !c.protocolError(err) {
				return
			}
			continue
		}
		switch f.kind {
		case frameOpen:
			var hs openHandshake
			if err := json.Unmarshal(f.payload, &hs); err == nil && hs.PingInterval > 0 {
				select {
				case c.pingInterval <- time.Duration(hs.PingInterval) * time.Millisecond:
				default:
				}
			}
		case framePingKind:
			_ = c.write(framePong)
		case framePongKind:
		case frameConnected:
			c.readyOnce.Do(func() { close(c.ready) })
		case frameDisconnected, frameClose:
			c.fail(fmt.Errorf("%w: server closed the session", model.ErrTransport))
			return
		case frameError:
			c.fail(fmt.Errorf("%w: socket.io error %s", model.ErrTransport, f.payload))
			return
		case frameEvent:
			if !c.dispatch(f.name, f.payload) {
				return
			}
			continue
		case frameBinaryHeader:
			c.pendingBinary = f.name
		}
		c.protocolErrors = 0
	}
}

// dispatch 핸들러를 부르고 읽기 루프를 계속할지 돌려준다
func (c *Conn) dispatch(name string, payload []byte) bool {
	if err := c.handler(name, payload); err != nil {
		return c.protocolError(err)
	}
	c.protocolErrors = 0
	return true
}

// protocolError 연속 오류가 한도에 닿으면 연결을 끊고 false.
func (c *Conn) protocolError(err error) bool {
	c.protocolErrors++
	log.Warnf("[WS] skip malformed frame (%d/%d): %v", c.protocolErrors, c.cfg.MaxProtocolErrors, err)
	if c.protocolErrors < c.cfg.MaxProtocolErrors {
		return true
	}
	c.fail(fmt.Errorf("%w: %d consecutive malformed frames, last: %v", model.ErrProtocol, c.protocolErrors, err))
	return false
}

func (c *Conn) pingLoop() {
	interval := c.cfg.PingInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case d := <-c.pingInterval:
			if d != interval {
				interval = d
				ticker.Reset(d)
			}
		case <-ticker.C:
			if err := c.write(framePing); err != nil && !errors.Is(err, model.ErrTransport) {
				log.Warnf("[WS] ping failed: %v", err)
			}
		}
	}
}
