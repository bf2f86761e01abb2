package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/iqblitz/pkg/ratelimit"
	"github.com/betbot/iqblitz/pkg/syncgroup"
)

var transportLog = logrus.WithField("component", "transport")

// Conn is the connection surface the protocol client depends on.
type Conn interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, f Frame) error
	Close() error
	IsConnected() bool
}

// Consumer receives every parsed inbound frame, in arrival order.
type Consumer func(Frame)

// TransportConfig configures the websocket transport.
type TransportConfig struct {
	URL              string
	ProxyURL         string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration // 0 disables pings
	CloseWait        time.Duration // bounded wait for loops on Close
	SendRate         float64       // frames per second; 0 disables throttling
	SendBurst        int
}

// DefaultTransportConfig returns the settings used when fields are left zero.
func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{
		HandshakeTimeout: 30 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     20 * time.Second,
		CloseWait:        3 * time.Second,
	}
}

// TransportStats is a point-in-time copy of transport counters.
type TransportStats struct {
	Connected     bool      `json:"connected"`
	FramesIn      uint64    `json:"frames_in"`
	FramesOut     uint64    `json:"frames_out"`
	FramesDropped uint64    `json:"frames_dropped"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Transport owns exactly one websocket: a write path guarded by a mutex and a
// single receive goroutine feeding the consumer.
type Transport struct {
	cfg      TransportConfig
	consumer Consumer
	limiter  ratelimit.RateLimiter

	hookMu sync.RWMutex
	hook   Consumer

	// mu guards everything below it except writeMu, which serialises writes.
	mu         sync.Mutex
	writeMu    sync.Mutex
	conn       *websocket.Conn
	connected  bool
	connecting bool
	cancel     context.CancelFunc
	done       chan struct{}
	loops      *syncgroup.SyncGroup

	framesIn      atomic.Uint64
	framesOut     atomic.Uint64
	framesDropped atomic.Uint64
	lastMessageAt atomic.Int64
}

// NewTransport builds an unconnected transport delivering frames to consumer.
func NewTransport(cfg *TransportConfig, consumer Consumer) *Transport {
	defaults := DefaultTransportConfig()
	if cfg == nil {
		cfg = defaults
	}
	c := *cfg
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.CloseWait == 0 {
		c.CloseWait = defaults.CloseWait
	}
	t := &Transport{cfg: c, consumer: consumer}
	if tb := ratelimit.NewTokenBucket(c.SendRate, c.SendBurst); tb != nil {
		t.limiter = tb
	}
	return t
}

// SetHook installs a diagnostic hook that sees every frame before the consumer.
func (t *Transport) SetHook(hook Consumer) {
	t.hookMu.Lock()
	t.hook = hook
	t.hookMu.Unlock()
}

// Connect dials the server and starts the receive loop (and ping loop when
// configured). It fails if the transport is already connected.
func (t *Transport) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	switch {
	case t.connected:
		t.mu.Unlock()
		return fmt.Errorf("%w: already connected", ErrConnection)
	case t.connecting:
		t.mu.Unlock()
		return fmt.Errorf("%w: connect already in progress", ErrConnection)
	}
	t.connecting = true
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		t.mu.Lock()
		t.connecting = false
		t.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	loops := syncgroup.NewSyncGroup()
	loops.Add(func() { t.readLoop(loopCtx, cancel, conn, done) })
	if t.cfg.PingInterval > 0 {
		loops.Add(func() { t.pingLoop(loopCtx, conn) })
	}

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.connecting = false
	t.cancel = cancel
	t.done = done
	t.loops = loops
	t.mu.Unlock()

	loops.Run()
	transportLog.Infof("websocket connected: %s", t.cfg.URL)
	return nil
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.HandshakeTimeout}
	if t.cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(t.cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid proxy URL: %v", ErrConnection, err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
		transportLog.Infof("connecting via proxy %s", t.cfg.ProxyURL)
	}

	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, t.cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, t.cfg.URL, err)
	}
	return conn, nil
}

// IsConnected reports whether the socket is live.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Done is closed when the current receive loop exits. It is nil before the
// first Connect.
func (t *Transport) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Send writes one frame.
func (t *Transport) Send(ctx context.Context, f Frame) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("send %s: %w", f.Name, err)
		}
	}

	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()
	if !connected || conn == nil {
		return fmt.Errorf("%w: not connected", ErrConnection)
	}

	t.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	err := conn.WriteJSON(f)
	t.writeMu.Unlock()
	if err != nil {
		t.release(conn)
		return fmt.Errorf("%w: write %s: %v", ErrConnection, f.Name, err)
	}
	t.framesOut.Add(1)
	transportLog.Debugf("sent %s", f)
	return nil
}

// Close stops the loops and releases the socket. It is idempotent and safe
// to call while the receive loop is failing.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	cancel := t.cancel
	loops := t.loops
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		t.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		err = t.release(conn)
	}

	if loops != nil && !loops.WaitTimeout(t.cfg.CloseWait) {
		transportLog.Warnf("timed out after %s waiting for %d loops to exit", t.cfg.CloseWait, loops.Running())
	}
	return err
}

// release closes conn once; later calls for the same conn are no-ops.
func (t *Transport) release(conn *websocket.Conn) error {
	t.mu.Lock()
	if t.conn != conn || conn == nil {
		t.mu.Unlock()
		return nil
	}
	t.conn = nil
	t.connected = false
	t.mu.Unlock()
	return conn.Close()
}

func (t *Transport) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer t.release(conn)
	// stops the ping loop when the socket dies underneath us
	defer cancel()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				transportLog.Debug("receive loop stopped")
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					transportLog.Errorf("websocket read error: %v", err)
				} else {
					transportLog.Infof("websocket closed: %v", err)
				}
			}
			return
		}
		t.lastMessageAt.Store(time.Now().UnixNano())

		f, err := DecodeFrame(data)
		if err != nil {
			t.framesDropped.Add(1)
			transportLog.Debugf("dropping inbound payload: %v (len=%d)", err, len(data))
			continue
		}
		t.framesIn.Add(1)
		t.deliver(f)
	}
}

// deliver runs the hook and then the consumer. A panic in the hook does not
// keep the frame from the consumer.
func (t *Transport) deliver(f Frame) {
	t.hookMu.RLock()
	hook := t.hook
	t.hookMu.RUnlock()
	if hook != nil {
		callSafely("hook", hook, f)
	}
	if t.consumer != nil {
		callSafely("consumer", t.consumer, f)
	}
}

func callSafely(stage string, fn Consumer, f Frame) {
	defer func() {
		if r := recover(); r != nil {
			transportLog.WithFields(logrus.Fields{"frame": f.Name, "stage": stage}).Errorf("inbound %s panic recovered: %v", stage, r)
		}
	}()
	fn(f)
}

func (t *Transport) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				transportLog.Warnf("ping failed: %v", err)
				t.release(conn)
				return
			}
		}
	}
}

// Stats snapshots the transport counters.
func (t *Transport) Stats() TransportStats {
	s := TransportStats{
		Connected:     t.IsConnected(),
		FramesIn:      t.framesIn.Load(),
		FramesOut:     t.framesOut.Load(),
		FramesDropped: t.framesDropped.Load(),
	}
	if ns := t.lastMessageAt.Load(); ns > 0 {
		s.LastMessageAt = time.Unix(0, ns)
	}
	return s
}
