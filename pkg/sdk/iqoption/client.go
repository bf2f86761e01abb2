package iqoption

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/iqblitz/pkg/sdk/stream"
)

var log = logrus.WithField("component", "iqoption")

// Authenticator supplies a session token, typically via the HTTP login endpoint.
type Authenticator interface {
	Login(ctx context.Context) (string, error)
}

// Client is the typed protocol client. It owns one transport, one dispatcher
// and the clock offset learned from timeSync pushes.
type Client struct {
	cfg        Config
	auth       Authenticator
	conn       stream.Conn
	transport  *stream.Transport
	dispatcher *stream.Dispatcher
	ids        *stream.IDGenerator
	now        func() time.Time

	mu              sync.RWMutex
	ssid            string
	activeBalanceID int64
	connected       bool

	clockOffsetMs atomic.Int64
	clockSub      *stream.Subscription

	tradesPlaced   atomic.Uint64
	tradesSettled  atomic.Uint64
	tradesTimedOut atomic.Uint64
	tradesFailed   atomic.Uint64
}

// NewClient wires a websocket transport to a fresh dispatcher.
// auth may be nil when cfg.SSID is set.
func NewClient(cfg *Config, auth Authenticator) *Client {
	c := cfg.withDefaults()
	d := stream.NewDispatcher()
	t := stream.NewTransport(&c.Transport, d.Dispatch)
	client := newClient(c, auth, t, d)
	client.transport = t
	return client
}

func newClient(cfg Config, auth Authenticator, conn stream.Conn, d *stream.Dispatcher) *Client {
	c := &Client{
		cfg:        cfg,
		auth:       auth,
		conn:       conn,
		dispatcher: d,
		ids:        stream.NewIDGenerator(),
		now:        time.Now,
	}
	c.clockSub = d.AddListener(EventTimeSync, c.onTimeSync)
	return c
}

// Dispatcher exposes the routing core, mainly for diagnostics.
func (c *Client) Dispatcher() *stream.Dispatcher { return c.dispatcher }

// SetFrameHook installs a diagnostic hook on the websocket transport.
func (c *Client) SetFrameHook(hook func(stream.Frame)) {
	if c.transport != nil {
		c.transport.SetHook(hook)
	}
}

// Start logs in, connects and authenticates the socket.
func (c *Client) Start(ctx context.Context) error {
	token := c.cfg.SSID
	if token == "" {
		if c.auth == nil {
			return errors.Wrap(ErrValidation, "no session token and no authenticator")
		}
		var err error
		token, err = c.auth.Login(ctx)
		if err != nil {
			return errors.WithMessage(err, "login")
		}
		if token == "" {
			return errors.Wrap(ErrAuthRejected, "login returned an empty session token")
		}
	}

	if err := c.conn.Connect(ctx); err != nil {
		return errors.WithMessage(err, "connect")
	}
	if err := c.Authenticate(ctx, token); err != nil {
		if cerr := c.conn.Close(); cerr != nil {
			log.Warnf("close after failed authentication: %v", cerr)
		}
		return err
	}
	return nil
}

// Authenticate completes the socket login with a session token and then
// subscribes to the portfolio feeds.
func (c *Client) Authenticate(ctx context.Context, token string) error {
	resp, err := c.request(ctx, c.cfg.AuthTimeout, OpAuthenticate, map[string]interface{}{
		"ssid":     token,
		"protocol": authProtocolVersion,
	})
	if err != nil {
		if errors.Is(err, ErrRequestTimeout) {
			log.Error("authentication timeout")
			return errors.Wrapf(ErrAuthTimeout, "no response within %s", c.cfg.AuthTimeout)
		}
		return err
	}
	var ok bool
	if err := json.Unmarshal(resp.Msg, &ok); err == nil && !ok {
		return errors.Wrap(ErrAuthRejected, "server refused the session token")
	}

	c.mu.Lock()
	c.ssid = token
	c.connected = true
	c.mu.Unlock()
	log.Info("authenticated")

	c.subscribePortfolio(ctx)
	return nil
}

func (c *Client) subscribePortfolio(ctx context.Context) {
	feeds := []struct {
		name    string
		version string
	}{
		{feedOrderChanged, "2.0"},
		{feedPositionChanged, "3.0"},
	}
	for _, feed := range feeds {
		err := c.send(ctx, OpSubscribeMessage, c.ids.NextSub(), stream.SubscribeMessage{
			Name:    feed.name,
			Version: feed.version,
			Params: map[string]interface{}{
				"routingFilters": map[string]interface{}{"instrument_type": InstrumentTypeBlitz},
			},
		})
		if err != nil {
			log.Warnf("subscribe %s failed: %v", feed.name, err)
		}
	}
	log.Debug("portfolio subscribed")
}

// Close releases the connection. Calling it twice is harmless.
func (c *Client) Close() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	err := c.conn.Close()
	if err != nil {
		log.Errorf("close: %v", err)
	}
	log.Info("client closed")
	return err
}

// IsConnected reports whether the client authenticated on a live socket.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.conn.IsConnected()
}

// SelectBalance makes id the balance trades are placed against.
func (c *Client) SelectBalance(id int64) {
	c.mu.Lock()
	c.activeBalanceID = id
	c.mu.Unlock()
	log.WithField("balance_id", id).Info("balance selected")
}

// ActiveBalanceID returns the selected balance, or 0.
func (c *Client) ActiveBalanceID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeBalanceID
}

func (c *Client) onTimeSync(f stream.Frame) error {
	ms, err := parseTimeSync(f.Msg)
	if err != nil {
		return nil
	}
	c.clockOffsetMs.Store(ms - c.now().UnixMilli())
	return nil
}

func parseTimeSync(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return v, nil
		}
		v, err := n.Float64()
		return int64(v), err
	}
	var obj struct {
		Time *json.Number `json:"time"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Time == nil {
		return 0, fmt.Errorf("%w: timeSync", ErrParse)
	}
	if v, err := obj.Time.Int64(); err == nil {
		return v, nil
	}
	v, err := obj.Time.Float64()
	return int64(v), err
}

// ClockOffset is server time minus local time, from the latest timeSync push.
func (c *Client) ClockOffset() time.Duration {
	return time.Duration(c.clockOffsetMs.Load()) * time.Millisecond
}

// ServerTime is the local clock corrected by the clock offset.
func (c *Client) ServerTime() time.Time {
	return c.now().Add(c.ClockOffset())
}

// ServerTimestamp is ServerTime in unix seconds.
func (c *Client) ServerTimestamp() int64 {
	return c.ServerTime().UnixMilli() / 1000
}

// send writes a frame without waiting for any answer.
func (c *Client) send(ctx context.Context, name, requestID string, msg interface{}) error {
	f, err := stream.NewFrame(name, requestID, msg)
	if err != nil {
		return err
	}
	return c.conn.Send(ctx, f)
}

// request sends a frame with a fresh request id and waits for the frame
// carrying the same id. The pending slot never outlives the call.
func (c *Client) request(ctx context.Context, timeout time.Duration, name string, msg interface{}) (stream.Frame, error) {
	id := c.ids.Next()
	pending, err := c.dispatcher.CreatePending(id)
	if err != nil {
		return stream.Frame{}, err
	}
	if err := c.send(ctx, name, id, msg); err != nil {
		pending.Cancel()
		return stream.Frame{}, errors.WithMessagef(err, "send %s", name)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := pending.Wait(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			return stream.Frame{}, ctx.Err()
		}
		return stream.Frame{}, errors.Wrapf(ErrRequestTimeout, "%s (request %s) after %s", name, id, timeout)
	}
	return resp, nil
}

// sendMessage wraps op in the versioned sendMessage envelope and waits for the reply.
func (c *Client) sendMessage(ctx context.Context, op, version string, body interface{}) (stream.Frame, error) {
	return c.request(ctx, c.cfg.RequestTimeout, OpSendMessage, stream.Message{Name: op, Version: version, Body: body})
}

// Stats is a snapshot of client, dispatcher and transport counters.
type Stats struct {
	Connected      bool                   `json:"connected"`
	ClockOffsetMs  int64                  `json:"clock_offset_ms"`
	TradesPlaced   uint64                 `json:"trades_placed"`
	TradesSettled  uint64                 `json:"trades_settled"`
	TradesTimedOut uint64                 `json:"trades_timed_out"`
	TradesFailed   uint64                 `json:"trades_failed"`
	Dispatcher     stream.DispatcherStats `json:"dispatcher"`
	Transport      *stream.TransportStats `json:"transport,omitempty"`
}

// Stats snapshots the client counters.
func (c *Client) Stats() Stats {
	s := Stats{
		Connected:      c.IsConnected(),
		ClockOffsetMs:  c.clockOffsetMs.Load(),
		TradesPlaced:   c.tradesPlaced.Load(),
		TradesSettled:  c.tradesSettled.Load(),
		TradesTimedOut: c.tradesTimedOut.Load(),
		TradesFailed:   c.tradesFailed.Load(),
		Dispatcher:     c.dispatcher.Stats(),
	}
	if c.transport != nil {
		ts := c.transport.Stats()
		s.Transport = &ts
	}
	return s
}
