package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades every request, writes the scripted payloads, then
// echoes whatever the client sends until the socket closes.
func echoServer(t *testing.T, script ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, s := range script {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
				return
			}
		}
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type frameSink struct {
	mu     sync.Mutex
	frames []Frame
	ch     chan Frame
}

func newFrameSink() *frameSink { return &frameSink{ch: make(chan Frame, 64)} }

func (s *frameSink) consume(f Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	s.ch <- f
}

func (s *frameSink) next(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-s.ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return Frame{}
	}
}

func TestTransport_SendAndReceive(t *testing.T) {
	srv := echoServer(t, `{"name":"timeSync","msg":1700000000000}`)
	sink := newFrameSink()
	tr := NewTransport(&TransportConfig{URL: wsURL(srv)}, sink.consume)

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()
	assert.True(t, tr.IsConnected())

	f := sink.next(t)
	assert.Equal(t, "timeSync", f.Name)

	out, err := NewFrame("sendMessage", "abc_1", Message{Name: "get-candles", Version: "2.0", Body: map[string]int{"count": 3}})
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), out))

	echoed := sink.next(t)
	assert.Equal(t, "sendMessage", echoed.Name)
	assert.Equal(t, "abc_1", echoed.RequestID)
	assert.JSONEq(t, `{"name":"get-candles","version":"2.0","body":{"count":3}}`, string(echoed.Msg))

	stats := tr.Stats()
	assert.Equal(t, uint64(2), stats.FramesIn)
	assert.Equal(t, uint64(1), stats.FramesOut)
}

func TestTransport_BadPayloadsDoNotStopReceiving(t *testing.T) {
	srv := echoServer(t, ``, `not json`, `{"msg":1}`, `{"name":"timeSync","msg":5}`)
	sink := newFrameSink()
	tr := NewTransport(&TransportConfig{URL: wsURL(srv)}, sink.consume)
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	f := sink.next(t)
	assert.Equal(t, "timeSync", f.Name)
	assert.Equal(t, uint64(3), tr.Stats().FramesDropped)
}

func TestTransport_ConsumerPanicDoesNotStopReceiving(t *testing.T) {
	srv := echoServer(t, `{"name":"a"}`, `{"name":"b"}`)
	got := make(chan string, 2)
	tr := NewTransport(&TransportConfig{URL: wsURL(srv)}, func(f Frame) {
		if f.Name == "a" {
			panic("consumer failure")
		}
		got <- f.Name
	})
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	select {
	case name := <-got:
		assert.Equal(t, "b", name)
	case <-time.After(2 * time.Second):
		t.Fatal("second frame not delivered")
	}
}

func TestTransport_HookSeesFrames(t *testing.T) {
	srv := echoServer(t, `{"name":"hooked"}`)
	sink := newFrameSink()
	tr := NewTransport(&TransportConfig{URL: wsURL(srv)}, sink.consume)
	hooked := make(chan string, 1)
	tr.SetHook(func(f Frame) { hooked <- f.Name })
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	sink.next(t)
	assert.Equal(t, "hooked", <-hooked)
}

func TestTransport_CloseIsIdempotent(t *testing.T) {
	srv := echoServer(t)
	tr := NewTransport(&TransportConfig{URL: wsURL(srv), CloseWait: time.Second}, nil)
	require.NoError(t, tr.Connect(context.Background()))

	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
	assert.False(t, tr.IsConnected())

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop still running")
	}

	err := tr.Send(context.Background(), Frame{Name: "late"})
	assert.True(t, errors.Is(err, ErrConnection))
}

func TestTransport_ServerDisconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	tr := NewTransport(&TransportConfig{URL: wsURL(srv)}, nil)
	require.NoError(t, tr.Connect(context.Background()))

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not notice the disconnect")
	}
	assert.False(t, tr.IsConnected())
	// Close after the loop already failed is still safe
	assert.NoError(t, tr.Close())
}

func TestTransport_ConnectFailure(t *testing.T) {
	tr := NewTransport(&TransportConfig{URL: "ws://127.0.0.1:1/none", HandshakeTimeout: 500 * time.Millisecond}, nil)
	err := tr.Connect(context.Background())
	assert.True(t, errors.Is(err, ErrConnection))
	assert.False(t, tr.IsConnected())

	err = tr.Send(context.Background(), Frame{Name: "x"})
	assert.True(t, errors.Is(err, ErrConnection))
}

func TestTransport_DoubleConnectRejected(t *testing.T) {
	srv := echoServer(t)
	tr := NewTransport(&TransportConfig{URL: wsURL(srv)}, nil)
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	err := tr.Connect(context.Background())
	assert.True(t, errors.Is(err, ErrConnection))
}

func TestTransport_ConcurrentConnectDialsOnce(t *testing.T) {
	var upgrades atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgrades.Add(1)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	tr := NewTransport(&TransportConfig{URL: wsURL(srv)}, nil)
	defer tr.Close()

	const callers = 8
	var wg sync.WaitGroup
	var ok atomic.Int32
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := tr.Connect(context.Background()); err == nil {
				ok.Add(1)
			} else {
				assert.True(t, errors.Is(err, ErrConnection))
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Eventually(t, func() bool { return upgrades.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, tr.IsConnected())
}

func TestTransport_HookPanicStillDispatches(t *testing.T) {
	srv := echoServer(t)
	d := NewDispatcher()
	tr := NewTransport(&TransportConfig{URL: wsURL(srv)}, d.Dispatch)
	tr.SetHook(func(Frame) { panic("hook failure") })
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	p, err := d.CreatePending("r1")
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), Frame{Name: "authenticated", RequestID: "r1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "authenticated", f.Name)
	assert.Equal(t, "r1", f.RequestID)
}

func TestDecodeFrame(t *testing.T) {
	f, err := DecodeFrame([]byte(` {"name":"candles","request_id":"p_2","msg":{"candles":[]},"status":2000} `))
	require.NoError(t, err)
	assert.Equal(t, "candles", f.Name)
	assert.Equal(t, "p_2", f.RequestID)
	assert.Equal(t, 2000, f.Status)

	var body struct {
		Candles []int `json:"candles"`
	}
	require.NoError(t, f.DecodeMsg(&body))
	assert.Empty(t, body.Candles)

	for _, bad := range []string{"", "   ", "{", `{"request_id":"x"}`} {
		_, err := DecodeFrame([]byte(bad))
		assert.Error(t, err, "payload %q", bad)
	}
}
