package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_ResolvePending(t *testing.T) {
	d := NewDispatcher()
	p, err := d.CreatePending("abc_1")
	require.NoError(t, err)
	assert.Equal(t, 1, d.PendingCount())

	d.Dispatch(Frame{Name: "balances", RequestID: "abc_1", Msg: []byte(`[1]`)})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "balances", f.Name)
	assert.Equal(t, 0, d.PendingCount())
}

func TestDispatcher_PendingResolvesOnce(t *testing.T) {
	d := NewDispatcher()
	p, err := d.CreatePending("x_1")
	require.NoError(t, err)

	var got []Frame
	d.AddListener("dup", func(f Frame) error {
		got = append(got, f)
		return nil
	})

	d.Dispatch(Frame{Name: "dup", RequestID: "x_1", Msg: []byte(`1`)})
	d.Dispatch(Frame{Name: "dup", RequestID: "x_1", Msg: []byte(`2`)})

	f, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `1`, string(f.Msg))
	// the second frame has no slot left and falls through to listeners
	require.Len(t, got, 1)
	assert.JSONEq(t, `2`, string(got[0].Msg))
	assert.Equal(t, uint64(1), d.Stats().Resolved)
}

func TestDispatcher_DuplicateRequestID(t *testing.T) {
	d := NewDispatcher()
	_, err := d.CreatePending("r_1")
	require.NoError(t, err)

	_, err = d.CreatePending("r_1")
	assert.True(t, errors.Is(err, ErrDuplicateRequest))

	_, err = d.CreatePending("")
	assert.Error(t, err)
}

func TestDispatcher_PendingTimeoutRemovesSlot(t *testing.T) {
	d := NewDispatcher()
	p, err := d.CreatePending("t_1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, d.PendingCount())
	assert.Equal(t, uint64(1), d.Stats().Timeouts)

	// a late frame resolves nothing
	d.Dispatch(Frame{Name: "late", RequestID: "t_1"})
	assert.Equal(t, uint64(0), d.Stats().Resolved)
	assert.Equal(t, uint64(1), d.Stats().Unmatched)
}

func TestDispatcher_ListenersRunInOrder(t *testing.T) {
	d := NewDispatcher()
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		d.AddListener("timeSync", func(Frame) error {
			order = append(order, i)
			return nil
		})
	}
	d.Dispatch(Frame{Name: "timeSync", Msg: []byte(`1700000000000`)})
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestDispatcher_ListenerFailureIsolated(t *testing.T) {
	d := NewDispatcher()
	var reached int
	d.AddListener("ev", func(Frame) error { panic("boom") })
	d.AddListener("ev", func(Frame) error { return errors.New("bad payload") })
	d.AddListener("ev", func(Frame) error {
		reached++
		return nil
	})

	assert.NotPanics(t, func() { d.Dispatch(Frame{Name: "ev"}) })
	assert.Equal(t, 1, reached)
	assert.Equal(t, uint64(2), d.Stats().ListenerErrors)
}

func TestDispatcher_RemoveListener(t *testing.T) {
	d := NewDispatcher()
	var a, b int
	subA := d.AddListener("ev", func(Frame) error { a++; return nil })
	d.AddListener("ev", func(Frame) error { b++; return nil })
	assert.Equal(t, 2, d.ListenerCount("ev"))

	subA.Remove()
	subA.Remove()
	d.RemoveListener(nil)
	assert.Equal(t, 1, d.ListenerCount("ev"))

	d.Dispatch(Frame{Name: "ev"})
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, "ev", subA.Event())
}

func TestDispatcher_SameHandlerTwice(t *testing.T) {
	d := NewDispatcher()
	var n int
	h := func(Frame) error { n++; return nil }
	first := d.AddListener("ev", h)
	d.AddListener("ev", h)

	d.Dispatch(Frame{Name: "ev"})
	assert.Equal(t, 2, n)

	first.Remove()
	d.Dispatch(Frame{Name: "ev"})
	assert.Equal(t, 3, n)
}

func TestDispatcher_ListenerRemovesItselfDuringDispatch(t *testing.T) {
	d := NewDispatcher()
	var calls int
	var sub *Subscription
	sub = d.AddListener("ev", func(Frame) error {
		calls++
		sub.Remove()
		return nil
	})
	d.AddListener("ev", func(Frame) error { calls++; return nil })

	d.Dispatch(Frame{Name: "ev"})
	assert.Equal(t, 2, calls)
	d.Dispatch(Frame{Name: "ev"})
	assert.Equal(t, 3, calls)
}

func TestDispatcher_UnmatchedFrameDropped(t *testing.T) {
	d := NewDispatcher()
	d.Dispatch(Frame{Name: "nobody-listens"})
	d.Dispatch(Frame{Name: "nobody-listens", RequestID: "unknown"})
	assert.Equal(t, uint64(2), d.Stats().Unmatched)
}

func TestDispatcher_ConcurrentRequests(t *testing.T) {
	d := NewDispatcher()
	ids := NewIDGenerator()
	const n = 50

	var wg sync.WaitGroup
	results := make([]string, n)
	slots := make([]*Pending, n)
	for i := 0; i < n; i++ {
		p, err := d.CreatePending(ids.Next())
		require.NoError(t, err)
		slots[i] = p
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			f, err := slots[i].Wait(ctx)
			if err == nil {
				results[i] = f.RequestID
			}
		}(i)
	}
	for i := n - 1; i >= 0; i-- {
		d.Dispatch(Frame{Name: "reply", RequestID: slots[i].ID()})
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(t, slots[i].ID(), results[i])
	}
	assert.Equal(t, 0, d.PendingCount())
}

func TestIDGenerator_Unique(t *testing.T) {
	g := NewIDGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.Next()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	sub := g.NextSub()
	assert.Regexp(t, `^s_[0-9a-f]{8}_\d+$`, sub)
	assert.NotEqual(t, NewIDGenerator().Next(), g.Next())
}
