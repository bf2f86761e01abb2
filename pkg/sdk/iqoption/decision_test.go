package iqoption

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMomentum(t *testing.T) {
	ctx := context.Background()

	up, err := Momentum().Decide(ctx, []Candle{
		{Open: 1, Close: 2, Low: 0, High: 3},
		{Open: 2, Close: 3, Low: 1, High: 4},
		{Open: 3, Close: 4, Low: 2, High: 5},
	})
	require.NoError(t, err)
	require.NotNil(t, up)
	assert.Equal(t, Call, up.Side)
	assert.InDelta(t, 0.6, up.Confidence, 1e-9)

	down, err := Momentum().Decide(ctx, []Candle{
		{Open: 4, Close: 3, Low: 2, High: 4},
		{Open: 3, Close: 2, Low: 2, High: 3},
	})
	require.NoError(t, err)
	require.NotNil(t, down)
	assert.Equal(t, Put, down.Side)
	assert.InDelta(t, 1.0, down.Confidence, 1e-9)

	flat, err := Momentum().Decide(ctx, []Candle{{Open: 2, Close: 2, Low: 2, High: 2}})
	require.NoError(t, err)
	assert.Nil(t, flat)

	none, err := Momentum().Decide(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestClient_Decide(t *testing.T) {
	c, conn := newTestClient(t, nil)
	replyTo(conn, OpGetCandles, "candles", `{"candles":[`+
		candleJSON(120, 2)+`,`+candleJSON(60, 1)+`,`+candleJSON(180, 3)+`]}`)

	var seen []Candle
	d, err := c.Decide(context.Background(), DeciderFunc(func(_ context.Context, candles []Candle) (*Decision, error) {
		seen = candles
		return &Decision{Side: Put, Confidence: 0.7}, nil
	}), 76, 60, 3)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, Put, d.Side)

	require.Len(t, seen, 3)
	assert.Equal(t, int64(60), seen[0].From, "decider sees candles oldest first")
	assert.Equal(t, int64(180), seen[2].From)
}

func TestClient_DecideNoCandles(t *testing.T) {
	c, conn := newTestClient(t, nil)
	replyTo(conn, OpGetCandles, "candles", `{"candles":[]}`)

	called := false
	d, err := c.Decide(context.Background(), DeciderFunc(func(context.Context, []Candle) (*Decision, error) {
		called = true
		return &Decision{Side: Call}, nil
	}), 76, 60, 5)
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.False(t, called)
}

func TestClient_DecideRejectsBadSide(t *testing.T) {
	c, conn := newTestClient(t, nil)
	replyTo(conn, OpGetCandles, "candles", `{"candles":[`+candleJSON(60, 1)+`]}`)

	_, err := c.Decide(context.Background(), DeciderFunc(func(context.Context, []Candle) (*Decision, error) {
		return &Decision{Side: "sideways"}, nil
	}), 76, 60, 5)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = c.Decide(context.Background(), nil, 76, 60, 5)
	assert.True(t, errors.Is(err, ErrValidation))
}
